package handlers

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/oneiros/internal/common"
	"github.com/suPer8Hu/oneiros/internal/journal"
)

const maxSelfDescription = 2000

type updateProfileReq struct {
	SelfDescription *string `json:"self_description"`
	Locale          *string `json:"locale"`
}

// GetProfile returns the caller's profile. A caller without a stored profile
// gets an empty one.
func (h *Handler) GetProfile(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	u, err := h.Journal.GetUser(c.Request.Context(), uid)
	if errors.Is(err, journal.ErrUserNotFound) {
		u, err = &journal.User{ID: uid}, nil
	}
	if err != nil {
		h.fail(c, "get profile", err)
		return
	}
	common.OK(c, u)
}

// UpdateProfile sets the self description and locale used when interpreting
// the caller's entries. Omitted fields keep their value; an empty self
// description clears it.
func (h *Handler) UpdateProfile(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req updateProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	u, err := h.Journal.GetUser(ctx, uid)
	if errors.Is(err, journal.ErrUserNotFound) {
		u, err = &journal.User{ID: uid}, nil
	}
	if err != nil {
		h.fail(c, "update profile", err)
		return
	}

	if req.SelfDescription != nil {
		desc := strings.TrimSpace(*req.SelfDescription)
		if utf8.RuneCountInString(desc) > maxSelfDescription {
			common.Fail(c, http.StatusBadRequest, 10005, "self_description too long")
			return
		}
		if desc == "" {
			u.SelfDescription = nil
		} else {
			u.SelfDescription = &desc
		}
	}
	if req.Locale != nil {
		loc := strings.TrimSpace(*req.Locale)
		if len(loc) > 16 {
			common.Fail(c, http.StatusBadRequest, 10006, "invalid locale")
			return
		}
		u.Locale = loc
	}

	if err := h.Journal.UpsertUser(ctx, u); err != nil {
		h.fail(c, "update profile", err)
		return
	}
	common.OK(c, u)
}
