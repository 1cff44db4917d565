package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/oneiros/internal/analysis"
	"github.com/suPer8Hu/oneiros/internal/common"
)

type sendMessageReq struct {
	EntryID string `json:"entry_id" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// SendMessage stores a follow-up and enqueues the reply task.
func (h *Handler) SendMessage(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	msg, ref, err := h.Analysis.PostMessage(c.Request.Context(), uid, req.EntryID, req.Content)
	if err != nil {
		h.fail(c, "send message", err)
		return
	}

	common.Accepted(c, gin.H{
		"task_ref":     ref,
		"status":       "processing",
		"user_message": msg,
	})
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	limit := analysis.DefaultThreadLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > analysis.MaxThreadLimit {
			common.Fail(c, http.StatusBadRequest, 10003, fmt.Sprintf("limit must be between 1 and %d", analysis.MaxThreadLimit))
			return
		}
		limit = n
	}
	offset := 0
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			common.Fail(c, http.StatusBadRequest, 10004, "offset must be >= 0")
			return
		}
		offset = n
	}

	msgs, total, err := h.Analysis.Thread(c.Request.Context(), uid, c.Param("entry_id"), limit, offset)
	if err != nil {
		h.fail(c, "list messages", err)
		return
	}
	common.OK(c, gin.H{
		"messages": msgs,
		"total":    total,
	})
}
