package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/oneiros/internal/common"
)

type createEntryReq struct {
	Title   string `json:"title"`
	Content string `json:"content" binding:"required"`
}

func (h *Handler) CreateEntry(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req createEntryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	e, err := h.Journal.CreateEntry(c.Request.Context(), uid, req.Title, req.Content)
	if err != nil {
		h.fail(c, "create entry", err)
		return
	}
	common.OK(c, e)
}

// ListEntries lists the caller's entries, or searches them when q is set.
func (h *Handler) ListEntries(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	if q, searching := c.GetQuery("q"); searching {
		q = strings.TrimSpace(q)
		if q == "" {
			common.Fail(c, http.StatusBadRequest, 10008, "q must not be empty")
			return
		}
		entries, err := h.Journal.SearchEntries(c.Request.Context(), uid, q)
		if err != nil {
			h.fail(c, "search entries", err)
			return
		}
		common.OK(c, gin.H{"entries": entries, "total": len(entries), "query": q})
		return
	}

	entries, err := h.Journal.ListEntries(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, "list entries", err)
		return
	}
	common.OK(c, gin.H{"entries": entries})
}

func (h *Handler) GetEntry(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	e, err := h.Journal.GetEntry(c.Request.Context(), c.Param("entry_id"), uid)
	if err != nil {
		h.fail(c, "get entry", err)
		return
	}
	common.OK(c, e)
}

type updateEntryReq struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// UpdateEntry edits title and/or content. The interpretation is not rerun;
// clients resubmit the entry for that.
func (h *Handler) UpdateEntry(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req updateEntryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	e, err := h.Journal.UpdateEntry(c.Request.Context(), c.Param("entry_id"), uid, req.Title, req.Content)
	if err != nil {
		h.fail(c, "update entry", err)
		return
	}
	common.OK(c, e)
}

func (h *Handler) GetStats(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	st, err := h.Journal.Stats(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, "get stats", err)
		return
	}
	common.OK(c, st)
}

// DeleteEntry removes the entry with its interpretation and thread.
func (h *Handler) DeleteEntry(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Analysis.DeleteEntry(c.Request.Context(), uid, c.Param("entry_id")); err != nil {
		h.fail(c, "delete entry", err)
		return
	}
	common.OK(c, gin.H{"deleted": true})
}
