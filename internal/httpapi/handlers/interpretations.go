package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/oneiros/internal/common"
)

type submitReq struct {
	EntryID string `json:"entry_id" binding:"required"`
}

// Submit creates or restarts the entry's interpretation. It answers as soon as
// the task is enqueued.
func (h *Handler) Submit(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	job, err := h.Analysis.Submit(c.Request.Context(), uid, req.EntryID)
	if err != nil {
		h.fail(c, "submit interpretation", err)
		return
	}

	common.Accepted(c, gin.H{
		"job_id":   job.ID,
		"task_ref": job.TaskRef,
		"status":   job.Status,
	})
}

func (h *Handler) ListInterpretations(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := h.Analysis.ListJobs(c.Request.Context(), uid, limit)
	if err != nil {
		h.fail(c, "list interpretations", err)
		return
	}
	common.OK(c, gin.H{"interpretations": jobs})
}

// GetInterpretation accepts a job id or a task ref.
func (h *Handler) GetInterpretation(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	job, err := h.Analysis.Status(c.Request.Context(), uid, c.Param("ref"))
	if err != nil {
		h.fail(c, "get interpretation", err)
		return
	}
	common.OK(c, job)
}

func (h *Handler) GetEntryInterpretation(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	job, err := h.Analysis.JobForEntry(c.Request.Context(), uid, c.Param("entry_id"))
	if err != nil {
		h.fail(c, "get entry interpretation", err)
		return
	}
	common.OK(c, job)
}

// GetTask is the status projection of one background task.
func (h *Handler) GetTask(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	v, err := h.Tasks.Status(c.Request.Context(), c.Param("task_ref"), uid)
	if err != nil {
		h.fail(c, "get task", err)
		return
	}
	common.OK(c, v)
}
