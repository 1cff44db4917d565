package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/oneiros/internal/analysis"
	"github.com/suPer8Hu/oneiros/internal/common"
	"github.com/suPer8Hu/oneiros/internal/httpapi/middleware"
	"github.com/suPer8Hu/oneiros/internal/journal"
	"github.com/suPer8Hu/oneiros/internal/logging"
	"github.com/suPer8Hu/oneiros/internal/tasks"
)

type Handler struct {
	Journal  *journal.Store
	Analysis *analysis.Service
	Tasks    *tasks.Projection
	Log      zerolog.Logger
}

func NewHandler(j *journal.Store, a *analysis.Service, p *tasks.Projection, log zerolog.Logger) *Handler {
	return &Handler{Journal: j, Analysis: a, Tasks: p, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// requireUser writes 401 and returns false when the request is anonymous.
func requireUser(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

// fail maps domain errors to the response envelope.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, journal.ErrEntryNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "entry not found")
	case errors.Is(err, analysis.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "interpretation not found")
	case errors.Is(err, analysis.ErrConflict):
		common.Fail(c, http.StatusConflict, 40901, "entry is not available")
	case errors.Is(err, journal.ErrDailyLimit):
		common.Fail(c, http.StatusTooManyRequests, 42901, "daily entry limit reached")
	case errors.Is(err, journal.ErrEmptyContent), errors.Is(err, analysis.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10002, "content required")
	case errors.Is(err, journal.ErrTitleTooLong):
		common.Fail(c, http.StatusBadRequest, 10007, "title too long")
	case errors.Is(err, analysis.ErrDispatch):
		logging.Ctx(c.Request.Context(), h.Log).Error().Err(err).Str("op", op).Msg("enqueue failed")
		common.Fail(c, http.StatusServiceUnavailable, 50002, "enqueue failed")
	default:
		logging.Ctx(c.Request.Context(), h.Log).Error().Err(err).Str("op", op).Msg("request failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
