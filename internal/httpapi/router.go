package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/oneiros/internal/common"
	"github.com/suPer8Hu/oneiros/internal/httpapi/handlers"
	"github.com/suPer8Hu/oneiros/internal/httpapi/middleware"
	"github.com/suPer8Hu/oneiros/internal/metrics"
)

func NewRouter(h *handlers.Handler, jwtSecret string, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// JWT required
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(jwtSecret))

	authGroup.GET("/me", h.GetProfile)
	authGroup.PUT("/me", h.UpdateProfile)
	authGroup.GET("/stats/me", h.GetStats)

	authGroup.POST("/entries", h.CreateEntry)
	authGroup.GET("/entries", h.ListEntries)
	authGroup.GET("/entries/:entry_id", h.GetEntry)
	authGroup.PUT("/entries/:entry_id", h.UpdateEntry)
	authGroup.DELETE("/entries/:entry_id", h.DeleteEntry)
	authGroup.GET("/entries/:entry_id/interpretation", h.GetEntryInterpretation)
	authGroup.GET("/entries/:entry_id/messages", h.ListMessages)

	authGroup.POST("/interpretations", h.Submit)
	authGroup.GET("/interpretations", h.ListInterpretations)
	authGroup.GET("/interpretations/:ref", h.GetInterpretation)
	authGroup.GET("/tasks/:task_ref", h.GetTask)

	authGroup.POST("/messages", h.SendMessage)
	return r
}
