package router

import (
	"github.com/cuongbtq/stylize-service/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.SetHTMLTemplate(handler.IndexTemplate)

	h := handler.NewStylizeHandler(deps)

	r.GET("/", h.Index)
	r.GET("/ping", h.Ping)
	r.GET("/styles", h.Styles)
	r.GET("/stats", h.Stats)

	stylize := r.Group("/stylize")
	{
		// POST /stylize - Submit a job
		stylize.POST("", h.Submit)

		// GET /stylize/:job_id - Poll a job, image bytes once done
		stylize.GET("/:job_id", h.Poll)

		// POST /stylize/:job_id/cancel - Cancel a job
		stylize.POST("/:job_id/cancel", h.Cancel)

		if h.HasHistory() {
			// GET /stylize/:job_id/history - Recorded transitions
			stylize.GET("/:job_id/history", h.History)
		}
	}

	return r
}
