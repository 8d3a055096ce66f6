package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.Default()
	r.Use(RequestID())

	if len(s.config.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.config.CORS.AllowedOrigins,
			AllowMethods:     s.config.CORS.AllowedMethods,
			AllowHeaders:     s.config.CORS.AllowedHeaders,
			AllowCredentials: s.config.CORS.AllowCredentials,
			MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
		}))
	}

	r.GET("/health", s.healthHandler)
	r.GET("/online", s.onlineHandler)

	jobs := r.Group("/jobs")
	{
		jobs.POST("", s.SubmitJobHandler)
		jobs.GET("/:id", s.GetJobHandler)
		jobs.GET("/:id/status", s.GetStatusHandler)
		jobs.GET("/:id/partials", s.GetPartialsHandler)
	}

	r.GET("/queue/stats", s.QueueStatsHandler)

	return r
}
