package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errMissingCorrectedData = errors.New("correctedData is required for action \"correct\"")

// NewRouter builds the gin engine with all pipeline routes registered.
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/health", h.Health)

	workflows := router.Group("/workflows")
	{
		workflows.POST("/ingest", h.Ingest)
		workflows.GET("/:id", h.Status)
		workflows.GET("/:id/history", h.History)
		workflows.POST("/:id/extract", h.Extract)
		workflows.POST("/:id/compare", h.Compare)
		workflows.POST("/:id/review", h.Review)
	}

	reviews := router.Group("/reviews")
	{
		reviews.GET("/pending", h.PendingReviews)
	}

	return router
}

// requestLogger logs each request through the shared zap logger instead of
// gin's default writer.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}
