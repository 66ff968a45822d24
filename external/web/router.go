package web

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all gateway routes onto a fresh gin engine.
func NewRouter(h *Handler, development bool) *gin.Engine {
	if development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	api := engine.Group("/api/v1")
	api.POST("/transcribe/file", h.handleTranscribeFile)
	api.POST("/transcribe/stream", h.handleTranscribeStream)
	api.GET("/health", h.handleHealth)

	engine.GET("/health", h.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws/transcribe", h.handleWebSocket)

	return engine
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// The websocket route logs its own lifecycle.
		if c.IsWebsocket() {
			c.Next()
			return
		}
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}
