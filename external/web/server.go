package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/foxseedlab/mimitori/internal/config"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// Server runs the gateway's HTTP listener.
type Server struct {
	httpServer *http.Server
}

func NewServer(cfg *config.Config, engine *gin.Engine) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: engine,
			// No WriteTimeout: streaming responses and long transcription
			// calls must not be cut off by the server.
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run blocks until the listener fails or stops.
func (s *Server) Run() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
