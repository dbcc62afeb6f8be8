package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loomery/loom/common/logger"
)

const drainTimeout = 30 * time.Second

// Server wraps an HTTP server with signal-driven graceful shutdown.
// The runner uses it for its health and metrics surface.
type Server struct {
	inner *http.Server
	log   *logger.Logger
	name  string
}

// New creates a server for the given handler
func New(name string, port int, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		inner: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log:  log,
		name: name,
	}
}

// Start serves until an error or SIGINT/SIGTERM, then drains
// outstanding requests before returning.
func (s *Server) Start() error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info(fmt.Sprintf("%s starting", s.name), "addr", s.inner.Addr)
		errc <- s.inner.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		s.log.Info("shutdown signal received", "signal", sig.String())
		return s.drain()
	}
}

func (s *Server) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := s.inner.Shutdown(ctx); err != nil {
		s.log.Error("graceful shutdown failed", "error", err)
		if err := s.inner.Close(); err != nil {
			return fmt.Errorf("could not stop server: %w", err)
		}
	}

	s.log.Info("shutdown complete")
	return nil
}
