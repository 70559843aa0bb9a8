package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kuitang/notevault/internal/obs"
)

// DefaultShutdownTimeout bounds how long Serve waits for in-flight requests.
const DefaultShutdownTimeout = 10 * time.Second

// Server serves a handler on a TCP address until its context is cancelled.
type Server struct {
	address         string
	handler         http.Handler
	shutdownTimeout time.Duration

	ready chan struct{}
	addr  net.Addr
}

// NewServer creates a server for handler on address.
func NewServer(address string, handler http.Handler) *Server {
	return &Server{
		address:         address,
		handler:         handler,
		shutdownTimeout: DefaultShutdownTimeout,
		ready:           make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Only valid after Ready is closed.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve blocks until ctx is cancelled, then stops accepting connections and
// waits up to the shutdown timeout for active requests.
func (s *Server) Serve(ctx context.Context) error {
	logger := obs.Pkg("api")

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("http_server_listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		logger.Info("http_server_shutting_down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("http_server_stopped")
	return nil
}
