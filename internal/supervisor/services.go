package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"Go2NetSentinel/internal/logging"

	"github.com/thejerf/suture/v4"
)

// HTTPServer is the subset of *http.Server the service needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server under suture.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPServerService wraps server.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout, name: "http-server"}
}

// Serve starts listening and shuts down gracefully when ctx is cancelled.
func (s *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		// Closed without a shutdown request; let suture restart it.
		return errors.New("http server stopped unexpectedly")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server shutdown")
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPServerService) String() string { return s.name }

// FuncService adapts a Serve function to suture.Service.
type FuncService struct {
	name  string
	serve func(ctx context.Context) error
	once  bool
}

// NewFuncService wraps a long-running serve function.
func NewFuncService(name string, serve func(ctx context.Context) error) *FuncService {
	return &FuncService{name: name, serve: serve}
}

// NewOneShotService wraps a function that finishes on its own; a nil
// return removes it from the tree instead of restarting it.
func NewOneShotService(name string, serve func(ctx context.Context) error) *FuncService {
	return &FuncService{name: name, serve: serve, once: true}
}

func (s *FuncService) Serve(ctx context.Context) error {
	err := s.serve(ctx)
	if s.once && err == nil {
		logging.Info().Str("service", s.name).Msg("service finished")
		return suture.ErrDoNotRestart
	}
	return err
}

func (s *FuncService) String() string { return s.name }
