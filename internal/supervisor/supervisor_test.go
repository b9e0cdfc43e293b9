package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"Go2NetSentinel/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
)

type fakeHTTPServer struct {
	stop     chan struct{}
	shutdown atomic.Bool
	listen   error
}

func newFakeHTTPServer() *fakeHTTPServer { return &fakeHTTPServer{stop: make(chan struct{})} }

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listen != nil {
		return f.listen
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdown.Store(true)
	close(f.stop)
	return nil
}

func TestNewTreeDefaults(t *testing.T) {
	tree := NewTree(config.SupervisorConfig{})
	cfg := tree.Config()
	assert.Equal(t, 5.0, cfg.FailureThreshold)
	assert.Equal(t, 30.0, cfg.FailureDecay)
	assert.Equal(t, 15*time.Second, time.Duration(cfg.FailureBackoff))
	assert.Equal(t, 10*time.Second, time.Duration(cfg.ShutdownTimeout))

	custom := NewTree(config.SupervisorConfig{FailureThreshold: 2, ShutdownTimeout: config.Duration(time.Second)})
	assert.Equal(t, 2.0, custom.Config().FailureThreshold)
	assert.Equal(t, time.Second, time.Duration(custom.Config().ShutdownTimeout))
}

func TestTreeRunsServicesInEveryLayer(t *testing.T) {
	tree := NewTree(config.SupervisorConfig{ShutdownTimeout: config.Duration(2 * time.Second)})

	var engine, messaging atomic.Bool
	tree.AddEngineService(NewFuncService("engine", func(ctx context.Context) error {
		engine.Store(true)
		<-ctx.Done()
		return ctx.Err()
	}))
	tree.AddMessagingService(NewFuncService("messaging", func(ctx context.Context) error {
		messaging.Store(true)
		<-ctx.Done()
		return ctx.Err()
	}))
	srv := newFakeHTTPServer()
	tree.AddAPIService(NewHTTPServerService(srv, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return engine.Load() && messaging.Load() }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
	assert.True(t, srv.shutdown.Load())
	report, err := tree.UnstoppedServiceReport()
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestOneShotServiceIsNotRestarted(t *testing.T) {
	var runs atomic.Int32
	svc := NewOneShotService("replay", func(context.Context) error {
		runs.Add(1)
		return nil
	})
	assert.Equal(t, "replay", svc.String())
	assert.ErrorIs(t, svc.Serve(context.Background()), suture.ErrDoNotRestart)

	tree := NewTree(config.SupervisorConfig{ShutdownTimeout: config.Duration(time.Second)})
	tree.AddEngineService(NewOneShotService("replay", func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-errCh
	assert.Equal(t, int32(2), runs.Load())
}

func TestFuncServicePropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	svc := NewFuncService("loop", func(context.Context) error { return boom })
	assert.ErrorIs(t, svc.Serve(context.Background()), boom)

	once := NewOneShotService("once", func(context.Context) error { return boom })
	assert.ErrorIs(t, once.Serve(context.Background()), boom)
}

func TestHTTPServerServiceListenFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.listen = errors.New("address in use")
	svc := NewHTTPServerService(srv, time.Second)
	assert.Equal(t, "http-server", svc.String())

	err := svc.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.False(t, srv.shutdown.Load())
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	srv := newFakeHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.True(t, srv.shutdown.Load())
}
