package supervisor

import (
	"context"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/logging"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Tree is the sentinel's supervisor hierarchy.
//
// Layers:
//   - engine: flow source detection loop, archive writers
//   - messaging: websocket hub, alerter
//   - api: HTTP and gRPC servers
//
// A crash in one layer is restarted without disturbing the others.
type Tree struct {
	root      *suture.Supervisor
	engine    *suture.Supervisor
	messaging *suture.Supervisor
	api       *suture.Supervisor
	cfg       config.SupervisorConfig
}

// NewTree builds the tree, filling zero values with suture's defaults.
func NewTree(cfg config.SupervisorConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = config.Duration(15 * time.Second)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = config.Duration(10 * time.Second)
	}

	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   time.Duration(cfg.FailureBackoff),
		Timeout:          time.Duration(cfg.ShutdownTimeout),
	}
	rootSpec := childSpec
	rootSpec.EventHook = logEvent

	t := &Tree{
		root:      suture.New("go2netsentinel", rootSpec),
		engine:    suture.New("engine-layer", childSpec),
		messaging: suture.New("messaging-layer", childSpec),
		api:       suture.New("api-layer", childSpec),
		cfg:       cfg,
	}
	t.root.Add(t.engine)
	t.root.Add(t.messaging)
	t.root.Add(t.api)
	return t
}

// logEvent routes suture events to zerolog.
func logEvent(ev suture.Event) {
	level := zerolog.WarnLevel
	switch ev.(type) {
	case suture.EventServicePanic, suture.EventStopTimeout:
		level = zerolog.ErrorLevel
	case suture.EventResume:
		level = zerolog.InfoLevel
	}
	logger := logging.Logger()
	logger.WithLevel(level).Str("event", ev.String()).Fields(ev.Map()).Msg("supervisor event")
}

// Config returns the effective configuration after defaults.
func (t *Tree) Config() config.SupervisorConfig { return t.cfg }

// AddEngineService adds a service to the engine layer.
func (t *Tree) AddEngineService(svc suture.Service) suture.ServiceToken {
	return t.engine.Add(svc)
}

// AddMessagingService adds a service to the messaging layer.
func (t *Tree) AddMessagingService(svc suture.Service) suture.ServiceToken {
	return t.messaging.Add(svc)
}

// AddAPIService adds a service to the API layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve blocks until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that overran the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
