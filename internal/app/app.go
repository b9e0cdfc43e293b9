// Package app assembles the sentinel from its configuration and runs it under
// a supervisor tree.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"Go2NetSentinel/internal/api"
	"Go2NetSentinel/internal/archive"
	"Go2NetSentinel/internal/broadcast"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detector"
	"Go2NetSentinel/internal/engine/loop"
	"Go2NetSentinel/internal/engine/manager"
	"Go2NetSentinel/internal/eventbus"
	"Go2NetSentinel/internal/factory"
	"Go2NetSentinel/internal/grpcapi"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/notification"
	"Go2NetSentinel/internal/reputation"
	"Go2NetSentinel/internal/rollup"
	"Go2NetSentinel/internal/snapshot"
	"Go2NetSentinel/internal/store"
	"Go2NetSentinel/internal/supervisor"
	"Go2NetSentinel/internal/websocket"

	// Flow source registrations.
	_ "Go2NetSentinel/internal/probe"
	_ "Go2NetSentinel/internal/simulator"

	"github.com/prometheus/client_golang/prometheus"
)

// App is a fully wired sentinel.
type App struct {
	cfg     *config.Config
	source  model.FlowSource
	store   *store.MemStore
	hub     *websocket.Hub
	fanout  *broadcast.Fanout
	handler http.Handler
	tree    *supervisor.Tree
	health  *grpcapi.HealthServer
	closers []func() error
}

// Option customises App construction.
type Option func(*options)

type options struct {
	registry *prometheus.Registry
}

// WithRegistry registers the store gauges on reg instead of the default registerer.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New wires every component named in cfg. Nothing runs until Run is called.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, store: store.NewMemStore()}
	if cfg.Snapshot.Restore {
		a.restore(cfg.Snapshot.RootPath)
	}

	source, err := factory.NewSource(cfg)
	if err != nil {
		return nil, err
	}
	a.source = source
	a.closers = append(a.closers, source.Close)

	if err := a.wire(o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(o options) error {
	cfg := a.cfg

	a.hub = websocket.NewHub(cfg.API.AllowedOrigins)
	a.fanout = broadcast.NewFanout(broadcast.Sink{Name: "websocket", Broadcaster: a.hub})

	if cfg.Events.Enabled {
		pub, err := eventbus.NewPublisher(cfg.Events)
		if err != nil {
			return err
		}
		a.fanout.Add("eventbus", pub)
		a.closers = append(a.closers, func() error { pub.Close(); return nil })
	}

	var alerter *notification.BlockAlerter
	if cfg.SMTP.Host != "" {
		alerter = notification.NewBlockAlerter(notification.NewEmailNotifier(cfg.SMTP), cfg.SMTP.MinInterval.Std())
		a.fanout.Add("email", alerter)
	}

	var loopOpts []loop.Option
	if cfg.Reputation.Enabled {
		list, err := reputation.LoadFile(cfg.Reputation.Path)
		if err != nil {
			return err
		}
		logging.Info().Int("entries", list.Len()).Str("path", cfg.Reputation.Path).Msg("reputation list loaded")
		loopOpts = append(loopOpts, loop.WithEnricher(list))
	}

	det := detector.New(detector.NewClassifier(cfg.Detection.Thresholds))
	lp, err := loop.New(loopConfig(cfg.Detection), a.source, det, a.store, a.fanout, loopOpts...)
	if err != nil {
		return err
	}

	var writers []model.Writer
	if cfg.Snapshot.Enabled {
		writers = append(writers, snapshot.NewWriter(cfg.Snapshot.RootPath, cfg.Snapshot.Interval.Std()))
	}
	if cfg.ClickHouse.Enabled {
		ch, err := archive.NewClickHouseWriter(cfg.ClickHouse)
		if err != nil {
			return err
		}
		writers = append(writers, ch)
		a.closers = append(a.closers, ch.Close)
	}
	mgr := manager.NewManager(lp, a.store, writers...)

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if o.registry != nil {
		reg = o.registry
		gatherer = prometheus.Gatherers{prometheus.DefaultGatherer, o.registry}
	}
	if err := metrics.RegisterStoreGauges(reg, a.store); err != nil {
		return err
	}

	h := api.NewHandler(a.store, rollup.NewAggregator(a.store, time.Now), a.fanout,
		api.WithWebSocket(http.HandlerFunc(a.hub.ServeWS)),
		api.WithGatherer(gatherer),
	)
	a.handler = h.Router()

	a.tree = supervisor.NewTree(cfg.Supervisor)
	a.tree.AddEngineService(supervisor.NewFuncService("detection", mgr.Serve))
	a.tree.AddMessagingService(supervisor.NewFuncService("websocket-hub", a.hub.RunWithContext))
	if alerter != nil {
		a.tree.AddMessagingService(supervisor.NewFuncService("block-alerter", alerter.Serve))
	}
	a.tree.AddAPIService(supervisor.NewHTTPServerService(&http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, cfg.API.ShutdownTimeout.Std()))
	if cfg.GRPC.Enabled {
		a.health = grpcapi.NewHealthServer(cfg.GRPC.ListenAddr)
		a.tree.AddAPIService(a.health)
	}
	return nil
}

// restore loads the newest snapshot into the store. A missing or unreadable
// snapshot leaves the store empty.
func (a *App) restore(root string) {
	snap, name, err := snapshot.LoadLatest(root)
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
		logging.Info().Str("root", root).Msg("no snapshot to restore")
		return
	case err != nil:
		logging.Warn().Err(err).Str("root", root).Msg("failed to load snapshot, starting empty")
		return
	}
	if err := a.store.Restore(snap); err != nil {
		logging.Warn().Err(err).Str("snapshot", name).Msg("failed to restore snapshot, starting empty")
		return
	}
	logging.Info().
		Str("snapshot", name).
		Int("events", len(snap.Events)).
		Int("blocked", len(snap.Blocked)).
		Msg("store restored from snapshot")
}

func loopConfig(d config.DetectionConfig) loop.Config {
	return loop.Config{
		Interval: d.Interval.Std(),
		MinBatch: d.MinBatch,
		MaxBatch: d.MaxBatch,
		Policy: loop.Policy{
			Enabled:       d.AutoBlock.Enabled,
			Severity:      model.Severity(d.AutoBlock.Severity),
			MinConfidence: d.AutoBlock.MinConfidence,
		},
	}
}

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler { return a.handler }

// Store returns the in-memory store.
func (a *App) Store() *store.MemStore { return a.store }

// Run serves until ctx is cancelled and then releases external resources.
func (a *App) Run(ctx context.Context) error {
	logging.Info().
		Str("source", a.source.Name()).
		Str("listen_addr", a.cfg.API.ListenAddr).
		Int("sinks", a.fanout.Len()).
		Msg("sentinel starting")

	err := a.tree.Serve(ctx)
	if report, rerr := a.tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
		}
	}
	if cerr := a.Close(); cerr != nil {
		logging.Warn().Err(cerr).Msg("error while closing resources")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	return nil
}

// Close releases the source and the external sinks. It is safe to call twice.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
