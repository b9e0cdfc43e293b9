// Package loop drives detection: it periodically pulls flows, records threats,
// notifies observers and blocks sources that cross the auto-block policy.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"Go2NetSentinel/internal/detector"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"

	"github.com/rs/zerolog"
)

// FlowDetector classifies a single flow.
type FlowDetector interface {
	Detect(flow model.Flow) (detector.Result, error)
}

// EventStore is the slice of the store the loop writes to.
type EventStore interface {
	RecordThreatEvent(ctx context.Context, ev model.ThreatEvent) (model.ThreatEvent, error)
	BlockIfAbsent(ctx context.Context, req model.BlockRequest) (model.BlockedIP, bool, error)
}

// Enricher looks up an external reputation score for a source address.
type Enricher interface {
	Score(addr string) (float64, bool)
}

// Policy decides which recorded events block their source.
type Policy struct {
	Enabled  bool
	Severity model.Severity
	// MinConfidence must be strictly exceeded.
	MinConfidence int
}

// DefaultPolicy blocks critical events with confidence above 94, which a
// saturated DoS score of 95 reaches.
func DefaultPolicy() Policy {
	return Policy{Enabled: true, Severity: model.SeverityCritical, MinConfidence: 94}
}

// ShouldBlock reports whether ev triggers an automatic block.
func (p Policy) ShouldBlock(ev model.ThreatEvent) bool {
	return p.Enabled && ev.Severity.Rank() >= p.Severity.Rank() && ev.Confidence > p.MinConfidence
}

// AutoBlockReason is the reason recorded on automatic blocks.
func AutoBlockReason(t model.ThreatType) string {
	return fmt.Sprintf("Auto-blocked: %s attack detected", t)
}

// Config holds the loop's scheduling and policy settings.
type Config struct {
	Interval time.Duration
	MinBatch int
	MaxBatch int
	Policy   Policy
}

// Report summarises one iteration.
type Report struct {
	Flows   int
	Threats int
	Blocks  int
	Errors  int
}

// Loop is the periodic detection driver. Tick is not safe for concurrent use;
// Serve is the only caller in production.
type Loop struct {
	cfg         Config
	source      model.FlowSource
	detector    FlowDetector
	store       EventStore
	broadcaster model.Broadcaster
	enricher    Enricher
	rng         *rand.Rand
	log         zerolog.Logger
	exhausted   bool
}

// Option customises a Loop.
type Option func(*Loop)

// WithEnricher attaches a reputation lookup.
func WithEnricher(e Enricher) Option {
	return func(l *Loop) { l.enricher = e }
}

// WithRand fixes the batch-size random source.
func WithRand(rng *rand.Rand) Option {
	return func(l *Loop) { l.rng = rng }
}

// New creates a Loop. A nil broadcaster discards messages.
func New(cfg Config, source model.FlowSource, det FlowDetector, st EventStore, bc model.Broadcaster, opts ...Option) (*Loop, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("detection interval must be a positive duration")
	}
	if cfg.MinBatch < 1 || cfg.MaxBatch < cfg.MinBatch {
		return nil, fmt.Errorf("invalid batch bounds [%d,%d]", cfg.MinBatch, cfg.MaxBatch)
	}
	if bc == nil {
		bc = discard{}
	}
	l := &Loop{
		cfg:         cfg,
		source:      source,
		detector:    det,
		store:       st,
		broadcaster: bc,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		log:         logging.WithComponent("detection-loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Serve runs iterations every interval until ctx is cancelled. An iteration in
// progress always completes; cancellation is observed between iterations.
func (l *Loop) Serve(ctx context.Context) error {
	l.log.Info().
		Str("source", l.source.Name()).
		Dur("interval", l.cfg.Interval).
		Int("min_batch", l.cfg.MinBatch).
		Int("max_batch", l.cfg.MaxBatch).
		Msg("detection loop started")

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("detection loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick runs one iteration: draw a batch of flows and process each of them.
func (l *Loop) Tick(ctx context.Context) Report {
	start := time.Now()
	defer func() { metrics.LoopIterationSeconds.Observe(time.Since(start).Seconds()) }()

	var rep Report
	n := l.cfg.MinBatch + l.rng.Intn(l.cfg.MaxBatch-l.cfg.MinBatch+1)
	for i := 0; i < n; i++ {
		flow, err := l.source.Next(ctx)
		if err != nil {
			l.handleSourceError(err, &rep)
			break
		}
		rep.Flows++
		l.processFlow(ctx, flow, &rep)
	}
	if rep.Threats > 0 || rep.Errors > 0 {
		l.log.Debug().
			Int("flows", rep.Flows).
			Int("threats", rep.Threats).
			Int("blocks", rep.Blocks).
			Int("errors", rep.Errors).
			Msg("iteration complete")
	}
	return rep
}

func (l *Loop) handleSourceError(err error, rep *Report) {
	switch {
	case errors.Is(err, model.ErrNoFlow):
	case errors.Is(err, io.EOF):
		if !l.exhausted {
			l.exhausted = true
			l.log.Info().Str("source", l.source.Name()).Msg("flow source exhausted")
		}
	default:
		rep.Errors++
		metrics.LoopErrors.WithLabelValues("source").Inc()
		l.log.Error().Err(err).Str("source", l.source.Name()).Msg("failed to read flow")
	}
}

func (l *Loop) processFlow(ctx context.Context, flow model.Flow, rep *Report) {
	defer func() {
		if r := recover(); r != nil {
			rep.Errors++
			metrics.LoopErrors.WithLabelValues("panic").Inc()
			l.log.Error().Interface("panic", r).Str("src_ip", flow.SrcIP).Msg("recovered from panic while processing flow")
		}
	}()

	res, err := l.detector.Detect(flow)
	if err != nil {
		rep.Errors++
		metrics.LoopErrors.WithLabelValues("detect").Inc()
		l.log.Warn().Err(err).Str("src_ip", flow.SrcIP).Msg("flow rejected by detector")
		return
	}
	metrics.FlowsProcessed.WithLabelValues(l.source.Name()).Inc()
	if res.Classification.Type == model.ThreatBenign {
		return
	}

	ev := res.Event
	if l.enricher != nil {
		if score, ok := l.enricher.Score(ev.SrcIP); ok {
			ev.AbuseScore = &score
		}
	}

	stored, err := l.store.RecordThreatEvent(ctx, ev)
	if err != nil {
		rep.Errors++
		metrics.LoopErrors.WithLabelValues("record").Inc()
		l.log.Error().Err(err).Str("src_ip", ev.SrcIP).Msg("failed to record threat event")
		return
	}
	rep.Threats++
	metrics.ThreatsDetected.WithLabelValues(string(stored.Type), string(stored.Severity)).Inc()
	l.broadcaster.Broadcast(model.EventNewThreat, stored)

	l.log.Info().
		Str("id", stored.ID).
		Str("type", string(stored.Type)).
		Str("severity", string(stored.Severity)).
		Int("confidence", stored.Confidence).
		Str("src_ip", stored.SrcIP).
		Str("dst_ip", stored.DstIP).
		Uint16("dst_port", stored.DstPort).
		Msg("threat detected")

	if !l.cfg.Policy.ShouldBlock(stored) {
		return
	}
	rec, created, err := l.store.BlockIfAbsent(ctx, model.BlockRequest{
		IPAddress:   stored.SrcIP,
		Reason:      AutoBlockReason(stored.Type),
		ThreatCount: 1,
	})
	if err != nil {
		rep.Errors++
		metrics.LoopErrors.WithLabelValues("block").Inc()
		l.log.Error().Err(err).Str("src_ip", stored.SrcIP).Msg("failed to auto-block source")
		return
	}
	if !created {
		return
	}
	rep.Blocks++
	metrics.AutoBlocks.Inc()
	l.broadcaster.Broadcast(model.EventIPBlocked, rec)
	l.log.Warn().Str("ip", rec.IPAddress).Str("reason", rec.Reason).Msg("source auto-blocked")
}

type discard struct{}

func (discard) Broadcast(model.EventKind, interface{}) {}
