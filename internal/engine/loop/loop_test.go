package loop

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detector"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	mu    sync.Mutex
	flows []model.Flow
	err   error
}

func (s *sliceSource) Next(context.Context) (model.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.Flow{}, s.err
	}
	if len(s.flows) == 0 {
		return model.Flow{}, io.EOF
	}
	f := s.flows[0]
	s.flows = s.flows[1:]
	return f, nil
}

func (s *sliceSource) Name() string { return "slice" }
func (s *sliceSource) Close() error { return nil }

type message struct {
	kind    model.EventKind
	payload interface{}
}

type recorder struct {
	mu   sync.Mutex
	msgs []message
}

func (r *recorder) Broadcast(kind model.EventKind, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message{kind, payload})
}

func (r *recorder) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EventKind
	for _, m := range r.msgs {
		out = append(out, m.kind)
	}
	return out
}

// fixedDetector returns the same classification for every flow.
type fixedDetector struct {
	cls   model.ThreatClassification
	err   error
	panic bool
}

func (d fixedDetector) Detect(flow model.Flow) (detector.Result, error) {
	if d.panic {
		panic("classifier exploded")
	}
	if d.err != nil {
		return detector.Result{}, d.err
	}
	return detector.Result{
		Classification: d.cls,
		Event: model.ThreatEvent{
			Timestamp:  time.Now(),
			SrcIP:      flow.SrcIP,
			DstIP:      flow.DstIP,
			DstPort:    flow.DstPort,
			Protocol:   flow.Protocol,
			Type:       d.cls.Type,
			Severity:   d.cls.Severity,
			Confidence: d.cls.Confidence,
		},
	}, nil
}

func flowsFrom(src string, n int) []model.Flow {
	out := make([]model.Flow, n)
	for i := range out {
		out[i] = model.Flow{SrcIP: src, DstIP: "10.0.0.50", DstPort: 80, Protocol: "TCP"}
	}
	return out
}

func cfg(min, max int) Config {
	return Config{Interval: time.Hour, MinBatch: min, MaxBatch: max, Policy: DefaultPolicy()}
}

func newLoop(t *testing.T, c Config, src model.FlowSource, det FlowDetector, st EventStore, bc model.Broadcaster, opts ...Option) *Loop {
	t.Helper()
	opts = append([]Option{WithRand(rand.New(rand.NewSource(1)))}, opts...)
	l, err := New(c, src, det, st, bc, opts...)
	require.NoError(t, err)
	return l
}

func TestAutoBlockExactlyOnce(t *testing.T) {
	st := store.NewMemStore()
	bc := &recorder{}
	det := fixedDetector{cls: model.ThreatClassification{Type: model.ThreatDoS, Severity: model.SeverityCritical, Confidence: 97}}
	l := newLoop(t, cfg(2, 2), &sliceSource{flows: flowsFrom("1.2.3.4", 4)}, det, st, bc)

	l.Tick(context.Background())
	rep := l.Tick(context.Background())
	assert.Equal(t, 2, rep.Threats)
	assert.Equal(t, 0, rep.Blocks)

	blocks, err := st.ListBlockedAddresses(context.Background())
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "1.2.3.4", blocks[0].IPAddress)
	assert.Equal(t, 1, blocks[0].ThreatCount)
	assert.Contains(t, blocks[0].Reason, "DoS")
	assert.Equal(t, "Auto-blocked: DoS attack detected", blocks[0].Reason)

	assert.Equal(t, []model.EventKind{
		model.EventNewThreat, model.EventIPBlocked, model.EventNewThreat,
		model.EventNewThreat, model.EventNewThreat,
	}, bc.kinds())

	events, _ := st.Counts()
	assert.Equal(t, 4, events)
}

func TestNoBlockAtThreshold(t *testing.T) {
	st := store.NewMemStore()
	det := fixedDetector{cls: model.ThreatClassification{Type: model.ThreatDoS, Severity: model.SeverityCritical, Confidence: 94}}
	l := newLoop(t, cfg(1, 1), &sliceSource{flows: flowsFrom("1.2.3.4", 1)}, det, st, nil)

	rep := l.Tick(context.Background())
	assert.Equal(t, 1, rep.Threats)
	_, blocked := st.Counts()
	assert.Zero(t, blocked)
}

func TestSaturatedRstFloodIsBlocked(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	flood := model.Flow{SrcIP: "203.0.113.9", DstIP: "10.0.0.50", SrcPort: 40000, DstPort: 80, Protocol: "TCP"}
	for i := 0; i < 300; i++ {
		flood.Packets = append(flood.Packets, model.Packet{Size: 60, Timestamp: start.Add(time.Duration(i) * 100 * time.Microsecond), Flags: model.FlagRST})
	}
	st := store.NewMemStore()
	det := detector.New(detector.NewClassifier(config.DefaultRuleThresholds()))
	l := newLoop(t, cfg(1, 1), &sliceSource{flows: []model.Flow{flood}}, det, st, nil)

	rep := l.Tick(context.Background())
	assert.Equal(t, 1, rep.Threats)
	assert.Equal(t, 1, rep.Blocks)
	blocked, err := st.GetBlockedAddress(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, "Auto-blocked: DoS attack detected", blocked.Reason)
}

func TestNoBlockForNonCritical(t *testing.T) {
	st := store.NewMemStore()
	det := fixedDetector{cls: model.ThreatClassification{Type: model.ThreatScan, Severity: model.SeverityMedium, Confidence: 100}}
	l := newLoop(t, cfg(1, 1), &sliceSource{flows: flowsFrom("1.2.3.4", 1)}, det, st, nil)

	l.Tick(context.Background())
	_, blocked := st.Counts()
	assert.Zero(t, blocked)
}

func TestExistingManualBlockIsKept(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	manual, err := st.BlockAddress(ctx, model.BlockRequest{IPAddress: "1.2.3.4", Reason: "manual", ThreatCount: 9})
	require.NoError(t, err)

	bc := &recorder{}
	det := fixedDetector{cls: model.ThreatClassification{Type: model.ThreatDoS, Severity: model.SeverityCritical, Confidence: 99}}
	l := newLoop(t, cfg(1, 1), &sliceSource{flows: flowsFrom("1.2.3.4", 1)}, det, st, bc)
	l.Tick(ctx)

	got, err := st.GetBlockedAddress(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, manual, got)
	assert.Equal(t, []model.EventKind{model.EventNewThreat}, bc.kinds())
}

func TestBenignFlowsAreNotRecorded(t *testing.T) {
	st := store.NewMemStore()
	bc := &recorder{}
	det := fixedDetector{cls: model.ThreatClassification{Type: model.ThreatBenign, Severity: model.SeverityLow, Confidence: 80}}
	l := newLoop(t, cfg(3, 3), &sliceSource{flows: flowsFrom("8.8.8.8", 3)}, det, st, bc)

	rep := l.Tick(context.Background())
	assert.Equal(t, 3, rep.Flows)
	assert.Zero(t, rep.Threats)
	events, _ := st.Counts()
	assert.Zero(t, events)
	assert.Empty(t, bc.kinds())
}

func TestLoopSurvivesErrors(t *testing.T) {
	st := store.NewMemStore()

	l := newLoop(t, cfg(2, 2), &sliceSource{flows: flowsFrom("1.1.1.1", 2)}, fixedDetector{err: &model.MalformedFlowError{Reason: "negative size"}}, st, nil)
	rep := l.Tick(context.Background())
	assert.Equal(t, 2, rep.Errors)

	l = newLoop(t, cfg(2, 2), &sliceSource{flows: flowsFrom("1.1.1.1", 2)}, fixedDetector{panic: true}, st, nil)
	rep = l.Tick(context.Background())
	assert.Equal(t, 2, rep.Errors, "a panic in one flow does not abandon the batch")

	l = newLoop(t, cfg(1, 1), &sliceSource{err: errors.New("socket closed")}, fixedDetector{}, st, nil)
	rep = l.Tick(context.Background())
	assert.Equal(t, 1, rep.Errors)
}

type failingStore struct{}

func (failingStore) RecordThreatEvent(context.Context, model.ThreatEvent) (model.ThreatEvent, error) {
	return model.ThreatEvent{}, &model.StoreError{Op: "record event", Err: errors.New("disk on fire")}
}

func (failingStore) BlockIfAbsent(context.Context, model.BlockRequest) (model.BlockedIP, bool, error) {
	return model.BlockedIP{}, false, errors.New("unreachable")
}

func TestStoreErrorsAreSwallowed(t *testing.T) {
	bc := &recorder{}
	det := fixedDetector{cls: model.ThreatClassification{Type: model.ThreatDoS, Severity: model.SeverityCritical, Confidence: 99}}
	l := newLoop(t, cfg(2, 2), &sliceSource{flows: flowsFrom("1.1.1.1", 2)}, det, failingStore{}, bc)

	rep := l.Tick(context.Background())
	assert.Equal(t, 2, rep.Errors)
	assert.Empty(t, bc.kinds())
}

func TestExhaustedSourceIsQuiet(t *testing.T) {
	l := newLoop(t, cfg(1, 3), &sliceSource{}, fixedDetector{}, store.NewMemStore(), nil)
	for i := 0; i < 3; i++ {
		rep := l.Tick(context.Background())
		assert.Equal(t, Report{}, rep)
	}
}

func TestBatchSizeWithinBounds(t *testing.T) {
	src := &sliceSource{flows: flowsFrom("1.1.1.1", 1000)}
	det := fixedDetector{cls: model.ThreatClassification{Type: model.ThreatBenign, Severity: model.SeverityLow, Confidence: 80}}
	l := newLoop(t, cfg(1, 3), src, det, store.NewMemStore(), nil)

	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		rep := l.Tick(context.Background())
		require.GreaterOrEqual(t, rep.Flows, 1)
		require.LessOrEqual(t, rep.Flows, 3)
		seen[rep.Flows] = true
	}
	assert.Len(t, seen, 3)
}

type staticEnricher map[string]float64

func (e staticEnricher) Score(addr string) (float64, bool) {
	s, ok := e[addr]
	return s, ok
}

func TestEnrichmentSetsAbuseScore(t *testing.T) {
	st := store.NewMemStore()
	det := fixedDetector{cls: model.ThreatClassification{Type: model.ThreatScan, Severity: model.SeverityMedium, Confidence: 90}}
	flows := append(flowsFrom("203.0.113.9", 1), flowsFrom("10.1.1.1", 1)...)
	l := newLoop(t, cfg(2, 2), &sliceSource{flows: flows}, det, st, nil, WithEnricher(staticEnricher{"203.0.113.9": 100}))
	l.Tick(context.Background())

	events, err := st.ListThreatEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		if ev.SrcIP == "203.0.113.9" {
			require.NotNil(t, ev.AbuseScore)
			assert.Equal(t, 100.0, *ev.AbuseScore)
		} else {
			assert.Nil(t, ev.AbuseScore)
		}
	}
}

func TestWithRealDetector(t *testing.T) {
	st := store.NewMemStore()
	det := detector.New(detector.NewClassifier(config.DefaultRuleThresholds()))
	base := time.Now()
	flood := model.Flow{SrcIP: "1.2.3.4", DstIP: "10.0.0.50", DstPort: 80, Protocol: "TCP"}
	for i := 0; i < 400; i++ {
		flood.Packets = append(flood.Packets, model.Packet{
			Size:      60,
			Timestamp: base.Add(time.Duration(i) * 25 * time.Microsecond),
			Flags:     model.FlagSYN | model.FlagRST,
		})
	}
	l := newLoop(t, cfg(1, 1), &sliceSource{flows: []model.Flow{flood}}, det, st, nil)

	rep := l.Tick(context.Background())
	assert.Equal(t, 1, rep.Threats)
	assert.Equal(t, 1, rep.Blocks)

	rec, err := st.GetBlockedAddress(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.Reason, "Auto-blocked: DoS"))
}

func TestServeStopsOnCancel(t *testing.T) {
	src := &sliceSource{flows: flowsFrom("1.1.1.1", 100)}
	det := fixedDetector{cls: model.ThreatClassification{Type: model.ThreatScan, Severity: model.SeverityMedium, Confidence: 90}}
	st := store.NewMemStore()
	l, err := New(Config{Interval: 5 * time.Millisecond, MinBatch: 1, MaxBatch: 1, Policy: DefaultPolicy()}, src, det, st, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := st.Counts()
		return n >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Interval: 0, MinBatch: 1, MaxBatch: 1}, &sliceSource{}, fixedDetector{}, store.NewMemStore(), nil)
	assert.Error(t, err)
	_, err = New(Config{Interval: time.Second, MinBatch: 3, MaxBatch: 2}, &sliceSource{}, fixedDetector{}, store.NewMemStore(), nil)
	assert.Error(t, err)
}

func TestPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.ShouldBlock(model.ThreatEvent{Severity: model.SeverityCritical, Confidence: 95}))
	assert.False(t, p.ShouldBlock(model.ThreatEvent{Severity: model.SeverityCritical, Confidence: 94}))
	assert.False(t, p.ShouldBlock(model.ThreatEvent{Severity: model.SeverityHigh, Confidence: 100}))

	p.Enabled = false
	assert.False(t, p.ShouldBlock(model.ThreatEvent{Severity: model.SeverityCritical, Confidence: 100}))

	high := Policy{Enabled: true, Severity: model.SeverityHigh, MinConfidence: 70}
	assert.True(t, high.ShouldBlock(model.ThreatEvent{Severity: model.SeverityCritical, Confidence: 71}))
	assert.True(t, high.ShouldBlock(model.ThreatEvent{Severity: model.SeverityHigh, Confidence: 71}))
	assert.False(t, high.ShouldBlock(model.ThreatEvent{Severity: model.SeverityMedium, Confidence: 99}))
}
