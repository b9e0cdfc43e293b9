package probe

import (
	"context"
	"fmt"
	"net/netip"
	"sync/atomic"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/factory"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

func init() {
	factory.RegisterSource("nats", func(cfg *config.Config) (model.FlowSource, error) {
		return NewSubscriber(cfg.Source.NATS)
	})
}

// Subscriber is a flow source fed by a NATS subject. Messages are buffered and
// dropped when the buffer is full.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	flows   chan model.Flow
	dropped atomic.Uint64
}

// NewSubscriber connects to NATS and subscribes to the configured subject.
func NewSubscriber(cfg config.NATSSourceConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("ns-sentinel"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	s := newSubscriber(cfg.Subject, cfg.BufferSize)
	s.nc = nc
	sub, err := nc.Subscribe(cfg.Subject, func(msg *nats.Msg) { s.handle(msg.Data) })
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Subject, err)
	}
	s.sub = sub
	logging.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("subscribed to flow subject")
	return s, nil
}

func newSubscriber(subject string, bufferSize int) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Subscriber{subject: subject, flows: make(chan model.Flow, bufferSize)}
}

func (s *Subscriber) handle(data []byte) {
	flow, err := decodeFlow(data)
	if err != nil {
		logging.Warn().Err(err).Str("subject", s.subject).Msg("discarding malformed flow message")
		return
	}
	select {
	case s.flows <- flow:
	default:
		if n := s.dropped.Add(1); n%1000 == 1 {
			logging.Warn().Uint64("dropped", n).Msg("flow buffer full, dropping messages")
		}
	}
}

// Dropped returns how many flows were discarded because the buffer was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscriber) Name() string { return "nats" }

// Next returns a buffered flow or model.ErrNoFlow when none is waiting.
func (s *Subscriber) Next(ctx context.Context) (model.Flow, error) {
	select {
	case <-ctx.Done():
		return model.Flow{}, ctx.Err()
	case flow := <-s.flows:
		return flow, nil
	default:
		return model.Flow{}, model.ErrNoFlow
	}
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			logging.Warn().Err(err).Msg("failed to unsubscribe")
		}
	}
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

func decodeFlow(data []byte) (model.Flow, error) {
	var flow model.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return model.Flow{}, fmt.Errorf("invalid flow JSON: %w", err)
	}
	if _, err := netip.ParseAddr(flow.SrcIP); err != nil {
		return model.Flow{}, fmt.Errorf("invalid srcIp: %w", err)
	}
	if _, err := netip.ParseAddr(flow.DstIP); err != nil {
		return model.Flow{}, fmt.Errorf("invalid dstIp: %w", err)
	}
	return flow, nil
}
