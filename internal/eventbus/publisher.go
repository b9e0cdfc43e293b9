package eventbus

import (
	"fmt"
	"strings"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// Publisher forwards push-channel events to NATS under "<prefix>.<kind>".
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher connects to the configured NATS server.
func NewPublisher(cfg config.EventBusConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("ns-sentinel-events"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("event bus disconnected")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logging.Info().Str("url", cfg.URL).Str("prefix", cfg.SubjectPrefix).Msg("event bus connected")
	return &Publisher{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Subject returns the subject an event kind is published on.
func Subject(prefix string, kind model.EventKind) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return string(kind)
	}
	return prefix + "." + string(kind)
}

// Encode serializes an event the way it is sent on the websocket channel.
func Encode(kind model.EventKind, payload interface{}) ([]byte, error) {
	return json.Marshal(model.Envelope{Type: kind, Data: payload})
}

// Broadcast publishes the event. The NATS client buffers writes, so this does
// not wait for the server.
func (p *Publisher) Broadcast(kind model.EventKind, payload interface{}) {
	data, err := Encode(kind, payload)
	if err != nil {
		logging.Error().Err(err).Str("kind", string(kind)).Msg("failed to encode event")
		return
	}
	if err := p.nc.Publish(Subject(p.prefix, kind), data); err != nil {
		logging.Warn().Err(err).Str("kind", string(kind)).Msg("failed to publish event")
	}
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		logging.Warn().Err(err).Msg("failed to drain event bus connection")
	}
}
