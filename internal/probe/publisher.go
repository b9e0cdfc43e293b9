package probe

import (
	"fmt"

	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// Publisher is responsible for publishing assembled flows to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("ns-probe"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logging.Info().Str("url", url).Str("subject", subject).Msg("connected to NATS")
	return &Publisher{nc: nc, subject: subject}, nil
}

// Publish serializes a flow to JSON and publishes it to the configured subject.
func (p *Publisher) Publish(flow model.Flow) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to encode flow: %w", err)
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			logging.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
}
