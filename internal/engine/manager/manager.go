package manager

import (
	"context"
	"sync"
	"time"

	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"

	"github.com/rs/zerolog"
)

// SnapshotSource provides consistent copies of the store.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (model.StoreSnapshot, error)
}

// Runner is the detection loop as seen by the manager.
type Runner interface {
	Serve(ctx context.Context) error
}

// Manager orchestrates the detection loop and the snapshot writers that export the store.
type Manager struct {
	runner  Runner
	source  SnapshotSource
	writers []model.Writer
	log     zerolog.Logger

	snapshotterWg sync.WaitGroup
}

// NewManager creates a new Manager.
func NewManager(runner Runner, source SnapshotSource, writers ...model.Writer) *Manager {
	return &Manager{
		runner:  runner,
		source:  source,
		writers: writers,
		log:     logging.WithComponent("engine-manager"),
	}
}

// Serve starts one snapshotter per writer, runs the loop until ctx is cancelled and
// then waits for every writer to take its final snapshot.
func (m *Manager) Serve(ctx context.Context) error {
	done := make(chan struct{})
	for _, writer := range m.writers {
		m.snapshotterWg.Add(1)
		go m.runSnapshotter(writer, done)
		m.log.Info().Str("writer", writer.Name()).Dur("interval", writer.GetInterval()).Msg("started snapshotter")
	}

	err := m.runner.Serve(ctx)

	close(done)
	m.log.Info().Msg("waiting for snapshotters to finish")
	m.snapshotterWg.Wait()
	m.log.Info().Msg("manager stopped")
	return err
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Manager) runSnapshotter(writer model.Writer, done <-chan struct{}) {
	defer m.snapshotterWg.Done()
	interval := writer.GetInterval()
	if interval <= 0 {
		m.log.Warn().Str("writer", writer.Name()).Dur("interval", interval).Msg("invalid interval, snapshotter will not run")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.TakeSnapshot(writer)
		case <-done:
			m.TakeSnapshot(writer)
			return
		}
	}
}

// TakeSnapshot copies the store and hands it to writer.
func (m *Manager) TakeSnapshot(writer model.Writer) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	snap, err := m.source.Snapshot(context.Background())
	if err != nil {
		metrics.SnapshotWrites.WithLabelValues(writer.Name(), "error").Inc()
		m.log.Error().Err(err).Str("writer", writer.Name()).Msg("failed to snapshot store")
		return
	}
	if err := writer.Write(snap, timestamp); err != nil {
		metrics.SnapshotWrites.WithLabelValues(writer.Name(), "error").Inc()
		m.log.Error().Err(err).Str("writer", writer.Name()).Str("timestamp", timestamp).Msg("error writing snapshot")
		return
	}
	metrics.SnapshotWrites.WithLabelValues(writer.Name(), "ok").Inc()
	m.log.Debug().
		Str("writer", writer.Name()).
		Int("events", len(snap.Events)).
		Int("blocked", len(snap.Blocked)).
		Msg("snapshot written")
}
