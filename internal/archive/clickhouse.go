package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sony/gobreaker/v2"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS threat_events (
    ID            String,
    Timestamp     DateTime64(3),
    SnapshotTime  DateTime,
    SrcIP         String,
    DstIP         String,
    SrcPort       UInt16,
    DstPort       UInt16,
    Protocol      LowCardinality(String),
    ThreatType    LowCardinality(String),
    Severity      LowCardinality(String),
    Confidence    UInt8,
    AbuseScore    Nullable(Float64),
    TotalPackets  Float64,
    TotalBytes    Float64,
    Duration      Float64,
    PacketsPerSec Float64,
    BytesPerSec   Float64
) ENGINE = ReplacingMergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (ThreatType, ID);
`

const timestampLayout = "2006-01-02_15-04-05"

// row mirrors one threat_events record in column order.
type row struct {
	ID            string
	Timestamp     time.Time
	SnapshotTime  time.Time
	SrcIP         string
	DstIP         string
	SrcPort       uint16
	DstPort       uint16
	Protocol      string
	ThreatType    string
	Severity      string
	Confidence    uint8
	AbuseScore    *float64
	TotalPackets  float64
	TotalBytes    float64
	Duration      float64
	PacketsPerSec float64
	BytesPerSec   float64
}

func (r row) values() []interface{} {
	return []interface{}{
		r.ID, r.Timestamp, r.SnapshotTime, r.SrcIP, r.DstIP, r.SrcPort, r.DstPort,
		r.Protocol, r.ThreatType, r.Severity, r.Confidence, r.AbuseScore,
		r.TotalPackets, r.TotalBytes, r.Duration, r.PacketsPerSec, r.BytesPerSec,
	}
}

func toRow(ev model.ThreatEvent, snapshotTime time.Time) row {
	f := ev.FlowFeatures
	return row{
		ID:            ev.ID,
		Timestamp:     ev.Timestamp,
		SnapshotTime:  snapshotTime,
		SrcIP:         ev.SrcIP,
		DstIP:         ev.DstIP,
		SrcPort:       ev.SrcPort,
		DstPort:       ev.DstPort,
		Protocol:      ev.Protocol,
		ThreatType:    string(ev.Type),
		Severity:      string(ev.Severity),
		Confidence:    uint8(ev.Confidence),
		AbuseScore:    ev.AbuseScore,
		TotalPackets:  f.TotalPackets,
		TotalBytes:    f.TotalBytes,
		Duration:      f.Duration,
		PacketsPerSec: f.PacketsPerSec,
		BytesPerSec:   f.BytesPerSec,
	}
}

type insertFunc func(ctx context.Context, rows []row) error

// ClickHouseWriter archives threat events into ClickHouse. Events are
// append-only, so each run inserts only those past the last archived position.
// A snapshot shorter than that position means the store was replaced, and
// everything is inserted again; the table deduplicates on ID.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
	insert   insertFunc
	breaker  *gobreaker.CircuitBreaker[int]

	mu       sync.Mutex
	archived int
}

// NewClickHouseWriter connects to ClickHouse and ensures the table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	w, err := newConnWriter(conn, cfg.Interval.Std())
	if err != nil {
		return nil, err
	}
	logging.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connected to ClickHouse and ensured threat_events exists")
	return w, nil
}

// newConnWriter takes ownership of conn; it is closed if the table cannot be created.
func newConnWriter(conn driver.Conn, interval time.Duration) (*ClickHouseWriter, error) {
	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	w := newWriter(nil, interval)
	w.conn = conn
	w.insert = w.insertBatch
	return w, nil
}

func newWriter(insert insertFunc, interval time.Duration) *ClickHouseWriter {
	return &ClickHouseWriter{
		interval: interval,
		insert:   insert,
		breaker: gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
			Name:        "clickhouse",
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
	}
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

// Write inserts the events recorded since the previous successful run.
func (w *ClickHouseWriter) Write(snap model.StoreSnapshot, timestamp string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	base := w.archived
	if base > len(snap.Events) {
		base = 0
	}
	pending := snap.Events[base:]
	if len(pending) == 0 {
		return nil
	}
	snapshotTime, err := time.Parse(timestampLayout, timestamp)
	if err != nil {
		snapshotTime = snap.TakenAt
	}
	rows := make([]row, len(pending))
	for i, ev := range pending {
		rows[i] = toRow(ev, snapshotTime)
	}

	n, err := w.breaker.Execute(func() (int, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.insert(ctx, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	})
	if err != nil {
		return fmt.Errorf("failed to archive %d events: %w", len(rows), err)
	}
	w.archived = base + n
	logging.Info().Int("events", n).Int("archived_total", w.archived).Msg("archived threat events to ClickHouse")
	return nil
}

func (w *ClickHouseWriter) insertBatch(ctx context.Context, rows []row) error {
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO threat_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.values()...); err != nil {
			if abortErr := batch.Abort(); abortErr != nil {
				logging.Warn().Err(abortErr).Msg("failed to abort clickhouse batch")
			}
			return fmt.Errorf("failed to append event %s to batch: %w", r.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close releases the connection.
func (w *ClickHouseWriter) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}
