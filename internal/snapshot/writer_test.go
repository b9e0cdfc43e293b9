package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetSentinel/internal/model"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() model.StoreSnapshot {
	taken := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	score := 100.0
	return model.StoreSnapshot{
		TakenAt: taken,
		Events: []model.ThreatEvent{
			{ID: "e1", Timestamp: taken.Add(-time.Minute), SrcIP: "203.0.113.45", DstIP: "10.0.0.50", DstPort: 80,
				Protocol: "TCP", Type: model.ThreatDoS, Severity: model.SeverityCritical, Confidence: 100, AbuseScore: &score},
			{ID: "e2", Timestamp: taken, SrcIP: "172.16.0.88", DstIP: "10.0.0.51", DstPort: 8080,
				Protocol: "TCP", Type: model.ThreatScan, Severity: model.SeverityMedium, Confidence: 90},
		},
		Blocked: []model.BlockedIP{
			{ID: "b1", IPAddress: "203.0.113.45", BlockedAt: taken, Reason: "Auto-blocked: DoS attack detected", ThreatCount: 1},
		},
	}
}

func TestWriterWriteAndLoad(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, time.Minute)
	assert.Equal(t, "snapshot", w.Name())
	assert.Equal(t, time.Minute, w.GetInterval())

	snap := sampleSnapshot()
	require.NoError(t, w.Write(snap, "2026-07-01_10-00-00"))

	dir := filepath.Join(root, "2026-07-01_10-00-00")
	for _, name := range []string{eventsFile, blockedFile, summaryFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, summaryFile))
	require.NoError(t, err)
	var summary SummaryData
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 2, summary.TotalEvents)
	assert.Equal(t, 1, summary.BlockedIPs)
	assert.Equal(t, map[string]int{"DoS": 1, "Scan": 1}, summary.EventsByType)

	got, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, got.TakenAt.Equal(snap.TakenAt))
	require.Len(t, got.Events, 2)
	assert.Equal(t, "e1", got.Events[0].ID)
	require.NotNil(t, got.Events[0].AbuseScore)
	assert.Equal(t, 100.0, *got.Events[0].AbuseScore)
	assert.Equal(t, snap.Blocked[0].Reason, got.Blocked[0].Reason)
}

func TestLoadLatestPicksNewestCompleteRun(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, time.Minute)

	older := sampleSnapshot()
	older.Events = older.Events[:1]
	require.NoError(t, w.Write(older, "2026-07-01_09-00-00"))
	require.NoError(t, w.Write(sampleSnapshot(), "2026-07-01_10-00-00"))
	// an interrupted run without summary
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2026-07-01_11-00-00"), 0o755))

	snap, name, err := LoadLatest(root)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-01_10-00-00", name)
	assert.Len(t, snap.Events, 2)
}

func TestLoadLatestEmpty(t *testing.T) {
	_, _, err := LoadLatest(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, _, err = LoadLatest(t.TempDir())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
