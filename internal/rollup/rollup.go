// Package rollup derives dashboard metrics from the store on demand.
package rollup

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"Go2NetSentinel/internal/model"
)

const (
	activityWindow  = 24 * time.Hour
	activityBuckets = 20
	hourLabelLayout = "2006-01-02T15"
)

// SnapshotSource is the part of the store the aggregator reads.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (model.StoreSnapshot, error)
}

// Aggregator recomputes Metrics from a fresh snapshot on every call.
type Aggregator struct {
	source SnapshotSource
	now    func() time.Time
}

// NewAggregator creates an Aggregator. A nil now uses time.Now.
func NewAggregator(source SnapshotSource, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{source: source, now: now}
}

// Metrics returns the current rollup.
func (a *Aggregator) Metrics(ctx context.Context) (model.Metrics, error) {
	snap, err := a.source.Snapshot(ctx)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("failed to snapshot store for metrics: %w", err)
	}
	return Compute(snap, a.now()), nil
}

// Compute builds the rollup. Totals, per-type counts and the average confidence cover
// every event; only RecentActivity is limited to the trailing 24 hours.
func Compute(snap model.StoreSnapshot, now time.Time) model.Metrics {
	m := model.Metrics{
		TotalThreats:   len(snap.Events),
		BlockedIPs:     len(snap.Blocked),
		ThreatsByType:  make(map[model.ThreatType]int),
		RecentActivity: []model.ActivityBucket{},
	}
	if len(snap.Events) == 0 {
		return m
	}

	cutoff := now.Add(-activityWindow)
	hourly := make(map[string]int)
	sum := 0
	for _, ev := range snap.Events {
		sum += ev.Confidence
		m.ThreatsByType[ev.Type]++
		if ev.Timestamp.After(cutoff) {
			hourly[ev.Timestamp.UTC().Format(hourLabelLayout)]++
		}
	}
	m.AvgConfidence = roundTenth(float64(sum) / float64(len(snap.Events)))

	labels := make([]string, 0, len(hourly))
	for label := range hourly {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	if len(labels) > activityBuckets {
		labels = labels[len(labels)-activityBuckets:]
	}
	for _, label := range labels {
		m.RecentActivity = append(m.RecentActivity, model.ActivityBucket{Time: label, Count: hourly[label]})
	}
	return m
}

func roundTenth(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}
