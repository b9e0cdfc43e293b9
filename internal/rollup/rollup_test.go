package rollup

import (
	"context"
	"errors"
	"testing"
	"time"

	"Go2NetSentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 2, 15, 30, 0, 0, time.UTC)

func ev(typ model.ThreatType, confidence int, ts time.Time) model.ThreatEvent {
	return model.ThreatEvent{Type: typ, Confidence: confidence, Timestamp: ts}
}

func TestComputeEmpty(t *testing.T) {
	m := Compute(model.StoreSnapshot{}, now)
	assert.Zero(t, m.TotalThreats)
	assert.Zero(t, m.BlockedIPs)
	assert.Equal(t, 0.0, m.AvgConfidence)
	assert.Empty(t, m.ThreatsByType)
	assert.NotNil(t, m.RecentActivity)
	assert.Empty(t, m.RecentActivity)
}

func TestComputeTotalsCoverAllHistory(t *testing.T) {
	snap := model.StoreSnapshot{
		Events: []model.ThreatEvent{
			ev(model.ThreatDoS, 95, now.Add(-72*time.Hour)),
			ev(model.ThreatScan, 90, now.Add(-10*time.Minute)),
			ev(model.ThreatScan, 70, now.Add(-20*time.Minute)),
		},
		Blocked: []model.BlockedIP{{IPAddress: "1.2.3.4"}},
	}
	m := Compute(snap, now)

	assert.Equal(t, 3, m.TotalThreats)
	assert.Equal(t, 1, m.BlockedIPs)
	assert.Equal(t, 85.0, m.AvgConfidence)
	assert.Equal(t, map[model.ThreatType]int{model.ThreatDoS: 1, model.ThreatScan: 2}, m.ThreatsByType)
	require.Len(t, m.RecentActivity, 1, "the 72h-old event is outside the activity window")
	assert.Equal(t, model.ActivityBucket{Time: "2026-06-02T15", Count: 2}, m.RecentActivity[0])
}

func TestComputeRoundsAverageToOneDecimal(t *testing.T) {
	snap := model.StoreSnapshot{Events: []model.ThreatEvent{
		ev(model.ThreatScan, 90, now), ev(model.ThreatScan, 91, now), ev(model.ThreatScan, 91, now),
	}}
	assert.Equal(t, 90.7, Compute(snap, now).AvgConfidence)
}

func TestComputeBucketsByUTCHour(t *testing.T) {
	local := time.FixedZone("UTC+2", 2*3600)
	snap := model.StoreSnapshot{Events: []model.ThreatEvent{
		ev(model.ThreatScan, 90, now.Add(-2*time.Hour).In(local)),
		ev(model.ThreatScan, 90, now.Add(-3*time.Hour)),
		ev(model.ThreatScan, 90, now.Add(-2*time.Hour)),
	}}
	m := Compute(snap, now)
	assert.Equal(t, []model.ActivityBucket{
		{Time: "2026-06-02T12", Count: 1},
		{Time: "2026-06-02T13", Count: 2},
	}, m.RecentActivity)
}

func TestComputeKeepsLatestTwentyBuckets(t *testing.T) {
	var events []model.ThreatEvent
	for h := 0; h < 23; h++ {
		events = append(events, ev(model.ThreatExploit, 60, now.Add(-time.Duration(h)*time.Hour)))
	}
	m := Compute(model.StoreSnapshot{Events: events}, now)

	require.Len(t, m.RecentActivity, 20)
	assert.Equal(t, "2026-06-01T20", m.RecentActivity[0].Time)
	assert.Equal(t, "2026-06-02T15", m.RecentActivity[19].Time)
	for i := 1; i < len(m.RecentActivity); i++ {
		assert.Less(t, m.RecentActivity[i-1].Time, m.RecentActivity[i].Time)
	}
}

func TestComputeWindowBoundary(t *testing.T) {
	snap := model.StoreSnapshot{Events: []model.ThreatEvent{
		ev(model.ThreatScan, 90, now.Add(-24*time.Hour)),
		ev(model.ThreatScan, 90, now.Add(-24*time.Hour+time.Second)),
	}}
	m := Compute(snap, now)
	require.Len(t, m.RecentActivity, 1)
	assert.Equal(t, 1, m.RecentActivity[0].Count)
	assert.Equal(t, 2, m.TotalThreats)
}

type fakeSource struct {
	snap model.StoreSnapshot
	err  error
}

func (f fakeSource) Snapshot(context.Context) (model.StoreSnapshot, error) {
	return f.snap, f.err
}

func TestAggregatorMetrics(t *testing.T) {
	a := NewAggregator(fakeSource{snap: model.StoreSnapshot{Events: []model.ThreatEvent{ev(model.ThreatDoS, 95, now)}}}, func() time.Time { return now })
	m, err := a.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.TotalThreats)
	assert.Equal(t, 95.0, m.AvgConfidence)

	boom := errors.New("boom")
	_, err = NewAggregator(fakeSource{err: boom}, nil).Metrics(context.Background())
	assert.ErrorIs(t, err, boom)
}
