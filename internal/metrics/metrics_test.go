package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counts struct{ events, blocked int }

func (c counts) Counts() (int, int) { return c.events, c.blocked }

func TestRegisterStoreGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterStoreGauges(reg, counts{events: 7, blocked: 2}))

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		got[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 7.0, got["sentinel_store_events"])
	assert.Equal(t, 2.0, got["sentinel_store_blocked_addresses"])

	assert.Error(t, RegisterStoreGauges(reg, counts{}), "duplicate registration is rejected")
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(AutoBlocks)
	AutoBlocks.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(AutoBlocks))
}
