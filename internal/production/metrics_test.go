package production

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/hsmx"
)

func TestMetricsPublisherCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewMetricsPublisher(reg)
	require.NoError(t, err)

	ctx := context.Background()
	for _, kind := range []hsmx.RecordKind{
		hsmx.RecordHandled,
		hsmx.RecordHandled,
		hsmx.RecordBubbled,
		hsmx.RecordDropped,
		hsmx.RecordTransition,
		hsmx.RecordTimerScheduled,
		hsmx.RecordTimerFired,
		hsmx.RecordTimerCancelled,
		hsmx.RecordPanic,
	} {
		require.NoError(t, p.Publish(ctx, hsmx.Record{Engine: "dev", Kind: kind}))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(p.events.WithLabelValues("dev", "handled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.events.WithLabelValues("dev", "bubbled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.events.WithLabelValues("dev", "dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.transitions.WithLabelValues("dev")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.timers.WithLabelValues("dev", "scheduled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.timers.WithLabelValues("dev", "fired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.timers.WithLabelValues("dev", "cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.panics.WithLabelValues("dev")))
	assert.NoError(t, p.Close())
}

func TestMetricsPublisherDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetricsPublisher(reg)
	require.NoError(t, err)

	_, err = NewMetricsPublisher(reg)
	assert.Error(t, err)
}

func TestMetricsPublisherGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewMetricsPublisher(reg)
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), hsmx.Record{Engine: "a", Kind: hsmx.RecordTransition}))

	n, err := testutil.GatherAndCount(reg, "hsmx_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
