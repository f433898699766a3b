package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newManualMetrics(t *testing.T) (*SyncMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics, err := NewSyncMetrics(mp)
	require.NoError(t, err)
	require.NotNil(t, metrics)
	return metrics, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != SyncMetricsMeterName {
			continue
		}
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestNewSyncMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewSyncMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("creates metrics with SDK provider", func(t *testing.T) {
		t.Parallel()

		metrics, _ := newManualMetrics(t)
		assert.NotNil(t, metrics.mutations)
		assert.NotNil(t, metrics.targetSize)
		assert.NotNil(t, metrics.targetDuration)
	})
}

func TestSyncMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var metrics *SyncMetrics
	ctx := context.Background()

	// Should not panic
	metrics.RecordMutation(ctx, "opt_out", "field")
	metrics.RecordTargetCounts(ctx, "opt_out", 1, 2, 3)
	metrics.RecordTargetDuration(ctx, "opt_out", "done", time.Second)
}

func TestSyncMetrics_RecordMutation(t *testing.T) {
	t.Parallel()

	metrics, reader := newManualMetrics(t)
	ctx := context.Background()

	metrics.RecordMutation(ctx, "consent_withdrawn", "field")
	metrics.RecordMutation(ctx, "consent_withdrawn", "field")
	metrics.RecordMutation(ctx, "weekly_advert", "group")

	sum, ok := collect(t, reader, "advert_sync_mutations_total").(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum")
	require.Len(t, sum.DataPoints, 2)

	totals := map[string]int64{}
	for _, dp := range sum.DataPoints {
		target, _ := dp.Attributes.Value(attribute.Key("target"))
		totals[target.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"consent_withdrawn": 2, "weekly_advert": 1}, totals)
}

func TestSyncMetrics_RecordTargetCounts(t *testing.T) {
	t.Parallel()

	metrics, reader := newManualMetrics(t)

	metrics.RecordTargetCounts(context.Background(), "weekly_advert", 10, 7, 3)

	gauge, ok := collect(t, reader, "advert_sync_target_uuids").(metricdata.Gauge[int64])
	require.True(t, ok, "expected int64 gauge")

	byState := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		state, _ := dp.Attributes.Value(attribute.Key("state"))
		byState[state.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"desired": 10, "previously_synced": 7, "to_sync": 3}, byState)
}

func TestSyncMetrics_RecordTargetDuration(t *testing.T) {
	t.Parallel()

	metrics, reader := newManualMetrics(t)

	metrics.RecordTargetDuration(context.Background(), "opt_out", "done", 1500*time.Millisecond)

	hist, ok := collect(t, reader, "advert_sync_target_duration_seconds").(metricdata.Histogram[float64])
	require.True(t, ok, "expected histogram data type")
	require.Len(t, hist.DataPoints, 1)
	assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 0.001)

	phase, _ := hist.DataPoints[0].Attributes.Value(attribute.Key("phase"))
	assert.Equal(t, "done", phase.AsString())
}
