// Package telemetry provides OpenTelemetry metrics for sync runs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/engagement-analysis/advert-sync/sync"

// SyncMetrics holds the OpenTelemetry instruments for target reconciliation
type SyncMetrics struct {
	mutations      metric.Int64Counter
	targetSize     metric.Int64Gauge
	targetDuration metric.Float64Histogram
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	mutations, err := meter.Int64Counter(
		"advert_sync_mutations_total",
		metric.WithDescription("Contact mutations issued against the contact service"),
		metric.WithUnit("{contact}"),
	)
	if err != nil {
		return nil, err
	}

	targetSize, err := meter.Int64Gauge(
		"advert_sync_target_uuids",
		metric.WithDescription("Participant counts per target, by state"),
		metric.WithUnit("{participant}"),
	)
	if err != nil {
		return nil, err
	}

	targetDuration, err := meter.Float64Histogram(
		"advert_sync_target_duration_seconds",
		metric.WithDescription("Duration of a target reconciliation in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		mutations:      mutations,
		targetSize:     targetSize,
		targetDuration: targetDuration,
	}, nil
}

// RecordMutation counts one contact mutation for a target
func (m *SyncMetrics) RecordMutation(ctx context.Context, target, kind string) {
	if m == nil || m.mutations == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("target", target),
		attribute.String("kind", kind),
	}

	m.mutations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTargetCounts records the desired, previously synced and pending sizes of a target
func (m *SyncMetrics) RecordTargetCounts(ctx context.Context, target string, desired, previouslySynced, toSync int) {
	if m == nil || m.targetSize == nil {
		return
	}

	for state, n := range map[string]int{
		"desired":           desired,
		"previously_synced": previouslySynced,
		"to_sync":           toSync,
	} {
		m.targetSize.Record(ctx, int64(n), metric.WithAttributes(
			attribute.String("target", target),
			attribute.String("state", state),
		))
	}
}

// RecordTargetDuration records how long a target took and the phase it ended in
func (m *SyncMetrics) RecordTargetDuration(ctx context.Context, target, phase string, duration time.Duration) {
	if m == nil || m.targetDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("target", target),
		attribute.String("phase", phase),
	}

	m.targetDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
