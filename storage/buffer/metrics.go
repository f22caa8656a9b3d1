package buffer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/relaydb/hashcore/pkg/telemetry"
)

// registerPinnedGauge installs an async gauge reporting Σ pin_count for
// one pool instance (spec.md §4.10, supporting property P6). Errors from
// instrument or callback registration are swallowed the same way the
// rest of this package treats telemetry as best-effort.
func registerPinnedGauge(t *telemetry.Telemetry, instanceIdx int, pinnedCount func() int) {
	if t == nil {
		t = telemetry.Noop()
	}
	gauge, err := t.Meter.Int64ObservableGauge("hashcore_pool_pinned_pages")
	if err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("pool_instance", instanceIdx))
	_, _ = t.Meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(pinnedCount()), attrs)
		return nil
	}, gauge)
}

// instrumentSet is the set of OpenTelemetry instruments one buffer pool
// instance reports through. Built once per instance; a nil telemetry
// handle yields no-op instruments via the noop meter, so callers never
// need to nil-check before recording.
type instrumentSet struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
	flushes   metric.Int64Counter
}

func newInstrumentSet(t *telemetry.Telemetry) instrumentSet {
	if t == nil {
		t = telemetry.Noop()
	}
	meter := t.Meter

	hits, _ := meter.Int64Counter("hashcore_pool_page_hits_total")
	misses, _ := meter.Int64Counter("hashcore_pool_page_misses_total")
	evictions, _ := meter.Int64Counter("hashcore_pool_page_evictions_total")
	flushes, _ := meter.Int64Counter("hashcore_pool_flushes_total")

	return instrumentSet{hits: hits, misses: misses, evictions: evictions, flushes: flushes}
}

func (s instrumentSet) addHit(attrs ...metric.AddOption) {
	if s.hits != nil {
		s.hits.Add(context.Background(), 1, attrs...)
	}
}

func (s instrumentSet) addMiss(attrs ...metric.AddOption) {
	if s.misses != nil {
		s.misses.Add(context.Background(), 1, attrs...)
	}
}

func (s instrumentSet) addEviction(attrs ...metric.AddOption) {
	if s.evictions != nil {
		s.evictions.Add(context.Background(), 1, attrs...)
	}
}

func (s instrumentSet) addFlush(attrs ...metric.AddOption) {
	if s.flushes != nil {
		s.flushes.Add(context.Background(), 1, attrs...)
	}
}
