package hash

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/relaydb/hashcore/pkg/telemetry"
)

type instrumentSet struct {
	splits           metric.Int64Counter
	merges           metric.Int64Counter
	directoryGrowths metric.Int64Counter
	directoryShrinks metric.Int64Counter
}

func newInstrumentSet(t *telemetry.Telemetry) instrumentSet {
	if t == nil {
		t = telemetry.Noop()
	}
	meter := t.Meter

	splits, _ := meter.Int64Counter("hashcore_hash_splits_total")
	merges, _ := meter.Int64Counter("hashcore_hash_merges_total")
	growths, _ := meter.Int64Counter("hashcore_hash_directory_growths_total")
	shrinks, _ := meter.Int64Counter("hashcore_hash_directory_shrinks_total")

	return instrumentSet{splits: splits, merges: merges, directoryGrowths: growths, directoryShrinks: shrinks}
}

func (s instrumentSet) addSplit() {
	if s.splits != nil {
		s.splits.Add(context.Background(), 1)
	}
}

func (s instrumentSet) addMerge() {
	if s.merges != nil {
		s.merges.Add(context.Background(), 1)
	}
}

func (s instrumentSet) addDirectoryGrowth() {
	if s.directoryGrowths != nil {
		s.directoryGrowths.Add(context.Background(), 1)
	}
}

func (s instrumentSet) addDirectoryShrink() {
	if s.directoryShrinks != nil {
		s.directoryShrinks.Add(context.Background(), 1)
	}
}
