package hash

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relaydb/hashcore/pkg/telemetry"
	"github.com/relaydb/hashcore/storage/buffer"
	"github.com/relaydb/hashcore/storage/disk"
)

func newTestTable(t *testing.T, poolSize int) *Table {
	t.Helper()
	dm, err := disk.Open(filepath.Join(t.TempDir(), "test.db"), true, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	pool := buffer.NewInstance(poolSize, 0, 1, dm, zaptest.NewLogger(t), telemetry.Noop())
	table, err := New(pool, DefaultComparator, DefaultHash, zaptest.NewLogger(t), telemetry.Noop())
	require.NoError(t, err)
	return table
}

func TestTableInsertAndGetValue(t *testing.T) {
	table := newTestTable(t, 64)

	require.True(t, table.Insert(1, 100))
	require.True(t, table.Insert(1, 200))

	require.ElementsMatch(t, []uint64{100, 200}, table.GetValue(1))
}

func TestTableGetValueOnMissingKey(t *testing.T) {
	table := newTestTable(t, 64)
	require.Empty(t, table.GetValue(42))
}

func TestTableInsertRejectsExactDuplicate(t *testing.T) {
	table := newTestTable(t, 64)
	require.True(t, table.Insert(1, 100))
	require.False(t, table.Insert(1, 100))
}

func TestTableRemove(t *testing.T) {
	table := newTestTable(t, 64)
	require.True(t, table.Insert(1, 100))
	require.True(t, table.Remove(1, 100))
	require.False(t, table.Remove(1, 100))
	require.Empty(t, table.GetValue(1))
}

func TestTableSplitsOnFullBucket(t *testing.T) {
	table := newTestTable(t, 64)

	for i := uint64(0); i < BucketArraySize+1; i++ {
		require.True(t, table.Insert(i, i*10), "insert %d should succeed", i)
	}
	require.Greater(t, table.GetGlobalDepth(), uint32(0))
	require.NoError(t, table.VerifyIntegrity())

	for i := uint64(0); i < BucketArraySize+1; i++ {
		values := table.GetValue(i)
		require.Equal(t, []uint64{i * 10}, values, "key %d", i)
	}
}

func TestTableManySplitsPreserveIntegrity(t *testing.T) {
	table := newTestTable(t, 256)

	const n = 4000
	for i := uint64(0); i < n; i++ {
		require.True(t, table.Insert(i, i))
	}
	require.NoError(t, table.VerifyIntegrity())
	for i := uint64(0); i < n; i++ {
		require.Equal(t, []uint64{i}, table.GetValue(i))
	}
}

func TestTableMergeAfterSplitRoundTrip(t *testing.T) {
	table := newTestTable(t, 64)

	keys := make([]uint64, 0, BucketArraySize+1)
	for i := uint64(0); i < BucketArraySize+1; i++ {
		require.True(t, table.Insert(i, i))
		keys = append(keys, i)
	}
	gdAfterSplit := table.GetGlobalDepth()
	require.Greater(t, gdAfterSplit, uint32(0))

	for _, k := range keys {
		require.True(t, table.Remove(k, k))
	}
	require.NoError(t, table.VerifyIntegrity())
	require.Equal(t, uint32(0), table.GetGlobalDepth())

	for _, k := range keys {
		require.Empty(t, table.GetValue(k))
	}
}

func TestTableRemoveNonexistentValueLeavesOthersIntact(t *testing.T) {
	table := newTestTable(t, 64)
	require.True(t, table.Insert(1, 100))
	require.False(t, table.Remove(1, 999))
	require.Equal(t, []uint64{100}, table.GetValue(1))
}

func TestTableConcurrentReadersDoNotBlockEachOther(t *testing.T) {
	table := newTestTable(t, 64)
	for i := uint64(0); i < 50; i++ {
		require.True(t, table.Insert(i, i))
	}

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func() {
			for i := uint64(0); i < 50; i++ {
				table.GetValue(i)
			}
			done <- struct{}{}
		}()
	}
	for g := 0; g < 8; g++ {
		<-done
	}
}
