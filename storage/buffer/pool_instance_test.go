package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relaydb/hashcore/pkg/telemetry"
	"github.com/relaydb/hashcore/storage/disk"
	"github.com/relaydb/hashcore/storage/page"
)

func newTestInstance(t *testing.T, poolSize int) *Instance {
	t.Helper()
	dm, err := disk.Open(filepath.Join(t.TempDir(), "test.db"), true, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return NewInstance(poolSize, 0, 1, dm, zaptest.NewLogger(t), telemetry.Noop())
}

func TestInstanceNewPageIsPinnedAndClean(t *testing.T) {
	bp := newTestInstance(t, 4)

	id, pg, ok := bp.NewPage()
	require.True(t, ok)
	require.NotEqual(t, page.InvalidID, id)
	require.Equal(t, int32(1), pg.PinCount())
	require.False(t, pg.IsDirty())
}

func TestInstanceFetchIncrementsPinCount(t *testing.T) {
	bp := newTestInstance(t, 4)
	id, _, ok := bp.NewPage()
	require.True(t, ok)
	require.True(t, bp.UnpinPage(id, false))

	pg, ok := bp.FetchPage(id)
	require.True(t, ok)
	require.Equal(t, int32(1), pg.PinCount())
}

func TestInstanceEvictsLRUWhenFull(t *testing.T) {
	bp := newTestInstance(t, 2)

	id1, _, ok := bp.NewPage()
	require.True(t, ok)
	id2, _, ok := bp.NewPage()
	require.True(t, ok)

	require.True(t, bp.UnpinPage(id1, false))
	require.True(t, bp.UnpinPage(id2, false))

	// id1 was unpinned first, so it's the LRU victim for the next miss.
	id3, _, ok := bp.NewPage()
	require.True(t, ok)
	require.NotEqual(t, id1, id3)
	require.NotEqual(t, id2, id3)

	_, stillResident := bp.FetchPage(id2)
	require.True(t, stillResident)
	bp.UnpinPage(id2, false)
}

func TestInstanceNewPageFailsWhenFullyPinned(t *testing.T) {
	bp := newTestInstance(t, 2)

	_, _, ok := bp.NewPage()
	require.True(t, ok)
	_, _, ok = bp.NewPage()
	require.True(t, ok)

	_, _, ok = bp.NewPage()
	require.False(t, ok)
}

func TestInstanceUnpinOnAlreadyZeroPinCountFails(t *testing.T) {
	bp := newTestInstance(t, 2)
	id, _, ok := bp.NewPage()
	require.True(t, ok)

	require.True(t, bp.UnpinPage(id, false))
	require.False(t, bp.UnpinPage(id, false))
}

func TestInstanceFlushPageClearsDirtyBit(t *testing.T) {
	bp := newTestInstance(t, 2)
	id, pg, ok := bp.NewPage()
	require.True(t, ok)
	pg.Data()[0] = 0xAB
	pg.SetDirty(true)

	require.True(t, bp.FlushPage(id))
	require.False(t, pg.IsDirty())
}

func TestInstanceDeletePageFailsWhilePinned(t *testing.T) {
	bp := newTestInstance(t, 2)
	id, _, ok := bp.NewPage()
	require.True(t, ok)

	require.False(t, bp.DeletePage(id))
	require.True(t, bp.UnpinPage(id, false))
	require.True(t, bp.DeletePage(id))
}

func TestInstancePageIDsAreStriped(t *testing.T) {
	dm, err := disk.Open(filepath.Join(t.TempDir(), "test.db"), true, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	bp := NewInstance(4, 2, 4, dm, zaptest.NewLogger(t), telemetry.Noop())
	id1, _, ok := bp.NewPage()
	require.True(t, ok)
	id2, _, ok := bp.NewPage()
	require.True(t, ok)

	require.Equal(t, int64(2), int64(id1)%4)
	require.Equal(t, int64(2), int64(id2)%4)
	require.NotEqual(t, id1, id2)
}

func TestInstancePinnedAndEvictableCounts(t *testing.T) {
	bp := newTestInstance(t, 4)

	require.Equal(t, 4, bp.EvictableCount())
	require.Equal(t, 0, bp.PinnedCount())

	id, _, ok := bp.NewPage()
	require.True(t, ok)
	require.Equal(t, 1, bp.PinnedCount())
	require.Equal(t, 3, bp.EvictableCount())

	bp.UnpinPage(id, false)
	require.Equal(t, 0, bp.PinnedCount())
	require.Equal(t, 4, bp.EvictableCount())
}
