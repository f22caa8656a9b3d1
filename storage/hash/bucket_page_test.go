package hash

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaydb/hashcore/storage/page"
)

func newTestBucket() Bucket {
	return NewBucket(make([]byte, page.Size))
}

func TestBucketInsertAndGetValue(t *testing.T) {
	b := newTestBucket()
	require.True(t, b.Insert(1, 100, DefaultComparator))
	require.True(t, b.Insert(1, 200, DefaultComparator))

	var result []uint64
	found := b.GetValue(1, DefaultComparator, &result)
	require.True(t, found)
	require.ElementsMatch(t, []uint64{100, 200}, result)
}

func TestBucketInsertRejectsExactDuplicate(t *testing.T) {
	b := newTestBucket()
	require.True(t, b.Insert(1, 100, DefaultComparator))
	require.False(t, b.Insert(1, 100, DefaultComparator))
}

func TestBucketRemoveTombstonesSlot(t *testing.T) {
	b := newTestBucket()
	require.True(t, b.Insert(1, 100, DefaultComparator))
	require.True(t, b.Remove(1, 100, DefaultComparator))
	require.False(t, b.Remove(1, 100, DefaultComparator))

	var result []uint64
	found := b.GetValue(1, DefaultComparator, &result)
	require.False(t, found)
	require.Empty(t, result)
}

func TestBucketRemoveReusesTombstonedSlot(t *testing.T) {
	b := newTestBucket()
	require.True(t, b.Insert(1, 100, DefaultComparator))
	require.True(t, b.Remove(1, 100, DefaultComparator))
	require.True(t, b.Insert(2, 200, DefaultComparator))

	var result []uint64
	b.GetValue(2, DefaultComparator, &result)
	require.Equal(t, []uint64{200}, result)
	require.Equal(t, 1, b.NumReadable())
	require.Equal(t, uint64(2), b.KeyAt(0))
	require.False(t, b.IsOccupied(1))
}

func TestBucketIsFullAndIsEmpty(t *testing.T) {
	b := newTestBucket()
	require.True(t, b.IsEmpty())
	require.False(t, b.IsFull())

	for i := uint64(0); i < BucketArraySize; i++ {
		require.True(t, b.Insert(i, i, DefaultComparator))
	}
	require.True(t, b.IsFull())
	require.False(t, b.IsEmpty())
	require.False(t, b.Insert(uint64(BucketArraySize), 0, DefaultComparator))
}

func TestBucketGetValueStopsAtFirstUnoccupied(t *testing.T) {
	b := newTestBucket()
	require.True(t, b.Insert(1, 100, DefaultComparator))

	var result []uint64
	found := b.GetValue(1, DefaultComparator, &result)
	require.True(t, found)
	require.Equal(t, []uint64{100}, result)

	// A live record placed after the unoccupied slot 1 is never reached.
	b.setSlot(2, 1, 300)
	b.SetOccupied(2)
	b.SetReadable(2)
	result = nil
	require.True(t, b.GetValue(1, DefaultComparator, &result))
	require.Equal(t, []uint64{100}, result)
}

func TestBucketNumReadableCountsOnlyLiveSlots(t *testing.T) {
	b := newTestBucket()
	b.Insert(1, 1, DefaultComparator)
	b.Insert(2, 2, DefaultComparator)
	b.Insert(3, 3, DefaultComparator)
	b.Remove(2, 2, DefaultComparator)

	require.Equal(t, 2, b.NumReadable())
}
