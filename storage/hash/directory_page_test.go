package hash

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaydb/hashcore/storage/page"
)

func newTestDirectory() Directory {
	return NewDirectory(make([]byte, page.Size))
}

func TestDirectoryGlobalDepthAndSize(t *testing.T) {
	d := newTestDirectory()
	d.SetGlobalDepth(2)
	require.Equal(t, uint32(2), d.GlobalDepth())
	require.Equal(t, uint32(4), d.Size())
	require.Equal(t, uint32(3), d.GetGlobalDepthMask())
}

func TestDirectoryLocalDepthRoundTrip(t *testing.T) {
	d := newTestDirectory()
	d.SetLocalDepth(5, 3)
	require.Equal(t, uint32(3), d.LocalDepth(5))
	d.IncrLocalDepth(5)
	require.Equal(t, uint32(4), d.LocalDepth(5))
	d.DecrLocalDepth(5)
	require.Equal(t, uint32(3), d.LocalDepth(5))
}

func TestDirectoryBucketPageIDRoundTrip(t *testing.T) {
	d := newTestDirectory()
	d.SetBucketPageID(7, page.ID(123))
	require.Equal(t, page.ID(123), d.BucketPageID(7))
}

func TestDirectoryGetLocalHighBit(t *testing.T) {
	d := newTestDirectory()
	d.SetLocalDepth(0, 3)
	require.Equal(t, uint32(8), d.GetLocalHighBit(0))
}

func TestDirectoryCanShrink(t *testing.T) {
	d := newTestDirectory()
	d.SetGlobalDepth(2)
	for i := uint32(0); i < 4; i++ {
		d.SetLocalDepth(i, 1)
	}
	require.True(t, d.CanShrink())

	d.SetLocalDepth(0, 2)
	require.False(t, d.CanShrink())
}

func TestDirectoryFindFirstBucket(t *testing.T) {
	d := newTestDirectory()
	d.SetGlobalDepth(2)
	d.SetBucketPageID(0, 10)
	d.SetBucketPageID(1, 20)
	d.SetBucketPageID(2, 10)
	d.SetBucketPageID(3, 20)

	require.Equal(t, uint32(0), d.FindFirstBucket(10))
	require.Equal(t, uint32(1), d.FindFirstBucket(20))
}

func TestDirectoryVerifyIntegrityCatchesLocalDepthExceedingGlobal(t *testing.T) {
	d := newTestDirectory()
	d.SetGlobalDepth(1)
	d.SetBucketPageID(0, 1)
	d.SetBucketPageID(1, 2)
	d.SetLocalDepth(0, 1)
	d.SetLocalDepth(1, 2) // violates I1: LD <= GD

	err := d.VerifyIntegrity()
	require.Error(t, err)
	var integrityErr *ErrIntegrityViolation
	require.ErrorAs(t, err, &integrityErr)
}

func TestDirectoryVerifyIntegrityCatchesPointerCountMismatch(t *testing.T) {
	d := newTestDirectory()
	d.SetGlobalDepth(2)
	// Bucket 1 should be referenced by 2^(2-1)=2 slots but is only
	// referenced once (I2 violation).
	d.SetBucketPageID(0, 1)
	d.SetLocalDepth(0, 1)
	d.SetBucketPageID(1, 2)
	d.SetLocalDepth(1, 2)
	d.SetBucketPageID(2, 2)
	d.SetLocalDepth(2, 2)
	d.SetBucketPageID(3, 2)
	d.SetLocalDepth(3, 2)

	require.Error(t, d.VerifyIntegrity())
}

func TestDirectoryVerifyIntegrityAcceptsConsistentLayout(t *testing.T) {
	d := newTestDirectory()
	d.SetGlobalDepth(2)
	d.SetBucketPageID(0, 1)
	d.SetLocalDepth(0, 1)
	d.SetBucketPageID(1, 2)
	d.SetLocalDepth(1, 2)
	d.SetBucketPageID(2, 1)
	d.SetLocalDepth(2, 1)
	d.SetBucketPageID(3, 3)
	d.SetLocalDepth(3, 2)

	require.NoError(t, d.VerifyIntegrity())
}
