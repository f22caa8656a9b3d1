package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUReplacerVictimIsLeastRecentlyUnpinned(t *testing.T) {
	r := newLRUReplacer(8)

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	victim, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, 1, victim)

	victim, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, 2, victim)
}

func TestLRUReplacerPinRemovesFromVictimPool(t *testing.T) {
	r := newLRUReplacer(8)
	r.Unpin(1)
	r.Unpin(2)

	r.Pin(1)

	victim, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, 2, victim)

	_, ok = r.Victim()
	require.False(t, ok)
}

func TestLRUReplacerUnpinIsIdempotent(t *testing.T) {
	r := newLRUReplacer(8)
	r.Unpin(1)
	r.Unpin(1)
	require.Equal(t, 1, r.Size())
}

func TestLRUReplacerPinIsIdempotent(t *testing.T) {
	r := newLRUReplacer(8)
	r.Pin(1)
	require.Equal(t, 0, r.Size())
}

func TestLRUReplacerVictimOnEmptyReturnsFalse(t *testing.T) {
	r := newLRUReplacer(4)
	_, ok := r.Victim()
	require.False(t, ok)
}
