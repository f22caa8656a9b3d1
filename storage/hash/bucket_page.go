package hash

import (
	"encoding/binary"

	"github.com/relaydb/hashcore/storage/page"
)

const (
	keySize   = 8
	valueSize = 8
	slotSize  = keySize + valueSize

	// BucketArraySize is chosen, per spec.md §6, so the two occupancy
	// bitmaps and the slot array exactly fill one page:
	// B = 4*PAGE_SIZE / (4*sizeof(Key,Value) + 1).
	BucketArraySize = (4 * page.Size) / (4*slotSize + 1)

	bitmapBytes = (BucketArraySize + 7) / 8

	occupiedOffset = 0
	readableOffset = occupiedOffset + bitmapBytes
	arrayOffset    = readableOffset + bitmapBytes
)

func init() {
	if arrayOffset+BucketArraySize*slotSize > page.Size {
		panic("hash: bucket page layout overflows page size")
	}
}

// Bucket is a view over a page's raw bytes, interpreted as a slotted
// bucket page: two occupancy bitmaps followed by a fixed-size (key,value)
// array (spec.md §3, §4.5). It holds no latch of its own; callers are
// expected to hold the underlying page's latch for the duration of any
// call here.
type Bucket struct {
	data []byte
}

// NewBucket wraps a page's byte buffer (must be exactly page.Size bytes)
// as a bucket page view.
func NewBucket(data []byte) Bucket {
	if len(data) != page.Size {
		panic("hash: bucket page requires a full page buffer")
	}
	return Bucket{data: data}
}

func bit(i uint32) (byteIdx int, mask byte) {
	return int(i / 8), 1 << (i % 8)
}

// IsOccupied reports whether slot i has ever held a record.
func (b Bucket) IsOccupied(i uint32) bool {
	byteIdx, mask := bit(i)
	return b.data[occupiedOffset+byteIdx]&mask != 0
}

// SetOccupied marks slot i as having held a record; this bit is never
// cleared for the lifetime of the bucket (spec.md §4.5, §9).
func (b Bucket) SetOccupied(i uint32) {
	byteIdx, mask := bit(i)
	b.data[occupiedOffset+byteIdx] |= mask
}

// IsReadable reports whether slot i currently holds a live record.
func (b Bucket) IsReadable(i uint32) bool {
	byteIdx, mask := bit(i)
	return b.data[readableOffset+byteIdx]&mask != 0
}

// SetReadable marks slot i live.
func (b Bucket) SetReadable(i uint32) {
	byteIdx, mask := bit(i)
	b.data[readableOffset+byteIdx] |= mask
}

// clearReadable clears the readable bit without touching occupied,
// leaving a tombstone per spec.md §4.5.
func (b Bucket) clearReadable(i uint32) {
	byteIdx, mask := bit(i)
	b.data[readableOffset+byteIdx] &^= mask
}

func (b Bucket) slotOffset(i uint32) int {
	return arrayOffset + int(i)*slotSize
}

// KeyAt returns the key stored at slot i, regardless of occupied/readable.
func (b Bucket) KeyAt(i uint32) uint64 {
	off := b.slotOffset(i)
	return binary.BigEndian.Uint64(b.data[off : off+keySize])
}

// ValueAt returns the value stored at slot i, regardless of occupied/readable.
func (b Bucket) ValueAt(i uint32) uint64 {
	off := b.slotOffset(i) + keySize
	return binary.BigEndian.Uint64(b.data[off : off+valueSize])
}

func (b Bucket) setSlot(i uint32, key, value uint64) {
	off := b.slotOffset(i)
	binary.BigEndian.PutUint64(b.data[off:off+keySize], key)
	binary.BigEndian.PutUint64(b.data[off+keySize:off+keySize+valueSize], value)
}

// RemoveAt tombstones slot i: occupied stays set, readable is cleared.
func (b Bucket) RemoveAt(i uint32) {
	b.clearReadable(i)
}

// GetValue scans the bucket for every readable slot whose key compares
// equal to key, appending its value to result. Scanning stops at the
// first !occupied slot (spec.md §4.5, §9). Returns whether any match was
// found.
func (b Bucket) GetValue(key uint64, cmp Comparator, result *[]uint64) bool {
	found := false
	for i := uint32(0); i < BucketArraySize; i++ {
		if !b.IsOccupied(i) {
			break
		}
		if b.IsReadable(i) && cmp(key, b.KeyAt(i)) == 0 {
			*result = append(*result, b.ValueAt(i))
			found = true
		}
	}
	return found
}

// Insert places (key, value) into the first available slot: the first
// !occupied slot, or the first occupied-but-tombstoned slot if one
// appears earlier in the scan. Returns false if an identical (key, value)
// pair is already live, or if the bucket has no available slot.
func (b Bucket) Insert(key, value uint64, cmp Comparator) bool {
	available := uint32(BucketArraySize)
	for i := uint32(0); i < BucketArraySize; i++ {
		if !b.IsOccupied(i) {
			if available == BucketArraySize {
				available = i
			}
			break
		}
		if b.IsReadable(i) && cmp(key, b.KeyAt(i)) == 0 && b.ValueAt(i) == value {
			return false
		}
		if available == BucketArraySize && !b.IsReadable(i) {
			available = i
		}
	}
	if available == BucketArraySize {
		return false
	}
	b.setSlot(available, key, value)
	b.SetOccupied(available)
	b.SetReadable(available)
	return true
}

// Remove tombstones the first live slot holding (key, value). Returns
// false if no such slot exists.
func (b Bucket) Remove(key, value uint64, cmp Comparator) bool {
	for i := uint32(0); i < BucketArraySize; i++ {
		if !b.IsOccupied(i) {
			break
		}
		if b.IsReadable(i) && cmp(key, b.KeyAt(i)) == 0 && b.ValueAt(i) == value {
			b.clearReadable(i)
			return true
		}
	}
	return false
}

// IsEmpty reports whether no slot is readable.
func (b Bucket) IsEmpty() bool {
	return b.NumReadable() == 0
}

// IsFull reports whether every slot is occupied and readable.
func (b Bucket) IsFull() bool {
	for i := uint32(0); i < BucketArraySize; i++ {
		if !b.IsOccupied(i) || !b.IsReadable(i) {
			return false
		}
	}
	return true
}

// NumReadable counts the live slots.
func (b Bucket) NumReadable() int {
	n := 0
	for i := uint32(0); i < BucketArraySize; i++ {
		if b.IsReadable(i) {
			n++
		}
	}
	return n
}
