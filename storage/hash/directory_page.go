package hash

import (
	"encoding/binary"
	"fmt"

	"github.com/relaydb/hashcore/storage/page"
)

const (
	// DirectoryArraySize bounds global depth at 9 (2^9 = 512), per
	// spec.md §3.
	DirectoryArraySize = 512
	// MaxGlobalDepth is the largest global depth the directory can hold.
	MaxGlobalDepth = 9

	dirPageIDOffset     = 0
	dirLSNOffset        = 4
	dirGlobalDepthOff   = 8
	dirLocalDepthsOff   = 12
	dirBucketPageIDsOff = dirLocalDepthsOff + DirectoryArraySize
)

func init() {
	need := dirBucketPageIDsOff + DirectoryArraySize*4
	if need > page.Size {
		panic("hash: directory page layout overflows page size")
	}
}

// ErrIntegrityViolation is raised by VerifyIntegrity on a broken directory
// invariant (spec.md §3's I1–I3). It is not expected to ever fire outside
// of tests exercising a deliberately corrupted directory.
type ErrIntegrityViolation struct {
	Reason string
}

func (e *ErrIntegrityViolation) Error() string {
	return fmt.Sprintf("hash directory: integrity violation: %s", e.Reason)
}

// Directory is a view over a page's raw bytes, interpreted as the single
// directory page of an extendible hash table (spec.md §3, §4.6).
type Directory struct {
	data []byte
}

// NewDirectory wraps a page's byte buffer (must be exactly page.Size
// bytes) as a directory page view.
func NewDirectory(data []byte) Directory {
	if len(data) != page.Size {
		panic("hash: directory page requires a full page buffer")
	}
	return Directory{data: data}
}

// PageID returns the directory's own page id, as stored in its header.
func (d Directory) PageID() page.ID {
	return page.ID(binary.BigEndian.Uint32(d.data[dirPageIDOffset : dirPageIDOffset+4]))
}

// SetPageID records the directory's own page id.
func (d Directory) SetPageID(id page.ID) {
	binary.BigEndian.PutUint32(d.data[dirPageIDOffset:dirPageIDOffset+4], uint32(id))
}

// LSN returns the reserved log sequence number field; the core never
// interprets it.
func (d Directory) LSN() uint32 {
	return binary.BigEndian.Uint32(d.data[dirLSNOffset : dirLSNOffset+4])
}

// SetLSN overwrites the reserved LSN field.
func (d Directory) SetLSN(lsn uint32) {
	binary.BigEndian.PutUint32(d.data[dirLSNOffset:dirLSNOffset+4], lsn)
}

// GlobalDepth returns the current global depth.
func (d Directory) GlobalDepth() uint32 {
	return binary.BigEndian.Uint32(d.data[dirGlobalDepthOff : dirGlobalDepthOff+4])
}

// SetGlobalDepth overwrites the global depth directly.
func (d Directory) SetGlobalDepth(gd uint32) {
	binary.BigEndian.PutUint32(d.data[dirGlobalDepthOff:dirGlobalDepthOff+4], gd)
}

// IncrGlobalDepth grows the directory by one bit.
func (d Directory) IncrGlobalDepth() { d.SetGlobalDepth(d.GlobalDepth() + 1) }

// DecrGlobalDepth shrinks the directory by one bit.
func (d Directory) DecrGlobalDepth() { d.SetGlobalDepth(d.GlobalDepth() - 1) }

// GetGlobalDepthMask returns (1<<GD)-1.
func (d Directory) GetGlobalDepthMask() uint32 {
	return (uint32(1) << d.GlobalDepth()) - 1
}

// Size returns 1<<GD, the number of live directory slots.
func (d Directory) Size() uint32 {
	return uint32(1) << d.GlobalDepth()
}

// LocalDepth returns the local depth of the bucket at slot i.
func (d Directory) LocalDepth(i uint32) uint32 {
	return uint32(d.data[dirLocalDepthsOff+int(i)])
}

// SetLocalDepth sets the local depth of the bucket at slot i.
func (d Directory) SetLocalDepth(i uint32, ld uint32) {
	d.data[dirLocalDepthsOff+int(i)] = byte(ld)
}

// IncrLocalDepth increments slot i's local depth.
func (d Directory) IncrLocalDepth(i uint32) { d.SetLocalDepth(i, d.LocalDepth(i)+1) }

// DecrLocalDepth decrements slot i's local depth.
func (d Directory) DecrLocalDepth(i uint32) { d.SetLocalDepth(i, d.LocalDepth(i)-1) }

// BucketPageID returns the page id the directory slot i points at.
func (d Directory) BucketPageID(i uint32) page.ID {
	off := dirBucketPageIDsOff + int(i)*4
	return page.ID(binary.BigEndian.Uint32(d.data[off : off+4]))
}

// SetBucketPageID points directory slot i at pid.
func (d Directory) SetBucketPageID(i uint32, pid page.ID) {
	off := dirBucketPageIDsOff + int(i)*4
	binary.BigEndian.PutUint32(d.data[off:off+4], uint32(pid))
}

// GetLocalHighBit returns the bit that distinguishes slot i from its split
// image at i's current local depth: 1 << LD(i).
func (d Directory) GetLocalHighBit(i uint32) uint32 {
	return uint32(1) << d.LocalDepth(i)
}

// CanShrink reports whether every live slot's local depth is strictly
// less than the global depth.
func (d Directory) CanShrink() bool {
	size := d.Size()
	for i := uint32(0); i < size; i++ {
		if d.LocalDepth(i) >= d.GlobalDepth() {
			return false
		}
	}
	return true
}

// FindFirstBucket returns the smallest directory slot that points at pid.
// Callers only invoke this with a pid known to be referenced by the
// directory.
func (d Directory) FindFirstBucket(pid page.ID) uint32 {
	size := d.Size()
	for i := uint32(0); i < size; i++ {
		if d.BucketPageID(i) == pid {
			return i
		}
	}
	return size
}

// VerifyIntegrity checks invariants I1–I3 from spec.md §3 and returns an
// *ErrIntegrityViolation describing the first one it finds broken. It is
// not on any hot path; callers (tests, admin tooling) decide what to do
// with a non-nil result.
func (d Directory) VerifyIntegrity() error {
	gd := d.GlobalDepth()
	size := d.Size()

	counts := make(map[page.ID]uint32, size)
	lds := make(map[page.ID]uint32, size)

	for i := uint32(0); i < size; i++ {
		ld := d.LocalDepth(i)
		if ld > gd {
			return &ErrIntegrityViolation{Reason: fmt.Sprintf("slot %d has local depth %d > global depth %d", i, ld, gd)}
		}
		pid := d.BucketPageID(i)
		if base := i & ((uint32(1) << ld) - 1); d.BucketPageID(base) != pid {
			return &ErrIntegrityViolation{Reason: fmt.Sprintf("slot %d points at bucket %d but slot %d (same low %d bits) points at bucket %d", i, pid, base, ld, d.BucketPageID(base))}
		}
		counts[pid]++
		if prev, ok := lds[pid]; ok && prev != ld {
			return &ErrIntegrityViolation{Reason: fmt.Sprintf("bucket %d has inconsistent local depth: %d vs %d", pid, prev, ld)}
		}
		lds[pid] = ld
	}

	for pid, count := range counts {
		ld := lds[pid]
		want := uint32(1) << (gd - ld)
		if count != want {
			return &ErrIntegrityViolation{Reason: fmt.Sprintf("bucket %d is referenced %d times, want %d (gd=%d, ld=%d)", pid, count, want, gd, ld)}
		}
	}
	return nil
}
