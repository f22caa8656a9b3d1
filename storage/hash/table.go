// Package hash implements the disk-backed extendible hash index of
// spec.md §4.7: a directory page and many bucket pages, all mediated by a
// buffer pool, whose split and merge protocols preserve the
// extendible-hashing invariants (spec.md §3's I1–I3) while coordinating
// page-level latches with one table-level latch.
package hash

import (
	"sync"

	"go.uber.org/zap"

	"github.com/relaydb/hashcore/pkg/telemetry"
	"github.com/relaydb/hashcore/storage/page"
)

// emptySlotPageID marks a directory slot that was zeroed by a directory
// shrink (spec.md §4.7.5). Page id 0 is never handed out to a bucket in
// this module (the disk manager reserves it for its file header), so it
// is an unambiguous sentinel for "no bucket" distinct from a real id.
const emptySlotPageID = page.ID(0)

// Pool is the subset of buffer.Instance / buffer.ParallelPool the index
// needs: fetch-by-id, allocate, and unpin. Declared here rather than
// imported from storage/buffer so the two packages don't need to know
// about each other's concrete types.
type Pool interface {
	NewPage() (page.ID, *page.Page, bool)
	FetchPage(id page.ID) (*page.Page, bool)
	UnpinPage(id page.ID, markDirty bool) bool
}

// Table is a disk-backed extendible hash table (spec.md §4.7). Its zero
// value is not usable; construct one with New.
type Table struct {
	tableLatch sync.RWMutex

	pool   Pool
	dirID  page.ID
	cmp    Comparator
	hashFn HashFunc

	log     *zap.Logger
	metrics instrumentSet
}

// New allocates a directory page and a single bucket page (global depth
// 0) and returns a ready-to-use table (spec.md §4.7 "Construction").
func New(pool Pool, cmp Comparator, hashFn HashFunc, log *zap.Logger, tel *telemetry.Telemetry) (*Table, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cmp == nil {
		cmp = DefaultComparator
	}
	if hashFn == nil {
		hashFn = DefaultHash
	}

	t := &Table{
		pool:    pool,
		cmp:     cmp,
		hashFn:  hashFn,
		log:     log,
		metrics: newInstrumentSet(tel),
	}

	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()

	dirID, dirPg, ok := pool.NewPage()
	if !ok {
		return nil, errPoolExhausted("allocating directory page")
	}
	bucketID, bucketPg, ok := pool.NewPage()
	if !ok {
		pool.UnpinPage(dirID, false)
		return nil, errPoolExhausted("allocating initial bucket page")
	}

	dir := NewDirectory(dirPg.Data())
	dir.SetPageID(dirID)
	dir.SetGlobalDepth(0)
	dir.SetBucketPageID(0, bucketID)
	dir.SetLocalDepth(0, 0)

	_ = NewBucket(bucketPg.Data()) // zero-valued bucket is already well formed

	t.dirID = dirID
	pool.UnpinPage(dirID, true)
	pool.UnpinPage(bucketID, false)

	t.log.Info("extendible hash table created", zap.Int64("directory_page_id", int64(dirID)))
	return t, nil
}

type poolExhaustedError string

func (e poolExhaustedError) Error() string { return "hash table: buffer pool exhausted while " + string(e) }

func errPoolExhausted(doing string) error { return poolExhaustedError(doing) }

func (t *Table) fetchDirectory() (*page.Page, Directory, bool) {
	pg, ok := t.pool.FetchPage(t.dirID)
	if !ok {
		return nil, Directory{}, false
	}
	return pg, NewDirectory(pg.Data()), true
}

func (t *Table) fetchBucket(id page.ID) (*page.Page, Bucket, bool) {
	pg, ok := t.pool.FetchPage(id)
	if !ok {
		return nil, Bucket{}, false
	}
	return pg, NewBucket(pg.Data()), true
}

func (t *Table) slotFor(dir Directory, key uint64) uint32 {
	h := uint32(t.hashFn(key))
	return h & dir.GetGlobalDepthMask()
}

// GetGlobalDepth returns the directory's current global depth.
func (t *Table) GetGlobalDepth() uint32 {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dirPg, dir, ok := t.fetchDirectory()
	if !ok {
		return 0
	}
	gd := dir.GlobalDepth()
	t.pool.UnpinPage(t.dirID, false)
	_ = dirPg
	return gd
}

// VerifyIntegrity checks the directory's I1–I3 invariants. Not on any hot
// path; present for tests and operator tooling (spec.md §4.6).
func (t *Table) VerifyIntegrity() error {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	_, dir, ok := t.fetchDirectory()
	if !ok {
		return errPoolExhausted("fetching directory for VerifyIntegrity")
	}
	err := dir.VerifyIntegrity()
	t.pool.UnpinPage(t.dirID, false)
	return err
}

// GetValue returns every value inserted under key and not subsequently
// removed (spec.md §4.7.1).
func (t *Table) GetValue(key uint64) []uint64 {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	_, dir, ok := t.fetchDirectory()
	if !ok {
		return nil
	}
	bucketID := dir.BucketPageID(t.slotFor(dir, key))

	bucketPg, bucket, ok := t.fetchBucket(bucketID)
	if !ok {
		t.pool.UnpinPage(t.dirID, false)
		return nil
	}

	bucketPg.RLock()
	var result []uint64
	bucket.GetValue(key, t.cmp, &result)
	bucketPg.RUnlock()

	t.pool.UnpinPage(bucketID, false)
	t.pool.UnpinPage(t.dirID, false)
	return result
}

// Insert adds (key, value) to the index, splitting a bucket if it is full
// (spec.md §4.7.2).
func (t *Table) Insert(key, value uint64) bool {
	t.tableLatch.RLock()

	_, dir, ok := t.fetchDirectory()
	if !ok {
		t.tableLatch.RUnlock()
		return false
	}
	bucketID := dir.BucketPageID(t.slotFor(dir, key))

	bucketPg, bucket, ok := t.fetchBucket(bucketID)
	if !ok {
		t.pool.UnpinPage(t.dirID, false)
		t.tableLatch.RUnlock()
		return false
	}

	bucketPg.Lock()
	if !bucket.IsFull() {
		inserted := bucket.Insert(key, value, t.cmp)
		bucketPg.Unlock()
		t.pool.UnpinPage(bucketID, inserted)
		t.pool.UnpinPage(t.dirID, false)
		t.tableLatch.RUnlock()
		return inserted
	}
	bucketPg.Unlock()

	t.pool.UnpinPage(bucketID, false)
	t.pool.UnpinPage(t.dirID, false)
	t.tableLatch.RUnlock()

	return t.splitInsert(key, value)
}

// splitInsert grows the directory if needed, allocates a sibling bucket,
// rewires the directory, redistributes records, and tail-calls Insert
// (spec.md §4.7.3) — a fresh call, not a recursive splitInsert, so a
// record that still collides after the split triggers its own new split
// rather than unbounded recursion here.
func (t *Table) splitInsert(key, value uint64) bool {
	t.tableLatch.Lock()

	dirPg, dir, ok := t.fetchDirectory()
	if !ok {
		t.tableLatch.Unlock()
		return false
	}
	_ = dirPg

	idx := t.slotFor(dir, key)
	bPid := dir.BucketPageID(idx)

	if dir.LocalDepth(idx) == dir.GlobalDepth() {
		if dir.GlobalDepth() >= MaxGlobalDepth {
			t.log.Warn("directory saturated, aborting split", zap.Uint32("global_depth", dir.GlobalDepth()))
			t.pool.UnpinPage(t.dirID, false)
			t.tableLatch.Unlock()
			return false
		}
		oldSize := dir.Size()
		dir.IncrGlobalDepth()
		newSize := dir.Size()
		for j := oldSize; j < newSize; j++ {
			dir.SetBucketPageID(j, dir.BucketPageID(j-oldSize))
			dir.SetLocalDepth(j, dir.LocalDepth(j-oldSize))
		}
		t.metrics.addDirectoryGrowth()
		// The target slot may have moved to the upper half now that the
		// mask is one bit wider.
		idx = t.slotFor(dir, key)
		bPid = dir.BucketPageID(idx)
	}

	newID, newBucketPg, ok := t.pool.NewPage()
	if !ok {
		t.log.Warn("buffer pool exhausted during split")
		t.pool.UnpinPage(t.dirID, true)
		t.tableLatch.Unlock()
		return false
	}
	newBucket := NewBucket(newBucketPg.Data())

	oldBucketPg, oldBucket, ok := t.fetchBucket(bPid)
	if !ok {
		t.pool.UnpinPage(newID, false)
		t.pool.UnpinPage(t.dirID, true)
		t.tableLatch.Unlock()
		return false
	}

	// Rewire: walk the arithmetic progression of slots pointing at bPid,
	// pairing each with its split image and incrementing local depth on both.
	bucketIdx := dir.FindFirstBucket(bPid)
	for bucketIdx < dir.Size() {
		imageIdx := bucketIdx + dir.GetLocalHighBit(bucketIdx)
		dir.SetBucketPageID(imageIdx, newID)
		dir.IncrLocalDepth(bucketIdx)
		dir.SetLocalDepth(imageIdx, dir.LocalDepth(bucketIdx))
		bucketIdx += dir.GetLocalHighBit(bucketIdx)
	}

	for i := uint32(0); i < BucketArraySize && oldBucket.IsOccupied(i); i++ {
		if !oldBucket.IsReadable(i) {
			continue
		}
		ki := oldBucket.KeyAt(i)
		if dir.BucketPageID(t.slotFor(dir, ki)) == bPid {
			continue
		}
		vi := oldBucket.ValueAt(i)
		oldBucket.RemoveAt(i)
		newBucket.Insert(ki, vi, t.cmp)
	}

	t.pool.UnpinPage(t.dirID, true)
	t.pool.UnpinPage(bPid, true)
	t.pool.UnpinPage(newID, true)
	t.metrics.addSplit()

	t.tableLatch.Unlock()
	_ = oldBucketPg

	return t.Insert(key, value)
}

// Remove deletes one (key, value) record, triggering a merge if the
// bucket it lived in becomes empty and mergeable (spec.md §4.7.4).
func (t *Table) Remove(key, value uint64) bool {
	t.tableLatch.RLock()

	_, dir, ok := t.fetchDirectory()
	if !ok {
		t.tableLatch.RUnlock()
		return false
	}
	idx := t.slotFor(dir, key)
	bucketID := dir.BucketPageID(idx)

	bucketPg, bucket, ok := t.fetchBucket(bucketID)
	if !ok {
		t.pool.UnpinPage(t.dirID, false)
		t.tableLatch.RUnlock()
		return false
	}

	bucketPg.Lock()
	removed := bucket.Remove(key, value, t.cmp)
	bucketPg.Unlock()

	ld := dir.LocalDepth(idx)

	bucketPg.RLock()
	isEmpty := bucket.IsEmpty()
	bucketPg.RUnlock()

	if isEmpty && ld > 0 {
		mergeIdx := idx ^ (uint32(1) << (ld - 1))
		if dir.LocalDepth(mergeIdx) == ld {
			t.tableLatch.RUnlock()
			t.merge(key, value)
			t.tableLatch.RLock()
		}
	}

	t.pool.UnpinPage(t.dirID, true)
	t.pool.UnpinPage(bucketID, removed)
	t.tableLatch.RUnlock()

	return removed
}

// merge collapses an empty bucket into its sibling and, if that exposes a
// shrinkable directory, shrinks it, then recurses once more in case the
// shrink exposed another mergeable pair (spec.md §4.7.5, §9 "merge is a
// loop, not a step"). Each call strictly reduces Σ LD(i) or returns via
// the early abort, so the recursion terminates.
func (t *Table) merge(key, value uint64) {
	t.tableLatch.Lock()

	dirPg, dir, ok := t.fetchDirectory()
	if !ok {
		t.tableLatch.Unlock()
		return
	}
	_ = dirPg

	idx := t.slotFor(dir, key)
	ld := dir.LocalDepth(idx)
	if ld == 0 {
		t.pool.UnpinPage(t.dirID, false)
		t.tableLatch.Unlock()
		return
	}
	mergeIdx := idx ^ (uint32(1) << (ld - 1))
	mergeLD := dir.LocalDepth(mergeIdx)

	bPid := dir.BucketPageID(idx)
	siblingPid := dir.BucketPageID(mergeIdx)

	bPg, bBucket, ok := t.fetchBucket(bPid)
	if !ok {
		t.pool.UnpinPage(t.dirID, false)
		t.tableLatch.Unlock()
		return
	}
	sPg, sBucket, ok := t.fetchBucket(siblingPid)
	if !ok {
		t.pool.UnpinPage(bPid, false)
		t.pool.UnpinPage(t.dirID, false)
		t.tableLatch.Unlock()
		return
	}

	bPg.RLock()
	bEmpty := bBucket.IsEmpty()
	bPg.RUnlock()
	sPg.RLock()
	sEmpty := sBucket.IsEmpty()
	sPg.RUnlock()

	if ld != mergeLD || bEmpty == sEmpty {
		// Not exactly one empty, or depths diverged since Remove checked: abort.
		t.pool.UnpinPage(bPid, false)
		t.pool.UnpinPage(siblingPid, false)
		t.pool.UnpinPage(t.dirID, false)
		t.tableLatch.Unlock()
		return
	}

	survivorPid := bPid
	if bEmpty {
		survivorPid = siblingPid
	}

	stride := uint32(1) << (ld - 1)
	firstIdx := dir.FindFirstBucket(bPid)
	for i := firstIdx; i < dir.Size(); i += 2 * stride {
		partner := i ^ stride
		dir.SetBucketPageID(i, survivorPid)
		dir.SetBucketPageID(partner, survivorPid)
		dir.DecrLocalDepth(i)
		dir.DecrLocalDepth(partner)
	}

	t.pool.UnpinPage(bPid, false)
	t.pool.UnpinPage(siblingPid, false)
	t.metrics.addMerge()

	for dir.CanShrink() && dir.GlobalDepth() > 0 {
		size := dir.Size()
		half := size / 2
		consistent := true
		for i := uint32(0); i < half; i++ {
			if dir.BucketPageID(i) != dir.BucketPageID(i+half) {
				consistent = false
				break
			}
		}
		if !consistent {
			break
		}
		for i := half; i < size; i++ {
			dir.SetBucketPageID(i, emptySlotPageID)
			dir.SetLocalDepth(i, 0)
		}
		dir.DecrGlobalDepth()
		t.metrics.addDirectoryShrink()
	}

	t.pool.UnpinPage(t.dirID, true)
	t.tableLatch.Unlock()

	t.merge(key, value)
}
