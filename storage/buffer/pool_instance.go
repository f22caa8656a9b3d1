// Package buffer implements the fixed-capacity page cache described in
// spec.md §2.2–§2.4: a single-shard instance with LRU eviction, and a
// striped parallel pool built on top of it.
package buffer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/relaydb/hashcore/internal/ids"
	"github.com/relaydb/hashcore/pkg/telemetry"
	"github.com/relaydb/hashcore/storage/disk"
	"github.com/relaydb/hashcore/storage/page"
)

// Instance is one shard of the buffer pool: pool_size frames, a page
// table, an LRU replacer, and a disk handle, all guarded by a single
// coarse mutex (spec.md §4.3). NewPage, FetchPage, UnpinPage, FlushPage,
// DeletePage and PinnedCount hold that mutex for their whole body;
// FlushAllPages holds it only to snapshot the page table and then flushes
// page by page through FlushPage. Page I/O happens while the mutex is held, so callers must
// expect Fetch/New to block for the duration of an eviction and a disk
// read.
type Instance struct {
	mu sync.Mutex

	poolSize int
	frames   []*page.Page
	freeList []int
	pageTbl  map[page.ID]int
	replacer *lruReplacer
	disk     *disk.Manager

	numInstances int
	instanceIdx  int
	nextPageID   int64

	log     *zap.Logger
	metrics instrumentSet
}

// NewInstance builds one buffer pool shard of poolSize frames. instanceIdx
// and numInstances implement the page-id striping of spec.md §4.3;
// pass instanceIdx=0, numInstances=1 for a standalone (non-parallel) pool.
func NewInstance(poolSize int, instanceIdx, numInstances int, dm *disk.Manager, log *zap.Logger, tel *telemetry.Telemetry) *Instance {
	if log == nil {
		log = zap.NewNop()
	}
	frames := make([]*page.Page, poolSize)
	freeList := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = page.New(page.InvalidID)
		freeList[i] = i
	}
	// Page id 0 is reserved for the disk manager's file header (see
	// storage/disk), so instance 0's striped sequence must not start
	// there; it starts one full stripe later instead.
	start := int64(instanceIdx)
	if instanceIdx == 0 {
		start = int64(numInstances)
	}
	bp := &Instance{
		poolSize:     poolSize,
		frames:       frames,
		freeList:     freeList,
		pageTbl:      make(map[page.ID]int, poolSize),
		replacer:     newLRUReplacer(poolSize),
		disk:         dm,
		numInstances: numInstances,
		instanceIdx:  instanceIdx,
		nextPageID:   start,
		log:          log.With(zap.Int("pool_instance", instanceIdx)),
		metrics:      newInstrumentSet(tel),
	}
	registerPinnedGauge(tel, instanceIdx, bp.PinnedCount)
	return bp
}

// allocatePageIDLocked implements spec.md §4.3's striped page-id
// allocator: return next_page_id, then add num_instances. It also
// reserves the id's slot on disk so a crash before the page is first
// flushed still leaves a well-formed file.
func (bp *Instance) allocatePageIDLocked() (page.ID, error) {
	id := page.ID(bp.nextPageID)
	if err := bp.disk.Reserve(id); err != nil {
		return page.InvalidID, err
	}
	bp.nextPageID += int64(bp.numInstances)
	return id, nil
}

// pickFrameLocked selects a frame to (re)use: the free list first, then
// the replacer's LRU victim. Returns ok=false if neither has one.
func (bp *Instance) pickFrameLocked() (int, bool) {
	if n := len(bp.freeList); n > 0 {
		frameID := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return frameID, true
	}
	return bp.replacer.Victim()
}

// evictFrameLocked flushes frameID if dirty and removes its current page
// from the page table, readying it to hold a different page.
func (bp *Instance) evictFrameLocked(frameID int) error {
	fr := bp.frames[frameID]
	oldID := fr.ID()
	if oldID == page.InvalidID {
		return nil
	}
	if fr.IsDirty() {
		if err := bp.disk.WritePage(oldID, fr.Data()); err != nil {
			return fmt.Errorf("buffer pool: flushing victim page %d: %w", oldID, err)
		}
		bp.log.Debug("flushed dirty victim page", zap.Int64("page_id", int64(oldID)))
	}
	delete(bp.pageTbl, oldID)
	bp.metrics.addEviction()
	return nil
}

// NewPage allocates a fresh page id, installs it into a frame, and
// returns it pinned with pin_count=1 and clean (spec.md §4.3). Returns
// (InvalidID, nil, false) when the pool is fully pinned.
func (bp *Instance) NewPage() (page.ID, *page.Page, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pickFrameLocked()
	if !ok {
		bp.log.Warn("buffer pool exhausted, cannot allocate new page")
		return page.InvalidID, nil, false
	}
	if err := bp.evictFrameLocked(frameID); err != nil {
		bp.log.Error("eviction failed while allocating new page", zap.Error(err))
		return page.InvalidID, nil, false
	}

	id, err := bp.allocatePageIDLocked()
	if err != nil {
		bp.log.Error("reserving new page on disk failed", zap.Error(err))
		return page.InvalidID, nil, false
	}
	fr := bp.frames[frameID]
	fr.Reset()
	fr.SetID(id)
	fr.SetPinCount(1)
	fr.SetDirty(false)

	bp.pageTbl[id] = frameID
	bp.replacer.Pin(frameID)

	bp.log.Debug("allocated new page", zap.Int64("page_id", int64(id)), zap.Int("frame", frameID))
	return id, fr, true
}

// FetchPage returns the page identified by id, pinning it. If it is not
// resident, a frame is evicted (flushing it first if dirty) and the page
// is read from disk. Returns (nil, false) when no frame is available.
func (bp *Instance) FetchPage(id page.ID) (*page.Page, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if frameID, ok := bp.pageTbl[id]; ok {
		fr := bp.frames[frameID]
		fr.Pin()
		bp.replacer.Pin(frameID)
		bp.metrics.addHit()
		bp.log.Debug("page fetched (hit)",
			zap.Int64("page_id", int64(id)),
			zap.Int64("goroutine", ids.GoID()),
			zap.String("caller", ids.CallerString(1)),
		)
		return fr, true
	}
	bp.metrics.addMiss()

	frameID, ok := bp.pickFrameLocked()
	if !ok {
		bp.log.Warn("buffer pool exhausted, cannot fetch page", zap.Int64("page_id", int64(id)))
		return nil, false
	}
	if err := bp.evictFrameLocked(frameID); err != nil {
		bp.log.Error("eviction failed while fetching page", zap.Int64("page_id", int64(id)), zap.Error(err))
		return nil, false
	}

	fr := bp.frames[frameID]
	fr.Reset()
	if err := bp.disk.ReadPage(id, fr.Data()); err != nil {
		bp.log.Error("read failed while fetching page", zap.Int64("page_id", int64(id)), zap.Error(err))
		return nil, false
	}
	fr.SetID(id)
	fr.SetPinCount(1)
	fr.SetDirty(false)

	bp.pageTbl[id] = frameID
	bp.replacer.Pin(frameID)

	return fr, true
}

// UnpinPage decrements id's pin count, ORing markDirty into its dirty bit.
// Returns false if id is not resident or was already unpinned.
func (bp *Instance) UnpinPage(id page.ID, markDirty bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTbl[id]
	if !ok {
		return false
	}
	fr := bp.frames[frameID]
	if markDirty {
		fr.SetDirty(true)
	}
	if fr.PinCount() <= 0 {
		return false
	}
	fr.Unpin()
	if fr.PinCount() == 0 {
		bp.replacer.Unpin(frameID)
	}
	return true
}

// FlushPage writes id's frame to disk if dirty, clearing the dirty bit. A
// clean page still returns true: a no-op flush is a success.
func (bp *Instance) FlushPage(id page.ID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTbl[id]
	if !ok {
		return false
	}
	fr := bp.frames[frameID]
	if fr.IsDirty() {
		if err := bp.disk.WritePage(id, fr.Data()); err != nil {
			bp.log.Error("flush failed", zap.Int64("page_id", int64(id)), zap.Error(err))
			return false
		}
		fr.SetDirty(false)
	}
	bp.metrics.addFlush()
	return true
}

// FlushAllPages flushes every mapped page. Per spec.md §7's open question,
// no atomicity is promised with concurrent mutation of the page table.
func (bp *Instance) FlushAllPages() {
	bp.mu.Lock()
	ids := make([]page.ID, 0, len(bp.pageTbl))
	for id := range bp.pageTbl {
		ids = append(ids, id)
	}
	bp.mu.Unlock()

	for _, id := range ids {
		bp.FlushPage(id)
	}
}

// DeletePage removes id from the pool. Returns true if id was absent, or
// if it was present, unpinned, and successfully evicted; false if it is
// still pinned.
func (bp *Instance) DeletePage(id page.ID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTbl[id]
	if !ok {
		return true
	}
	fr := bp.frames[frameID]
	if fr.PinCount() > 0 {
		return false
	}
	if fr.IsDirty() {
		if err := bp.disk.WritePage(id, fr.Data()); err != nil {
			bp.log.Error("flush-before-delete failed", zap.Int64("page_id", int64(id)), zap.Error(err))
			return false
		}
	}
	if err := bp.disk.DeallocatePage(id); err != nil {
		bp.log.Warn("deallocate failed", zap.Int64("page_id", int64(id)), zap.Error(err))
	}

	delete(bp.pageTbl, id)
	fr.Reset()
	bp.replacer.Pin(frameID)
	bp.freeList = append(bp.freeList, frameID)
	return true
}

// PoolSize returns the number of frames this instance holds.
func (bp *Instance) PoolSize() int { return bp.poolSize }

// PinnedCount returns Σ pin_count across all frames, supporting property
// P6 (tests and /stats reporting).
func (bp *Instance) PinnedCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	total := 0
	for _, fr := range bp.frames {
		total += int(fr.PinCount())
	}
	return total
}

// EvictableCount returns the number of frames currently available for
// eviction (free list plus LRU-resident frames), also supporting P6.
func (bp *Instance) EvictableCount() int {
	bp.mu.Lock()
	freeN := len(bp.freeList)
	bp.mu.Unlock()
	return freeN + bp.replacer.Size()
}
