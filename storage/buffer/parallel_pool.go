package buffer

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaydb/hashcore/pkg/telemetry"
	"github.com/relaydb/hashcore/storage/disk"
	"github.com/relaydb/hashcore/storage/page"
)

// ParallelPool routes page operations across N Instance shards, striped by
// page_id mod N, so that unrelated pages never contend on the same mutex
// (spec.md §4.4).
type ParallelPool struct {
	mu        sync.Mutex
	instances []*Instance
	poolSize  int
	cursor    int // rotates across NewPage calls to spread allocation

	id  uuid.UUID
	log *zap.Logger
}

// NewParallelPool builds numInstances shards of poolSize frames each, all
// backed by the same disk manager.
func NewParallelPool(numInstances, poolSize int, dm *disk.Manager, log *zap.Logger, tel *telemetry.Telemetry) *ParallelPool {
	if log == nil {
		log = zap.NewNop()
	}
	pp := &ParallelPool{
		instances: make([]*Instance, numInstances),
		poolSize:  poolSize,
		id:        uuid.New(),
		log:       log,
	}
	for i := 0; i < numInstances; i++ {
		pp.instances[i] = NewInstance(poolSize, i, numInstances, dm, log, tel)
	}
	pp.log.Info("parallel buffer pool started",
		zap.String("pool_id", pp.id.String()),
		zap.Int("num_instances", numInstances),
		zap.Int("pool_size_per_instance", poolSize),
	)
	return pp
}

func (pp *ParallelPool) ownerOf(id page.ID) *Instance {
	n := len(pp.instances)
	idx := int64(id) % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return pp.instances[idx]
}

// FetchPage routes to the instance owning page_id mod N.
func (pp *ParallelPool) FetchPage(id page.ID) (*page.Page, bool) {
	return pp.ownerOf(id).FetchPage(id)
}

// UnpinPage routes to the instance owning page_id mod N.
func (pp *ParallelPool) UnpinPage(id page.ID, markDirty bool) bool {
	return pp.ownerOf(id).UnpinPage(id, markDirty)
}

// FlushPage routes to the instance owning page_id mod N.
func (pp *ParallelPool) FlushPage(id page.ID) bool {
	return pp.ownerOf(id).FlushPage(id)
}

// DeletePage routes to the instance owning page_id mod N.
func (pp *ParallelPool) DeletePage(id page.ID) bool {
	return pp.ownerOf(id).DeletePage(id)
}

// NewPage round-robins over instances starting at a rotating cursor,
// returning the first successful allocation (spec.md §4.4). The cursor
// advances on every call, including failed ones, so load keeps spreading.
func (pp *ParallelPool) NewPage() (page.ID, *page.Page, bool) {
	pp.mu.Lock()
	start := pp.cursor
	n := len(pp.instances)
	pp.cursor = (pp.cursor + 1) % n
	pp.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if id, pg, ok := pp.instances[idx].NewPage(); ok {
			return id, pg, true
		}
	}
	return page.InvalidID, nil, false
}

// FlushAllPages fans out to every instance concurrently. spec.md §7 makes
// no atomicity promise across the bulk flush, so concurrent instances can
// proceed independently.
func (pp *ParallelPool) FlushAllPages() {
	var g errgroup.Group
	for _, inst := range pp.instances {
		inst := inst
		g.Go(func() error {
			inst.FlushAllPages()
			return nil
		})
	}
	_ = g.Wait()
}

// GetPoolSize returns N * pool_size, the total frame capacity.
func (pp *ParallelPool) GetPoolSize() int {
	return len(pp.instances) * pp.poolSize
}

// NumInstances returns the number of shards.
func (pp *ParallelPool) NumInstances() int { return len(pp.instances) }

// Instance exposes a single shard, for callers (tests, /stats) that need
// per-instance counters rather than the aggregate view.
func (pp *ParallelPool) Instance(i int) *Instance { return pp.instances[i] }
