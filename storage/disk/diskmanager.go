// Package disk implements block-addressed random I/O over a page file: the
// bottom of the storage stack that the buffer pool evicts into and reads
// from (spec.md §4.1).
package disk

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/relaydb/hashcore/storage/page"
)

const (
	magic         uint32 = 0x68617368 // "hash"
	version       uint32 = 1
	headerSize           = 12 // magic + version + pageSize, uint32 each
)

// Manager is a page-granular, block-addressed file. Page ids are stable,
// monotonically allocated integers; page 0 is reserved for the file
// header. Failures are fatal per spec.md §7: they are returned (never
// panicked) but logged at Error so an embedder can treat them as such.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	pageSize int
	numPages int64 // highest allocated page id + 1
	log      *zap.Logger
}

// Open opens an existing page file, or creates one if create is true and
// the file does not already exist.
func Open(path string, create bool, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dm := &Manager{path: path, pageSize: page.Size, log: log}

	_, statErr := os.Stat(path)
	switch {
	case os.IsNotExist(statErr):
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return nil, fmt.Errorf("disk manager: creating %s: %w", path, err)
		}
		dm.file = f
		if err := dm.writeHeader(); err != nil {
			_ = os.Remove(path)
			return nil, err
		}
		dm.numPages = 1

	case statErr == nil:
		if create {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("disk manager: opening %s: %w", path, err)
		}
		dm.file = f
		if err := dm.readHeader(); err != nil {
			dm.Close()
			return nil, err
		}
		fi, err := dm.file.Stat()
		if err != nil {
			dm.Close()
			return nil, fmt.Errorf("disk manager: stat %s: %w", path, err)
		}
		dm.numPages = fi.Size() / int64(dm.pageSize)

	default:
		return nil, fmt.Errorf("disk manager: stat %s: %w", path, statErr)
	}

	return dm, nil
}

func (dm *Manager) writeHeader() error {
	buf := make([]byte, dm.pageSize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(dm.pageSize))
	if _, err := dm.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("disk manager: writing header: %w", err)
	}
	return dm.file.Sync()
}

func (dm *Manager) readHeader() error {
	buf := make([]byte, headerSize)
	n, err := dm.file.ReadAt(buf, 0)
	if err != nil || n != headerSize {
		return fmt.Errorf("%w: %s", ErrBadMagic, dm.path)
	}
	gotMagic := binary.LittleEndian.Uint32(buf[0:4])
	if gotMagic != magic {
		return fmt.Errorf("%w: %s", ErrBadMagic, dm.path)
	}
	gotPageSize := binary.LittleEndian.Uint32(buf[8:12])
	if int(gotPageSize) != dm.pageSize {
		return fmt.Errorf("%w: file has %d, configured %d", ErrPageSizeMismatch, gotPageSize, dm.pageSize)
	}
	return nil
}

// ReadPage reads the page identified by id into buf, which must be exactly
// page.Size bytes.
func (dm *Manager) ReadPage(id page.ID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if len(buf) != dm.pageSize {
		return fmt.Errorf("%w: buffer is %d bytes, page size is %d", ErrShortIO, len(buf), dm.pageSize)
	}
	offset := int64(id) * int64(dm.pageSize)
	n, err := dm.file.ReadAt(buf, offset)
	if err != nil {
		dm.log.Error("disk read failed", zap.Int64("page_id", int64(id)), zap.Error(err))
		return fmt.Errorf("disk manager: reading page %d: %w", id, err)
	}
	if n != dm.pageSize {
		dm.log.Error("short disk read", zap.Int64("page_id", int64(id)), zap.Int("bytes", n))
		return fmt.Errorf("%w: page %d", ErrShortIO, id)
	}
	return nil
}

// WritePage writes buf, which must be exactly page.Size bytes, to the slot
// for page id.
func (dm *Manager) WritePage(id page.ID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if len(buf) != dm.pageSize {
		return fmt.Errorf("%w: buffer is %d bytes, page size is %d", ErrShortIO, len(buf), dm.pageSize)
	}
	offset := int64(id) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(buf, offset); err != nil {
		dm.log.Error("disk write failed", zap.Int64("page_id", int64(id)), zap.Error(err))
		return fmt.Errorf("disk manager: writing page %d: %w", id, err)
	}
	return nil
}

// Reserve extends the backing file, if needed, so that id has a zeroed
// slot on disk. Page id allocation itself belongs to the buffer pool
// (spec.md §4.3's next_page_id/stripe-id counter, not this package): a
// buffer pool instance picks the id, then calls Reserve so a crash
// between allocation and first flush still leaves a well-formed file
// instead of a sparse hole. Reserving an id that already has a slot is a
// no-op.
func (dm *Manager) Reserve(id page.ID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if int64(id) < dm.numPages {
		return nil
	}
	empty := make([]byte, dm.pageSize)
	offset := int64(id) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(empty, offset); err != nil {
		return fmt.Errorf("disk manager: reserving page %d: %w", id, err)
	}
	dm.numPages = int64(id) + 1
	return nil
}

// DeallocatePage is a placeholder: hashcore never reuses on-disk page
// slots on deallocation (spec.md §4.1 defines the interface but nothing in
// the core relies on slot reuse — bucket pages freed by a Merge simply
// become unreachable garbage in the file, the same trade-off the B-tree
// teacher's disk manager makes pending a real free-space manager).
func (dm *Manager) DeallocatePage(id page.ID) error {
	dm.log.Debug("page deallocated (no on-disk reclamation)", zap.Int64("page_id", int64(id)))
	return nil
}

// Sync flushes any buffered writes to stable storage.
func (dm *Manager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	return dm.file.Sync()
}

// Close syncs and closes the underlying file.
func (dm *Manager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		dm.log.Warn("sync on close failed", zap.Error(err))
	}
	err := dm.file.Close()
	dm.file = nil
	return err
}

// PageSize returns the fixed page size this manager was opened with.
func (dm *Manager) PageSize() int { return dm.pageSize }
