package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/arlobase/enginecore/pkg/concurrent"
)

// DiskManager is the contract the buffer pool relies on for moving pages
// between memory and durable storage. It knows nothing about frames, pins,
// or replacement policy — only how to read, write, allocate and deallocate
// whole pages.
type DiskManager interface {
	ReadPage(id PageID) (*Page, error)
	WritePage(page *Page) error
	AllocatePage() (PageID, error)
	DeallocatePage(id PageID) error
}

// FileDiskManager is a DiskManager backed by one OS file, pages laid out
// back to back at offset = id * PageSize. It owns page-id allocation:
// AllocatePage either reclaims an id from the persisted free list or hands
// out the next never-used id.
type FileDiskManager struct {
	mu           sync.Mutex
	file         *os.File
	nextPageID   *concurrent.Counter
	freeListHead PageID
	freeCount    uint32

	reads  *concurrent.Counter
	writes *concurrent.Counter
}

// NewFileDiskManager opens (or creates) the data file at path.
func NewFileDiskManager(path string) (*FileDiskManager, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open data file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: stat data file: %w", err)
	}

	next := concurrent.NewCounter()
	next.Store(uint64(info.Size() / PageSize))

	// The free-list chain's head pointer is not itself persisted across a
	// close/reopen cycle: a fresh FileDiskManager always starts with an
	// empty in-memory free list, even if the file on disk holds free-list
	// pages from a previous run. Crash/restart recovery is out of scope.
	return &FileDiskManager{
		file:         file,
		nextPageID:   next,
		freeListHead: InvalidPageID,
		reads:        concurrent.NewCounter(),
		writes:       concurrent.NewCounter(),
	}, nil
}

// ReadPage reads page id's bytes from disk. Reading a page past the current
// end of file returns a freshly zeroed page rather than an error, so a page
// id that was allocated but never written (such as page 0 of a fresh data
// file) reads back as zeroes.
func (dm *FileDiskManager) ReadPage(id PageID) (*Page, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.readLocked(id)
}

func (dm *FileDiskManager) readLocked(id PageID) (*Page, error) {
	buf := make([]byte, PageSize)
	n, err := dm.file.ReadAt(buf, int64(id)*PageSize)
	if err != nil && n < PageSize {
		page := NewPage(id)
		return page, nil
	}

	page := NewPage(id)
	if err := page.LoadBytes(buf); err != nil {
		return nil, fmt.Errorf("storage: read page %d: %w", id, err)
	}
	dm.reads.Inc()
	return page, nil
}

// WritePage writes page's current bytes to its slot on disk.
func (dm *FileDiskManager) WritePage(page *Page) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.writeLocked(page)
}

func (dm *FileDiskManager) writeLocked(page *Page) error {
	if _, err := dm.file.WriteAt(page.Bytes(), int64(page.ID)*PageSize); err != nil {
		return fmt.Errorf("storage: write page %d: %w", page.ID, err)
	}
	dm.writes.Inc()
	return nil
}

// AllocatePage reclaims a deallocated page id if one is free, otherwise
// hands out the next never-used id.
func (dm *FileDiskManager) AllocatePage() (PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.freeListHead != InvalidPageID {
		id, ok, err := dm.popFreeLocked()
		if err != nil {
			return InvalidPageID, fmt.Errorf("storage: pop free page: %w", err)
		}
		if ok {
			return id, nil
		}
	}

	id := PageID(dm.nextPageID.Inc() - 1)
	return id, nil
}

// DeallocatePage returns id to the free list for future reuse. The page's
// content is not flushed first: it is being abandoned, so its old bytes no
// longer matter.
func (dm *FileDiskManager) DeallocatePage(id PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if uint64(id) >= dm.nextPageID.Load() {
		return fmt.Errorf("storage: invalid page id %d (next id %d)", id, dm.nextPageID.Load())
	}
	return dm.pushFreeLocked(id)
}

// pushFreeLocked adds id to the head free-list page, allocating a new one
// (or repurposing id itself as the new head) if the current head is full
// or doesn't exist yet. Must be called with dm.mu held.
func (dm *FileDiskManager) pushFreeLocked(id PageID) error {
	if dm.freeListHead == InvalidPageID {
		head := NewPage(id)
		initFreeListPage(head)
		if err := dm.writeLocked(head); err != nil {
			return err
		}
		dm.freeListHead = id
		dm.freeCount = 0
		return nil
	}

	head, err := dm.readLocked(dm.freeListHead)
	if err != nil {
		return fmt.Errorf("storage: read free-list head: %w", err)
	}

	added, err := pushFreeEntry(head, id)
	if err != nil {
		return err
	}
	if added {
		if err := dm.writeLocked(head); err != nil {
			return err
		}
		dm.freeCount++
		return nil
	}

	// Head page is full: turn the page being freed into the new head,
	// chained to the old one.
	newHead := NewPage(id)
	initFreeListPage(newHead)
	serializeFreeHeader(newHead, &freePageHeader{NextFreeListPage: dm.freeListHead, EntryCount: 0})
	if err := dm.writeLocked(newHead); err != nil {
		return err
	}
	dm.freeListHead = id
	dm.freeCount = 0
	return nil
}

// popFreeLocked removes and returns one id from the free-list chain,
// advancing past and reclaiming an exhausted head page as needed. Must be
// called with dm.mu held.
func (dm *FileDiskManager) popFreeLocked() (PageID, bool, error) {
	head, err := dm.readLocked(dm.freeListHead)
	if err != nil {
		return 0, false, fmt.Errorf("storage: read free-list head: %w", err)
	}

	id, ok, err := popFreeEntry(head)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		// Head page is a spent free-list page; reclaim its own id and
		// advance to the next page in the chain.
		h := deserializeFreeHeader(head)
		oldHead := dm.freeListHead
		dm.freeListHead = h.NextFreeListPage
		return oldHead, true, nil
	}

	if err := dm.writeLocked(head); err != nil {
		return 0, false, err
	}
	dm.freeCount--
	return id, true, nil
}

// Sync flushes all written pages to stable storage.
func (dm *FileDiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.file.Sync()
}

// Close syncs and closes the underlying data file.
func (dm *FileDiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.file.Sync(); err != nil {
		return err
	}
	return dm.file.Close()
}

// Stats reports disk manager counters, useful for the buffer pool's own
// Stats() and for tests asserting I/O actually happened.
func (dm *FileDiskManager) Stats() map[string]uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return map[string]uint64{
		"next_page_id": dm.nextPageID.Load(),
		"free_pages":   uint64(dm.freeCount),
		"total_reads":  dm.reads.Load(),
		"total_writes": dm.writes.Load(),
	}
}
