package storage

import (
	"fmt"
	"sync"

	"github.com/arlobase/enginecore/pkg/hashtable"
	"github.com/arlobase/enginecore/pkg/replacer"
)

// pageIDHash spreads a page id's bits so the page table's directory splits
// evenly rather than tracking the disk manager's sequential allocation
// order bit-for-bit (Knuth's multiplicative hash).
func pageIDHash(id PageID) uint64 {
	return uint64(uint32(id)) * 2654435761
}

// BufferPoolManager is the cache of page frames sitting between callers and
// the disk manager. One coarse mutex guards the whole pool; page residency
// is tracked in an extendible hash table (page id -> frame id) and
// eviction candidates are tracked by an LRU-K replacer.
type BufferPoolManager struct {
	mu sync.Mutex

	poolSize int
	frames   []*Frame
	freeList []int

	pageTable *hashtable.Table[PageID, int]
	replacer  *replacer.LRUK

	disk DiskManager
	log  LogManager

	hits      int
	misses    int
	evictions int
}

// NewBufferPoolManager creates a pool of poolSize frames backed by disk and
// log, whose replacer tracks access history lruK accesses deep.
func NewBufferPoolManager(poolSize int, disk DiskManager, log LogManager, lruK int) *BufferPoolManager {
	if poolSize <= 0 {
		panic("storage: pool size must be positive")
	}

	frames := make([]*Frame, poolSize)
	freeList := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = newFrame(i)
		freeList[i] = poolSize - 1 - i
	}

	return &BufferPoolManager{
		poolSize:  poolSize,
		frames:    frames,
		freeList:  freeList,
		pageTable: hashtable.New[PageID, int](4, pageIDHash),
		replacer:  replacer.New(poolSize, lruK),
		disk:      disk,
		log:       log,
	}
}

// getFrame returns a frame ready to hold a new resident page, reclaiming
// one from the free list first and only falling back to evicting a
// replacer-chosen victim once the pool is full. Must be called with bp.mu
// held.
func (bp *BufferPoolManager) getFrame() (*Frame, error) {
	if n := len(bp.freeList); n > 0 {
		fid := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return bp.frames[fid], nil
	}

	fid, ok := bp.replacer.Evict()
	if !ok {
		return nil, fmt.Errorf("storage: buffer pool exhausted: every frame is pinned")
	}
	frame := bp.frames[fid]
	if frame.Page != nil {
		if frame.Page.IsDirty {
			if err := bp.flushFrameLocked(frame); err != nil {
				return nil, fmt.Errorf("storage: flush evicted page %d: %w", frame.PageID, err)
			}
		}
		bp.pageTable.Remove(frame.PageID)
		bp.evictions++
	}
	frame.free()
	return frame, nil
}

// NewPage allocates a fresh page on disk, pins it into a resident frame,
// and returns it zeroed and clean; a caller that writes to it marks it
// dirty (directly or through UnpinPage).
func (bp *BufferPoolManager) NewPage() (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frame, err := bp.getFrame()
	if err != nil {
		return nil, err
	}

	id, err := bp.disk.AllocatePage()
	if err != nil {
		return nil, fmt.Errorf("storage: allocate page: %w", err)
	}

	page := NewPage(id)
	page.Pin()
	frame.reset(id, page)
	bp.pageTable.Insert(id, frame.ID)
	bp.replacer.RecordAccess(frame.ID)
	bp.replacer.SetEvictable(frame.ID, false)

	return page, nil
}

// FetchPage returns id's page, pinning it, reading it from disk into a
// resident frame first if it isn't already cached.
func (bp *BufferPoolManager) FetchPage(id PageID) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if fid, ok := bp.pageTable.Find(id); ok {
		frame := bp.frames[fid]
		frame.Page.Pin()
		bp.replacer.RecordAccess(fid)
		bp.replacer.SetEvictable(fid, false)
		bp.hits++
		return frame.Page, nil
	}
	bp.misses++

	frame, err := bp.getFrame()
	if err != nil {
		return nil, err
	}

	page, err := bp.disk.ReadPage(id)
	if err != nil {
		return nil, fmt.Errorf("storage: read page %d: %w", id, err)
	}
	page.Pin()
	frame.reset(id, page)
	bp.pageTable.Insert(id, frame.ID)
	bp.replacer.RecordAccess(frame.ID)
	bp.replacer.SetEvictable(frame.ID, false)

	return page, nil
}

// UnpinPage decrements id's pin count, marking it dirty if dirty is true.
// It reports false, with no state change at all, if id was already
// unpinned or isn't resident.
func (bp *BufferPoolManager) UnpinPage(id PageID, dirty bool) (bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fid, ok := bp.pageTable.Find(id)
	if !ok {
		return false, fmt.Errorf("storage: page %d is not resident", id)
	}
	frame := bp.frames[fid]
	if !frame.Page.Unpin() {
		return false, nil
	}
	if dirty {
		frame.Page.MarkDirty()
	}
	if !frame.Page.IsPinned() {
		bp.replacer.SetEvictable(fid, true)
	}
	return true, nil
}

// FlushPage writes id's current content to disk, first flushing the log up
// to the page's LSN (write-ahead rule).
func (bp *BufferPoolManager) FlushPage(id PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fid, ok := bp.pageTable.Find(id)
	if !ok {
		return fmt.Errorf("storage: page %d is not resident", id)
	}
	return bp.flushFrameLocked(bp.frames[fid])
}

func (bp *BufferPoolManager) flushFrameLocked(frame *Frame) error {
	if bp.log != nil {
		if err := bp.log.FlushTo(frame.Page.LSN()); err != nil {
			return fmt.Errorf("storage: flush log before page %d: %w", frame.PageID, err)
		}
	}
	if err := bp.disk.WritePage(frame.Page); err != nil {
		return fmt.Errorf("storage: write page %d: %w", frame.PageID, err)
	}
	frame.Page.IsDirty = false
	return nil
}

// FlushAllPages writes every dirty resident page to disk.
func (bp *BufferPoolManager) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for _, frame := range bp.frames {
		if frame.PageID == InvalidPageID || !frame.Page.IsDirty {
			continue
		}
		if err := bp.flushFrameLocked(frame); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage evicts id from the pool (if resident) and deallocates it on
// disk. It refuses to delete a pinned page, returning false. The page is
// not flushed before deallocation — its content is being abandoned.
func (bp *BufferPoolManager) DeletePage(id PageID) (bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fid, ok := bp.pageTable.Find(id)
	if !ok {
		if err := bp.disk.DeallocatePage(id); err != nil {
			return false, fmt.Errorf("storage: deallocate page %d: %w", id, err)
		}
		return true, nil
	}

	frame := bp.frames[fid]
	if frame.Page.IsPinned() {
		return false, nil
	}

	bp.pageTable.Remove(id)
	bp.replacer.Remove(fid)
	frame.free()
	bp.freeList = append(bp.freeList, fid)

	if err := bp.disk.DeallocatePage(id); err != nil {
		return false, fmt.Errorf("storage: deallocate page %d: %w", id, err)
	}
	return true, nil
}

// Stats reports pool-level counters for diagnostics and tests.
func (bp *BufferPoolManager) Stats() map[string]int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return map[string]int{
		"pool_size": bp.poolSize,
		"hits":      bp.hits,
		"misses":    bp.misses,
		"evictions": bp.evictions,
	}
}
