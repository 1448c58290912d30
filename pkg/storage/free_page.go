package storage

import (
	"encoding/binary"
	"fmt"
)

const (
	// freePageHeaderSize is the size of a free-list page's header, which
	// follows the common 8-byte header (4-byte type tag + 4-byte LSN).
	freePageHeaderSize = 8

	// maxFreePageEntries is how many page ids fit in one free-list page
	// after its common header and free-list header.
	maxFreePageEntries = (PageSize - 8 - freePageHeaderSize) / 4

	freeListHeaderOffset  = 8
	freeListEntriesOffset = freeListHeaderOffset + freePageHeaderSize
)

// freePageHeader is the header of one page in the disk manager's free-list
// chain: a linked list of pages, each holding a batch of deallocated page
// ids available for reuse.
type freePageHeader struct {
	NextFreeListPage PageID // InvalidPageID if this is the last page in the chain
	EntryCount       uint32
}

func serializeFreeHeader(page *Page, h *freePageHeader) {
	binary.LittleEndian.PutUint32(page.Data[freeListHeaderOffset:freeListHeaderOffset+4], uint32(h.NextFreeListPage))
	binary.LittleEndian.PutUint32(page.Data[freeListHeaderOffset+4:freeListHeaderOffset+8], h.EntryCount)
}

func deserializeFreeHeader(page *Page) *freePageHeader {
	return &freePageHeader{
		NextFreeListPage: PageID(binary.LittleEndian.Uint32(page.Data[freeListHeaderOffset : freeListHeaderOffset+4])),
		EntryCount:       binary.LittleEndian.Uint32(page.Data[freeListHeaderOffset+4 : freeListHeaderOffset+8]),
	}
}

func writeFreeEntry(page *Page, index uint32, pageID PageID) error {
	if index >= maxFreePageEntries {
		return fmt.Errorf("storage: free-list entry index %d exceeds maximum %d", index, maxFreePageEntries)
	}
	offset := freeListEntriesOffset + int(index)*4
	binary.LittleEndian.PutUint32(page.Data[offset:offset+4], uint32(pageID))
	return nil
}

func readFreeEntry(page *Page, index uint32) (PageID, error) {
	if index >= maxFreePageEntries {
		return 0, fmt.Errorf("storage: free-list entry index %d exceeds maximum %d", index, maxFreePageEntries)
	}
	offset := freeListEntriesOffset + int(index)*4
	return PageID(binary.LittleEndian.Uint32(page.Data[offset : offset+4])), nil
}

// initFreeListPage formats page as an empty free-list page.
func initFreeListPage(page *Page) {
	page.SetType(PageTypeFreeList)
	serializeFreeHeader(page, &freePageHeader{NextFreeListPage: InvalidPageID, EntryCount: 0})
	page.MarkDirty()
}

// pushFreeEntry appends pageID to page's free-list entries, reporting false
// if the page is already full.
func pushFreeEntry(page *Page, pageID PageID) (bool, error) {
	h := deserializeFreeHeader(page)
	if h.EntryCount >= maxFreePageEntries {
		return false, nil
	}
	if err := writeFreeEntry(page, h.EntryCount, pageID); err != nil {
		return false, err
	}
	h.EntryCount++
	serializeFreeHeader(page, h)
	page.MarkDirty()
	return true, nil
}

// popFreeEntry removes and returns the last free-list entry on page,
// reporting false if the page is empty.
func popFreeEntry(page *Page) (PageID, bool, error) {
	h := deserializeFreeHeader(page)
	if h.EntryCount == 0 {
		return 0, false, nil
	}
	h.EntryCount--
	pageID, err := readFreeEntry(page, h.EntryCount)
	if err != nil {
		return 0, false, err
	}
	serializeFreeHeader(page, h)
	page.MarkDirty()
	return pageID, true, nil
}
