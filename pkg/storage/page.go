package storage

import (
	"encoding/binary"
	"fmt"
)

const (
	// PageSize is the fixed size of every page on disk and in memory.
	PageSize = 4096

	// InvalidPageID marks the absence of a page (an empty child pointer, a
	// just-allocated-but-unused slot, an empty tree's root).
	InvalidPageID PageID = -1
)

// PageID identifies a page within a data file. Page ids are dense and
// monotonically assigned by the disk manager; a negative value other than
// InvalidPageID never occurs.
type PageID int32

// PageType tags a page's common header so code reading a page back from the
// buffer pool knows how to interpret the rest of its bytes, without Go
// interface dispatch or inheritance — a tagged variant instead.
type PageType uint8

const (
	PageTypeInvalid PageType = iota
	PageTypeHeader           // page 0: index-name -> root-page-id registry
	PageTypeInternal         // b+ tree internal node
	PageTypeLeaf             // b+ tree leaf node
	PageTypeFreeList         // disk manager's free-page chain
)

func (t PageType) String() string {
	switch t {
	case PageTypeHeader:
		return "header"
	case PageTypeInternal:
		return "internal"
	case PageTypeLeaf:
		return "leaf"
	case PageTypeFreeList:
		return "free_list"
	default:
		return "invalid"
	}
}

// Page is one fixed-size (4096-byte) block of the data file, resident in a
// buffer pool frame. Data holds the page's raw bytes verbatim, including
// whatever header the page's type imposes on it (pkg/btree's node view and
// pkg/storage's free-list helpers interpret that header; Page itself only
// carries the bytes and the in-memory pin/dirty bookkeeping that never
// touches disk).
type Page struct {
	ID       PageID
	Data     [PageSize]byte
	PinCount int
	IsDirty  bool
}

// NewPage creates a zeroed page for id.
func NewPage(id PageID) *Page {
	return &Page{ID: id}
}

// Type reads the page's common header type tag: a 4-byte field at offset 0,
// shared by every page regardless of what the rest of its header holds —
// the same slot that doubles as the first word of a B+ tree node's 24-byte
// header.
func (p *Page) Type() PageType {
	return PageType(binary.LittleEndian.Uint32(p.Data[0:4]))
}

// SetType writes the page's common header type tag.
func (p *Page) SetType(t PageType) {
	binary.LittleEndian.PutUint32(p.Data[0:4], uint32(t))
}

// LSN reads the log sequence number of the last WAL record that made this
// page's in-memory content diverge from what's on disk: a 4-byte field at
// offset 4, immediately after the type tag. Every page type carries this
// field, not just B+ tree nodes, so the buffer pool's flush-before-evict
// rule doesn't need to know a page's concrete type.
func (p *Page) LSN() uint64 {
	return uint64(binary.LittleEndian.Uint32(p.Data[4:8]))
}

// SetLSN writes the page's log sequence number.
func (p *Page) SetLSN(lsn uint64) {
	binary.LittleEndian.PutUint32(p.Data[4:8], uint32(lsn))
}

// Pin increments the pin count, marking the page as in active use by a
// caller holding a reference to it.
func (p *Page) Pin() {
	p.PinCount++
}

// Unpin decrements the pin count and reports whether it did (false if the
// page was already unpinned, per the "no state change on an already-zero
// pin count" rule).
func (p *Page) Unpin() bool {
	if p.PinCount <= 0 {
		return false
	}
	p.PinCount--
	return true
}

// IsPinned reports whether the page has at least one outstanding pin.
func (p *Page) IsPinned() bool {
	return p.PinCount > 0
}

// MarkDirty marks the page as modified since its last disk write.
func (p *Page) MarkDirty() {
	p.IsDirty = true
}

// Reset zeroes the page, clears its pin count and dirty bit, and reassigns
// it to id. The buffer pool does not call it: it installs a fresh Page in
// a repurposed frame instead.
func (p *Page) Reset(id PageID) {
	p.ID = id
	for i := range p.Data {
		p.Data[i] = 0
	}
	p.PinCount = 0
	p.IsDirty = false
}

// Bytes returns the page's raw content for writing to disk.
func (p *Page) Bytes() []byte {
	return p.Data[:]
}

// LoadBytes overwrites the page's content with data read from disk. data
// must be exactly PageSize bytes.
func (p *Page) LoadBytes(data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("storage: invalid page payload: expected %d bytes, got %d", PageSize, len(data))
	}
	copy(p.Data[:], data)
	return nil
}
