package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/arlobase/enginecore/pkg/storage"
)

// Page 0 of every data file is reserved as an index-name -> root-page-id
// registry, letting more than one named tree share a single buffer pool
// and data file (the worked single-tree examples only ever register one
// name, but nothing about the node layout or the pool restricts this to
// one tree per file).
const (
	headerPageID     = storage.PageID(0)
	headerCountOff   = 8
	headerEntriesOff = 12
	headerNameSize   = 32
	headerEntrySize  = headerNameSize + 4
)

// HeaderPage wraps access to page 0's name registry.
type HeaderPage struct {
	pool *storage.BufferPoolManager
}

// NewHeaderPage fetches (formatting it on first use) the data file's
// header page.
func NewHeaderPage(pool *storage.BufferPoolManager) (*HeaderPage, error) {
	page, err := pool.FetchPage(headerPageID)
	if err != nil {
		return nil, fmt.Errorf("btree: fetch header page: %w", err)
	}

	if page.Type() == storage.PageTypeHeader {
		if _, err := pool.UnpinPage(headerPageID, false); err != nil {
			return nil, err
		}
		return &HeaderPage{pool: pool}, nil
	}

	// Brand new file: page 0 comes back zeroed (PageTypeInvalid). Claim it
	// properly through NewPage so the disk manager's id allocator knows
	// id 0 is taken, rather than writing over it out of band.
	if _, err := pool.UnpinPage(headerPageID, false); err != nil {
		return nil, err
	}
	allocated, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("btree: allocate header page: %w", err)
	}
	if allocated.ID != headerPageID {
		return nil, fmt.Errorf("btree: expected header page id %d on a fresh file, got %d", headerPageID, allocated.ID)
	}
	allocated.SetType(storage.PageTypeHeader)
	binary.LittleEndian.PutUint32(allocated.Data[headerCountOff:headerCountOff+4], 0)
	allocated.MarkDirty()
	if _, err := pool.UnpinPage(headerPageID, true); err != nil {
		return nil, err
	}
	return &HeaderPage{pool: pool}, nil
}

func trimName(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// RootPageID looks up the root page id registered under name.
func (h *HeaderPage) RootPageID(name string) (storage.PageID, bool, error) {
	page, err := h.pool.FetchPage(headerPageID)
	if err != nil {
		return storage.InvalidPageID, false, err
	}
	defer h.pool.UnpinPage(headerPageID, false)

	count := int(binary.LittleEndian.Uint32(page.Data[headerCountOff : headerCountOff+4]))
	for i := 0; i < count; i++ {
		off := headerEntriesOff + i*headerEntrySize
		if trimName(page.Data[off:off+headerNameSize]) == name {
			id := storage.PageID(int32(binary.LittleEndian.Uint32(page.Data[off+headerNameSize : off+headerNameSize+4])))
			return id, true, nil
		}
	}
	return storage.InvalidPageID, false, nil
}

// SetRootPageID registers (or updates) name's root page id.
func (h *HeaderPage) SetRootPageID(name string, root storage.PageID) error {
	if len(name) > headerNameSize {
		return fmt.Errorf("btree: index name %q longer than %d bytes", name, headerNameSize)
	}
	page, err := h.pool.FetchPage(headerPageID)
	if err != nil {
		return err
	}
	defer h.pool.UnpinPage(headerPageID, true)

	count := int(binary.LittleEndian.Uint32(page.Data[headerCountOff : headerCountOff+4]))
	for i := 0; i < count; i++ {
		off := headerEntriesOff + i*headerEntrySize
		if trimName(page.Data[off:off+headerNameSize]) == name {
			binary.LittleEndian.PutUint32(page.Data[off+headerNameSize:off+headerNameSize+4], uint32(root))
			page.MarkDirty()
			return nil
		}
	}

	off := headerEntriesOff + count*headerEntrySize
	if off+headerEntrySize > storage.PageSize {
		return fmt.Errorf("btree: header page full, cannot register index %q", name)
	}
	var nameBuf [headerNameSize]byte
	copy(nameBuf[:], name)
	copy(page.Data[off:off+headerNameSize], nameBuf[:])
	binary.LittleEndian.PutUint32(page.Data[off+headerNameSize:off+headerNameSize+4], uint32(root))
	binary.LittleEndian.PutUint32(page.Data[headerCountOff:headerCountOff+4], uint32(count+1))
	page.MarkDirty()
	return nil
}
