package btree

import (
	"encoding/binary"

	"github.com/arlobase/enginecore/pkg/storage"
)

// Byte offsets within a node page's common header:
//
//	0..3   page_type
//	4..7   lsn
//	8..11  size
//	12..15 max_size
//	16..19 parent_id
//	20..23 page_id
//	24..27 next_page_id (leaf pages only)
const (
	offSize     = 8
	offMaxSize  = 12
	offParentID = 16
	offPageID   = 20
	offNextLeaf = 24

	commonHeaderSize = 24
	leafHeaderSize   = 28
)

// node is a typed view over a *storage.Page, interpreting its bytes as a
// B+ tree internal or leaf node according to the page's own type tag — a
// tagged variant rather than two Go types related by inheritance, since
// Go has none.
//
// An internal node's entries are (key, child page id) pairs; entry 0's
// key is never read or compared against, only its child pointer. A leaf
// node's entries are (key, value) pairs and leaves additionally chain via
// next_page_id for the iterator.
type node[K any, V any] struct {
	page     *storage.Page
	keyCodec Codec[K]
	valCodec Codec[V]
}

func newNode[K any, V any](page *storage.Page, keyCodec Codec[K], valCodec Codec[V]) node[K, V] {
	return node[K, V]{page: page, keyCodec: keyCodec, valCodec: valCodec}
}

func (n node[K, V]) PageID() storage.PageID { return n.page.ID }

func (n node[K, V]) IsLeaf() bool { return n.page.Type() == storage.PageTypeLeaf }

func (n node[K, V]) Size() int {
	return int(int32(binary.LittleEndian.Uint32(n.page.Data[offSize : offSize+4])))
}

func (n node[K, V]) setSize(v int) {
	binary.LittleEndian.PutUint32(n.page.Data[offSize:offSize+4], uint32(v))
	n.page.MarkDirty()
}

func (n node[K, V]) MaxSize() int {
	return int(int32(binary.LittleEndian.Uint32(n.page.Data[offMaxSize : offMaxSize+4])))
}

func (n node[K, V]) setMaxSize(v int) {
	binary.LittleEndian.PutUint32(n.page.Data[offMaxSize:offMaxSize+4], uint32(v))
	n.page.MarkDirty()
}

func (n node[K, V]) ParentID() storage.PageID {
	return storage.PageID(int32(binary.LittleEndian.Uint32(n.page.Data[offParentID : offParentID+4])))
}

func (n node[K, V]) setParentID(id storage.PageID) {
	binary.LittleEndian.PutUint32(n.page.Data[offParentID:offParentID+4], uint32(id))
	n.page.MarkDirty()
}

func (n node[K, V]) setPageID(id storage.PageID) {
	binary.LittleEndian.PutUint32(n.page.Data[offPageID:offPageID+4], uint32(id))
	n.page.MarkDirty()
}

// NextPageID is only meaningful on a leaf node.
func (n node[K, V]) NextPageID() storage.PageID {
	return storage.PageID(int32(binary.LittleEndian.Uint32(n.page.Data[offNextLeaf : offNextLeaf+4])))
}

func (n node[K, V]) setNextPageID(id storage.PageID) {
	binary.LittleEndian.PutUint32(n.page.Data[offNextLeaf:offNextLeaf+4], uint32(id))
	n.page.MarkDirty()
}

func (n node[K, V]) headerSize() int {
	if n.IsLeaf() {
		return leafHeaderSize
	}
	return commonHeaderSize
}

func (n node[K, V]) entrySize() int {
	if n.IsLeaf() {
		return n.keyCodec.Size + n.valCodec.Size
	}
	return n.keyCodec.Size + 4
}

func (n node[K, V]) entryOffset(i int) int {
	return n.headerSize() + i*n.entrySize()
}

func (n node[K, V]) keyAt(i int) K {
	off := n.entryOffset(i)
	return n.keyCodec.Decode(n.page.Data[off : off+n.keyCodec.Size])
}

func (n node[K, V]) setKeyAt(i int, k K) {
	off := n.entryOffset(i)
	n.keyCodec.Encode(k, n.page.Data[off:off+n.keyCodec.Size])
	n.page.MarkDirty()
}

// valueAt is only meaningful on a leaf node.
func (n node[K, V]) valueAt(i int) V {
	off := n.entryOffset(i) + n.keyCodec.Size
	return n.valCodec.Decode(n.page.Data[off : off+n.valCodec.Size])
}

func (n node[K, V]) setValueAt(i int, v V) {
	off := n.entryOffset(i) + n.keyCodec.Size
	n.valCodec.Encode(v, n.page.Data[off:off+n.valCodec.Size])
	n.page.MarkDirty()
}

// childAt is only meaningful on an internal node.
func (n node[K, V]) childAt(i int) storage.PageID {
	off := n.entryOffset(i) + n.keyCodec.Size
	return storage.PageID(int32(binary.LittleEndian.Uint32(n.page.Data[off : off+4])))
}

func (n node[K, V]) setChildAt(i int, id storage.PageID) {
	off := n.entryOffset(i) + n.keyCodec.Size
	binary.LittleEndian.PutUint32(n.page.Data[off:off+4], uint32(id))
	n.page.MarkDirty()
}

// makeRoomAt shifts entries [i, size) one slot to the right and grows size
// by one, leaving a blank slot at i for the caller to fill. i == size
// appends.
func (n node[K, V]) makeRoomAt(i int) {
	size := n.Size()
	es := n.entrySize()
	start := n.entryOffset(i)
	end := n.entryOffset(size)
	copy(n.page.Data[start+es:end+es], n.page.Data[start:end])
	n.setSize(size + 1)
}

// removeEntryAt shifts entries (i, size) one slot to the left, shrinking
// size by one.
func (n node[K, V]) removeEntryAt(i int) {
	size := n.Size()
	es := n.entrySize()
	start := n.entryOffset(i)
	end := n.entryOffset(size)
	copy(n.page.Data[start:end-es], n.page.Data[start+es:end])
	n.setSize(size - 1)
}

// initLeaf formats page as a fresh, empty leaf node.
func initLeaf[K any, V any](page *storage.Page, maxSize int, keyCodec Codec[K], valCodec Codec[V]) node[K, V] {
	page.SetType(storage.PageTypeLeaf)
	n := newNode(page, keyCodec, valCodec)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setParentID(storage.InvalidPageID)
	n.setPageID(page.ID)
	n.setNextPageID(storage.InvalidPageID)
	return n
}

// initInternal formats page as a fresh, empty internal node.
func initInternal[K any, V any](page *storage.Page, maxSize int, keyCodec Codec[K], valCodec Codec[V]) node[K, V] {
	page.SetType(storage.PageTypeInternal)
	n := newNode(page, keyCodec, valCodec)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setParentID(storage.InvalidPageID)
	n.setPageID(page.ID)
	return n
}
