package btree

import (
	"github.com/arlobase/enginecore/pkg/storage"
)

// Iterator walks a tree's leaves in ascending key order. It holds at most
// one leaf page pinned at a time, advancing to the next leaf via
// next_page_id once the current one is exhausted.
type Iterator[K any, V any] struct {
	tree   *Tree[K, V]
	pageID storage.PageID
	index  int
}

// IsEnd reports whether the iterator has passed the last entry.
func (it *Iterator[K, V]) IsEnd() bool {
	return it.pageID == storage.InvalidPageID
}

// Next returns the current entry and advances the iterator.
func (it *Iterator[K, V]) Next() (K, V, error) {
	var zeroK K
	var zeroV V
	if it.IsEnd() {
		return zeroK, zeroV, ErrIteratorExhausted
	}

	page, err := it.tree.pool.FetchPage(it.pageID)
	if err != nil {
		return zeroK, zeroV, err
	}
	n := newNode(page, it.tree.keyCodec, it.tree.valCodec)
	k := n.keyAt(it.index)
	v := n.valueAt(it.index)

	it.index++
	if it.index >= n.Size() {
		next := n.NextPageID()
		if _, err := it.tree.pool.UnpinPage(it.pageID, false); err != nil {
			return zeroK, zeroV, err
		}
		it.pageID = next
		it.index = 0
	} else {
		if _, err := it.tree.pool.UnpinPage(it.pageID, false); err != nil {
			return zeroK, zeroV, err
		}
	}

	return k, v, nil
}

// Begin returns an iterator positioned at the tree's first entry.
func (t *Tree[K, V]) Begin() (*Iterator[K, V], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootPageID == storage.InvalidPageID {
		return &Iterator[K, V]{tree: t, pageID: storage.InvalidPageID}, nil
	}

	txn := NewTransaction(t.pool)
	defer txn.releaseAll(false)

	id := t.rootPageID
	for {
		n, err := t.fetchNode(txn, id)
		if err != nil {
			return nil, err
		}
		if n.IsLeaf() {
			return &Iterator[K, V]{tree: t, pageID: id, index: 0}, nil
		}
		child := n.childAt(0)
		t.releaseNode(txn, id, false)
		id = child
	}
}

// BeginAt returns an iterator positioned at the first entry with a key
// greater than or equal to key.
func (t *Tree[K, V]) BeginAt(key K) (*Iterator[K, V], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootPageID == storage.InvalidPageID {
		return &Iterator[K, V]{tree: t, pageID: storage.InvalidPageID}, nil
	}

	txn := NewTransaction(t.pool)
	defer txn.releaseAll(false)

	leafID, err := t.findLeafPageID(txn, key)
	if err != nil {
		return nil, err
	}
	leaf, err := t.fetchNode(txn, leafID)
	if err != nil {
		return nil, err
	}
	idx, _ := t.searchLeaf(leaf, key)

	if idx >= leaf.Size() {
		next := leaf.NextPageID()
		return &Iterator[K, V]{tree: t, pageID: next, index: 0}, nil
	}
	return &Iterator[K, V]{tree: t, pageID: leafID, index: idx}, nil
}

// End returns the sentinel end-of-tree iterator.
func (t *Tree[K, V]) End() *Iterator[K, V] {
	return &Iterator[K, V]{tree: t, pageID: storage.InvalidPageID}
}
