package btree

import "github.com/arlobase/enginecore/pkg/storage"

// Transaction is an opaque handle threaded through every tree operation,
// tracking the pages pinned along the current descent in a pin queue so
// they can be released in one sweep on return, or one at a time as the
// tree is done with a node (an internal node once its child pointer has
// been read). It tracks pins only; page latches are not taken.
type Transaction struct {
	pool   *storage.BufferPoolManager
	pinned []storage.PageID
}

// NewTransaction starts an empty pin queue against pool.
func NewTransaction(pool *storage.BufferPoolManager) *Transaction {
	return &Transaction{pool: pool}
}

func (t *Transaction) track(id storage.PageID) {
	t.pinned = append(t.pinned, id)
}

// release unpins a single tracked page, marking it dirty if requested, and
// drops it from the pin queue. A no-op if id isn't tracked.
func (t *Transaction) release(id storage.PageID, dirty bool) {
	for i, p := range t.pinned {
		if p == id {
			t.pool.UnpinPage(id, dirty)
			t.pinned = append(t.pinned[:i], t.pinned[i+1:]...)
			return
		}
	}
}

// releaseAll unpins every page still in the pin queue, marking each dirty
// if requested, and empties the queue.
func (t *Transaction) releaseAll(dirty bool) {
	for _, id := range t.pinned {
		t.pool.UnpinPage(id, dirty)
	}
	t.pinned = t.pinned[:0]
}
