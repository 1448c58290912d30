package btree

import (
	"fmt"
	"sync"

	"github.com/arlobase/enginecore/pkg/storage"
)

// Tree is a disk-resident, unique-key B+ tree index: every node is a page
// owned by a buffer pool, fetched and unpinned through a Transaction's pin
// queue as operations descend and climb.
//
// Concurrency is coarser than true lock-coupling: one RWMutex per tree
// serializes writers against each other and against readers, rather than
// latching pages individually and releasing an ancestor as soon as its
// child is certified safe. See DESIGN.md for why that finer-grained
// crabbing was traded for this simpler, still-correct scheme.
type Tree[K any, V any] struct {
	pool    *storage.BufferPoolManager
	header  *HeaderPage
	name    string
	compare Comparator[K]

	keyCodec Codec[K]
	valCodec Codec[V]

	leafMax     int
	leafMin     int
	internalMax int
	internalMin int

	mu         sync.RWMutex
	rootPageID storage.PageID
}

// Options configures a Tree beyond its key/value types. The zero value
// (also returned by DefaultOptions) computes leaf and internal node
// capacity from how many fixed-width entries fit in a page, which is what
// every production tree wants; LeafMaxSize/InternalMaxSize let a caller
// pin a smaller concrete value instead, the way the worked examples fix
// leaf_max=4 to make splits and merges reachable without paging in
// thousands of keys.
type Options struct {
	LeafMaxSize     int
	InternalMaxSize int
}

// DefaultOptions returns the zero-value Options: node capacity computed
// from the key/value codec widths.
func DefaultOptions() *Options {
	return &Options{}
}

// New opens (creating on first use) the named tree stored in pool, keyed
// by K and valued by V via the given comparator and codecs. A nil opts is
// equivalent to DefaultOptions().
func New[K any, V any](pool *storage.BufferPoolManager, name string, compare Comparator[K], keyCodec Codec[K], valCodec Codec[V], opts *Options) (*Tree[K, V], error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	header, err := NewHeaderPage(pool)
	if err != nil {
		return nil, err
	}

	root := storage.InvalidPageID
	if id, ok, err := header.RootPageID(name); err != nil {
		return nil, err
	} else if ok {
		root = id
	}

	leafMax := opts.LeafMaxSize
	if leafMax == 0 {
		leafEntry := keyCodec.Size + valCodec.Size
		leafMax = (storage.PageSize - leafHeaderSize) / leafEntry
	}
	internalMax := opts.InternalMaxSize
	if internalMax == 0 {
		internalEntry := keyCodec.Size + 4
		internalMax = (storage.PageSize - commonHeaderSize) / internalEntry
	}

	if leafMax < 3 || internalMax < 3 {
		return nil, fmt.Errorf("btree: key/value types too large to fit a usable node (leaf_max=%d, internal_max=%d)", leafMax, internalMax)
	}

	return &Tree[K, V]{
		pool:        pool,
		header:      header,
		name:        name,
		compare:     compare,
		keyCodec:    keyCodec,
		valCodec:    valCodec,
		leafMax:     leafMax,
		leafMin:     leafMax / 2, // ceil((max-1)/2)
		internalMax: internalMax,
		internalMin: (internalMax + 1) / 2, // ceil(max/2)
		rootPageID:  root,
	}, nil
}

// IsEmpty reports whether the tree currently has no root page.
func (t *Tree[K, V]) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootPageID == storage.InvalidPageID
}

// RootPageID returns the tree's current root page id, or
// storage.InvalidPageID if the tree is empty.
func (t *Tree[K, V]) RootPageID() storage.PageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootPageID
}

func (t *Tree[K, V]) fetchNode(txn *Transaction, id storage.PageID) (node[K, V], error) {
	page, err := t.pool.FetchPage(id)
	if err != nil {
		return node[K, V]{}, err
	}
	txn.track(id)
	return newNode(page, t.keyCodec, t.valCodec), nil
}

func (t *Tree[K, V]) releaseNode(txn *Transaction, id storage.PageID, dirty bool) {
	txn.release(id, dirty)
}

func (t *Tree[K, V]) minSizeFor(n node[K, V]) int {
	if n.IsLeaf() {
		return t.leafMin
	}
	return t.internalMin
}

// chooseChild picks the child pointer an internal node routes key
// through: the rightmost entry whose key is <= the target, or entry 0 if
// none qualifies (entry 0's key is never compared against).
func (t *Tree[K, V]) chooseChild(n node[K, V], key K) storage.PageID {
	size := n.Size()
	for i := size - 1; i >= 1; i-- {
		if t.compare(n.keyAt(i), key) <= 0 {
			return n.childAt(i)
		}
	}
	return n.childAt(0)
}

// findLeafPageID descends from the root to the leaf that would hold key,
// unpinning each internal node as soon as its child pointer is read.
func (t *Tree[K, V]) findLeafPageID(txn *Transaction, key K) (storage.PageID, error) {
	id := t.rootPageID
	for {
		n, err := t.fetchNode(txn, id)
		if err != nil {
			return storage.InvalidPageID, err
		}
		if n.IsLeaf() {
			return id, nil
		}
		child := t.chooseChild(n, key)
		t.releaseNode(txn, id, false)
		id = child
	}
}

// searchLeaf returns the index of key within n if present, or the index
// it would be inserted at to keep entries ascending, and whether it was
// found.
func (t *Tree[K, V]) searchLeaf(n node[K, V], key K) (int, bool) {
	size := n.Size()
	for i := 0; i < size; i++ {
		c := t.compare(n.keyAt(i), key)
		if c == 0 {
			return i, true
		}
		if c > 0 {
			return i, false
		}
	}
	return size, false
}

func (t *Tree[K, V]) findChildIndex(parent node[K, V], childID storage.PageID) int {
	size := parent.Size()
	for i := 0; i < size; i++ {
		if parent.childAt(i) == childID {
			return i
		}
	}
	return -1
}

// GetValue returns the value stored under key, if any.
func (t *Tree[K, V]) GetValue(key K) ([]V, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootPageID == storage.InvalidPageID {
		return nil, nil
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
	idx, found := t.searchLeaf(leaf, key)
	if !found {
		return nil, nil
	}
	return []V{leaf.valueAt(idx)}, nil
}

// Insert adds key/value to the tree, splitting nodes upward as needed. It
// reports false without error if key already exists (unique keys only).
func (t *Tree[K, V]) Insert(key K, value V) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	txn := NewTransaction(t.pool)
	ok, err := t.insertLocked(txn, key, value)
	txn.releaseAll(true)
	return ok, err
}

func (t *Tree[K, V]) insertLocked(txn *Transaction, key K, value V) (bool, error) {
	if t.rootPageID == storage.InvalidPageID {
		page, err := t.pool.NewPage()
		if err != nil {
			return false, fmt.Errorf("btree: allocate root leaf: %w", err)
		}
		txn.track(page.ID)
		leaf := initLeaf(page, t.leafMax, t.keyCodec, t.valCodec)
		t.insertIntoLeaf(leaf, 0, key, value)

		t.rootPageID = page.ID
		if err := t.header.SetRootPageID(t.name, t.rootPageID); err != nil {
			return false, fmt.Errorf("btree: register root page: %w", err)
		}
		return true, nil
	}

	leafID, err := t.findLeafPageID(txn, key)
	if err != nil {
		return false, err
	}
	leaf, err := t.fetchNode(txn, leafID)
	if err != nil {
		return false, err
	}

	idx, found := t.searchLeaf(leaf, key)
	if found {
		return false, nil
	}
	t.insertIntoLeaf(leaf, idx, key, value)

	if leaf.Size() > leaf.MaxSize() {
		if err := t.splitLeaf(txn, leaf); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (t *Tree[K, V]) insertIntoLeaf(n node[K, V], idx int, key K, value V) {
	n.makeRoomAt(idx)
	n.setKeyAt(idx, key)
	n.setValueAt(idx, value)
}

// splitLeaf splits an overflowing leaf in half, the new right sibling's
// first key becoming the separator lifted into the parent.
func (t *Tree[K, V]) splitLeaf(txn *Transaction, leaf node[K, V]) error {
	newPage, err := t.pool.NewPage()
	if err != nil {
		return fmt.Errorf("btree: allocate leaf sibling: %w", err)
	}
	txn.track(newPage.ID)
	sibling := initLeaf(newPage, t.leafMax, t.keyCodec, t.valCodec)

	size := leaf.Size()
	mid := size / 2
	moveCount := size - mid
	for i := 0; i < moveCount; i++ {
		sibling.setKeyAt(i, leaf.keyAt(mid+i))
		sibling.setValueAt(i, leaf.valueAt(mid+i))
	}
	sibling.setSize(moveCount)
	leaf.setSize(mid)

	sibling.setNextPageID(leaf.NextPageID())
	leaf.setNextPageID(sibling.PageID())
	sibling.setParentID(leaf.ParentID())

	separator := sibling.keyAt(0)
	return t.insertIntoParent(txn, leaf, separator, sibling)
}

// splitInternal splits an overflowing internal node, lifting the key at
// its min-size position into the parent.
func (t *Tree[K, V]) splitInternal(txn *Transaction, n node[K, V]) error {
	newPage, err := t.pool.NewPage()
	if err != nil {
		return fmt.Errorf("btree: allocate internal sibling: %w", err)
	}
	txn.track(newPage.ID)
	sibling := initInternal(newPage, t.internalMax, t.keyCodec, t.valCodec)

	size := n.Size()
	mid := t.internalMin
	median := n.keyAt(mid)

	moveCount := size - mid
	for i := 0; i < moveCount; i++ {
		if i > 0 {
			sibling.setKeyAt(i, n.keyAt(mid+i))
		}
		child := n.childAt(mid + i)
		sibling.setChildAt(i, child)
		if err := t.reparentChild(txn, child, sibling.PageID()); err != nil {
			return err
		}
	}
	sibling.setSize(moveCount)
	n.setSize(mid)
	sibling.setParentID(n.ParentID())

	return t.insertIntoParent(txn, n, median, sibling)
}

func (t *Tree[K, V]) reparentChild(txn *Transaction, childID storage.PageID, parentID storage.PageID) error {
	child, err := t.fetchNode(txn, childID)
	if err != nil {
		return err
	}
	child.setParentID(parentID)
	t.releaseNode(txn, childID, true)
	return nil
}

// insertIntoParent links right as left's new right sibling under
// separator, creating a new root if left had none, and recursively
// splitting the parent if that overflows it.
func (t *Tree[K, V]) insertIntoParent(txn *Transaction, left node[K, V], separator K, right node[K, V]) error {
	parentID := left.ParentID()

	if parentID == storage.InvalidPageID {
		page, err := t.pool.NewPage()
		if err != nil {
			return fmt.Errorf("btree: allocate new root: %w", err)
		}
		txn.track(page.ID)
		root := initInternal(page, t.internalMax, t.keyCodec, t.valCodec)
		root.setSize(2)
		root.setChildAt(0, left.PageID())
		root.setKeyAt(1, separator)
		root.setChildAt(1, right.PageID())

		left.setParentID(root.PageID())
		right.setParentID(root.PageID())

		t.rootPageID = root.PageID()
		return t.header.SetRootPageID(t.name, t.rootPageID)
	}

	parent, err := t.fetchNode(txn, parentID)
	if err != nil {
		return err
	}

	idx := t.findChildIndex(parent, left.PageID())
	insertAt := idx + 1
	parent.makeRoomAt(insertAt)
	parent.setKeyAt(insertAt, separator)
	parent.setChildAt(insertAt, right.PageID())
	right.setParentID(parentID)

	if parent.Size() > parent.MaxSize() {
		return t.splitInternal(txn, parent)
	}
	return nil
}

// propagateSeparator walks up from a leaf whose entry 0 key just changed,
// updating the first ancestor that references it through a non-zero
// child index (the separator at a zero index is never read).
func (t *Tree[K, V]) propagateSeparator(txn *Transaction, leaf node[K, V]) error {
	newKey := leaf.keyAt(0)
	childID := leaf.PageID()
	parentID := leaf.ParentID()

	for parentID != storage.InvalidPageID {
		parent, err := t.fetchNode(txn, parentID)
		if err != nil {
			return err
		}
		idx := t.findChildIndex(parent, childID)
		if idx > 0 {
			parent.setKeyAt(idx, newKey)
			return nil
		}
		childID = parentID
		parentID = parent.ParentID()
	}
	return nil
}

// Remove deletes key from the tree, if present, rebalancing underflowing
// nodes by borrowing from a sibling or merging with one, cascading the
// resulting internal-node deficiency upward and collapsing the root when
// it's left with a single child.
func (t *Tree[K, V]) Remove(key K) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootPageID == storage.InvalidPageID {
		return nil
	}

	txn := NewTransaction(t.pool)
	err := t.removeLocked(txn, key)
	txn.releaseAll(true)
	return err
}

func (t *Tree[K, V]) removeLocked(txn *Transaction, key K) error {
	leafID, err := t.findLeafPageID(txn, key)
	if err != nil {
		return err
	}
	leaf, err := t.fetchNode(txn, leafID)
	if err != nil {
		return err
	}

	idx, found := t.searchLeaf(leaf, key)
	if !found {
		return nil
	}
	leaf.removeEntryAt(idx)

	if idx == 0 && leaf.Size() > 0 {
		if err := t.propagateSeparator(txn, leaf); err != nil {
			return err
		}
	}

	if leaf.PageID() == t.rootPageID {
		if leaf.Size() == 0 {
			t.rootPageID = storage.InvalidPageID
			return t.header.SetRootPageID(t.name, t.rootPageID)
		}
		return nil
	}

	if leaf.Size() < t.leafMin {
		return t.fixUnderflow(txn, leaf)
	}
	return nil
}

func (t *Tree[K, V]) fixUnderflow(txn *Transaction, n node[K, V]) error {
	if n.PageID() == t.rootPageID {
		return t.fixRootUnderflow(txn, n)
	}

	parentID := n.ParentID()
	parent, err := t.fetchNode(txn, parentID)
	if err != nil {
		return err
	}
	idx := t.findChildIndex(parent, n.PageID())

	if idx > 0 {
		left, err := t.fetchNode(txn, parent.childAt(idx-1))
		if err != nil {
			return err
		}
		if left.Size() > t.minSizeFor(left) {
			return t.borrowFromLeft(txn, parent, idx, left, n)
		}
	}
	if idx < parent.Size()-1 {
		right, err := t.fetchNode(txn, parent.childAt(idx+1))
		if err != nil {
			return err
		}
		if right.Size() > t.minSizeFor(right) {
			return t.borrowFromRight(txn, parent, idx, n, right)
		}
	}

	if idx > 0 {
		left, err := t.fetchNode(txn, parent.childAt(idx-1))
		if err != nil {
			return err
		}
		return t.mergeNodes(txn, parent, idx-1, left, n)
	}
	right, err := t.fetchNode(txn, parent.childAt(idx+1))
	if err != nil {
		return err
	}
	return t.mergeNodes(txn, parent, idx, n, right)
}

// borrowFromLeft rotates left's last entry into n's front through the
// parent separator at idx.
func (t *Tree[K, V]) borrowFromLeft(txn *Transaction, parent node[K, V], idx int, left, n node[K, V]) error {
	lastIdx := left.Size() - 1

	if n.IsLeaf() {
		k := left.keyAt(lastIdx)
		v := left.valueAt(lastIdx)
		left.removeEntryAt(lastIdx)

		n.makeRoomAt(0)
		n.setKeyAt(0, k)
		n.setValueAt(0, v)

		parent.setKeyAt(idx, k)
		return nil
	}

	borrowedChild := left.childAt(lastIdx)
	borrowedKey := left.keyAt(lastIdx)
	oldSeparator := parent.keyAt(idx)
	left.removeEntryAt(lastIdx)

	n.makeRoomAt(0)
	n.setChildAt(0, borrowedChild)
	n.setKeyAt(1, oldSeparator)

	parent.setKeyAt(idx, borrowedKey)
	return t.reparentChild(txn, borrowedChild, n.PageID())
}

// borrowFromRight rotates right's first entry into n's end through the
// parent separator at idx+1.
func (t *Tree[K, V]) borrowFromRight(txn *Transaction, parent node[K, V], idx int, n, right node[K, V]) error {
	if n.IsLeaf() {
		k := right.keyAt(0)
		v := right.valueAt(0)
		right.removeEntryAt(0)

		n.makeRoomAt(n.Size())
		n.setKeyAt(n.Size()-1, k)
		n.setValueAt(n.Size()-1, v)

		parent.setKeyAt(idx+1, right.keyAt(0))
		return nil
	}

	borrowedChild := right.childAt(0)
	liftedSeparator := right.keyAt(1)
	oldSeparator := parent.keyAt(idx + 1)
	right.removeEntryAt(0)

	n.makeRoomAt(n.Size())
	n.setChildAt(n.Size()-1, borrowedChild)
	n.setKeyAt(n.Size()-1, oldSeparator)

	parent.setKeyAt(idx+1, liftedSeparator)
	return t.reparentChild(txn, borrowedChild, n.PageID())
}

// mergeNodes concatenates right into left, dropping the separator between
// them from parent, deallocating right's page, and recursing into
// parent's own deficiency (merging shrinks its child count by one).
func (t *Tree[K, V]) mergeNodes(txn *Transaction, parent node[K, V], leftIdx int, left, right node[K, V]) error {
	if left.IsLeaf() {
		base := left.Size()
		rsize := right.Size()
		for i := 0; i < rsize; i++ {
			left.makeRoomAt(base + i)
			left.setKeyAt(base+i, right.keyAt(i))
			left.setValueAt(base+i, right.valueAt(i))
		}
		left.setNextPageID(right.NextPageID())
	} else {
		separator := parent.keyAt(leftIdx + 1)
		base := left.Size()
		left.makeRoomAt(base)
		left.setKeyAt(base, separator)
		left.setChildAt(base, right.childAt(0))
		if err := t.reparentChild(txn, right.childAt(0), left.PageID()); err != nil {
			return err
		}

		rsize := right.Size()
		for i := 1; i < rsize; i++ {
			idx := base + i
			left.makeRoomAt(idx)
			left.setKeyAt(idx, right.keyAt(i))
			left.setChildAt(idx, right.childAt(i))
			if err := t.reparentChild(txn, right.childAt(i), left.PageID()); err != nil {
				return err
			}
		}
	}

	parent.removeEntryAt(leftIdx + 1)

	// right may have been fetched more than once during this operation
	// (descent, sibling probes); drop every pin the pin queue holds on it
	// so the buffer pool will agree to delete it.
	rightID := right.PageID()
	for _, p := range append([]storage.PageID(nil), txn.pinned...) {
		if p == rightID {
			t.releaseNode(txn, rightID, false)
		}
	}
	if ok, err := t.pool.DeletePage(rightID); err != nil {
		return fmt.Errorf("btree: delete merged page %d: %w", rightID, err)
	} else if !ok {
		return fmt.Errorf("btree: merged page %d could not be deleted (still pinned)", rightID)
	}

	if parent.PageID() == t.rootPageID {
		return t.fixRootUnderflow(txn, parent)
	}
	if parent.Size() < t.internalMin {
		return t.fixUnderflow(txn, parent)
	}
	return nil
}

// fixRootUnderflow applies the root's relaxed rules: a root leaf tolerates
// any size down to zero (at which point the tree becomes empty); a root
// internal left with a single child is collapsed, promoting that child to
// root.
func (t *Tree[K, V]) fixRootUnderflow(txn *Transaction, n node[K, V]) error {
	if n.IsLeaf() {
		if n.Size() == 0 {
			t.rootPageID = storage.InvalidPageID
			return t.header.SetRootPageID(t.name, t.rootPageID)
		}
		return nil
	}

	if n.Size() > 1 {
		return nil
	}

	childID := n.childAt(0)
	child, err := t.fetchNode(txn, childID)
	if err != nil {
		return err
	}
	child.setParentID(storage.InvalidPageID)

	oldRootID := n.PageID()
	for _, p := range append([]storage.PageID(nil), txn.pinned...) {
		if p == oldRootID {
			t.releaseNode(txn, oldRootID, false)
		}
	}
	if ok, err := t.pool.DeletePage(oldRootID); err != nil {
		return fmt.Errorf("btree: delete collapsed root %d: %w", oldRootID, err)
	} else if !ok {
		return fmt.Errorf("btree: collapsed root %d could not be deleted (still pinned)", oldRootID)
	}

	t.rootPageID = childID
	return t.header.SetRootPageID(t.name, t.rootPageID)
}
