package btree

import (
	"path/filepath"
	"testing"

	"github.com/arlobase/enginecore/pkg/storage"
)

// testMaxSize pins leaf_max=4/internal_max=4, the canonical worked
// configuration small enough that a handful of inserts/deletes actually
// reach the split, borrow, merge, and root-collapse paths, rather than the
// ~339/~509 max sizes a 4-byte key / 8-byte value config computes from a
// full 4096-byte page.
var testMaxSize = &Options{LeafMaxSize: 4, InternalMaxSize: 4}

// newTestTree builds a fresh int32-keyed, RecordID-valued tree backed by a
// small buffer pool, matching the canonical worked configuration
// (pool_size=10, k=2, leaf_max=4, internal_max=4).
func newTestTree(t *testing.T, poolSize int) *Tree[int32, RecordID] {
	t.Helper()
	dir := t.TempDir()
	disk, err := storage.NewFileDiskManager(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("NewFileDiskManager() error: %v", err)
	}
	wal, err := storage.NewWAL(filepath.Join(dir, "wal.log"))
	if err != nil {
		t.Fatalf("NewWAL() error: %v", err)
	}
	t.Cleanup(func() {
		disk.Close()
		wal.Close()
	})
	pool := storage.NewBufferPoolManager(poolSize, disk, wal, 2)

	tree, err := New[int32, RecordID](pool, "test_index", Int32Comparator, Int32Codec(), RecordIDCodec(), testMaxSize)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return tree
}

func rid(n int32) RecordID {
	return RecordID{PageID: storage.PageID(n), Slot: uint32(n)}
}

func TestFreshTreeInsertAndSearch(t *testing.T) {
	tree := newTestTree(t, 10)

	if !tree.IsEmpty() {
		t.Fatal("IsEmpty() = false on a fresh tree")
	}

	ok, err := tree.Insert(5, rid(5))
	if err != nil || !ok {
		t.Fatalf("Insert(5) = (%v, %v), want (true, nil)", ok, err)
	}
	if tree.IsEmpty() {
		t.Fatal("IsEmpty() = true after an insert")
	}

	got, err := tree.GetValue(5)
	if err != nil {
		t.Fatalf("GetValue(5) error: %v", err)
	}
	if len(got) != 1 || got[0] != rid(5) {
		t.Fatalf("GetValue(5) = %v, want [%v]", got, rid(5))
	}

	missing, err := tree.GetValue(99)
	if err != nil {
		t.Fatalf("GetValue(99) error: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("GetValue(99) = %v, want empty", missing)
	}
}

func TestInsertDuplicateKeyReturnsFalse(t *testing.T) {
	tree := newTestTree(t, 10)

	if ok, err := tree.Insert(1, rid(1)); err != nil || !ok {
		t.Fatalf("first Insert(1) = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err := tree.Insert(1, rid(99))
	if err != nil {
		t.Fatalf("second Insert(1) errored: %v", err)
	}
	if ok {
		t.Fatal("Insert() of a duplicate key = true, want false")
	}

	got, _ := tree.GetValue(1)
	if got[0] != rid(1) {
		t.Fatal("duplicate Insert() overwrote the original value")
	}
}

func TestRemoveMissingKeyIsNoOp(t *testing.T) {
	tree := newTestTree(t, 10)
	if _, err := tree.Insert(1, rid(1)); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := tree.Remove(42); err != nil {
		t.Fatalf("Remove() of a missing key errored: %v", err)
	}
	got, _ := tree.GetValue(1)
	if len(got) != 1 {
		t.Fatal("Remove() of a missing key disturbed an existing entry")
	}
}

// TestLeafSplitsOnOverflow drives a leaf_max=4 leaf past capacity and
// checks every key is still reachable and the tree grew a root.
func TestLeafSplitsOnOverflow(t *testing.T) {
	tree := newTestTree(t, 10)

	keys := []int32{10, 20, 30, 40, 50}
	for _, k := range keys {
		if ok, err := tree.Insert(k, rid(k)); err != nil || !ok {
			t.Fatalf("Insert(%d) = (%v, %v)", k, ok, err)
		}
	}

	root, err := tree.pool.FetchPage(tree.RootPageID())
	if err != nil {
		t.Fatalf("FetchPage(root) error: %v", err)
	}
	if root.Type() != storage.PageTypeInternal {
		t.Fatalf("root page type = %v, want internal after a leaf split", root.Type())
	}
	tree.pool.UnpinPage(root.ID, false)

	for _, k := range keys {
		got, err := tree.GetValue(k)
		if err != nil || len(got) != 1 || got[0] != rid(k) {
			t.Fatalf("GetValue(%d) = (%v, %v), want [%v]", k, got, err, rid(k))
		}
	}
}

// TestIteratorWalksAllEntriesInOrder inserts out of order and checks the
// iterator still produces ascending key order across a leaf split.
func TestIteratorWalksAllEntriesInOrder(t *testing.T) {
	tree := newTestTree(t, 10)

	keys := []int32{40, 10, 30, 20, 50, 5}
	for _, k := range keys {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d) error: %v", k, err)
		}
	}

	it, err := tree.Begin()
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}

	want := []int32{5, 10, 20, 30, 40, 50}
	for i, w := range want {
		if it.IsEnd() {
			t.Fatalf("iterator ended early at index %d, want key %d", i, w)
		}
		k, v, err := it.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if k != w || v != rid(w) {
			t.Fatalf("entry %d = (%d, %v), want (%d, %v)", i, k, v, w, rid(w))
		}
	}
	if !it.IsEnd() {
		t.Fatal("iterator did not end after the last entry")
	}
	if _, _, err := it.Next(); err != ErrIteratorExhausted {
		t.Fatalf("Next() past end = %v, want ErrIteratorExhausted", err)
	}
}

func TestBeginAtPositionsOnOrAfterKey(t *testing.T) {
	tree := newTestTree(t, 10)
	for _, k := range []int32{10, 20, 30, 40} {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d) error: %v", k, err)
		}
	}

	it, err := tree.BeginAt(25)
	if err != nil {
		t.Fatalf("BeginAt(25) error: %v", err)
	}
	k, _, err := it.Next()
	if err != nil || k != 30 {
		t.Fatalf("BeginAt(25).Next() = (%d, %v), want (30, nil)", k, err)
	}
}

// TestDeleteBorrowsFromSibling inserts 10,20,30,40,50 with leaf_max=4,
// which splits the root leaf into [10,20] | [30,40,50] (the right sibling
// one entry above leaf_min=2). Deleting 10 underflows the left leaf to
// size 1; since its right sibling has a spare entry (size 3 > min 2), the
// fix is a borrow, not a merge — the root stays internal with two leaf
// children throughout.
func TestDeleteBorrowsFromSibling(t *testing.T) {
	tree := newTestTree(t, 10)

	for _, k := range []int32{10, 20, 30, 40, 50} {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d) error: %v", k, err)
		}
	}

	root, err := tree.pool.FetchPage(tree.RootPageID())
	if err != nil {
		t.Fatalf("FetchPage(root) error: %v", err)
	}
	if root.Type() != storage.PageTypeInternal {
		t.Fatalf("root page type = %v, want internal after the leaf split", root.Type())
	}
	tree.pool.UnpinPage(root.ID, false)

	if err := tree.Remove(10); err != nil {
		t.Fatalf("Remove(10) error: %v", err)
	}

	for _, k := range []int32{20, 30, 40, 50} {
		got, err := tree.GetValue(k)
		if err != nil || len(got) != 1 {
			t.Fatalf("GetValue(%d) after borrow = (%v, %v), want one entry", k, got, err)
		}
	}
	if got, _ := tree.GetValue(10); len(got) != 0 {
		t.Fatal("GetValue(10) found a deleted key")
	}

	root, err = tree.pool.FetchPage(tree.RootPageID())
	if err != nil {
		t.Fatalf("FetchPage(root) error: %v", err)
	}
	if root.Type() != storage.PageTypeInternal {
		t.Fatalf("root page type = %v, want internal (a borrow must not collapse the root)", root.Type())
	}
	tree.pool.UnpinPage(root.ID, false)
}

// TestDeleteMergeCascadesToRootCollapse builds the same two-leaf tree as
// TestDeleteBorrowsFromSibling ([10,20] | [30,40,50] under one internal
// root) and deletes 10 then 20. The first delete borrows 30 from the
// right sibling (as above); the second leaves the left leaf at size 1
// again, but now its only sibling is also at leaf_min, so the fix is a
// merge — which drops the root to a single child and collapses it,
// leaving one leaf root. Deleting the rest empties the tree.
func TestDeleteMergeCascadesToRootCollapse(t *testing.T) {
	tree := newTestTree(t, 10)

	for _, k := range []int32{10, 20, 30, 40, 50} {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d) error: %v", k, err)
		}
	}

	if err := tree.Remove(10); err != nil {
		t.Fatalf("Remove(10) error: %v", err)
	}
	if err := tree.Remove(20); err != nil {
		t.Fatalf("Remove(20) error: %v", err)
	}

	root, err := tree.pool.FetchPage(tree.RootPageID())
	if err != nil {
		t.Fatalf("FetchPage(root) error: %v", err)
	}
	if root.Type() != storage.PageTypeLeaf {
		t.Fatalf("root page type = %v, want leaf after the merge collapses the root", root.Type())
	}
	tree.pool.UnpinPage(root.ID, false)

	for _, k := range []int32{30, 40, 50} {
		got, err := tree.GetValue(k)
		if err != nil || len(got) != 1 || got[0] != rid(k) {
			t.Fatalf("GetValue(%d) after collapse = (%v, %v), want [%v]", k, got, err, rid(k))
		}
	}

	if err := tree.Remove(30); err != nil {
		t.Fatalf("Remove(30) error: %v", err)
	}
	if err := tree.Remove(40); err != nil {
		t.Fatalf("Remove(40) error: %v", err)
	}
	if tree.IsEmpty() {
		t.Fatal("IsEmpty() = true before the last key was removed")
	}
	if err := tree.Remove(50); err != nil {
		t.Fatalf("Remove(50) error: %v", err)
	}
	if !tree.IsEmpty() {
		t.Fatal("IsEmpty() = false after removing the tree's last entry")
	}
}

func TestReopeningTreeRecoversRootFromHeaderPage(t *testing.T) {
	dir := t.TempDir()
	disk, err := storage.NewFileDiskManager(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("NewFileDiskManager() error: %v", err)
	}
	wal, err := storage.NewWAL(filepath.Join(dir, "wal.log"))
	if err != nil {
		t.Fatalf("NewWAL() error: %v", err)
	}
	t.Cleanup(func() {
		disk.Close()
		wal.Close()
	})
	pool := storage.NewBufferPoolManager(10, disk, wal, 2)

	tree, err := New[int32, RecordID](pool, "idx", Int32Comparator, Int32Codec(), RecordIDCodec(), testMaxSize)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := tree.Insert(7, rid(7)); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	reopened, err := New[int32, RecordID](pool, "idx", Int32Comparator, Int32Codec(), RecordIDCodec(), testMaxSize)
	if err != nil {
		t.Fatalf("second New() error: %v", err)
	}
	if reopened.RootPageID() != tree.RootPageID() {
		t.Fatalf("reopened tree root = %d, want %d", reopened.RootPageID(), tree.RootPageID())
	}
	got, err := reopened.GetValue(7)
	if err != nil || len(got) != 1 || got[0] != rid(7) {
		t.Fatalf("GetValue(7) on reopened tree = (%v, %v)", got, err)
	}
}
