package storage

import (
	"path/filepath"
	"testing"
)

func openTestDiskManager(t *testing.T) *FileDiskManager {
	t.Helper()
	dm, err := NewFileDiskManager(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("NewFileDiskManager() error: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return dm
}

func TestAllocateWriteReadPage(t *testing.T) {
	dm := openTestDiskManager(t)

	id, err := dm.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage() error: %v", err)
	}

	page := NewPage(id)
	page.SetType(PageTypeLeaf)
	copy(page.Data[50:60], []byte("persisted!"))

	if err := dm.WritePage(page); err != nil {
		t.Fatalf("WritePage() error: %v", err)
	}

	back, err := dm.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage() error: %v", err)
	}
	if back.Type() != PageTypeLeaf {
		t.Fatalf("ReadPage() Type() = %v, want %v", back.Type(), PageTypeLeaf)
	}
	if string(back.Data[50:60]) != "persisted!" {
		t.Fatalf("ReadPage() body mismatch: got %q", back.Data[50:60])
	}
}

func TestReadPageBeyondEndOfFileReturnsZeroedPage(t *testing.T) {
	dm := openTestDiskManager(t)
	page, err := dm.ReadPage(999)
	if err != nil {
		t.Fatalf("ReadPage() on never-written page error: %v", err)
	}
	if page.Type() != PageTypeInvalid {
		t.Fatalf("ReadPage() on never-written page returned non-zero type %v", page.Type())
	}
}

func TestAllocatePageIDsAreDistinctAndIncreasing(t *testing.T) {
	dm := openTestDiskManager(t)
	seen := make(map[PageID]bool)
	prev := InvalidPageID
	for i := 0; i < 10; i++ {
		id, err := dm.AllocatePage()
		if err != nil {
			t.Fatalf("AllocatePage() error: %v", err)
		}
		if seen[id] {
			t.Fatalf("AllocatePage() returned duplicate id %d", id)
		}
		if id <= prev {
			t.Fatalf("AllocatePage() returned %d after %d, want increasing ids", id, prev)
		}
		seen[id] = true
		prev = id
	}
}

func TestDeallocateThenAllocateReusesID(t *testing.T) {
	dm := openTestDiskManager(t)

	a, err := dm.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage() error: %v", err)
	}
	b, err := dm.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage() error: %v", err)
	}

	if err := dm.DeallocatePage(a); err != nil {
		t.Fatalf("DeallocatePage() error: %v", err)
	}

	reused, err := dm.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage() after dealloc error: %v", err)
	}
	if reused != a {
		t.Fatalf("AllocatePage() after dealloc = %d, want reclaimed id %d", reused, a)
	}
	if reused == b {
		t.Fatal("reclaimed id collided with a still-live id")
	}
}

func TestDeallocateUnknownPageErrors(t *testing.T) {
	dm := openTestDiskManager(t)
	if err := dm.DeallocatePage(500); err == nil {
		t.Fatal("DeallocatePage() on an id past next_page_id did not error")
	}
}

func TestDeallocateManyPagesSpansFreeListChain(t *testing.T) {
	dm := openTestDiskManager(t)

	const n = maxFreePageEntries*2 + 5
	ids := make([]PageID, n)
	for i := range ids {
		id, err := dm.AllocatePage()
		if err != nil {
			t.Fatalf("AllocatePage() error: %v", err)
		}
		ids[i] = id
	}
	for _, id := range ids {
		if err := dm.DeallocatePage(id); err != nil {
			t.Fatalf("DeallocatePage(%d) error: %v", id, err)
		}
	}

	reclaimed := make(map[PageID]bool)
	for i := 0; i < n; i++ {
		id, err := dm.AllocatePage()
		if err != nil {
			t.Fatalf("AllocatePage() reclaim #%d error: %v", i, err)
		}
		reclaimed[id] = true
	}
	if len(reclaimed) != n {
		t.Fatalf("reclaimed %d distinct ids, want %d", len(reclaimed), n)
	}
}
