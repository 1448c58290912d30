package replacer

import "testing"

func TestRecordAccessHistoryThenCachePromotion(t *testing.T) {
	r := New(5, 2)

	r.RecordAccess(1)
	r.RecordAccess(2)
	r.RecordAccess(3)
	r.RecordAccess(4)

	r.SetEvictable(1, true)
	r.SetEvictable(2, true)
	r.SetEvictable(3, true)
	r.SetEvictable(4, true)

	if got := r.Size(); got != 4 {
		t.Fatalf("Size() = %d, want 4", got)
	}

	// 1 gets a second access, promoting it count==k into cache.
	r.RecordAccess(1)

	frame, ok := r.Evict()
	if !ok {
		t.Fatal("Evict() = false, want true")
	}
	// history still holds 2,3,4 (count 1 < k); 1 moved to cache with count 2.
	// Earliest-in-history wins over cache, so frame 2 should be evicted first.
	if frame != 2 {
		t.Fatalf("Evict() = %d, want 2 (earliest in history)", frame)
	}
}

func TestEvictPrefersHistoryOverCache(t *testing.T) {
	r := New(5, 2)
	// Push 1 and 2 fully into cache (two accesses each).
	r.RecordAccess(1)
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.RecordAccess(2)
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)

	// 3 only has one access, still in history.
	r.RecordAccess(3)
	r.SetEvictable(3, true)

	frame, ok := r.Evict()
	if !ok || frame != 3 {
		t.Fatalf("Evict() = (%d, %v), want (3, true)", frame, ok)
	}
}

func TestEvictWithinCacheIsLRUOrder(t *testing.T) {
	r := New(5, 2)
	r.RecordAccess(1)
	r.RecordAccess(1) // 1 -> cache
	r.RecordAccess(2)
	r.RecordAccess(2) // 2 -> cache
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)

	// Touch 1 again; it should move to the back of cache, making 2 the LRU victim.
	r.RecordAccess(1)

	frame, ok := r.Evict()
	if !ok || frame != 2 {
		t.Fatalf("Evict() = (%d, %v), want (2, true)", frame, ok)
	}
}

func TestSetEvictableTogglesSizeOnlyOnTransition(t *testing.T) {
	r := New(3, 2)
	r.RecordAccess(0)
	r.SetEvictable(0, true)
	r.SetEvictable(0, true) // no-op, already evictable
	if r.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", r.Size())
	}
	r.SetEvictable(0, false)
	r.SetEvictable(0, false) // no-op, already pinned
	if r.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", r.Size())
	}
}

func TestSetEvictableUnknownFrameIgnored(t *testing.T) {
	r := New(3, 2)
	r.SetEvictable(1, true) // untracked, must not panic or affect Size
	if r.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", r.Size())
	}
}

func TestEvictReturnsFalseWhenNothingEvictable(t *testing.T) {
	r := New(3, 2)
	r.RecordAccess(0)
	if _, ok := r.Evict(); ok {
		t.Fatal("Evict() = true, want false (nothing evictable)")
	}
}

func TestRemoveEvictableAndUntracked(t *testing.T) {
	r := New(3, 2)
	r.RecordAccess(0)
	r.SetEvictable(0, true)
	r.Remove(0)
	if r.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 after Remove", r.Size())
	}

	// Untracked frame: no-op, must not panic.
	r.Remove(2)
}

func TestRemovePinnedFramePanics(t *testing.T) {
	r := New(3, 2)
	r.RecordAccess(0) // created non-evictable

	defer func() {
		if recover() == nil {
			t.Fatal("Remove() on a pinned frame did not panic")
		}
	}()
	r.Remove(0)
}

func TestRecordAccessOutOfRangePanics(t *testing.T) {
	r := New(3, 2)
	defer func() {
		if recover() == nil {
			t.Fatal("RecordAccess() with out-of-range frame id did not panic")
		}
	}()
	r.RecordAccess(10)
}

func TestSizeMatchesEvictableCountAcrossQueues(t *testing.T) {
	r := New(10, 2)
	for i := 0; i < 5; i++ {
		r.RecordAccess(i)
		r.SetEvictable(i, true)
	}
	// Promote 0,1 into cache.
	r.RecordAccess(0)
	r.RecordAccess(1)

	if r.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", r.Size())
	}
}
