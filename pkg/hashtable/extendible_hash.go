// Package hashtable implements an in-memory extendible hash table: a
// key-to-value map backed by a directory of buckets that doubles on demand,
// used by the buffer pool as its page table (page id -> frame id) and
// usable as a general-purpose container.
package hashtable

import "sync"

// HashFunc produces a 64-bit digest for a key. Only the low bits are ever
// consulted (global_depth of them at a time), so callers should pick a
// function that spreads low-order bits well rather than one that merely
// returns the key's ordinal value.
type HashFunc[K comparable] func(K) uint64

type pair[K comparable, V any] struct {
	key   K
	value V
}

// bucket holds up to bucketSize (key,value) pairs and the number of
// directory bits consulted to reach it.
type bucket[K comparable, V any] struct {
	localDepth int
	items      []pair[K, V]
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, it := range b.items {
		if it.key == key {
			return it.value, true
		}
	}
	var zero V
	return zero, false
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, it := range b.items {
		if it.key == key {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

// upsert writes (key,value) into the bucket if key is already present or
// there is room, and reports whether it succeeded. A full bucket without a
// matching key reports false so the caller can split.
func (b *bucket[K, V]) upsert(key K, value V, capacity int) bool {
	for i := range b.items {
		if b.items[i].key == key {
			b.items[i].value = value
			return true
		}
	}
	if len(b.items) >= capacity {
		return false
	}
	b.items = append(b.items, pair[K, V]{key: key, value: value})
	return true
}

// Table is an extendible hash table: find(k), insert(k,v) (upsert), and
// remove(k) in O(1) amortized, plus introspection of global/local depth.
type Table[K comparable, V any] struct {
	mu          sync.Mutex
	globalDepth int
	bucketSize  int
	hash        HashFunc[K]

	// dir holds, for each of 2^globalDepth directory slots, the index into
	// buckets of the bucket that slot currently points at. Multiple slots
	// may share one bucket index (an arena + index split, avoiding the
	// aliasing a shared-pointer-per-slot directory would need).
	dir     []int
	buckets []*bucket[K, V]

	numBuckets int
}

// New creates an extendible hash table whose buckets hold up to bucketSize
// entries each, hashing keys with hash.
func New[K comparable, V any](bucketSize int, hash HashFunc[K]) *Table[K, V] {
	if bucketSize <= 0 {
		panic("hashtable: bucketSize must be positive")
	}
	t := &Table[K, V]{
		bucketSize: bucketSize,
		hash:       hash,
		dir:        []int{0},
		buckets:    []*bucket[K, V]{{localDepth: 0}},
		numBuckets: 1,
	}
	return t
}

func (t *Table[K, V]) indexOf(key K) int {
	mask := uint64(1)<<uint(t.globalDepth) - 1
	return int(t.hash(key) & mask)
}

// Find looks up key, returning its value and true if present.
func (t *Table[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[t.dir[t.indexOf(key)]]
	return b.find(key)
}

// Remove deletes key if present, reporting whether it was found.
func (t *Table[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[t.dir[t.indexOf(key)]]
	return b.remove(key)
}

// Insert upserts (key,value), splitting and doubling the directory as many
// times as needed to make room.
func (t *Table[K, V]) Insert(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		idx := t.indexOf(key)
		b := t.buckets[t.dir[idx]]
		if b.upsert(key, value, t.bucketSize) {
			return
		}
		t.splitBucket(idx)
	}
}

// splitBucket splits the bucket currently occupying directory slot idx into
// two fresh buckets at local_depth+1, doubling the directory first if the
// bucket's local depth has caught up to the global depth.
func (t *Table[K, V]) splitBucket(idx int) {
	oldArenaIdx := t.dir[idx]
	old := t.buckets[oldArenaIdx]

	if old.localDepth == t.globalDepth {
		doubled := make([]int, len(t.dir)*2)
		copy(doubled, t.dir)
		copy(doubled[len(t.dir):], t.dir)
		t.dir = doubled
		t.globalDepth++
	}

	newDepth := old.localDepth + 1
	discriminant := uint64(1) << uint(old.localDepth)

	b0 := &bucket[K, V]{localDepth: newDepth}
	b1 := &bucket[K, V]{localDepth: newDepth}
	for _, it := range old.items {
		if t.hash(it.key)&discriminant == 0 {
			b0.items = append(b0.items, it)
		} else {
			b1.items = append(b1.items, it)
		}
	}

	b0Idx := len(t.buckets)
	t.buckets = append(t.buckets, b0)
	b1Idx := len(t.buckets)
	t.buckets = append(t.buckets, b1)
	t.buckets[oldArenaIdx] = nil

	for i := range t.dir {
		if t.dir[i] == oldArenaIdx {
			if uint64(i)&discriminant == 0 {
				t.dir[i] = b0Idx
			} else {
				t.dir[i] = b1Idx
			}
		}
	}
	t.numBuckets++
}

// GlobalDepth returns the number of directory bits currently consulted.
func (t *Table[K, V]) GlobalDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

// NumBuckets returns the number of live buckets.
func (t *Table[K, V]) NumBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numBuckets
}

// LocalDepth returns the local depth of the bucket currently occupying
// directory index dirIndex.
func (t *Table[K, V]) LocalDepth(dirIndex int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buckets[t.dir[dirIndex]].localDepth
}
