package btree

import (
	"encoding/binary"

	"github.com/arlobase/enginecore/pkg/storage"
)

// Comparator orders two keys: negative if a < b, zero if equal, positive
// if a > b. This is the Go-generic stand-in for a C++ KeyComparator
// functor type — a plain function value instead of an object.
type Comparator[K any] func(a, b K) int

// Codec packs a fixed-width key or value to and from its on-page byte
// representation. Every key and value stored in a tree must encode to
// exactly Size bytes: page entries are fixed-width slots, never
// variable-length records.
type Codec[T any] struct {
	Size   int
	Encode func(v T, dst []byte)
	Decode func(src []byte) T
}

// Int64Comparator orders int64 keys numerically.
func Int64Comparator(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Int64Codec packs an int64 key into 8 bytes.
func Int64Codec() Codec[int64] {
	return Codec[int64]{
		Size: 8,
		Encode: func(v int64, dst []byte) {
			binary.LittleEndian.PutUint64(dst, uint64(v))
		},
		Decode: func(src []byte) int64 {
			return int64(binary.LittleEndian.Uint64(src))
		},
	}
}

// Int32Comparator orders int32 keys numerically.
func Int32Comparator(a, b int32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Int32Codec packs an int32 key into 4 bytes, the size used throughout the
// worked examples (4-byte keys, pool_size=10, k=2, leaf_max=4,
// internal_max=4).
func Int32Codec() Codec[int32] {
	return Codec[int32]{
		Size: 4,
		Encode: func(v int32, dst []byte) {
			binary.LittleEndian.PutUint32(dst, uint32(v))
		},
		Decode: func(src []byte) int32 {
			return int32(binary.LittleEndian.Uint32(src))
		},
	}
}

// FixedStringComparator orders strings lexicographically.
func FixedStringComparator(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FixedStringCodec packs a string key into exactly n bytes, right-padded
// with zero bytes and truncated if longer than n.
func FixedStringCodec(n int) Codec[string] {
	return Codec[string]{
		Size: n,
		Encode: func(v string, dst []byte) {
			for i := range dst {
				dst[i] = 0
			}
			copy(dst, v)
		},
		Decode: func(src []byte) string {
			end := len(src)
			for end > 0 && src[end-1] == 0 {
				end--
			}
			return string(src[:end])
		},
	}
}

// RecordID identifies a tuple's physical location: the page holding it and
// its slot within that page. This is the 8-byte value type leaf entries
// carry in the canonical configuration.
type RecordID struct {
	PageID storage.PageID
	Slot   uint32
}

// RecordIDCodec packs a RecordID into 8 bytes.
func RecordIDCodec() Codec[RecordID] {
	return Codec[RecordID]{
		Size: 8,
		Encode: func(v RecordID, dst []byte) {
			binary.LittleEndian.PutUint32(dst[0:4], uint32(v.PageID))
			binary.LittleEndian.PutUint32(dst[4:8], v.Slot)
		},
		Decode: func(src []byte) RecordID {
			return RecordID{
				PageID: storage.PageID(int32(binary.LittleEndian.Uint32(src[0:4]))),
				Slot:   binary.LittleEndian.Uint32(src[4:8]),
			}
		},
	}
}
