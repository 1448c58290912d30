package btree

import "errors"

// ErrIteratorExhausted is returned by Iterator.Next once it has already
// passed the last entry. A missing key or a duplicate key are not errors
// at this layer — GetValue returns an empty slice, Insert returns false.
var ErrIteratorExhausted = errors.New("btree: iterator exhausted")
