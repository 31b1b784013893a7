// Package storedb defines the key/value store the shell persists accounts and
// settings in, and namespaced views over it.
package storedb

import (
	"errors"
	"io"
)

// IdealBatchSize is the amount of queued data after which a batch should be
// flushed.
const IdealBatchSize = 100 * 1024

// ErrNotFound is returned by Get for a key that is not present.
var ErrNotFound = errors.New("not found")

// KeyValueReader wraps the Has and Get method of a backing data store.
type KeyValueReader interface {
	// Has retrieves if a key is present in the key-value data store.
	Has(key []byte) (bool, error)

	// Get retrieves the given key if it's present in the key-value data store.
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the Put method of a backing data store.
type KeyValueWriter interface {
	// Put inserts the given value into the key-value data store.
	Put(key []byte, value []byte) error

	// Delete removes the key from the key-value data store.
	Delete(key []byte) error
}

// Iterator walks keys in binary-alphabetical order. Key and Value are only
// valid until the next call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// Iteratee wraps the NewIteratorWithPrefix method of a backing data store.
type Iteratee interface {
	NewIteratorWithPrefix(prefix []byte) Iterator
}

// Batch is a write-only store that commits to its host on Write. A batch
// cannot be used concurrently.
type Batch interface {
	KeyValueWriter
	ValueSize() int
	Write() error
	Reset()
}

// Batcher wraps the NewBatch method of a backing data store.
type Batcher interface {
	NewBatch() Batch
}

// Database contains all the methods required by the account registry and the
// settings store.
type Database interface {
	KeyValueReader
	KeyValueWriter
	Batcher
	Iteratee
	io.Closer
}
