// Package vstore defines the low-level key→value blob store contract:
// numeric IDs to byte blobs, with transactional begin/commit/abort.
// Both inode metadata records and data blobs (file contents,
// serialized directory listings) share this one ID namespace.
package vstore

// Usage reports allocation statistics for a Store, the data backing
// a statfs-style call.
type Usage struct {
	Total      uint64
	Free       uint64
	TotalNodes uint64
	FreeNodes  uint64
	BlockSize  uint64
}

// Txn is a single-use handle on a batch of pending writes/deletes. A
// transaction is scoped to one Store; Commit or Abort may each be
// called exactly once, after which further calls fail with EBUSY.
type Txn interface {
	// Get reads a key, seeing this transaction's own uncommitted
	// writes.
	Get(id uint64) ([]byte, bool, error)

	// Set stages a write. isMetadata distinguishes inode records from
	// data blobs for stores that account for them separately (e.g.
	// SingleBuffer's metadata block vs. data region).
	Set(id uint64, data []byte, isMetadata bool) error

	// Delete stages a deletion.
	Delete(id uint64) error

	// Keys lists all live keys as of this transaction's view.
	Keys() ([]uint64, error)

	// Commit makes staged writes and deletions visible atomically. On
	// a backend fault, the transaction is poisoned and the store is
	// left unchanged.
	Commit() error

	// Abort discards staged writes, restoring any key this
	// transaction read or modified to its pre-transaction value.
	Abort() error
}

// Store is a transactional key→value blob store, synchronous or
// asynchronous in nature depending on the backend.
type Store interface {
	// Get reads a committed value.
	Get(id uint64) ([]byte, bool, error)

	// Begin starts a new transaction. Only one transaction may be live
	// on a Store at a time; Begin fails
	// with EBUSY if one is already open.
	Begin() (Txn, error)

	// Keys lists all live keys.
	Keys() ([]uint64, error)

	// Sync flushes any buffered state to the backing medium. A no-op
	// for purely in-memory stores.
	Sync() error

	// Usage reports allocation statistics.
	Usage() (Usage, error)
}
