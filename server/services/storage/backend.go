package storage

import "github.com/pdvrieze/ProcessManager-sub007/model"

// Record is the committed state of one handle. Version is the commit
// sequence number of the last change, zero when the handle was never
// written. A deleted record stays behind as a tombstone so readers can tell
// it changed.
type Record struct {
	Data    []byte
	Version uint64
	Deleted bool
}

// Exists reports whether the record holds a value.
func (r Record) Exists() bool {
	return r.Version != 0 && !r.Deleted
}

// Write is one entry of a commit. Expect is the version the transaction
// observed. A Check entry only verifies Expect and changes nothing.
type Write struct {
	Table  string
	Handle model.Handle
	Expect uint64
	Data   []byte
	Delete bool
	Check  bool
}

// Backend is the durable part of a Store. Every commit is numbered by a
// sequence that only grows; the records it changes carry that number as
// their version.
type Backend interface {
	// NextHandle reserves a fresh handle in table. Handles are never reused.
	NextHandle(table string) (model.Handle, error)
	// Version returns the sequence number of the latest commit.
	Version() (uint64, error)
	// Load returns the committed record, the zero Record if h was never written.
	Load(table string, h model.Handle) (Record, error)
	// Scan visits every record of table, tombstones included, in handle order.
	Scan(table string, fn func(h model.Handle, rec Record) error) error
	// Commit applies writes atomically under a new sequence number. If any
	// record's current version differs from its Expect nothing is applied and
	// errors.ErrConflict is returned.
	Commit(writes []Write) error
	Close() error
}
