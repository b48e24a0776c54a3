// Package hashindex implements the unordered (hash) index: component D of
// SPEC_FULL.md, an STM-aware hash table whose buckets carry their own
// version so that a miss can be re-validated as still-a-miss at commit
// time. Grounded on original_source/TPCC_index.hh's unordered_index.
package hashindex

import (
	"occindex/internal/version"
)

// elem is one hash-bucket chain node: the record itself, plus the version
// cell the STM protocol locks/checks/installs against. Named internal_elem
// in the original; unexported here since callers only ever see a RowHandle.
type elem[K comparable, V any] struct {
	next    *elem[K, V]
	key     K
	version *version.Cell
	value   V
	deleted bool
}

// valid reports whether the insert that created e has committed. A record
// that is !valid and was not inserted by the observing transaction itself
// is a phantom: any other transaction's item for it must abort.
func (e *elem[K, V]) valid() bool {
	return e.version.Sample().Valid()
}

// bucketEntry is one slot of the hash table's backing array: a chain head
// plus the bucket version bumped on every structural change (insert),
// which lets a failed lookup be re-validated at commit time without the
// committing transaction having read every element in the chain.
type bucketEntry[K comparable, V any] struct {
	head    *elem[K, V]
	version *version.Cell
}

// RowHandle is an opaque reference to a row found by SelectRow, passed
// back into UpdateRow to stage a new value for it. InsertRow returns no
// handle.
type RowHandle[K comparable, V any] struct {
	el *elem[K, V]
}
