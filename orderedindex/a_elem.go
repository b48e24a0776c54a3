// Package orderedindex implements the ordered (trie-backed in the
// original, B-tree-backed here) index: component E of SPEC_FULL.md.
// Grounded on original_source/TPCC_index.hh's ordered_index, adapted from
// a Masstree with per-leaf node versions to a single
// github.com/tidwall/btree.BTreeG instance with one structural version
// counter for the whole index (SPEC_FULL.md §10.1 records this
// coarsening and why: tidwall/btree exposes no internal node handle to
// hang a per-leaf version on).
package orderedindex

import (
	"occindex/internal/version"
)

// elem is one stored row. Named internal_elem in the original.
type elem[K any, V any] struct {
	key     K
	version *version.Cell
	value   V
	deleted bool
}

func (e *elem[K, V]) valid() bool {
	return e.version.Sample().Valid()
}

func newVersionCell(valid bool) *version.Cell {
	return version.NewCell(version.New(0, valid, false))
}

// RowHandle is an opaque reference to a row found by SelectRow, passed
// back into UpdateRow to stage a new value for it. InsertRow returns no
// handle.
type RowHandle[K any, V any] struct {
	el *elem[K, V]
}
