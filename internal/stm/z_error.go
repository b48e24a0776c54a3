package stm

import "errors"

// Sentinel errors, in the same flat-file style as the teacher's
// pkg/txn/z_error.go.
var (
	// ErrTxnConflict is returned by Commit on a transient abort: some
	// observed version no longer matches, or a write-item lock could not
	// be acquired. The caller's retry loop should re-run the transaction.
	ErrTxnConflict = errors.New("occindex/stm: transaction conflict, retry")

	// ErrTxnAlreadyDone is returned by Commit if the transaction was
	// already committed or discarded.
	ErrTxnAlreadyDone = errors.New("occindex/stm: transaction already committed or discarded")

	// ErrNoWriteIntent is returned by an index's UpdateRow when called
	// without a preceding SelectRow(forUpdate=true) on the same handle.
	// The distilled spec calls this an assertion failure; this expansion
	// surfaces it as a typed error instead of panicking across the API
	// boundary (SPEC_FULL.md §7).
	ErrNoWriteIntent = errors.New("occindex: UpdateRow called without a prior for-update select")
)
