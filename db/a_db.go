// Package db wires the STM oracle (internal/stm) together with a hash
// index and an ordered index into the kind of small demo database the
// distilled spec's component C calls for a "minimal driver" around:
// Db.Update runs a transaction to completion with automatic retry on
// conflict; Db.View runs a read-only transaction once. Grounded on the
// teacher's pkg/db/a_db.go, generalized from a single MVCC key-value
// store to the two OCC indexes this module implements.
package db

import (
	"errors"
	"hash/fnv"
	"sync/atomic"

	"occindex/hashindex"
	"occindex/internal/stm"
	"occindex/orderedindex"
)

// Account is a toy row type for the hash index: a named balance.
type Account struct {
	Owner   string
	Balance int64
}

// LedgerEntry is a toy row type for the ordered index: an append-only
// description keyed by a monotonically generated entry id, so range scans
// over the ledger visit entries in creation order.
type LedgerEntry struct {
	Description string
}

// Db bundles an Oracle with the two demo indexes it drives transactions
// against.
type Db struct {
	stopped atomic.Bool

	oracle   *stm.Oracle
	Accounts *hashindex.Index[string, Account]
	Ledger   *orderedindex.Index[uint64, LedgerEntry]
}

// New constructs a Db with a fresh, empty pair of indexes.
func New() *Db {
	oracle := stm.NewOracle()
	return &Db{
		oracle: oracle,
		Accounts: hashindex.New[string, Account](
			64, hashString, equalString,
			hashindex.WithEpochSource[Account](oracle.Now),
			hashindex.WithReadMyWrite[Account](true),
		),
		Ledger: orderedindex.New[uint64, LedgerEntry](
			uint64Bytes, bytesLess,
			orderedindex.WithEpochSource[LedgerEntry](oracle.Now),
			orderedindex.WithReadMyWrite[LedgerEntry](true),
		),
	}
}

// ErrDbStopped is returned by Update and View once the Db has been
// stopped.
var ErrDbStopped = errors.New("occindex/db: database stopped")

// Update runs fn inside a transaction and commits it, retrying fn from
// scratch whenever the commit aborts with stm.ErrTxnConflict. fn returning
// any other error discards the transaction and returns that error as-is.
func (db *Db) Update(fn func(txn *stm.Txn) error) error {
	if db.stopped.Load() {
		return ErrDbStopped
	}
	for {
		txn := db.oracle.Begin()
		if err := fn(txn); err != nil {
			txn.Discard()
			return err
		}
		_, err := db.oracle.Commit(txn)
		if err == nil {
			return nil
		}
		if errors.Is(err, stm.ErrTxnConflict) {
			continue
		}
		return err
	}
}

// View runs fn inside a read-only transaction that is discarded, never
// committed, once fn returns.
func (db *Db) View(fn func(txn *stm.Txn) error) error {
	if db.stopped.Load() {
		return ErrDbStopped
	}
	txn := db.oracle.Begin()
	defer txn.Discard()
	return fn(txn)
}

// GenLedgerID returns the next synthetic ledger entry id.
func (db *Db) GenLedgerID() uint64 {
	return db.Ledger.GenKey()
}

// Reclaim drains both indexes' RCU reclamation sets up to the oracle's
// current quiescence watermark: a begin timestamp at or below which every
// transaction has finished. Call periodically from a background
// goroutine in a long-running process.
func (db *Db) Reclaim() {
	q := db.oracle.Quiesced()
	db.Accounts.ReclaimUntil(q)
	db.Ledger.ReclaimUntil(q)
}

// Stop marks the Db stopped; further Update/View calls return
// ErrDbStopped.
func (db *Db) Stop() {
	db.stopped.CompareAndSwap(false, true)
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func equalString(a, b string) bool { return a == b }

func uint64Bytes(k uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(k)
		k >>= 8
	}
	return b
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
