package stm

import "sync/atomic"

// Oracle issues begin and commit timestamps and drives the four-phase
// commit protocol (lock -> check -> install -> unlock) plus the unconditional
// cleanup pass. Grounded on the teacher's pkg/txn/c_scheduler.go Oracle,
// stripped of its MVCC-specific read/commit visibility waiting (this
// module's indexes validate via OCC item checks, not snapshot reads) but
// keeping the begin/commit timestamp counter and the watermark used here to
// track transaction quiescence for RCU epoch reclamation (§4.B).
type Oracle struct {
	nextTS atomic.Uint64

	// epochMark tracks in-flight transactions' begin timestamps so RCU
	// sets can ask "has every transaction that might observe a record
	// retired at epoch E gone quiescent yet?" via Quiesced().
	epochMark *Watermark
}

// NewOracle constructs an Oracle with its timestamp counter starting at 1
// (0 is reserved to mean "no commit has happened yet").
func NewOracle() *Oracle {
	o := &Oracle{epochMark: NewWatermark()}
	o.nextTS.Store(1)
	o.epochMark.Done(0)
	return o
}

// Begin starts a new transaction, recording its begin timestamp on the
// epoch watermark so Quiesced() won't pass it until the transaction ends.
func (o *Oracle) Begin() *Txn {
	ts := o.nextTS.Add(1) - 1
	o.epochMark.Begin(ts)
	return newTxn(o, ts)
}

// doneRead retires txn's hold on the epoch watermark. Called by both
// Discard and Commit so every exit path releases it exactly once.
func (o *Oracle) doneRead(txn *Txn) {
	o.epochMark.Done(txn.beginTS)
}

// Quiesced returns the epoch watermark's DoneTill value E: every
// transaction begun at or before E has since ended. RCU sets use this as
// the max_epoch argument to CleanUntil.
func (o *Oracle) Quiesced() uint64 {
	return o.epochMark.DoneTill()
}

// Now returns the current value of the commit-timestamp counter without
// advancing it. Indexes use this as the RCU retirement epoch when unlinking
// a record, whether the unlink happened via a committed delete or via
// unwinding an aborted insert: any goroutine that might still hold a
// reference to the unlinked record observed it at a timestamp strictly
// below this value.
func (o *Oracle) Now() uint64 {
	return o.nextTS.Load()
}

// Commit runs the full resource-manager protocol for txn:
//  1. lock every write/delete item, in pointer order (deadlock avoidance);
//     any failure unlocks everything acquired so far and aborts.
//  2. check every item that recorded a read (including read-only items);
//     any failure unlocks and aborts.
//  3. assign a commit TID.
//  4. install every write/delete item with that TID.
//  5. unlock every locked item.
//  6. cleanup every touched item, reporting the outcome.
//
// Returns the commit TID on success, or ErrTxnConflict on a transient
// abort (the caller's retry loop should re-run the transaction body).
func (o *Oracle) Commit(txn *Txn) (commitTID uint64, err error) {
	if txn.discarded {
		return 0, ErrTxnAlreadyDone
	}

	locked := txn.writeItems()
	for i, it := range locked {
		if !it.Owner.Lock(it) {
			for j := i - 1; j >= 0; j-- {
				locked[j].Owner.Unlock(locked[j])
			}
			txn.discarded = true
			o.doneRead(txn)
			o.cleanupAll(txn, false)
			return 0, ErrTxnConflict
		}
	}

	for _, it := range txn.order {
		if it.HasRead() && !it.Owner.Check(it) {
			for _, l := range locked {
				l.Owner.Unlock(l)
			}
			txn.discarded = true
			o.doneRead(txn)
			o.cleanupAll(txn, false)
			return 0, ErrTxnConflict
		}
	}

	commitTID = o.nextTS.Add(1) - 1

	for _, it := range locked {
		it.Owner.Install(it, commitTID)
	}
	for _, it := range locked {
		it.Owner.Unlock(it)
	}

	txn.discarded = true
	o.doneRead(txn)
	o.cleanupAll(txn, true)
	return commitTID, nil
}

func (o *Oracle) cleanupAll(txn *Txn, committed bool) {
	for _, it := range txn.order {
		it.Owner.Cleanup(it, committed)
	}
}
