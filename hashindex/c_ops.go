package hashindex

import (
	"occindex/internal/stm"
	"occindex/internal/version"
)

func bucketKey[K comparable, V any](b *bucketEntry[K, V]) stm.ItemKey {
	return stm.ItemKey{Kind: stm.KindBucket, Ptr: b}
}

func recordKey[K comparable, V any](e *elem[K, V]) stm.ItemKey {
	return stm.ItemKey{Kind: stm.KindRecord, Ptr: e}
}

func isPhantom[K comparable, V any](e *elem[K, V], item *stm.Item) bool {
	return !e.valid() && !item.HasInsert()
}

// SelectRow looks up k. found is false when the key doesn't exist (or the
// caller's own uncommitted delete hides it under read-my-write); ok is
// false when the transaction must abort. forUpdate stages a write-intent
// so a later UpdateRow call on the returned handle is valid.
func (idx *Index[K, V]) SelectRow(txn *stm.Txn, k K, forUpdate bool) (ok, found bool, handle RowHandle[K, V], value *V) {
	b := idx.bucketFor(k)
	buckVers := b.version.Sample()
	e := idx.findInBucket(b, k)

	if e == nil {
		if !txn.Item(idx, bucketKey[K, V](b)).Observe(buckVers) {
			return false, false, RowHandle[K, V]{}, nil
		}
		return true, false, RowHandle[K, V]{}, nil
	}

	item := txn.Item(idx, recordKey(e))
	if isPhantom(e, item) {
		return false, false, RowHandle[K, V]{}, nil
	}

	if idx.cfg.readMyWrite {
		if item.HasDelete() {
			return true, false, RowHandle[K, V]{}, nil
		}
		if item.HasWrite() {
			v, _ := item.WriteValue().(V)
			return true, true, RowHandle[K, V]{el: e}, &v
		}
	}

	if forUpdate {
		if !selectForUpdate(item, e.version, idx.cfg.adaptive) {
			return false, false, RowHandle[K, V]{}, nil
		}
	} else if !item.Observe(e.version.Sample()) {
		return false, false, RowHandle[K, V]{}, nil
	}

	return true, true, RowHandle[K, V]{el: e}, &e.value
}

// UpdateRow stages newValue as the value to install for a row previously
// returned by SelectRow(forUpdate=true). Calling it on any other handle,
// or one for a row this transaction is inserting, is a programmer error
// returned as stm.ErrNoWriteIntent rather than a panic.
func (idx *Index[K, V]) UpdateRow(txn *stm.Txn, handle RowHandle[K, V], newValue V) error {
	if handle.el == nil {
		return stm.ErrNoWriteIntent
	}
	item, ok := txn.HasItem(recordKey(handle.el))
	if !ok || !item.HasWrite() || item.HasInsert() {
		return stm.ErrNoWriteIntent
	}
	item.AddWrite(newValue)
	return nil
}

// InsertRow inserts k/v. When overwrite is false and k already exists, the
// existing row is merely observed (so a concurrent delete of it aborts
// this transaction) and existed is reported true without changing it. When
// overwrite is true and k exists, the row's value is staged for
// replacement with v.
func (idx *Index[K, V]) InsertRow(txn *stm.Txn, k K, v V, overwrite bool) (ok, existed bool) {
	b := idx.bucketFor(k)
	b.version.Lock()

	if e := idx.findInBucket(b, k); e != nil {
		b.version.Unlock()

		item := txn.Item(idx, recordKey(e))
		if isPhantom(e, item) {
			return false, false
		}

		if idx.cfg.readMyWrite && item.HasDelete() {
			item.ClearFlags(stm.FlagDelete)
			item.ClearWrite()
			item.AddWrite(v)
			return true, false
		}

		if overwrite {
			if idx.cfg.adaptive {
				e.version.Lock()
				item.MarkPreLocked()
			}
			item.AddWrite(v)
		} else if !item.Observe(e.version.Sample()) {
			return false, false
		}

		return true, true
	}

	buckVers0 := b.version.SampleUnlocked()
	newElem := idx.newElem(k, v, false)
	newElem.next = b.head
	b.head = newElem
	b.version.IncNonopaque()
	buckVers1 := b.version.SampleUnlocked()
	b.version.Unlock()

	bucketItem, hadBucketItem := txn.HasItem(bucketKey[K, V](b))
	if hadBucketItem && bucketItem.HasRead() {
		bucketItem.UpdateRead(buckVers0, buckVers1)
	}

	item := txn.Item(idx, recordKey(newElem))
	item.AddWrite(v)
	item.AddFlags(stm.FlagInsert)

	return true, false
}

// DeleteRow deletes k. The underlying unlink is deferred until commit
// time (or, under read-my-write, run immediately when deleting a row this
// same transaction inserted, since that row was never externally
// visible).
func (idx *Index[K, V]) DeleteRow(txn *stm.Txn, k K) (ok, existed bool) {
	b := idx.bucketFor(k)
	buckVers := b.version.Sample()
	e := idx.findInBucket(b, k)

	if e == nil {
		if !txn.Item(idx, bucketKey[K, V](b)).Observe(buckVers) {
			return false, false
		}
		return true, false
	}

	item := txn.Item(idx, recordKey(e))
	valid := e.valid()
	if !valid && !item.HasInsert() {
		return false, false
	}

	if idx.cfg.readMyWrite {
		if !valid && item.HasInsert() {
			idx.unlinkNow(e)
			txn.Forget(recordKey(e))
			txn.Item(idx, bucketKey[K, V](b)).Observe(buckVers)
			return true, true
		}
		if item.HasDelete() {
			return true, false
		}
	}

	if !selectForUpdate(item, e.version, idx.cfg.adaptive) {
		return false, false
	}
	if e.deleted {
		return false, false
	}
	item.AddFlags(stm.FlagDelete)
	return true, true
}

// NontransGet reads k's current value outside any transaction. Unsafe to
// call concurrently with a transaction that might be mutating k.
func (idx *Index[K, V]) NontransGet(k K) (V, bool) {
	b := idx.bucketFor(k)
	if e := idx.findInBucket(b, k); e != nil {
		return e.value, true
	}
	var zero V
	return zero, false
}

// NontransPut writes k=v outside any transaction, overwriting any existing
// value. Unsafe under concurrent transactions.
func (idx *Index[K, V]) NontransPut(k K, v V) {
	b := idx.bucketFor(k)
	b.version.Lock()
	defer b.version.Unlock()
	if e := idx.findInBucket(b, k); e != nil {
		e.value = v
		return
	}
	e := idx.newElem(k, v, true)
	e.next = b.head
	b.head = e
	b.version.IncNonopaque()
}

// NontransRemove deletes k outside any transaction, reporting whether it
// was present. Unsafe under concurrent transactions.
func (idx *Index[K, V]) NontransRemove(k K) bool {
	b := idx.bucketFor(k)
	b.version.Lock()
	defer b.version.Unlock()
	var prev *elem[K, V]
	for cur := b.head; cur != nil; cur = cur.next {
		if idx.equal(cur.key, k) {
			if prev == nil {
				b.head = cur.next
			} else {
				prev.next = cur.next
			}
			b.version.IncNonopaque()
			return true
		}
		prev = cur
	}
	return false
}

func (idx *Index[K, V]) newElem(k K, v V, valid bool) *elem[K, V] {
	return &elem[K, V]{
		key:     k,
		value:   v,
		version: version.NewCell(version.New(0, valid, false)),
	}
}

// unlinkNow removes e from its bucket's chain immediately, used for the
// read-my-write delete-of-own-insert path where e was never visible to
// any other transaction and so needs no RCU-delayed reclamation.
func (idx *Index[K, V]) unlinkNow(e *elem[K, V]) {
	b := idx.bucketFor(e.key)
	b.version.Lock()
	defer b.version.Unlock()
	var prev *elem[K, V]
	for cur := b.head; cur != nil; cur = cur.next {
		if cur == e {
			if prev == nil {
				b.head = cur.next
			} else {
				prev.next = cur.next
			}
			return
		}
		prev = cur
	}
}
