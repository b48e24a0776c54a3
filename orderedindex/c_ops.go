package orderedindex

import "occindex/internal/stm"

func recordKey[K any, V any](e *elem[K, V]) stm.ItemKey {
	return stm.ItemKey{Kind: stm.KindRecord, Ptr: e}
}

func structKey[K any, V any](idx *Index[K, V]) stm.ItemKey {
	return stm.ItemKey{Kind: stm.KindInternode, Ptr: idx}
}

func isPhantom[K any, V any](e *elem[K, V], item *stm.Item) bool {
	return !e.valid() && !item.HasInsert()
}

// SelectRow looks up k. Semantics mirror hashindex.Index.SelectRow.
func (idx *Index[K, V]) SelectRow(txn *stm.Txn, k K, forUpdate bool) (ok, found bool, handle RowHandle[K, V], value *V) {
	structVers := idx.structVersion.Sample()
	e, exists := idx.get(k)

	if !exists {
		if !txn.Item(idx, structKey(idx)).Observe(structVers) {
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
		if idx.cfg.adaptive {
			e.version.Lock()
			item.MarkPreLocked()
			item.AddWrite(nil)
		} else {
			if !item.Observe(e.version.Sample()) {
				return false, false, RowHandle[K, V]{}, nil
			}
			item.AddWrite(nil)
		}
	} else if !item.Observe(e.version.Sample()) {
		return false, false, RowHandle[K, V]{}, nil
	}

	return true, true, RowHandle[K, V]{el: e}, &e.value
}

// UpdateRow stages newValue for a row previously returned by
// SelectRow(forUpdate=true). Any other handle, or one for a row this
// transaction is inserting, yields stm.ErrNoWriteIntent.
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

// InsertRow inserts k/v, following the same overwrite semantics as
// hashindex.Index.InsertRow.
func (idx *Index[K, V]) InsertRow(txn *stm.Txn, k K, v V, overwrite bool) (ok, existed bool) {
	if e, exists := idx.get(k); exists {
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

	idx.structVersion.Lock()

	idx.mu.Lock()
	newElem := idx.newElem(k, v, false)
	idx.tree.Set(newElem)
	idx.mu.Unlock()

	v0 := idx.structVersion.SampleUnlocked()
	idx.structVersion.IncNonopaque()
	v1 := idx.structVersion.SampleUnlocked()
	idx.structVersion.Unlock()

	structItem, had := txn.HasItem(structKey(idx))
	if had && structItem.HasRead() {
		structItem.UpdateRead(v0, v1)
	}

	item := txn.Item(idx, recordKey(newElem))
	item.AddWrite(v)
	item.AddFlags(stm.FlagInsert)

	return true, false
}

// DeleteRow deletes k, following the same semantics as
// hashindex.Index.DeleteRow.
func (idx *Index[K, V]) DeleteRow(txn *stm.Txn, k K) (ok, existed bool) {
	structVers := idx.structVersion.Sample()
	e, exists := idx.get(k)

	if !exists {
		if !txn.Item(idx, structKey(idx)).Observe(structVers) {
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
			txn.Item(idx, structKey(idx)).Observe(structVers)
			return true, true
		}
		if item.HasDelete() {
			return true, false
		}
	}

	if idx.cfg.adaptive {
		e.version.Lock()
		item.MarkPreLocked()
		item.AddWrite(nil)
	} else {
		if !item.Observe(e.version.Sample()) {
			return false, false
		}
		item.AddWrite(nil)
	}
	if e.deleted {
		return false, false
	}
	item.AddFlags(stm.FlagDelete)
	return true, true
}

// RangeScan visits every committed (or, under read-my-write, self-staged)
// row with a key in [begin, end) in ascending order, or (begin, end] in
// descending order when reverse is true, calling callback for each until
// it returns false or the range is exhausted. A callback returning false
// ends the scan normally with ok=true; ok is false only when an
// observation fails and the transaction must abort.
func (idx *Index[K, V]) RangeScan(txn *stm.Txn, begin, end K, reverse bool, callback func(key K, value V) bool) (ok bool) {
	structVers := idx.structVersion.Sample()
	if !txn.Item(idx, structKey(idx)).Observe(structVers) {
		return false
	}

	type snapshotRow struct {
		key K
		el  *elem[K, V]
	}
	var rows []snapshotRow

	idx.mu.RLock()
	if !reverse {
		endBytes := idx.toBytes(end)
		idx.tree.Ascend(idx.probe(begin), func(e *elem[K, V]) bool {
			if !idx.lessFn(idx.toBytes(e.key), endBytes) {
				return false
			}
			rows = append(rows, snapshotRow{e.key, e})
			return true
		})
	} else {
		beginBytes := idx.toBytes(begin)
		idx.tree.Descend(idx.probe(end), func(e *elem[K, V]) bool {
			if !idx.lessFn(beginBytes, idx.toBytes(e.key)) {
				return false
			}
			rows = append(rows, snapshotRow{e.key, e})
			return true
		})
	}
	idx.mu.RUnlock()

	for _, row := range rows {
		item := txn.Item(idx, recordKey(row.el))

		if idx.cfg.readMyWrite {
			if item.HasDelete() {
				continue
			}
			if item.HasWrite() {
				v, _ := item.WriteValue().(V)
				if !callback(row.key, v) {
					return true
				}
				continue
			}
		}

		if !item.Observe(row.el.version.Sample()) {
			return false
		}
		if !row.el.valid() {
			continue
		}
		if !callback(row.key, row.el.value) {
			return true
		}
	}

	return true
}

// NontransGet reads k's current value outside any transaction.
func (idx *Index[K, V]) NontransGet(k K) (V, bool) {
	if e, exists := idx.get(k); exists {
		return e.value, true
	}
	var zero V
	return zero, false
}

// NontransPut writes k=v outside any transaction.
func (idx *Index[K, V]) NontransPut(k K, v V) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if e, exists := idx.tree.Get(idx.probe(k)); exists {
		e.value = v
		return
	}
	idx.tree.Set(idx.newElem(k, v, true))
}

// NontransRemove deletes k outside any transaction, reporting whether it
// was present.
func (idx *Index[K, V]) NontransRemove(k K) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, existed := idx.tree.Delete(idx.probe(k))
	return existed
}

func (idx *Index[K, V]) newElem(k K, v V, valid bool) *elem[K, V] {
	return &elem[K, V]{
		key:     k,
		value:   v,
		version: newVersionCell(valid),
	}
}

func (idx *Index[K, V]) unlinkNow(e *elem[K, V]) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.Delete(e)
}
