package orderedindex

import "occindex/internal/stm"

// Lock acquires item's underlying element lock, or is a no-op if the
// adapter already acquired it eagerly.
func (idx *Index[K, V]) Lock(item *stm.Item) bool {
	if item.PreLocked() {
		return true
	}
	el := item.Key.Ptr.(*elem[K, V])
	return el.version.TryLock()
}

// Check validates a structural-miss observation or a record's version.
func (idx *Index[K, V]) Check(item *stm.Item) bool {
	if item.Key.Kind == stm.KindInternode {
		return idx.structVersion.CheckVersion(item.ReadValue())
	}
	el := item.Key.Ptr.(*elem[K, V])
	if item.HasWrite() || item.HasDelete() {
		return el.version.CheckVersionSelf(item.ReadValue())
	}
	return el.version.CheckVersion(item.ReadValue())
}

// Install applies a committed write or delete, patching the index's
// structural version the same way hashindex patches a bucket version for
// an opaque insert.
func (idx *Index[K, V]) Install(item *stm.Item, commitTID uint64) {
	el := item.Key.Ptr.(*elem[K, V])

	if item.HasDelete() {
		el.deleted = true
		el.version.SetVersionLocked(el.version.Sample().Timestamp() + 1)
		return
	}

	if !item.HasInsert() {
		if v, ok := item.WriteValue().(V); ok {
			el.value = v
		}
	}
	el.version.SetVersion(commitTID)

	if idx.cfg.opaque && item.HasInsert() {
		idx.structVersion.Lock()
		if idx.structVersion.Sample().Nonopaque() {
			idx.structVersion.SetVersion(commitTID)
		}
		idx.structVersion.Unlock()
	}
}

// Unlock releases item's underlying element lock.
func (idx *Index[K, V]) Unlock(item *stm.Item) {
	el := item.Key.Ptr.(*elem[K, V])
	el.version.Unlock()
}

// Cleanup unlinks and defers reclamation of a committed delete's target,
// or unwinds an aborted insert's target.
func (idx *Index[K, V]) Cleanup(item *stm.Item, committed bool) {
	if item.Key.Kind != stm.KindRecord {
		return
	}
	el := item.Key.Ptr.(*elem[K, V])
	shouldUnlink := (committed && item.HasDelete()) || (!committed && item.HasInsert())
	if !shouldUnlink {
		return
	}
	idx.unlink(el)
}

func (idx *Index[K, V]) unlink(el *elem[K, V]) {
	idx.mu.Lock()
	idx.tree.Delete(el)
	idx.mu.Unlock()

	epoch := idx.epoch()
	idx.rcuMu.Lock()
	idx.rcu.Add(epoch, func(arg any) {
		e := arg.(*elem[K, V])
		if idx.cfg.onRelease != nil {
			idx.cfg.onRelease(e.value)
		}
	}, el)
	idx.rcuMu.Unlock()
}

// ReclaimUntil drains the index's reclamation set up to maxEpoch. Call
// periodically with an Oracle's quiescence watermark.
func (idx *Index[K, V]) ReclaimUntil(maxEpoch uint64) {
	idx.rcuMu.Lock()
	defer idx.rcuMu.Unlock()
	idx.rcu.CleanUntil(maxEpoch)
}
