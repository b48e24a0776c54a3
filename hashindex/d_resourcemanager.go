package hashindex

import "occindex/internal/stm"

// Lock acquires item's underlying element lock, or is a no-op returning
// true if the adapter already acquired it eagerly (the adaptive variant's
// select-for-update path).
func (idx *Index[K, V]) Lock(item *stm.Item) bool {
	if item.PreLocked() {
		return true
	}
	el := item.Key.Ptr.(*elem[K, V])
	return el.version.TryLock()
}

// Check validates a bucket-miss observation or a record's version,
// dispatching to the self variant when this transaction holds the
// record's lock itself.
func (idx *Index[K, V]) Check(item *stm.Item) bool {
	if item.Key.Kind == stm.KindBucket {
		b := item.Key.Ptr.(*bucketEntry[K, V])
		return b.version.CheckVersion(item.ReadValue())
	}
	el := item.Key.Ptr.(*elem[K, V])
	if item.HasWrite() || item.HasDelete() {
		return el.version.CheckVersionSelf(item.ReadValue())
	}
	return el.version.CheckVersion(item.ReadValue())
}

// Install applies a committed write or delete. A delete bumps the
// record's version past its deleted flag flip so later Checks by other
// transactions fail; an insert or update stamps the commit TID, and an
// opaque insert additionally patches the bucket's version from its local
// counter to the same commit TID so its opacity guarantee holds for
// future readers.
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
		b := idx.bucketFor(el.key)
		b.version.Lock()
		if b.version.Sample().Nonopaque() {
			b.version.SetVersion(commitTID)
		}
		b.version.Unlock()
	}
}

// Unlock releases item's underlying element lock.
func (idx *Index[K, V]) Unlock(item *stm.Item) {
	el := item.Key.Ptr.(*elem[K, V])
	el.version.Unlock()
}

// Cleanup unlinks and defers reclamation of a committed delete's target,
// or unwinds an aborted insert's target, via the index's RCU set. A bucket
// item never needs cleanup: it never carries a write.
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

// unlink removes el from its bucket's chain and schedules its release via
// the reclamation set, deferred until no in-flight transaction that might
// have observed el through its bucket chain can still be running.
func (idx *Index[K, V]) unlink(el *elem[K, V]) {
	b := idx.bucketFor(el.key)
	b.version.Lock()
	var prev *elem[K, V]
	for cur := b.head; cur != nil; cur = cur.next {
		if cur == el {
			if prev == nil {
				b.head = cur.next
			} else {
				prev.next = cur.next
			}
			break
		}
		prev = cur
	}
	b.version.Unlock()

	epoch := idx.epoch()
	idx.rcuMu.Lock()
	idx.rcu.Add(epoch, func(arg any) {
		e := arg.(*elem[K, V])
		if idx.cfg.onRelease != nil {
			idx.cfg.onRelease(e.value)
		}
		e.next = nil
	}, el)
	idx.rcuMu.Unlock()
}

// ReclaimUntil drains the index's reclamation set up to maxEpoch, running
// any callbacks for records retired at an earlier epoch. Call periodically
// with an Oracle's quiescence watermark (a begin timestamp at or below
// which every transaction has finished) to bound how long unlinked
// records are kept alive.
func (idx *Index[K, V]) ReclaimUntil(maxEpoch uint64) {
	idx.rcuMu.Lock()
	defer idx.rcuMu.Unlock()
	idx.rcu.CleanUntil(maxEpoch)
}
