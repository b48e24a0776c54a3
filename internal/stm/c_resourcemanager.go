package stm

// ResourceManager is the four-phase (plus cleanup) callback contract an
// index implements to participate in the commit protocol (SPEC_FULL.md
// §4.F, §6). During Commit the Oracle drives Lock, Install and Unlock in
// item-pointer order and Check in the order items were first touched;
// Cleanup is driven for every touched item regardless of outcome.
type ResourceManager interface {
	// Lock attempts to acquire the item's underlying version lock without
	// blocking. Returning false aborts the whole transaction.
	Lock(item *Item) bool
	// Check revalidates a previously observed read. Returning false
	// aborts the whole transaction.
	Check(item *Item) bool
	// Install applies a staged write (or delete) using commitTID as the
	// new version timestamp. Called only for items that were
	// successfully locked.
	Install(item *Item, commitTID uint64)
	// Unlock releases the lock acquired by Lock.
	Unlock(item *Item)
	// Cleanup runs after the transaction has fully committed or aborted,
	// letting the resource manager unlink and RCU-retire records whose
	// fate is now decided (committed delete, or aborted insert).
	Cleanup(item *Item, committed bool)
}
