package stm

import "sort"

// Txn is the per-transaction read/write set and item bookkeeping: the
// "Transaction context" SPEC_FULL.md §2 lists as component C. Grounded on
// the teacher's pkg/txn/b_txn.go (Txn carrying a begin timestamp, a write
// set and a read set), generalized from MVCC key/value pairs to
// resource-manager items.
type Txn struct {
	oracle  *Oracle
	beginTS uint64

	items     map[ItemKey]*Item
	order     []*Item // insertion order, for deterministic Cleanup iteration
	discarded bool
}

func newTxn(oracle *Oracle, beginTS uint64) *Txn {
	return &Txn{
		oracle:  oracle,
		beginTS: beginTS,
		items:   make(map[ItemKey]*Item),
	}
}

// BeginTS returns the transaction's begin timestamp.
func (txn *Txn) BeginTS() uint64 { return txn.beginTS }

// Item returns the existing item for key under owner, creating one if this
// is the first time this transaction has touched key. Mirrors Sto::item.
func (txn *Txn) Item(owner ResourceManager, key ItemKey) *Item {
	if it, ok := txn.items[key]; ok {
		return it
	}
	it := &Item{Key: key, Owner: owner}
	txn.items[key] = it
	txn.order = append(txn.order, it)
	return it
}

// HasItem reports whether key has already been touched by this
// transaction, without creating an entry.
func (txn *Txn) HasItem(key ItemKey) (*Item, bool) {
	it, ok := txn.items[key]
	return it, ok
}

// Forget drops key from this transaction's item set entirely. Used when a
// transaction deletes a record it inserted itself earlier in the same
// transaction: the record is unlinked immediately and every pending item
// for it becomes meaningless (SPEC_FULL.md §4.D step 2).
func (txn *Txn) Forget(key ItemKey) {
	if it, ok := txn.items[key]; ok {
		delete(txn.items, key)
		for i, o := range txn.order {
			if o == it {
				txn.order = append(txn.order[:i], txn.order[i+1:]...)
				break
			}
		}
	}
}

// Discard abandons the transaction without committing, running Cleanup
// with committed=false on every touched item (so staged inserts get
// unwound) and releasing the transaction's hold on the oracle's epoch
// watermark.
func (txn *Txn) Discard() {
	if txn.discarded {
		return
	}
	txn.discarded = true
	for _, it := range txn.order {
		it.Owner.Cleanup(it, false)
	}
	txn.oracle.doneRead(txn)
}

// writeItems returns the subset of items with a staged write, sorted by
// underlying pointer address for deadlock-free lock acquisition.
func (txn *Txn) writeItems() []*Item {
	var ws []*Item
	for _, it := range txn.order {
		if it.HasWrite() || it.HasDelete() {
			ws = append(ws, it)
		}
	}
	sort.Slice(ws, func(i, j int) bool { return pointerOrder(ws[i]) < pointerOrder(ws[j]) })
	return ws
}
