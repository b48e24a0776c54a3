package stm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"occindex/internal/version"
)

// fakeRecord is a minimal resource manager used to exercise the Oracle's
// commit protocol in isolation from any real index.
type fakeRecord struct {
	cell    *version.Cell
	applied uint64
	cleanedUp bool
	committed bool
}

func (r *fakeRecord) Lock(it *Item) bool { return r.cell.TryLock() }
func (r *fakeRecord) Unlock(it *Item)    { r.cell.Unlock() }
func (r *fakeRecord) Check(it *Item) bool {
	if it.HasWrite() || it.HasDelete() {
		return r.cell.CheckVersionSelf(it.ReadValue())
	}
	return r.cell.CheckVersion(it.ReadValue())
}
func (r *fakeRecord) Install(it *Item, commitTID uint64) {
	r.applied = commitTID
	r.cell.SetVersion(commitTID)
}
func (r *fakeRecord) Cleanup(it *Item, committed bool) {
	r.cleanedUp = true
	r.committed = committed
}

func TestCommitSucceedsWhenNoConflict(t *testing.T) {
	oracle := NewOracle()
	rec := &fakeRecord{cell: version.NewCell(version.New(1, true, false))}

	txn := oracle.Begin()
	key := ItemKey{Kind: KindRecord, Ptr: rec}
	item := txn.Item(rec, key)
	assert.True(t, item.Observe(rec.cell.Sample()))
	item.AddWrite("new-value")

	commitTID, err := oracle.Commit(txn)
	assert.NoError(t, err)
	assert.Greater(t, commitTID, uint64(0))
	assert.Equal(t, commitTID, rec.applied)
	assert.True(t, rec.cleanedUp)
	assert.True(t, rec.committed)
}

func TestCommitAbortsOnStaleRead(t *testing.T) {
	oracle := NewOracle()
	rec := &fakeRecord{cell: version.NewCell(version.New(1, true, false))}

	txn := oracle.Begin()
	key := ItemKey{Kind: KindRecord, Ptr: rec}
	item := txn.Item(rec, key)
	assert.True(t, item.Observe(rec.cell.Sample()))
	item.AddWrite("new-value")

	// concurrent mutation after the observation was taken
	rec.cell.SetVersion(99)

	_, err := oracle.Commit(txn)
	assert.ErrorIs(t, err, ErrTxnConflict)
	assert.True(t, rec.cleanedUp)
	assert.False(t, rec.committed)
}

func TestUpdateReadPatchesSelfObservation(t *testing.T) {
	oracle := NewOracle()
	txn := oracle.Begin()
	rec := &fakeRecord{cell: version.NewCell(version.New(1, true, false))}
	item := txn.Item(rec, ItemKey{Kind: KindBucket, Ptr: rec})

	v0 := rec.cell.Sample()
	assert.True(t, item.Observe(v0))

	rec.cell.IncNonopaque()
	v1 := rec.cell.Sample()

	assert.True(t, item.UpdateRead(v0, v1))
	assert.Equal(t, v1, item.ReadValue())
}

func TestForgetDropsItemEntirely(t *testing.T) {
	oracle := NewOracle()
	txn := oracle.Begin()
	rec := &fakeRecord{cell: version.NewCell(version.New(1, false, false))}
	key := ItemKey{Kind: KindRecord, Ptr: rec}
	txn.Item(rec, key)

	_, ok := txn.HasItem(key)
	assert.True(t, ok)

	txn.Forget(key)
	_, ok = txn.HasItem(key)
	assert.False(t, ok)
}
