package hashindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"occindex/internal/stm"
)

func oneBucketIndex[V any](opts ...Option[V]) (*Index[int, V], *stm.Oracle) {
	oracle := stm.NewOracle()
	allOpts := append([]Option[V]{WithEpochSource[V](oracle.Now)}, opts...)
	idx := New[int, V](1, func(k int) uint64 { return uint64(k) }, func(a, b int) bool { return a == b }, allOpts...)
	return idx, oracle
}

func TestWriteSkewViaBucketPhantom(t *testing.T) {
	idx, oracle := oneBucketIndex[string]()

	txn1 := oracle.Begin()
	ok, found, _, _ := idx.SelectRow(txn1, 5, false)
	require.True(t, ok)
	require.False(t, found)

	txn2 := oracle.Begin()
	ok, existed := idx.InsertRow(txn2, 5, "from-t2", false)
	require.True(t, ok)
	require.False(t, existed)
	_, err := oracle.Commit(txn2)
	require.NoError(t, err)

	ok, existed = idx.InsertRow(txn1, 5, "from-t1", false)
	require.True(t, ok)
	assert.True(t, existed)

	_, err = oracle.Commit(txn1)
	assert.ErrorIs(t, err, stm.ErrTxnConflict)

	v, found := idx.NontransGet(5)
	assert.True(t, found)
	assert.Equal(t, "from-t2", v)
}

func TestReadMyInsert(t *testing.T) {
	idx, oracle := oneBucketIndex[string](WithReadMyWrite[string](true))

	txn := oracle.Begin()
	ok, existed := idx.InsertRow(txn, 1, "va", false)
	require.True(t, ok)
	require.False(t, existed)

	ok, found, _, value := idx.SelectRow(txn, 1, false)
	require.True(t, ok)
	require.True(t, found)
	require.Equal(t, "va", *value)

	ok, existed = idx.DeleteRow(txn, 1)
	require.True(t, ok)
	require.True(t, existed)

	ok, found, _, _ = idx.SelectRow(txn, 1, false)
	require.True(t, ok)
	assert.False(t, found)

	_, err := oracle.Commit(txn)
	assert.NoError(t, err)

	_, found = idx.NontransGet(1)
	assert.False(t, found)
}

func TestDeleteAfterObserveRaceAbortsSelector(t *testing.T) {
	idx, oracle := oneBucketIndex[string]()

	seed := oracle.Begin()
	ok, _ := idx.InsertRow(seed, 7, "seed", false)
	require.True(t, ok)
	_, err := oracle.Commit(seed)
	require.NoError(t, err)

	txn1 := oracle.Begin()
	ok, found, _, _ := idx.SelectRow(txn1, 7, true)
	require.True(t, ok)
	require.True(t, found)

	txn2 := oracle.Begin()
	ok, existed := idx.DeleteRow(txn2, 7)
	require.True(t, ok)
	require.True(t, existed)
	_, err = oracle.Commit(txn2)
	require.NoError(t, err)

	_, err = oracle.Commit(txn1)
	assert.ErrorIs(t, err, stm.ErrTxnConflict)
}

func TestBucketVersionSelfPatch(t *testing.T) {
	idx, oracle := oneBucketIndex[string]()

	txn := oracle.Begin()
	ok, found, _, _ := idx.SelectRow(txn, 42, false)
	require.True(t, ok)
	require.False(t, found)

	ok, existed := idx.InsertRow(txn, 42, "v", false)
	require.True(t, ok)
	require.False(t, existed)

	_, err := oracle.Commit(txn)
	assert.NoError(t, err)

	v, found := idx.NontransGet(42)
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

func TestUpdateRowRequiresPriorForUpdateSelect(t *testing.T) {
	idx, oracle := oneBucketIndex[string]()

	seed := oracle.Begin()
	idx.InsertRow(seed, 9, "orig", false)
	_, err := oracle.Commit(seed)
	require.NoError(t, err)

	txn := oracle.Begin()
	_, _, handle, _ := idx.SelectRow(txn, 9, false)
	err = idx.UpdateRow(txn, handle, "nope")
	assert.ErrorIs(t, err, stm.ErrNoWriteIntent)

	ok, found, handle2, _ := idx.SelectRow(txn, 9, true)
	require.True(t, ok)
	require.True(t, found)
	err = idx.UpdateRow(txn, handle2, "updated")
	require.NoError(t, err)

	_, err = oracle.Commit(txn)
	require.NoError(t, err)

	v, _ := idx.NontransGet(9)
	assert.Equal(t, "updated", v)
}

func TestDeleteRowThenReinsertRoundtrips(t *testing.T) {
	idx, oracle := oneBucketIndex[string]()

	txn1 := oracle.Begin()
	idx.InsertRow(txn1, 3, "v1", false)
	_, err := oracle.Commit(txn1)
	require.NoError(t, err)

	txn2 := oracle.Begin()
	ok, existed := idx.DeleteRow(txn2, 3)
	require.True(t, ok)
	require.True(t, existed)
	_, err = oracle.Commit(txn2)
	require.NoError(t, err)

	idx.ReclaimUntil(oracle.Now())

	_, found := idx.NontransGet(3)
	assert.False(t, found)

	txn3 := oracle.Begin()
	ok, existed = idx.InsertRow(txn3, 3, "v2", false)
	require.True(t, ok)
	require.False(t, existed)
	_, err = oracle.Commit(txn3)
	require.NoError(t, err)

	v, found := idx.NontransGet(3)
	require.True(t, found)
	assert.Equal(t, "v2", v)
}

func TestAbortedInsertIsUnwound(t *testing.T) {
	idx, oracle := oneBucketIndex[string]()

	txn1 := oracle.Begin()
	ok, existed := idx.InsertRow(txn1, 11, "v1", false)
	require.True(t, ok)
	require.False(t, existed)

	txn1.Discard()
	idx.ReclaimUntil(oracle.Now())

	_, found := idx.NontransGet(11)
	assert.False(t, found)
}
