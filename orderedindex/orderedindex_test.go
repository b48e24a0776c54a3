package orderedindex

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"occindex/internal/stm"
)

func intBytes(k int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k))
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

func newTestIndex[V any](opts ...Option[V]) (*Index[int, V], *stm.Oracle) {
	oracle := stm.NewOracle()
	allOpts := append([]Option[V]{WithEpochSource[V](oracle.Now)}, opts...)
	idx := New[int, V](intBytes, bytesLess, allOpts...)
	return idx, oracle
}

func TestRangeScanVisitsCommittedKeysInOrder(t *testing.T) {
	idx, oracle := newTestIndex[string]()

	for _, kv := range []struct {
		k int
		v string
	}{{105, "a"}, {150, "b"}, {90, "z"}, {250, "x"}} {
		txn := oracle.Begin()
		ok, _ := idx.InsertRow(txn, kv.k, kv.v, false)
		require.True(t, ok)
		_, err := oracle.Commit(txn)
		require.NoError(t, err)
	}

	txn := oracle.Begin()
	var seen []int
	ok := idx.RangeScan(txn, 100, 200, false, func(k int, v string) bool {
		seen = append(seen, k)
		return true
	})
	assert.True(t, ok)
	assert.Equal(t, []int{105, 150}, seen)
	_, err := oracle.Commit(txn)
	assert.NoError(t, err)
}

func TestRangePhantomAbortsScanner(t *testing.T) {
	idx, oracle := newTestIndex[string]()

	seedTxn := oracle.Begin()
	idx.InsertRow(seedTxn, 105, "a", false)
	idx.InsertRow(seedTxn, 150, "b", false)
	_, err := oracle.Commit(seedTxn)
	require.NoError(t, err)

	txn1 := oracle.Begin()
	var seen []int
	ok := idx.RangeScan(txn1, 100, 200, false, func(k int, v string) bool {
		seen = append(seen, k)
		return true
	})
	require.True(t, ok)
	require.Equal(t, []int{105, 150}, seen)

	txn2 := oracle.Begin()
	ok2, _ := idx.InsertRow(txn2, 170, "c", false)
	require.True(t, ok2)
	_, err = oracle.Commit(txn2)
	require.NoError(t, err)

	_, err = oracle.Commit(txn1)
	assert.ErrorIs(t, err, stm.ErrTxnConflict)
}

func TestWriteSkewViaStructuralPhantom(t *testing.T) {
	idx, oracle := newTestIndex[string]()

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
}

func TestReadMyInsertThenDelete(t *testing.T) {
	idx, oracle := newTestIndex[string](WithReadMyWrite[string](true))

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
	idx, oracle := newTestIndex[string]()

	seed := oracle.Begin()
	idx.InsertRow(seed, 7, "seed", false)
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

func TestUpdateRowRoundTrips(t *testing.T) {
	idx, oracle := newTestIndex[string]()

	seed := oracle.Begin()
	idx.InsertRow(seed, 9, "orig", false)
	_, err := oracle.Commit(seed)
	require.NoError(t, err)

	txn := oracle.Begin()
	ok, found, handle, _ := idx.SelectRow(txn, 9, true)
	require.True(t, ok)
	require.True(t, found)
	require.NoError(t, idx.UpdateRow(txn, handle, "updated"))
	_, err = oracle.Commit(txn)
	require.NoError(t, err)

	v, found := idx.NontransGet(9)
	require.True(t, found)
	assert.Equal(t, "updated", v)
}

func TestDeleteRowThenReinsertRoundtrips(t *testing.T) {
	idx, oracle := newTestIndex[string]()

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

func TestReverseRangeScan(t *testing.T) {
	idx, oracle := newTestIndex[string]()
	for _, k := range []int{10, 20, 30, 40} {
		txn := oracle.Begin()
		idx.InsertRow(txn, k, "v", false)
		_, err := oracle.Commit(txn)
		require.NoError(t, err)
	}

	txn := oracle.Begin()
	var seen []int
	ok := idx.RangeScan(txn, 10, 40, true, func(k int, v string) bool {
		seen = append(seen, k)
		return true
	})
	assert.True(t, ok)
	assert.Equal(t, []int{40, 30, 20}, seen)
}
