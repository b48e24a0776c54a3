package rcu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanUntilRunsOnlyEntriesBelowMaxEpoch(t *testing.T) {
	set := New(8)

	var freed []int
	free := func(arg any) { freed = append(freed, arg.(int)) }

	set.Add(1, free, 1)
	set.Add(1, free, 2)
	set.Add(2, free, 3)
	set.Add(3, free, 4)

	set.CleanUntil(2)
	assert.Equal(t, []int{1, 2}, freed)

	set.CleanUntil(4)
	assert.Equal(t, []int{1, 2, 3, 4}, freed)
}

func TestCleanUntilWithUnchangedEpochIsNoop(t *testing.T) {
	set := New(8)
	calls := 0
	set.Add(1, func(arg any) { calls++ }, nil)

	set.CleanUntil(5)
	assert.Equal(t, 1, calls)

	set.CleanUntil(5)
	assert.Equal(t, 1, calls, "second call at the same epoch must not re-walk groups")
}

func TestAddGrowsAcrossGroupsAndReclaimsDrainedOnes(t *testing.T) {
	set := New(4) // tiny groups force growth quickly

	const n = 100
	var freed int
	for i := 0; i < n; i++ {
		set.Add(uint64(i), func(arg any) { freed++ }, i)
	}

	set.CleanUntil(uint64(n))
	assert.Equal(t, n, freed)
	// the fully-drained groups should have been recycled onto the free list
	assert.NotEmpty(t, set.freeGroups)
}

func TestCloseRunsAllPendingCallbacksUnconditionally(t *testing.T) {
	set := New(8)
	var ran []int
	set.Add(100, func(arg any) { ran = append(ran, arg.(int)) }, 1)
	set.Add(200, func(arg any) { ran = append(ran, arg.(int)) }, 2)

	// no CleanUntil call at all — Close must still run everything.
	set.Close()
	assert.Equal(t, []int{1, 2}, ran)
}

func TestRcuSafetyScenario(t *testing.T) {
	// Scenario 5 from SPEC_FULL.md §8: a record retired at epoch E must
	// not be reclaimed by a CleanUntil(<=E) call, but must be reclaimed
	// once all readers at E-1 have quiesced (CleanUntil(>E)).
	set := New(8)
	freed := false
	set.Add(5, func(arg any) { freed = true }, nil)

	set.CleanUntil(5)
	assert.False(t, freed, "reclamation at epoch <= E must not free the record")

	set.CleanUntil(6)
	assert.True(t, freed, "reclamation at epoch > E must free the record")
}
