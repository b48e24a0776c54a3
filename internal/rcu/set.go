// Package rcu implements the thread-local (goroutine-local) reclamation set
// described in SPEC_FULL.md §4.B: a bucketed deferred-free list that lets
// the hash and ordered indexes hand off unlinked records for reclamation
// once no concurrent reader can still observe them.
//
// A Set is owned by exactly one goroutine. It is never safe to call Add or
// CleanUntil on the same Set concurrently from two goroutines — the caller
// (the transaction's home goroutine, per SPEC_FULL.md's RCU ownership note)
// is responsible for that discipline.
package rcu

const defaultGroupCapacity = 1024

// Set is the per-owner reclamation set. Grounded on
// original_source/TRcu.hh's TRcuSet: a linked list of fixed-capacity groups,
// a clean_epoch high-water mark, and Add/CleanUntil entry points.
type Set struct {
	first       *group
	current     *group
	cleanEpoch  uint64
	hasCleaned  bool
	groupSize   int
	freeGroups  []*group // recycled, fully-drained groups
}

// New constructs an empty reclamation set. groupCapacity <= 0 selects a
// reasonable default.
func New(groupCapacity int) *Set {
	if groupCapacity <= 0 {
		groupCapacity = defaultGroupCapacity
	}
	g := newGroup(groupCapacity)
	return &Set{first: g, current: g, groupSize: groupCapacity}
}

// Add enqueues fn(arg) to run once no transaction can observe arg anymore,
// i.e. once CleanUntil is called with an epoch strictly greater than epoch.
func (s *Set) Add(epoch uint64, fn func(arg any), arg any) {
	if s.current.tail+2 > s.current.capacity {
		s.grow()
	}
	s.current.add(epoch, fn, arg)
}

// grow appends a fresh group (recycling one from the free list when
// available) and makes it the current append target.
func (s *Set) grow() {
	var g *group
	if n := len(s.freeGroups); n > 0 {
		g = s.freeGroups[n-1]
		s.freeGroups = s.freeGroups[:n-1]
		g.head, g.tail, g.hasEpoch = 0, 0, false
	} else {
		g = newGroup(s.groupSize)
	}
	s.current.next = g
	s.current = g
}

// CleanUntil invokes every pending callback retired at an epoch strictly
// less than maxEpoch, freeing fully-drained groups back to the pool. A call
// with an unchanged maxEpoch is a no-op, matching the original's
// clean_epoch_ short-circuit.
func (s *Set) CleanUntil(maxEpoch uint64) {
	if s.hasCleaned && s.cleanEpoch == maxEpoch {
		return
	}
	s.hardCleanUntil(maxEpoch)
	s.cleanEpoch = maxEpoch
	s.hasCleaned = true
}

func (s *Set) hardCleanUntil(maxEpoch uint64) {
	for s.first != s.current {
		if !s.first.cleanUntil(maxEpoch) {
			return
		}
		drained := s.first
		s.first = s.first.next
		drained.next = nil
		s.freeGroups = append(s.freeGroups, drained)
	}
	s.first.cleanUntil(maxEpoch)
}

// CleanEpoch returns the high-water mark passed to the most recent
// CleanUntil call.
func (s *Set) CleanEpoch() uint64 {
	return s.cleanEpoch
}

// Close runs every still-pending callback unconditionally, mirroring
// TRcuGroup's destructor. Call when the owning goroutine is shutting down.
func (s *Set) Close() {
	for g := s.first; g != nil; {
		next := g.next
		g.free()
		g = next
	}
	s.first, s.current = nil, nil
}
