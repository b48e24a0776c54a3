package rcu

// slot is one entry in a group's circular/append-only buffer. A slot whose
// fn is nil is a sentinel carrying the epoch for the run of real slots that
// follows it, rather than every slot carrying its own epoch.
type slot struct {
	fn  func(arg any)
	arg any
	// epoch is only meaningful when fn == nil (a sentinel slot).
	epoch uint64
}

// group is a fixed-capacity append-only buffer of deferred-free callbacks,
// chained into a list by set. Grounded on original_source/TRcu.hh's
// TRcuGroup: head/tail indices, a capacity bound, and a trailing epoch
// carried by sentinel slots rather than per-entry.
type group struct {
	slots    []slot
	head     int
	tail     int
	capacity int
	epoch    uint64
	hasEpoch bool
	next     *group
}

func newGroup(capacity int) *group {
	return &group{
		slots:    make([]slot, capacity),
		capacity: capacity,
	}
}

// add appends an entry, prefixing it with a sentinel epoch slot if the
// group holds no pending slots or its most recently recorded epoch differs
// (or none has been recorded yet). Caller (set.Add) must already have
// ensured at least 2 free slots.
func (g *group) add(epoch uint64, fn func(arg any), arg any) {
	if g.head == g.tail || !g.hasEpoch || g.epoch != epoch {
		g.slots[g.tail] = slot{fn: nil, epoch: epoch}
		g.epoch = epoch
		g.hasEpoch = true
		g.tail++
	}
	g.slots[g.tail] = slot{fn: fn, arg: arg}
	g.tail++
}

// free runs every remaining callback unconditionally, as the group is torn
// down (mirrors TRcuGroup's destructor).
func (g *group) free() {
	for g.head != g.tail {
		if g.slots[g.head].fn != nil {
			g.slots[g.head].fn(g.slots[g.head].arg)
		}
		g.head++
	}
}

// cleanUntil invokes every callback whose associated epoch is strictly less
// than maxEpoch, advancing head as it goes. Returns true once every slot in
// the group has been drained (so the caller can recycle/unlink the group).
func (g *group) cleanUntil(maxEpoch uint64) (drained bool) {
	curEpoch := uint64(0)
	for g.head != g.tail {
		s := g.slots[g.head]
		if s.fn == nil {
			curEpoch = s.epoch
			if curEpoch >= maxEpoch {
				return false
			}
			g.head++
			continue
		}
		if curEpoch >= maxEpoch {
			return false
		}
		s.fn(s.arg)
		g.head++
	}
	return true
}
