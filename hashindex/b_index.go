package hashindex

import (
	"sync"
	"sync/atomic"

	"occindex/internal/rcu"
	"occindex/internal/stm"
	"occindex/internal/version"
)

// config holds the constructor options. Mirrors the original's three
// template bools (Opacity, Adaptive, ReadMyWrite) as runtime fields, since
// Go generics can't carry non-type template parameters the way C++ can.
type config[V any] struct {
	opaque      bool
	adaptive    bool
	readMyWrite bool

	rcuGroupCapacity int
	epochNow         func() uint64
	onRelease        func(V)
}

// Option configures an Index at construction time.
type Option[V any] func(*config[V])

// WithOpaque selects the discipline for bucket versions. true (the
// default) promotes a bucket version bumped by a committed insert from
// its local counter to that insert's commit TID at install time; false
// leaves bucket versions on the local counter. Element versions are
// stamped with the commit TID at install time under either setting.
func WithOpaque[V any](opaque bool) Option[V] {
	return func(c *config[V]) { c.opaque = opaque }
}

// WithAdaptive selects eager locking: SelectRow(forUpdate=true) and an
// overwriting InsertRow acquire the element's lock immediately rather than
// deferring acquisition to commit time. Trades a longer-held lock for
// earlier conflict detection.
func WithAdaptive[V any](adaptive bool) Option[V] {
	return func(c *config[V]) { c.adaptive = adaptive }
}

// WithReadMyWrite enables read-my-own-writes: a transaction that deletes a
// row it is about to insert (or inserts over a row it just deleted) sees
// its own pending write instead of re-deriving it from the committed
// state.
func WithReadMyWrite[V any](enabled bool) Option[V] {
	return func(c *config[V]) { c.readMyWrite = enabled }
}

// WithEpochSource supplies the monotonic clock used as the RCU retirement
// epoch when a record is unlinked, typically an *stm.Oracle's Now method.
// Without one, the index falls back to an internal counter ticking once
// per reclaimed record, which is safe but does not interoperate with a
// shared Oracle's timestamp space.
func WithEpochSource[V any](now func() uint64) Option[V] {
	return func(c *config[V]) { c.epochNow = now }
}

// WithOnRelease registers a callback run (via the RCU reclamation set, so
// only after no in-flight transaction can still observe the record) when a
// row is finally unlinked, for values that own external resources.
func WithOnRelease[V any](fn func(V)) Option[V] {
	return func(c *config[V]) { c.onRelease = fn }
}

// WithRCUGroupCapacity overrides the reclamation set's per-group slot
// count; see rcu.New.
func WithRCUGroupCapacity[V any](n int) Option[V] {
	return func(c *config[V]) { c.rcuGroupCapacity = n }
}

// Index is an STM-aware hash table keyed by K storing rows of type V.
// Grounded on original_source/TPCC_index.hh's unordered_index.
type Index[K comparable, V any] struct {
	buckets []bucketEntry[K, V]
	hash    func(K) uint64
	equal   func(K, K) bool
	keyGen  atomic.Uint64

	cfg config[V]

	rcuMu sync.Mutex
	rcu   *rcu.Set
	localEpoch atomic.Uint64
}

// New constructs a hash index with the given fixed bucket count. hash and
// equal must be consistent (equal(a,b) implies hash(a) == hash(b)).
func New[K comparable, V any](bucketCount int, hash func(K) uint64, equal func(K, K) bool, opts ...Option[V]) *Index[K, V] {
	if bucketCount <= 0 {
		bucketCount = 1
	}
	cfg := config[V]{opaque: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	idx := &Index[K, V]{
		buckets: make([]bucketEntry[K, V], bucketCount),
		hash:    hash,
		equal:   equal,
		cfg:     cfg,
		rcu:     rcu.New(cfg.rcuGroupCapacity),
	}
	for i := range idx.buckets {
		idx.buckets[i].version = version.NewCell(version.New(0, true, false))
	}
	return idx
}

// GenKey returns the next value from the index's private monotonic key
// generator, for callers that want synthetic surrogate keys.
func (idx *Index[K, V]) GenKey() uint64 {
	return idx.keyGen.Add(1) - 1
}

func (idx *Index[K, V]) bucketFor(k K) *bucketEntry[K, V] {
	h := idx.hash(k) % uint64(len(idx.buckets))
	return &idx.buckets[h]
}

func (idx *Index[K, V]) findInBucket(b *bucketEntry[K, V], k K) *elem[K, V] {
	for cur := b.head; cur != nil; cur = cur.next {
		if idx.equal(cur.key, k) {
			return cur
		}
	}
	return nil
}

func (idx *Index[K, V]) epoch() uint64 {
	if idx.cfg.epochNow != nil {
		return idx.cfg.epochNow()
	}
	return idx.localEpoch.Add(1)
}

// selectForUpdate stages a write-intent on item, observing cell's current
// version (OCC variant) or locking it outright (adaptive variant).
func selectForUpdate(item *stm.Item, cell *version.Cell, adaptive bool) bool {
	if adaptive {
		cell.Lock()
		item.MarkPreLocked()
		item.AddWrite(nil)
		return true
	}
	v := cell.Sample()
	if !item.Observe(v) {
		return false
	}
	item.AddWrite(nil)
	return true
}
