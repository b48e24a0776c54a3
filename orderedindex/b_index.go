package orderedindex

import (
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"

	"occindex/internal/rcu"
	"occindex/internal/version"
)

type config[V any] struct {
	opaque      bool
	adaptive    bool
	readMyWrite bool

	rcuGroupCapacity int
	epochNow         func() uint64
	onRelease        func(V)
}

// Option configures an Index at construction time. See the matching
// options in package hashindex for the meaning of each.
type Option[V any] func(*config[V])

func WithOpaque[V any](opaque bool) Option[V]          { return func(c *config[V]) { c.opaque = opaque } }
func WithAdaptive[V any](adaptive bool) Option[V]      { return func(c *config[V]) { c.adaptive = adaptive } }
func WithReadMyWrite[V any](enabled bool) Option[V]    { return func(c *config[V]) { c.readMyWrite = enabled } }
func WithEpochSource[V any](now func() uint64) Option[V] {
	return func(c *config[V]) { c.epochNow = now }
}
func WithOnRelease[V any](fn func(V)) Option[V] { return func(c *config[V]) { c.onRelease = fn } }
func WithRCUGroupCapacity[V any](n int) Option[V] {
	return func(c *config[V]) { c.rcuGroupCapacity = n }
}

// Index is an STM-aware ordered map keyed by K, backed by a
// github.com/tidwall/btree.BTreeG. It supports range scans in either
// direction in addition to the point operations hashindex offers.
type Index[K any, V any] struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*elem[K, V]]

	toBytes func(K) []byte
	lessFn  func(a, b []byte) bool
	keyGen  atomic.Uint64

	structVersion *version.Cell

	cfg config[V]

	rcuMu      sync.Mutex
	rcu        *rcu.Set
	localEpoch atomic.Uint64
}

// New constructs an ordered index. toBytes renders a key to its
// comparison bytes and less orders two such byte strings; together they
// let the index sort arbitrary key types without requiring K itself to be
// ordered.
func New[K any, V any](toBytes func(K) []byte, less func(a, b []byte) bool, opts ...Option[V]) *Index[K, V] {
	cfg := config[V]{opaque: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	idx := &Index[K, V]{
		toBytes:       toBytes,
		lessFn:        less,
		structVersion: version.NewCell(version.New(0, true, false)),
		cfg:           cfg,
		rcu:           rcu.New(cfg.rcuGroupCapacity),
	}
	idx.tree = btree.NewBTreeG(func(a, b *elem[K, V]) bool {
		return less(toBytes(a.key), toBytes(b.key))
	})
	return idx
}

// GenKey returns the next value from the index's private monotonic key
// generator.
func (idx *Index[K, V]) GenKey() uint64 {
	return idx.keyGen.Add(1) - 1
}

func (idx *Index[K, V]) probe(k K) *elem[K, V] {
	return &elem[K, V]{key: k}
}

func (idx *Index[K, V]) epoch() uint64 {
	if idx.cfg.epochNow != nil {
		return idx.cfg.epochNow()
	}
	return idx.localEpoch.Add(1)
}

func (idx *Index[K, V]) get(k K) (*elem[K, V], bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Get(idx.probe(k))
}
