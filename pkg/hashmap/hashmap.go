// Package hashmap implements an open-chained hash table that rehashes
// progressively, in bounded work quanta, so no single operation ever pays
// for a full table rebuild.
//
// The source this was ported from stores the hash-chain link and hash code
// inline inside the value being indexed and recovers the owning struct via
// pointer arithmetic. Go has no safe equivalent of that, so every entry here
// is instead a small owned Node[T] that wraps the caller's value — the node
// is the thing chained, looked up, and popped; T is opaque payload.
package hashmap

// resizeWork bounds how much rehashing work a single Insert/Lookup/Pop may
// perform. Keeping it small bounds per-request latency during a resize.
const resizeWork = 128

// loadFactorThreshold bounds the load factor: growth triggers once count
// exceeds loadFactorThreshold*capacity.
const loadFactorThreshold = 8

// Node is one entry in the map: a stable hash code, the caller's payload,
// and the intra-bucket chain link.
type Node[T any] struct {
	HCode uint64
	Value T
	next  *Node[T]
}

type table[T any] struct {
	buckets []*Node[T]
	mask    uint64
	count   int
}

func newTable[T any](capacity uint64) *table[T] {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("hashmap: capacity must be a power of two")
	}
	return &table[T]{
		buckets: make([]*Node[T], capacity),
		mask:    capacity - 1,
	}
}

func (t *table[T]) bucketIndex(hcode uint64) uint64 {
	return hcode & t.mask
}

func (t *table[T]) insert(n *Node[T]) {
	idx := t.bucketIndex(n.HCode)
	n.next = t.buckets[idx]
	t.buckets[idx] = n
	t.count++
}

// lookup walks the chain at n.HCode's bucket, returning the matching node
// and, for pop's benefit, the node whose next pointer must be rewritten to
// detach it (nil if the match is the bucket head).
func (t *table[T]) lookup(hcode uint64, eq func(T) bool) (match, prev *Node[T]) {
	idx := t.bucketIndex(hcode)
	var p *Node[T]
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.HCode == hcode && eq(n.Value) {
			return n, p
		}
		p = n
	}
	return nil, nil
}

func (t *table[T]) detach(hcode uint64, match, prev *Node[T]) {
	idx := t.bucketIndex(hcode)
	if prev == nil {
		t.buckets[idx] = match.next
	} else {
		prev.next = match.next
	}
	match.next = nil
	t.count--
}

// Map is a two-table, progressively rehashed hash map. In steady state old
// is nil; during a resize epoch old holds the pre-growth table and main is
// double its capacity, with resizePos marking how far the migration has
// advanced through old's buckets.
type Map[T any] struct {
	main      *table[T]
	old       *table[T]
	resizePos uint64
}

// New returns an empty map with the given initial capacity, which must be a
// power of two.
func New[T any](initialCapacity uint64) *Map[T] {
	return &Map[T]{main: newTable[T](initialCapacity)}
}

// Insert unconditionally adds n; the caller is responsible for ensuring no
// equal entry already exists.
func (m *Map[T]) Insert(n *Node[T]) {
	m.main.insert(n)
	m.helpResize()
	m.maybeStartResize()
}

// Lookup returns the node whose hash code matches hcode and for which
// eq(value) is true, consulting main then old.
func (m *Map[T]) Lookup(hcode uint64, eq func(T) bool) (*Node[T], bool) {
	defer m.helpResize()

	if n, _ := m.main.lookup(hcode, eq); n != nil {
		return n, true
	}
	if m.old != nil {
		if n, _ := m.old.lookup(hcode, eq); n != nil {
			return n, true
		}
	}
	return nil, false
}

// Pop removes and returns the node matching hcode/eq, or (nil, false).
func (m *Map[T]) Pop(hcode uint64, eq func(T) bool) (*Node[T], bool) {
	defer m.helpResize()

	if n, prev := m.main.lookup(hcode, eq); n != nil {
		m.main.detach(hcode, n, prev)
		return n, true
	}
	if m.old != nil {
		if n, prev := m.old.lookup(hcode, eq); n != nil {
			m.old.detach(hcode, n, prev)
			m.releaseOldIfEmpty()
			return n, true
		}
	}
	return nil, false
}

// Size returns the total number of entries across both inner tables.
func (m *Map[T]) Size() int {
	n := m.main.count
	if m.old != nil {
		n += m.old.count
	}
	return n
}

// Scan invokes visit for every node in the map, in unspecified order.
func (m *Map[T]) Scan(visit func(*Node[T])) {
	for _, head := range m.main.buckets {
		for n := head; n != nil; n = n.next {
			visit(n)
		}
	}
	if m.old != nil {
		for _, head := range m.old.buckets {
			for n := head; n != nil; n = n.next {
				visit(n)
			}
		}
	}
}

// Resizing reports whether a resize epoch is currently in progress.
func (m *Map[T]) Resizing() bool {
	return m.old != nil
}

func (m *Map[T]) maybeStartResize() {
	if m.old != nil {
		return
	}
	// Integer arithmetic, no fractional load factor: the threshold is
	// count > loadFactorThreshold*capacity.
	if uint64(m.main.count) <= loadFactorThreshold*(m.main.mask+1) {
		return
	}
	m.old = m.main
	m.main = newTable[T](2 * (m.old.mask + 1))
	m.resizePos = 0
}

// helpResize performs up to resizeWork units of incremental migration from
// old into main. One unit is either skipping an empty old bucket or moving
// one node.
func (m *Map[T]) helpResize() {
	if m.old == nil {
		return
	}
	work := 0
	for work < resizeWork && m.old.count > 0 {
		for m.resizePos <= m.old.mask && m.old.buckets[m.resizePos] == nil {
			m.resizePos++
			work++
			if work >= resizeWork {
				return
			}
		}
		if m.resizePos > m.old.mask {
			break
		}
		n := m.old.buckets[m.resizePos]
		m.old.buckets[m.resizePos] = n.next
		n.next = nil
		m.old.count--
		m.main.insert(n)
		work++
	}
	m.releaseOldIfEmpty()
}

func (m *Map[T]) releaseOldIfEmpty() {
	if m.old != nil && m.old.count == 0 {
		m.old = nil
		m.resizePos = 0
	}
}
