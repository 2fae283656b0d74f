// Package zset implements a sorted set: a collection of (name, score) pairs
// indexed both by name, through a hashmap.Map, and by (score, name) order,
// through a tree of avltree.Node. The two indexes are kept in lockstep by every
// exported operation.
package zset

import (
	"github.com/cespare/xxhash/v2"

	"github.com/grafana-kv/kvd/pkg/avltree"
	"github.com/grafana-kv/kvd/pkg/hashmap"
)

// znode is the element stored in both indexes. Its score may change over
// its lifetime (Add re-sorts); its name never does.
type znode struct {
	name  string
	score float64
}

// ZSet binds a name index (hashmap, exact match) with a (score, name) index
// (avltree, ordered). Every name appears in at most one of each.
type ZSet struct {
	tree   *avltree.Node[*znode]
	byName *hashmap.Map[*znode]
}

// New returns an empty sorted set.
func New() *ZSet {
	return &ZSet{byName: hashmap.New[*znode](4)}
}

func hashName(name string) uint64 {
	return xxhash.Sum64String(name)
}

func eqName(name string) func(*znode) bool {
	return func(z *znode) bool { return z.name == name }
}

// less orders by score first (numeric), then name (lexicographic byte
// compare, equal prefixes break toward the shorter string — which is
// exactly what a plain Go string comparison already does).
func less(a, b *znode) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.name < b.name
}

// Len reports the number of members.
func (z *ZSet) Len() int {
	return z.byName.Size()
}

// Lookup returns the score of the member named name, or (0, false).
func (z *ZSet) Lookup(name string) (score float64, ok bool) {
	n, ok := z.byName.Lookup(hashName(name), eqName(name))
	if !ok {
		return 0, false
	}
	return n.Value.score, true
}

// Add upserts (name, score). It reports true if name was newly inserted,
// false if an existing member's score was updated (or left unchanged).
func (z *ZSet) Add(name string, score float64) bool {
	if n, ok := z.byName.Lookup(hashName(name), eqName(name)); ok {
		zn := n.Value
		if zn.score != score {
			z.removeFromTree(zn)
			zn.score = score
			z.insertIntoTree(zn)
		}
		return false
	}

	zn := &znode{name: name, score: score}
	z.byName.Insert(&hashmap.Node[*znode]{HCode: hashName(name), Value: zn})
	z.insertIntoTree(zn)
	return true
}

// Pop removes name, reporting the removed score, or (0, false) if absent.
func (z *ZSet) Pop(name string) (score float64, ok bool) {
	n, ok := z.byName.Pop(hashName(name), eqName(name))
	if !ok {
		return 0, false
	}
	zn := n.Value
	z.removeFromTree(zn)
	return zn.score, true
}

// Query returns the name and score of the first member whose (score, name)
// tuple is >= the argument, or ok=false if none qualifies.
func (z *ZSet) Query(score float64, name string) (rName string, rScore float64, ok bool) {
	target := &znode{name: name, score: score}
	n := avltree.LowerBound(z.tree, func(v *znode) bool { return less(v, target) })
	if n == nil {
		return "", 0, false
	}
	return n.Value.name, n.Value.score, true
}

// queryNode is like Query but returns the underlying tree node, for callers
// that need to walk forward from it with Offset (e.g. zquery pagination).
func (z *ZSet) queryNode(score float64, name string) *avltree.Node[*znode] {
	target := &znode{name: name, score: score}
	return avltree.LowerBound(z.tree, func(v *znode) bool { return less(v, target) })
}

// QueryFrom locates the first member >= (score, name), skips offset further
// members in tree order, then returns up to limit (name, score) pairs.
func (z *ZSet) QueryFrom(score float64, name string, offset int64, limit int) []Pair {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return nil
	}

	n := z.queryNode(score, name)
	if n != nil && offset > 0 {
		n = avltree.Offset(n, offset)
	}
	if n == nil {
		return nil
	}

	out := make([]Pair, 0, limit)
	for n != nil && len(out) < limit {
		out = append(out, Pair{Name: n.Value.name, Score: n.Value.score})
		n = avltree.Offset(n, 1)
	}
	return out
}

// Pair is one (name, score) result from QueryFrom.
type Pair struct {
	Name  string
	Score float64
}

func (z *ZSet) insertIntoTree(zn *znode) {
	z.tree, _ = avltree.Insert(z.tree, zn, less)
}

func (z *ZSet) removeFromTree(zn *znode) {
	node := z.findTreeNode(zn)
	z.tree = avltree.Delete(node)
}

// findTreeNode recovers the tree node for zn via LowerBound on its exact
// (score, name) key — zn's tuple is present in the tree by invariant, so
// the lower bound for "strictly less than zn" lands exactly on it.
func (z *ZSet) findTreeNode(zn *znode) *avltree.Node[*znode] {
	return avltree.LowerBound(z.tree, func(v *znode) bool { return less(v, zn) })
}
