// Package keyspace implements the global key->value map and the command
// dispatch table (get/set/del/keys/zadd/zrem/zscore/zquery) that executes
// against it. It owns no network or buffering concerns; callers hand it an
// argv and get back a wire.Value reply.
package keyspace

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/grafana-kv/kvd/pkg/hashmap"
	"github.com/grafana-kv/kvd/pkg/wire"
	"github.com/grafana-kv/kvd/pkg/zset"
)

// entryType distinguishes what an Entry holds. It never changes once an
// Entry is created.
type entryType uint8

const (
	typeString entryType = iota
	typeZSet
)

// entry is one value in the key space.
type entry struct {
	key  string
	typ  entryType
	str  string
	zset *zset.ZSet
}

// KeySpace is the process-wide key->entry map. It is owned exclusively by
// the event loop; nothing else touches it, so it needs no locking.
type KeySpace struct {
	m *hashmap.Map[*entry]
}

// New returns an empty key space.
func New() *KeySpace {
	return &KeySpace{m: hashmap.New[*entry](16)}
}

func hashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

func eqKey(key string) func(*entry) bool {
	return func(e *entry) bool { return e.key == key }
}

func (ks *KeySpace) lookup(key string) (*entry, bool) {
	n, ok := ks.m.Lookup(hashKey(key), eqKey(key))
	if !ok {
		return nil, false
	}
	return n.Value, true
}

// Size reports the number of keys currently held.
func (ks *KeySpace) Size() int {
	return ks.m.Size()
}

// Execute dispatches one already-parsed argv against the key space and
// returns the reply to serialize back to the client. It never panics on
// malformed input: every failure mode becomes a wire.Value error.
func (ks *KeySpace) Execute(argv [][]byte) wire.Value {
	if len(argv) == 0 {
		return wire.Err(wire.ErrUnknown, "empty command")
	}

	verb := strings.ToLower(string(argv[0]))
	args := argv[1:]

	switch verb {
	case "keys":
		return ks.cmdKeys(args)
	case "get":
		return ks.cmdGet(args)
	case "set":
		return ks.cmdSet(args)
	case "del":
		return ks.cmdDel(args)
	case "zadd":
		return ks.cmdZAdd(args)
	case "zrem":
		return ks.cmdZRem(args)
	case "zscore":
		return ks.cmdZScore(args)
	case "zquery":
		return ks.cmdZQuery(args)
	default:
		return wire.Err(wire.ErrUnknown, "unknown command: "+verb)
	}
}

func (ks *KeySpace) cmdKeys(args [][]byte) wire.Value {
	if len(args) != 0 {
		return arityErr("keys")
	}
	var out []wire.Value
	ks.m.Scan(func(n *hashmap.Node[*entry]) {
		out = append(out, wire.Str(n.Value.key))
	})
	return wire.Arr(out...)
}

func (ks *KeySpace) cmdGet(args [][]byte) wire.Value {
	if len(args) != 1 {
		return arityErr("get")
	}
	e, ok := ks.lookup(string(args[0]))
	if !ok {
		return wire.Nil()
	}
	if e.typ != typeString {
		return wire.Err(wire.ErrType, "GET against a non-string key")
	}
	return wire.Str(e.str)
}

func (ks *KeySpace) cmdSet(args [][]byte) wire.Value {
	if len(args) != 2 {
		return arityErr("set")
	}
	key, val := string(args[0]), string(args[1])

	if e, ok := ks.lookup(key); ok {
		if e.typ != typeString {
			return wire.Err(wire.ErrType, "SET against a non-string key")
		}
		e.str = val
		return wire.Nil()
	}

	e := &entry{key: key, typ: typeString, str: val}
	ks.m.Insert(&hashmap.Node[*entry]{HCode: hashKey(key), Value: e})
	return wire.Nil()
}

func (ks *KeySpace) cmdDel(args [][]byte) wire.Value {
	if len(args) != 1 {
		return arityErr("del")
	}
	key := string(args[0])
	_, ok := ks.m.Pop(hashKey(key), eqKey(key))
	if !ok {
		return wire.Int(0)
	}
	return wire.Int(1)
}

func (ks *KeySpace) cmdZAdd(args [][]byte) wire.Value {
	if len(args) != 3 {
		return arityErr("zadd")
	}
	key, member := string(args[0]), string(args[2])
	score, err := parseFiniteFloat(string(args[1]))
	if err != nil {
		return wire.Err(wire.ErrArg, "zadd: "+err.Error())
	}

	e, ok := ks.lookup(key)
	if !ok {
		e = &entry{key: key, typ: typeZSet, zset: zset.New()}
		ks.m.Insert(&hashmap.Node[*entry]{HCode: hashKey(key), Value: e})
	} else if e.typ != typeZSet {
		return wire.Err(wire.ErrType, "zadd against a non-zset key")
	}

	if e.zset.Add(member, score) {
		return wire.Int(1)
	}
	return wire.Int(0)
}

func (ks *KeySpace) cmdZRem(args [][]byte) wire.Value {
	if len(args) != 2 {
		return arityErr("zrem")
	}
	key, member := string(args[0]), string(args[1])

	e, ok := ks.lookup(key)
	if !ok {
		return wire.Nil()
	}
	if e.typ != typeZSet {
		return wire.Err(wire.ErrType, "zrem against a non-zset key")
	}
	if _, ok := e.zset.Pop(member); !ok {
		return wire.Int(0)
	}
	return wire.Int(1)
}

func (ks *KeySpace) cmdZScore(args [][]byte) wire.Value {
	if len(args) != 2 {
		return arityErr("zscore")
	}
	key, member := string(args[0]), string(args[1])

	e, ok := ks.lookup(key)
	if !ok {
		return wire.Nil()
	}
	if e.typ != typeZSet {
		return wire.Err(wire.ErrType, "zscore against a non-zset key")
	}
	score, ok := e.zset.Lookup(member)
	if !ok {
		return wire.Nil()
	}
	return wire.Dbl(score)
}

func (ks *KeySpace) cmdZQuery(args [][]byte) wire.Value {
	if len(args) != 5 {
		return arityErr("zquery")
	}
	key, name := string(args[0]), string(args[2])

	score, err := parseFiniteFloat(string(args[1]))
	if err != nil {
		return wire.Err(wire.ErrArg, "zquery: "+err.Error())
	}
	offset, err := strconv.ParseInt(string(args[3]), 10, 64)
	if err != nil {
		return wire.Err(wire.ErrArg, "zquery: bad offset")
	}
	limit, err := strconv.ParseInt(string(args[4]), 10, 64)
	if err != nil {
		return wire.Err(wire.ErrArg, "zquery: bad limit")
	}

	e, ok := ks.lookup(key)
	if !ok {
		return wire.Arr()
	}
	if e.typ != typeZSet {
		return wire.Err(wire.ErrType, "zquery against a non-zset key")
	}

	pairs := e.zset.QueryFrom(score, name, offset, int(limit))
	out := make([]wire.Value, 0, 2*len(pairs))
	for _, p := range pairs {
		out = append(out, wire.Str(p.Name), wire.Dbl(p.Score))
	}
	return wire.Arr(out...)
}

func arityErr(cmd string) wire.Value {
	return wire.Err(wire.ErrArg, "wrong number of arguments for "+cmd)
}

func parseFiniteFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("score must be finite")
	}
	return f, nil
}
