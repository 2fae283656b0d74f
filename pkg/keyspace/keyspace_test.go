package keyspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana-kv/kvd/pkg/wire"
)

func argv(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func TestSetGetDel(t *testing.T) {
	ks := New()

	require.Equal(t, wire.Nil(), ks.Execute(argv("set", "foo", "bar")))
	require.Equal(t, wire.Str("bar"), ks.Execute(argv("get", "foo")))
	require.Equal(t, wire.Int(1), ks.Execute(argv("del", "foo")))
	require.Equal(t, wire.Nil(), ks.Execute(argv("get", "foo")))
}

func TestGetMissingAndDelMissing(t *testing.T) {
	ks := New()
	require.Equal(t, wire.Nil(), ks.Execute(argv("get", "missing")))
	require.Equal(t, wire.Int(0), ks.Execute(argv("del", "missing")))
}

func TestSetIdempotent(t *testing.T) {
	ks := New()
	ks.Execute(argv("set", "k", "v"))
	before := ks.Size()
	ks.Execute(argv("set", "k", "v"))
	require.Equal(t, before, ks.Size())
	require.Equal(t, wire.Str("v"), ks.Execute(argv("get", "k")))
}

func TestZAddZRemZScoreZQuery(t *testing.T) {
	ks := New()

	require.Equal(t, wire.Int(1), ks.Execute(argv("zadd", "s", "1.5", "a")))
	require.Equal(t, wire.Int(1), ks.Execute(argv("zadd", "s", "2.5", "b")))
	require.Equal(t, wire.Int(0), ks.Execute(argv("zadd", "s", "1.5", "a")))
	require.Equal(t, wire.Dbl(1.5), ks.Execute(argv("zscore", "s", "a")))

	got := ks.Execute(argv("zquery", "s", "0", "", "0", "10"))
	require.Equal(t, wire.Arr(wire.Str("a"), wire.Dbl(1.5), wire.Str("b"), wire.Dbl(2.5)), got)
}

func TestZQuerySkipsOffset(t *testing.T) {
	ks := New()
	ks.Execute(argv("zadd", "s", "1.5", "a"))
	ks.Execute(argv("zadd", "s", "2.5", "b"))
	ks.Execute(argv("zadd", "s", "3", "c"))
	ks.Execute(argv("zrem", "s", "b"))

	got := ks.Execute(argv("zquery", "s", "0", "", "1", "10"))
	require.Equal(t, wire.Arr(wire.Str("c"), wire.Dbl(3.0)), got)
}

func TestZQueryMissingKeyIsEmptyArray(t *testing.T) {
	ks := New()
	require.Equal(t, wire.Arr(), ks.Execute(argv("zquery", "ghost", "0", "", "0", "10")))
}

func TestZRemZScoreMissingKeyIsNil(t *testing.T) {
	ks := New()
	require.Equal(t, wire.Nil(), ks.Execute(argv("zrem", "ghost", "m")))
	require.Equal(t, wire.Nil(), ks.Execute(argv("zscore", "ghost", "m")))
}

func TestTypeMismatchErrors(t *testing.T) {
	ks := New()
	ks.Execute(argv("set", "k", "v"))

	require.Equal(t, wire.ErrType, ks.Execute(argv("zadd", "k", "1", "m")).Code)
	require.Equal(t, wire.KindErr, ks.Execute(argv("zadd", "k", "1", "m")).Kind)

	ks2 := New()
	ks2.Execute(argv("zadd", "z", "1", "m"))
	require.Equal(t, wire.ErrType, ks2.Execute(argv("get", "z")).Code)
	require.Equal(t, wire.ErrType, ks2.Execute(argv("set", "z", "v")).Code)
}

func TestUnknownCommand(t *testing.T) {
	ks := New()
	got := ks.Execute(argv("bogus"))
	require.Equal(t, wire.KindErr, got.Kind)
	require.Equal(t, wire.ErrUnknown, got.Code)
}

func TestBadFloatArg(t *testing.T) {
	ks := New()
	got := ks.Execute(argv("zadd", "s", "not-a-number", "m"))
	require.Equal(t, wire.ErrArg, got.Code)

	got = ks.Execute(argv("zadd", "s", "NaN", "m"))
	require.Equal(t, wire.ErrArg, got.Code)
}

func TestKeysEnumeratesAll(t *testing.T) {
	ks := New()
	ks.Execute(argv("set", "a", "1"))
	ks.Execute(argv("set", "b", "2"))
	ks.Execute(argv("zadd", "c", "1", "m"))

	got := ks.Execute(argv("keys"))
	require.Equal(t, wire.KindArr, got.Kind)
	require.Len(t, got.Arr, 3)

	names := map[string]bool{}
	for _, v := range got.Arr {
		names[v.Str] = true
	}
	require.True(t, names["a"] && names["b"] && names["c"])
}

func TestArityErrors(t *testing.T) {
	ks := New()
	require.Equal(t, wire.ErrArg, ks.Execute(argv("get")).Code)
	require.Equal(t, wire.ErrArg, ks.Execute(argv("set", "k")).Code)
	require.Equal(t, wire.ErrArg, ks.Execute(argv("zadd", "k", "1")).Code)
}
