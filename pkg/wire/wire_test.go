package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	flat := []string{"set", "foo", "bar"}

	frame, err := EncodeRequest(toArgs(flat))
	require.NoError(t, err)

	parsed, consumed, err := ParseRequest(frame)
	require.NoError(t, err)
	require.Equal(t, len(frame), consumed)
	require.Len(t, parsed, 3)
	for i, a := range flat {
		require.Equal(t, a, string(parsed[i]))
	}
}

func toArgs(flat []string) [][]string {
	out := make([][]string, len(flat))
	for i, s := range flat {
		out[i] = []string{s}
	}
	return out
}

func TestParseRequestIncomplete(t *testing.T) {
	frame, err := EncodeRequest([][]string{{"get"}, {"x"}})
	require.NoError(t, err)

	for i := 0; i < len(frame); i++ {
		_, _, err := ParseRequest(frame[:i])
		require.ErrorIs(t, err, ErrIncomplete)
	}

	_, consumed, err := ParseRequest(frame)
	require.NoError(t, err)
	require.Equal(t, len(frame), consumed)
}

func TestParseRequestOversizedLength(t *testing.T) {
	buf := make([]byte, 8)
	buf[0], buf[1], buf[2], buf[3] = 0xFF, 0xFF, 0x00, 0x00 // len = 65535
	_, _, err := ParseRequest(buf)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrIncomplete)
}

func TestParseRequestTrailingBytes(t *testing.T) {
	frame, err := EncodeRequest([][]string{{"get"}, {"x"}})
	require.NoError(t, err)

	// Append a stray byte to the payload without updating argc, leaving it
	// unreferenced by any argument -- a framing error.
	badPayload := append(append([]byte(nil), frame[4:]...), 0x00)
	bad := make([]byte, 4)
	putLen(bad, uint32(len(badPayload)))
	bad = append(bad, badPayload...)

	_, _, err = ParseRequest(bad)
	require.Error(t, err)
}

func putLen(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func TestParseRequestPipelinedFrames(t *testing.T) {
	f1, _ := EncodeRequest([][]string{{"set"}, {"a"}, {"1"}})
	f2, _ := EncodeRequest([][]string{{"get"}, {"a"}})
	f3, _ := EncodeRequest([][]string{{"del"}, {"a"}})

	buf := append(append(append([]byte(nil), f1...), f2...), f3...)

	argv1, n1, err := ParseRequest(buf)
	require.NoError(t, err)
	require.Equal(t, "set", string(argv1[0]))
	buf = buf[n1:]

	argv2, n2, err := ParseRequest(buf)
	require.NoError(t, err)
	require.Equal(t, "get", string(argv2[0]))
	buf = buf[n2:]

	argv3, n3, err := ParseRequest(buf)
	require.NoError(t, err)
	require.Equal(t, "del", string(argv3[0]))
	buf = buf[n3:]

	require.Empty(t, buf)
}

func TestEncodeValueShapes(t *testing.T) {
	cases := []struct {
		name string
		v    Value
	}{
		{"nil", Nil()},
		{"err", Err(ErrType, "bad type")},
		{"str", Str("hello")},
		{"int", Int(-42)},
		{"dbl", Dbl(3.25)},
		{"arr", Arr(Str("a"), Dbl(1.5), Str("b"), Dbl(2.5))},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := Encode(nil, c.v)
			require.NotEmpty(t, buf)
			require.Equal(t, byte(c.v.Kind), buf[0])
		})
	}
}

func TestFrameResponseOversizedRewritesTo2Big(t *testing.T) {
	huge := Str(strings.Repeat("x", MaxPayloadSize+1))
	frame := FrameResponse(huge)

	// length prefix + tag byte
	require.Equal(t, byte(KindErr), frame[4])
}

func TestFrameResponseSmallFits(t *testing.T) {
	frame := FrameResponse(Int(7))
	require.Less(t, len(frame), MaxFrameSize)
	require.Equal(t, byte(KindInt), frame[4])
}
