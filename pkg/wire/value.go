// Package wire implements the request framing and response serialization
// for the key-value server's binary protocol: a length-prefixed argv in,
// a tagged value out.
package wire

import (
	"encoding/binary"
	"math"
)

// Kind tags the shape of a serialized Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindErr
	KindStr
	KindInt
	KindDbl
	KindArr
)

// Error codes carried by KindErr values.
const (
	ErrUnknown uint32 = 1
	Err2Big    uint32 = 2
	ErrType    uint32 = 3
	ErrArg     uint32 = 4
)

// Value is a tagged response value. Only the fields matching Kind are
// meaningful; the rest are zero.
type Value struct {
	Kind Kind
	Code uint32
	Msg  string
	Str  string
	Int  int64
	Dbl  float64
	Arr  []Value
}

func Nil() Value                { return Value{Kind: KindNil} }
func Err(code uint32, msg string) Value { return Value{Kind: KindErr, Code: code, Msg: msg} }
func Str(s string) Value        { return Value{Kind: KindStr, Str: s} }
func Int(i int64) Value         { return Value{Kind: KindInt, Int: i} }
func Dbl(f float64) Value       { return Value{Kind: KindDbl, Dbl: f} }
func Arr(vs ...Value) Value     { return Value{Kind: KindArr, Arr: vs} }

// Encode appends the tagged-value serialization of v to buf and returns the
// extended slice. This is the recursive payload encoder; it does not write
// a length prefix (that's FrameResponse's job for the top-level value).
func Encode(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindNil:
		// no payload
	case KindErr:
		buf = appendU32(buf, v.Code)
		buf = appendU32(buf, uint32(len(v.Msg)))
		buf = append(buf, v.Msg...)
	case KindStr:
		buf = appendU32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)
	case KindInt:
		buf = appendU64(buf, uint64(v.Int))
	case KindDbl:
		buf = appendU64(buf, math.Float64bits(v.Dbl))
	case KindArr:
		buf = appendU32(buf, uint32(len(v.Arr)))
		for _, e := range v.Arr {
			buf = Encode(buf, e)
		}
	}
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// FrameResponse serializes v as a complete response frame: an LE32 length
// prefix followed by v's tagged encoding. If the encoded value would exceed
// MaxPayloadSize, v is replaced in-place with an Err2Big error before
// framing, per spec.
func FrameResponse(v Value) []byte {
	payload := Encode(nil, v)
	if len(payload) > MaxPayloadSize {
		v = Err(Err2Big, "response too large")
		payload = Encode(nil, v)
	}

	out := make([]byte, 0, 4+len(payload))
	out = appendU32(out, uint32(len(payload)))
	out = append(out, payload...)
	return out
}
