package codec

import (
	"encoding/binary"
	"math/big"

	"github.com/mr-tron/base58"
)

// Encode renders a Value back to the tagged binary wire form. It is
// the inverse of Decode for every kind except KindRaw, which has no
// wire tag. Used by the stub feed source and by tests.
func Encode(v Value) []byte {
	return appendValue(nil, v)
}

// Convenience constructors for building values.

func Void() Value               { return Value{Kind: KindVoid} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func U32(n uint32) Value        { return Value{Kind: KindU32, U32: n} }
func I32(n int32) Value         { return Value{Kind: KindI32, I32: n} }
func U64(n uint64) Value        { return Value{Kind: KindU64, U64: n} }
func I64(n int64) Value         { return Value{Kind: KindI64, I64: n} }
func Str(s string) Value        { return Value{Kind: KindString, Str: s} }
func Sym(s string) Value        { return Value{Kind: KindSymbol, Str: s} }
func Bin(b []byte) Value        { return Value{Kind: KindBytes, Bytes: b} }
func Vec(elems ...Value) Value  { return Value{Kind: KindVec, Vec: elems} }
func Map(entries ...MapEntry) Value {
	return Value{Kind: KindMap, Map: entries}
}
func Entry(key string, val Value) MapEntry {
	return MapEntry{Key: Sym(key), Val: val}
}

// I128 builds a signed 128-bit value from a big.Int. The integer must
// fit in 128 bits; callers in tests guarantee that.
func I128(n *big.Int) Value { return Value{Kind: KindI128, Big: n} }

// U128 builds an unsigned 128-bit value.
func U128(n *big.Int) Value { return Value{Kind: KindU128, Big: n} }

// Addr builds an account address value from a base58-encoded 32-byte key.
func Addr(b58 string) Value { return Value{Kind: KindAddress, Str: b58} }

func appendValue(out []byte, v Value) []byte {
	switch v.Kind {
	case KindVoid:
		return append(out, tagVoid)
	case KindBool:
		out = append(out, tagBool)
		if v.Bool {
			return append(out, 1)
		}
		return append(out, 0)
	case KindU32:
		out = append(out, tagU32)
		return binary.BigEndian.AppendUint32(out, v.U32)
	case KindI32:
		out = append(out, tagI32)
		return binary.BigEndian.AppendUint32(out, uint32(v.I32))
	case KindU64:
		out = append(out, tagU64)
		return binary.BigEndian.AppendUint64(out, v.U64)
	case KindI64:
		out = append(out, tagI64)
		return binary.BigEndian.AppendUint64(out, uint64(v.I64))
	case KindU128:
		out = append(out, tagU128)
		return appendWords(out, v.Big, 2)
	case KindI128:
		out = append(out, tagI128)
		return appendWords(out, v.Big, 2)
	case KindU256:
		out = append(out, tagU256)
		return appendWords(out, v.Big, 4)
	case KindBytes:
		out = append(out, tagBytes)
		out = binary.BigEndian.AppendUint32(out, uint32(len(v.Bytes)))
		return append(out, v.Bytes...)
	case KindString:
		out = append(out, tagString)
		out = binary.BigEndian.AppendUint32(out, uint32(len(v.Str)))
		return append(out, v.Str...)
	case KindSymbol:
		out = append(out, tagSymbol)
		out = binary.BigEndian.AppendUint32(out, uint32(len(v.Str)))
		return append(out, v.Str...)
	case KindVec:
		out = append(out, tagVec)
		out = binary.BigEndian.AppendUint32(out, uint32(len(v.Vec)))
		for _, el := range v.Vec {
			out = appendValue(out, el)
		}
		return out
	case KindMap:
		out = append(out, tagMap)
		out = binary.BigEndian.AppendUint32(out, uint32(len(v.Map)))
		for _, e := range v.Map {
			out = appendValue(out, e.Key)
			out = appendValue(out, e.Val)
		}
		return out
	case KindAddress:
		out = append(out, tagAddress, 0)
		key, err := base58.Decode(v.Str)
		if err != nil || len(key) != 32 {
			key = make([]byte, 32)
		}
		return append(out, key...)
	case KindInstance:
		out = append(out, tagInstance)
		marker := v.Bytes
		if len(marker) != 32 {
			marker = make([]byte, 32)
		}
		return append(out, marker...)
	default:
		// KindRaw has no wire form.
		return out
	}
}

// appendWords writes n big-endian 64-bit words. Negative values are
// encoded two's-complement within n*64 bits.
func appendWords(out []byte, v *big.Int, n int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	x := new(big.Int).Set(v)
	if x.Sign() < 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(n*64))
		x.Add(x, mod)
	}
	words := make([]uint64, n)
	mask := new(big.Int).SetUint64(^uint64(0))
	tmp := new(big.Int)
	for i := n - 1; i >= 0; i-- {
		words[i] = tmp.And(x, mask).Uint64()
		x.Rsh(x, 64)
	}
	for _, w := range words {
		out = binary.BigEndian.AppendUint64(out, w)
	}
	return out
}
