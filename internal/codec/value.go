// Package codec decodes the ledger's tagged binary value encoding into
// typed in-memory values. Decoding never fails the caller: payloads the
// decoder cannot make sense of degrade to a raw fallback value carrying
// the original bytes base64-encoded.
package codec

import "math/big"

// Kind tags the variant held by a Value. The set is closed: one kind
// per wire tag plus the explicit raw fallback.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindU32
	KindI32
	KindU64
	KindI64
	KindU128
	KindI128
	KindU256
	KindBytes
	KindString
	KindSymbol
	KindVec
	KindMap
	KindAddress
	KindInstance
	// KindRaw is not a wire tag. It carries undecodable input,
	// base64-encoded in Str, so nothing is silently dropped.
	KindRaw
)

// Wire tags, one byte preceding each encoded value.
const (
	tagVoid     = 0x00
	tagBool     = 0x01
	tagU32      = 0x03
	tagI32      = 0x04
	tagU64      = 0x05
	tagI64      = 0x06
	tagU128     = 0x07
	tagI128     = 0x08
	tagU256     = 0x09
	tagBytes    = 0x0a
	tagString   = 0x0b
	tagSymbol   = 0x0c
	tagVec      = 0x0d
	tagMap      = 0x0e
	tagAddress  = 0x0f
	tagInstance = 0x10
)

// Value is one decoded node of the value tree. Only the field selected
// by Kind is meaningful.
type Value struct {
	Kind  Kind
	Bool  bool
	U32   uint32
	I32   int32
	U64   uint64
	I64   int64
	Big   *big.Int   // u128, i128, u256
	Bytes []byte     // bytes, instance marker
	Str   string     // string, symbol, address (base58), raw (base64)
	Vec   []Value
	Map   []MapEntry // ordered; the wire format has no key hashing
}

// MapEntry is one key/value pair of an ordered map value.
type MapEntry struct {
	Key Value
	Val Value
}

// IsRaw reports whether the value is the undecodable fallback.
func (v Value) IsRaw() bool { return v.Kind == KindRaw }

// Symbol returns the symbolic atom, or "" if the value is not one.
func (v Value) Symbol() string {
	if v.Kind == KindSymbol {
		return v.Str
	}
	return ""
}

// MapGet looks up a string or symbol key in a map value.
func (v Value) MapGet(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	for _, e := range v.Map {
		if (e.Key.Kind == KindSymbol || e.Key.Kind == KindString) && e.Key.Str == key {
			return e.Val, true
		}
	}
	return Value{}, false
}
