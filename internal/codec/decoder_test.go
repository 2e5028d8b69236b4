package codec

import (
	"encoding/base64"
	"math/big"
	"testing"
)

func TestDecode_Scalars(t *testing.T) {
	d := NewDecoder()

	v := d.Decode(Encode(U64(42)))
	if v.Kind != KindU64 || v.U64 != 42 {
		t.Fatalf("u64: got kind=%d val=%d", v.Kind, v.U64)
	}

	v = d.Decode(Encode(I64(-7)))
	if v.Kind != KindI64 || v.I64 != -7 {
		t.Fatalf("i64: got kind=%d val=%d", v.Kind, v.I64)
	}

	v = d.Decode(Encode(Bool(true)))
	if v.Kind != KindBool || !v.Bool {
		t.Fatalf("bool: got kind=%d val=%v", v.Kind, v.Bool)
	}

	v = d.Decode(Encode(Sym("withdraw")))
	if v.Symbol() != "withdraw" {
		t.Fatalf("symbol: got %q", v.Symbol())
	}
}

func TestDecode_U128BoundaryHalves(t *testing.T) {
	// (high=1, low=0) must decode to exactly 2^64.
	raw := Encode(U128(new(big.Int).Lsh(big.NewInt(1), 64)))

	v := NewDecoder().Decode(raw)
	if v.Kind != KindU128 {
		t.Fatalf("expected u128, got kind=%d", v.Kind)
	}

	want := new(big.Int).Lsh(big.NewInt(1), 64)
	if v.Big.Cmp(want) != 0 {
		t.Errorf("u128 compose: got %s, want %s", v.Big, want)
	}
}

func TestDecode_U128MaxHalves(t *testing.T) {
	// Both halves at the 64-bit boundary: (2^64-1)<<64 | (2^64-1) = 2^128-1.
	max := new(big.Int).Lsh(big.NewInt(1), 128)
	max.Sub(max, big.NewInt(1))

	v := NewDecoder().Decode(Encode(U128(max)))
	if v.Big.Cmp(max) != 0 {
		t.Errorf("u128 max: got %s, want %s", v.Big, max)
	}
}

func TestDecode_I128Negative(t *testing.T) {
	n := big.NewInt(-123456789)
	v := NewDecoder().Decode(Encode(I128(n)))
	if v.Kind != KindI128 {
		t.Fatalf("expected i128, got kind=%d", v.Kind)
	}
	if v.Big.Cmp(n) != 0 {
		t.Errorf("i128: got %s, want %s", v.Big, n)
	}
}

func TestDecode_U256(t *testing.T) {
	n := new(big.Int).Lsh(big.NewInt(3), 200)
	v := NewDecoder().Decode(Encode(Value{Kind: KindU256, Big: n}))
	if v.Kind != KindU256 || v.Big.Cmp(n) != 0 {
		t.Errorf("u256: got kind=%d val=%s, want %s", v.Kind, v.Big, n)
	}
}

func TestDecode_NestedComposite(t *testing.T) {
	val := Map(
		Entry("stream_id", U64(7)),
		Entry("amounts", Vec(I64(100), I64(200))),
	)

	v := NewDecoder().Decode(Encode(val))
	if v.Kind != KindMap {
		t.Fatalf("expected map, got kind=%d", v.Kind)
	}

	id, ok := v.MapGet("stream_id")
	if !ok || id.U64 != 7 {
		t.Errorf("stream_id: ok=%v val=%d", ok, id.U64)
	}

	amounts, ok := v.MapGet("amounts")
	if !ok || len(amounts.Vec) != 2 || amounts.Vec[1].I64 != 200 {
		t.Errorf("amounts: ok=%v %+v", ok, amounts.Vec)
	}
}

func TestDecode_UnknownTagFallsBackToRaw(t *testing.T) {
	var gotDiag bool
	d := NewDecoder(WithDiagnosticHook(func(Diagnostic) { gotDiag = true }))

	input := []byte{0xff, 0x01, 0x02}
	v := d.Decode(input)

	if !v.IsRaw() {
		t.Fatalf("expected raw fallback, got kind=%d", v.Kind)
	}
	if !gotDiag {
		t.Error("expected diagnostic hook to fire")
	}

	// Original bytes survive the fallback.
	decoded, err := base64.StdEncoding.DecodeString(v.Str)
	if err != nil {
		t.Fatalf("fallback not base64: %v", err)
	}
	if string(decoded) != string(input) {
		t.Errorf("fallback payload mismatch: got %x", decoded)
	}
}

func TestDecode_TruncatedInputFallsBackToRaw(t *testing.T) {
	// A u64 tag with only four payload bytes.
	input := []byte{tagU64, 0x00, 0x00, 0x00, 0x01}
	v := NewDecoder().Decode(input)
	if !v.IsRaw() {
		t.Fatalf("expected raw fallback, got kind=%d", v.Kind)
	}
}

func TestDecode_TrailingBytesFallBackToRaw(t *testing.T) {
	input := append(Encode(U32(5)), 0xaa)
	v := NewDecoder().Decode(input)
	if !v.IsRaw() {
		t.Fatalf("expected raw fallback on trailing bytes, got kind=%d", v.Kind)
	}
}

func TestDecode_AddressRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	key[31] = 9
	raw := append([]byte{tagAddress, 1}, key...) // contract address, no curve check

	v := NewDecoder().Decode(raw)
	if v.Kind != KindAddress {
		t.Fatalf("expected address, got kind=%d", v.Kind)
	}
	if v.Str == "" {
		t.Error("expected base58 address string")
	}
}
