package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log"
	"math/big"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// maxCollectionLen bounds vec/map element counts so a corrupt length
// prefix cannot allocate unbounded memory.
const maxCollectionLen = 1 << 20

// Diagnostic describes one decode failure. The original input is kept
// so the fallback value loses no information.
type Diagnostic struct {
	Reason string
	Input  []byte
}

// Decoder decodes tagged binary values. The zero value is usable;
// options attach a logger and a diagnostic hook.
type Decoder struct {
	logger *log.Logger
	onDiag func(Diagnostic)
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for decode diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// WithDiagnosticHook registers a callback invoked once per decode
// failure, after logging.
func WithDiagnosticHook(fn func(Diagnostic)) Option {
	return func(d *Decoder) { d.onDiag = fn }
}

// NewDecoder creates a Decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode decodes one tagged value. It never returns an error: inputs
// that cannot be decoded (unknown tag, truncation, trailing garbage)
// come back as a KindRaw value holding the input base64-encoded, and a
// diagnostic is emitted.
func (d *Decoder) Decode(data []byte) Value {
	r := &reader{buf: data}
	v, err := d.decodeValue(r, 0)
	if err == nil && r.pos != len(data) {
		err = fmt.Errorf("trailing bytes at offset %d", r.pos)
	}
	if err != nil {
		d.diagnose(err.Error(), data)
		return rawValue(data)
	}
	return v
}

func (d *Decoder) diagnose(reason string, input []byte) {
	if d.logger != nil {
		d.logger.Printf("decode fallback: %s (%d bytes)", reason, len(input))
	}
	if d.onDiag != nil {
		d.onDiag(Diagnostic{Reason: reason, Input: input})
	}
}

func rawValue(data []byte) Value {
	return Value{Kind: KindRaw, Str: base64.StdEncoding.EncodeToString(data)}
}

// maxDepth bounds recursion. The wire format is a finite tree and
// cannot express sharing, so this only guards against hostile input.
const maxDepth = 64

func (d *Decoder) decodeValue(r *reader, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("nesting deeper than %d", maxDepth)
	}

	tag, err := r.byte()
	if err != nil {
		return Value{}, err
	}

	switch tag {
	case tagVoid:
		return Value{Kind: KindVoid}, nil

	case tagBool:
		b, err := r.byte()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBool, Bool: b != 0}, nil

	case tagU32:
		n, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindU32, U32: n}, nil

	case tagI32:
		n, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindI32, I32: int32(n)}, nil

	case tagU64:
		n, err := r.uint64()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindU64, U64: n}, nil

	case tagI64:
		n, err := r.uint64()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindI64, I64: int64(n)}, nil

	case tagU128:
		hi, err := r.uint64()
		if err != nil {
			return Value{}, err
		}
		lo, err := r.uint64()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindU128, Big: composeU128(hi, lo)}, nil

	case tagI128:
		hi, err := r.uint64()
		if err != nil {
			return Value{}, err
		}
		lo, err := r.uint64()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindI128, Big: composeI128(int64(hi), lo)}, nil

	case tagU256:
		parts := make([]uint64, 4)
		for i := range parts {
			parts[i], err = r.uint64()
			if err != nil {
				return Value{}, err
			}
		}
		return Value{Kind: KindU256, Big: composeU256(parts)}, nil

	case tagBytes, tagString, tagSymbol:
		n, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		body, err := r.take(int(n))
		if err != nil {
			return Value{}, err
		}
		switch tag {
		case tagBytes:
			out := make([]byte, len(body))
			copy(out, body)
			return Value{Kind: KindBytes, Bytes: out}, nil
		case tagString:
			return Value{Kind: KindString, Str: string(body)}, nil
		default:
			return Value{Kind: KindSymbol, Str: string(body)}, nil
		}

	case tagVec:
		n, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		if n > maxCollectionLen {
			return Value{}, fmt.Errorf("vec length %d exceeds limit", n)
		}
		elems := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			el, err := d.decodeValue(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, el)
		}
		return Value{Kind: KindVec, Vec: elems}, nil

	case tagMap:
		n, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		if n > maxCollectionLen {
			return Value{}, fmt.Errorf("map length %d exceeds limit", n)
		}
		entries := make([]MapEntry, 0, n)
		for i := uint32(0); i < n; i++ {
			k, err := d.decodeValue(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			v, err := d.decodeValue(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, MapEntry{Key: k, Val: v})
		}
		return Value{Kind: KindMap, Map: entries}, nil

	case tagAddress:
		// One discriminator byte (account vs contract) then 32 key bytes.
		kind, err := r.byte()
		if err != nil {
			return Value{}, err
		}
		key, err := r.take(32)
		if err != nil {
			return Value{}, err
		}
		// Account keys are ed25519 points. An off-curve key is still
		// decoded, but flagged so operators can spot corrupt feeds.
		if kind == 0 && !onCurve(key) {
			d.diagnose("account address not on ed25519 curve", key)
		}
		return Value{Kind: KindAddress, Str: base58.Encode(key)}, nil

	case tagInstance:
		marker, err := r.take(32)
		if err != nil {
			return Value{}, err
		}
		out := make([]byte, len(marker))
		copy(out, marker)
		return Value{Kind: KindInstance, Bytes: out}, nil

	default:
		return Value{}, fmt.Errorf("unknown tag 0x%02x", tag)
	}
}

// composeU128 reconstructs a 128-bit unsigned integer from two 64-bit
// halves: (hi << 64) | lo. The shift composition is exact.
func composeU128(hi, lo uint64) *big.Int {
	n := new(big.Int).SetUint64(hi)
	n.Lsh(n, 64)
	return n.Or(n, new(big.Int).SetUint64(lo))
}

// composeI128 reconstructs a signed 128-bit integer. The high half is
// the signed word, the low half unsigned.
func composeI128(hi int64, lo uint64) *big.Int {
	n := big.NewInt(hi)
	n.Lsh(n, 64)
	return n.Or(n, new(big.Int).SetUint64(lo))
}

// composeU256 folds four big-endian 64-bit words into one integer.
func composeU256(parts []uint64) *big.Int {
	n := new(big.Int)
	for _, p := range parts {
		n.Lsh(n, 64)
		n.Or(n, new(big.Int).SetUint64(p))
	}
	return n
}

// onCurve reports whether key is a valid ed25519 point.
func onCurve(key []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(key)
	return err == nil
}

// reader is a bounds-checked cursor over the input buffer.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("truncated at offset %d", r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("truncated: need %d bytes at offset %d", n, r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
