package events

import (
	"bytes"
	"log"
	"math/big"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"stellar-stream-indexer/internal/codec"
	"stellar-stream-indexer/internal/domain"
)

func testAddr(fill byte) string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = fill
	}
	return base58.Encode(key)
}

var (
	senderAddr   = testAddr(0x11)
	receiverAddr = testAddr(0x22)
)

func rawEvent(topics []codec.Value, data codec.Value) *domain.RawEvent {
	encoded := make([][]byte, len(topics))
	for i, tv := range topics {
		encoded[i] = codec.Encode(tv)
	}
	return &domain.RawEvent{
		LedgerSeq: 500,
		ClosedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TxHash:    "txabc",
		Topics:    encoded,
		Data:      codec.Encode(data),
	}
}

func TestParse_Create(t *testing.T) {
	p := NewParser(nil)

	raw := rawEvent(
		[]codec.Value{codec.Sym("create"), codec.Addr(senderAddr)},
		codec.Map(
			codec.Entry("stream_id", codec.U64(7)),
			codec.Entry("receiver", codec.Addr(receiverAddr)),
			codec.Entry("amount", codec.I128(big.NewInt(1000))),
			codec.Entry("start_time", codec.U64(100)),
			codec.Entry("cliff_time", codec.U64(150)),
			codec.Entry("end_time", codec.U64(200)),
		),
	)

	ev := p.Parse(raw)
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.Kind != domain.EventCreate {
		t.Errorf("kind: got %s", ev.Kind)
	}
	if ev.StreamID != "7" {
		t.Errorf("stream id: got %q", ev.StreamID)
	}
	if ev.Sender != senderAddr || ev.Receiver != receiverAddr {
		t.Errorf("participants: sender=%q receiver=%q", ev.Sender, ev.Receiver)
	}
	if ev.Amount.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("amount: got %s", ev.Amount)
	}
	if ev.Metadata["end_time"] != "200" {
		t.Errorf("end_time metadata: got %q", ev.Metadata["end_time"])
	}
}

func TestParse_CreateBareIDPayload(t *testing.T) {
	p := NewParser(nil)

	// Canonical contract shape: the payload is the stream id itself.
	raw := rawEvent(
		[]codec.Value{codec.Sym("create"), codec.Addr(senderAddr)},
		codec.U64(42),
	)

	ev := p.Parse(raw)
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.StreamID != "42" {
		t.Errorf("stream id from bare payload: got %q", ev.StreamID)
	}
	if ev.Sender != senderAddr {
		t.Errorf("sender: got %q", ev.Sender)
	}
	if ev.Amount.Sign() != 0 {
		t.Errorf("amount should default to zero, got %s", ev.Amount)
	}
}

func TestParse_StringStreamIDsPassThrough(t *testing.T) {
	p := NewParser(nil)

	withdraw := rawEvent(
		[]codec.Value{codec.Sym("withdraw"), codec.Addr(receiverAddr)},
		codec.Map(
			codec.Entry("stream_id", codec.Str("s1")),
			codec.Entry("amount", codec.I128(big.NewInt(300))),
		),
	)
	transfer := rawEvent(
		[]codec.Value{codec.Sym("transfer"), codec.Str("s1")},
		codec.Addr(receiverAddr),
	)

	for name, raw := range map[string]*domain.RawEvent{"withdraw": withdraw, "transfer": transfer} {
		ev := p.Parse(raw)
		if ev == nil {
			t.Fatalf("%s: expected event", name)
		}
		if ev.StreamID != "s1" {
			t.Errorf("%s: stream id=%q, want s1", name, ev.StreamID)
		}
	}
}

func TestParse_CreateLegacyDepositAndDuration(t *testing.T) {
	p := NewParser(nil)

	raw := rawEvent(
		[]codec.Value{codec.Sym("create"), codec.Addr(senderAddr)},
		codec.Map(
			codec.Entry("id", codec.U64(9)),
			codec.Entry("receiver", codec.Addr(receiverAddr)),
			codec.Entry("deposit", codec.Str("2500")),
			codec.Entry("start_time", codec.U64(100)),
			codec.Entry("duration", codec.U64(50)),
		),
	)

	ev := p.Parse(raw)
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.StreamID != "9" {
		t.Errorf("legacy id: got %q", ev.StreamID)
	}
	if ev.Amount.Cmp(big.NewInt(2500)) != 0 {
		t.Errorf("legacy deposit via string coercion: got %s", ev.Amount)
	}
	if ev.Metadata["end_time"] != "150" {
		t.Errorf("computed end_time fallback: got %q", ev.Metadata["end_time"])
	}
}

func TestParse_WithdrawMapAndLegacyVec(t *testing.T) {
	p := NewParser(nil)

	mapShape := rawEvent(
		[]codec.Value{codec.Sym("withdraw"), codec.Addr(receiverAddr)},
		codec.Map(
			codec.Entry("stream_id", codec.U64(7)),
			codec.Entry("amount", codec.I128(big.NewInt(300))),
		),
	)
	vecShape := rawEvent(
		[]codec.Value{codec.Sym("withdraw"), codec.Addr(receiverAddr)},
		codec.Vec(codec.U64(7), codec.I128(big.NewInt(300))),
	)

	for name, raw := range map[string]*domain.RawEvent{"map": mapShape, "vec": vecShape} {
		ev := p.Parse(raw)
		if ev == nil {
			t.Fatalf("%s: expected event", name)
		}
		if ev.Kind != domain.EventWithdraw || ev.StreamID != "7" {
			t.Errorf("%s: kind=%s id=%q", name, ev.Kind, ev.StreamID)
		}
		if ev.Amount.Cmp(big.NewInt(300)) != 0 {
			t.Errorf("%s: amount=%s", name, ev.Amount)
		}
		if ev.Receiver != receiverAddr {
			t.Errorf("%s: receiver=%q", name, ev.Receiver)
		}
	}
}

func TestParse_CancelSplit(t *testing.T) {
	p := NewParser(nil)

	raw := rawEvent(
		[]codec.Value{codec.Sym("cancel"), codec.U64(7)},
		codec.Map(
			codec.Entry("sender", codec.Addr(senderAddr)),
			codec.Entry("to_receiver", codec.I128(big.NewInt(500))),
			codec.Entry("to_sender", codec.I128(big.NewInt(500))),
		),
	)

	ev := p.Parse(raw)
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.StreamID != "7" {
		t.Errorf("stream id from topic: got %q", ev.StreamID)
	}
	if ev.Amount.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("amount (returned to sender): got %s", ev.Amount)
	}
	if ev.Metadata["to_receiver"] != "500" || ev.Metadata["to_sender"] != "500" {
		t.Errorf("split metadata: %v", ev.Metadata)
	}
}

func TestParse_Transfer(t *testing.T) {
	p := NewParser(nil)

	raw := rawEvent(
		[]codec.Value{codec.Sym("transfer"), codec.U64(7)},
		codec.Addr(receiverAddr),
	)

	ev := p.Parse(raw)
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.Kind != domain.EventTransfer || ev.StreamID != "7" || ev.Receiver != receiverAddr {
		t.Errorf("transfer: kind=%s id=%q receiver=%q", ev.Kind, ev.StreamID, ev.Receiver)
	}
}

func TestParse_UnrecognizedTopicReturnsNil(t *testing.T) {
	var skipped string
	p := NewParser(nil, WithSkipHook(func(topic string) { skipped = topic }))

	raw := rawEvent(
		[]codec.Value{codec.Sym("upgrade"), codec.Addr(senderAddr)},
		codec.Bin([]byte{1, 2, 3}),
	)

	if ev := p.Parse(raw); ev != nil {
		t.Fatalf("expected nil for unrecognized topic, got %+v", ev)
	}
	if skipped != "upgrade" {
		t.Errorf("skip hook: got %q", skipped)
	}
}

func TestParse_NonNumericStringFallsBackToDefault(t *testing.T) {
	p := NewParser(nil)

	raw := rawEvent(
		[]codec.Value{codec.Sym("withdraw"), codec.Addr(receiverAddr)},
		codec.Map(
			codec.Entry("stream_id", codec.U64(7)),
			codec.Entry("amount", codec.Str("not-a-number")),
		),
	)

	ev := p.Parse(raw)
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.Amount.Sign() != 0 {
		t.Errorf("expected zero default for non-numeric amount, got %s", ev.Amount)
	}
}

func TestParse_RedeliveryYieldsIdenticalEvent(t *testing.T) {
	p := NewParser(nil)

	raw := rawEvent(
		[]codec.Value{codec.Sym("withdraw"), codec.Addr(receiverAddr)},
		codec.Map(
			codec.Entry("stream_id", codec.U64(7)),
			codec.Entry("amount", codec.I128(big.NewInt(300))),
		),
	)

	first := p.Parse(raw)
	second := p.Parse(raw)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-parse differs:\n%+v\n%+v", first, second)
	}
}

func TestParse_DegradedPayloadKeepsEvent(t *testing.T) {
	var buf bytes.Buffer
	p := NewParser(nil, WithLogger(log.New(&buf, "", 0)))

	raw := rawEvent([]codec.Value{codec.Sym("pause"), codec.Addr(senderAddr)}, codec.Void())
	raw.Data = []byte{0xff, 0xee} // undecodable

	ev := p.Parse(raw)
	if ev == nil {
		t.Fatal("expected event despite degraded payload")
	}
	if ev.Metadata["raw_payload"] == "" {
		t.Error("expected raw payload preserved in metadata")
	}
	if !strings.Contains(buf.String(), "degraded") {
		t.Errorf("degraded payload not logged: %q", buf.String())
	}
}
