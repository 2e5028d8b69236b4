package projector

import (
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"testing"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
	"stellar-stream-indexer/internal/storage/memory"
)

type fixture struct {
	streams *memory.StreamStore
	audit   *memory.AuditLogStore
	proj    *Projector
}

func newFixture(opts ...Option) *fixture {
	streams := memory.NewStreamStore()
	audit := memory.NewAuditLogStore()
	txer := memory.NewTransactor(streams, audit)
	opts = append(opts, WithLogger(log.New(io.Discard, "", 0)))
	return &fixture{
		streams: streams,
		audit:   audit,
		proj:    New(txer, opts...),
	}
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func createEvent(streamID, txHash string, amount int64, seq int64) *domain.Event {
	return &domain.Event{
		Kind:      domain.EventCreate,
		StreamID:  streamID,
		Sender:    "GSENDER",
		Receiver:  "GRECEIVER",
		Amount:    big.NewInt(amount),
		LedgerSeq: seq,
		ClosedAt:  baseTime,
		TxHash:    txHash,
		Metadata: map[string]string{
			"token":      "GTOKEN",
			"start_time": "1700000000",
			"end_time":   "1700086400",
		},
	}
}

func withdrawEvent(streamID, txHash string, amount int64, seq int64) *domain.Event {
	return &domain.Event{
		Kind:      domain.EventWithdraw,
		StreamID:  streamID,
		Receiver:  "GRECEIVER",
		Amount:    big.NewInt(amount),
		LedgerSeq: seq,
		ClosedAt:  baseTime.Add(time.Duration(seq) * time.Second),
		TxHash:    txHash,
	}
}

func cancelEvent(streamID, txHash string, toSender int64, seq int64) *domain.Event {
	return &domain.Event{
		Kind:      domain.EventCancel,
		StreamID:  streamID,
		Sender:    "GSENDER",
		Amount:    big.NewInt(toSender),
		LedgerSeq: seq,
		ClosedAt:  baseTime.Add(time.Duration(seq) * time.Second),
		TxHash:    txHash,
	}
}

func TestApply_CreateMaterializesStream(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.proj.Apply(ctx, createEvent("s1", "tx-create", 1000, 10)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	st, err := f.streams.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Status != domain.StreamActive {
		t.Errorf("status = %s, want ACTIVE", st.Status)
	}
	if st.TotalAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("total = %s, want 1000", st.TotalAmount)
	}
	if st.WithdrawnAmount.Sign() != 0 {
		t.Errorf("withdrawn = %s, want 0", st.WithdrawnAmount)
	}
	if st.Token != "GTOKEN" {
		t.Errorf("token = %q", st.Token)
	}
	if st.StartTime != 1700000000 || st.EndTime != 1700086400 {
		t.Errorf("schedule = %d..%d", st.StartTime, st.EndTime)
	}
	if st.LastLedgerSeq != 10 {
		t.Errorf("last ledger = %d, want 10", st.LastLedgerSeq)
	}

	entries, err := f.audit.ForStream(ctx, "s1")
	if err != nil {
		t.Fatalf("ForStream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
}

func TestApply_DuplicateTxHashIsNoOp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ev := createEvent("s1", "tx-1", 500, 5)
	if err := f.proj.Apply(ctx, ev); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if err := f.proj.Apply(ctx, ev); err != nil {
		t.Fatalf("second Apply: %v", err)
	}

	// A withdraw replayed with the same tx hash must not double-count.
	w := withdrawEvent("s1", "tx-2", 100, 6)
	if err := f.proj.Apply(ctx, w); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := f.proj.Apply(ctx, w); err != nil {
		t.Fatalf("withdraw replay: %v", err)
	}

	st, err := f.streams.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.WithdrawnAmount.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("withdrawn = %s, want 100", st.WithdrawnAmount)
	}

	entries, _ := f.audit.ForStream(ctx, "s1")
	if len(entries) != 2 {
		t.Errorf("audit entries = %d, want 2", len(entries))
	}
}

func TestApply_CreateDoesNotResurrectCanceled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.proj.Apply(ctx, createEvent("s1", "tx-1", 1000, 1)); err != nil {
		t.Fatal(err)
	}
	if err := f.proj.Apply(ctx, cancelEvent("s1", "tx-2", 1000, 2)); err != nil {
		t.Fatal(err)
	}
	if err := f.proj.Apply(ctx, createEvent("s1", "tx-3", 9999, 3)); err != nil {
		t.Fatal(err)
	}

	st, err := f.streams.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.StreamCanceled {
		t.Errorf("status = %s, want CANCELED", st.Status)
	}
	if st.TotalAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("total = %s, want original 1000", st.TotalAmount)
	}
	if st.LastLedgerSeq != 3 {
		t.Errorf("last ledger = %d, want 3", st.LastLedgerSeq)
	}
}

func TestApply_CancelSplitIsAuthoritative(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.proj.Apply(ctx, createEvent("s1", "tx-1", 1000, 1)); err != nil {
		t.Fatal(err)
	}
	if err := f.proj.Apply(ctx, withdrawEvent("s1", "tx-2", 300, 2)); err != nil {
		t.Fatal(err)
	}
	// Ledger says 500 went back to the sender: final withdrawn is 500,
	// overriding the 300 projected so far.
	if err := f.proj.Apply(ctx, cancelEvent("s1", "tx-3", 500, 3)); err != nil {
		t.Fatal(err)
	}

	st, err := f.streams.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.StreamCanceled {
		t.Errorf("status = %s, want CANCELED", st.Status)
	}
	if st.WithdrawnAmount.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("withdrawn = %s, want 500", st.WithdrawnAmount)
	}
	if st.ClosedAt == nil {
		t.Error("closed_at not set")
	}
}

func TestApply_WithdrawAfterCancelKeepsSettledSplit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.proj.Apply(ctx, createEvent("s1", "tx-1", 1000, 1)); err != nil {
		t.Fatal(err)
	}
	if err := f.proj.Apply(ctx, cancelEvent("s1", "tx-2", 500, 2)); err != nil {
		t.Fatal(err)
	}
	// A withdraw from before the cancel arrives last, under its own tx
	// hash. The settled split must stand; only the cursor advances.
	if err := f.proj.Apply(ctx, withdrawEvent("s1", "tx-3", 300, 3)); err != nil {
		t.Fatal(err)
	}

	st, err := f.streams.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if st.WithdrawnAmount.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("withdrawn = %s, want settled 500", st.WithdrawnAmount)
	}
	if st.Status != domain.StreamCanceled {
		t.Errorf("status = %s, want CANCELED", st.Status)
	}
	if st.LastLedgerSeq != 3 {
		t.Errorf("last ledger = %d, want 3", st.LastLedgerSeq)
	}

	// The late withdraw still lands in the audit trail.
	entries, _ := f.audit.ForStream(ctx, "s1")
	if len(entries) != 3 {
		t.Errorf("audit entries = %d, want 3", len(entries))
	}
}

func TestApply_FullLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	steps := []*domain.Event{
		createEvent("s1", "tx-1", 1000, 1),
		withdrawEvent("s1", "tx-2", 300, 2),
		withdrawEvent("s1", "tx-3", 200, 3),
		cancelEvent("s1", "tx-4", 500, 4),
	}
	for _, ev := range steps {
		if err := f.proj.Apply(ctx, ev); err != nil {
			t.Fatalf("Apply %s: %v", ev.TxHash, err)
		}
	}

	st, err := f.streams.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if st.WithdrawnAmount.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("withdrawn = %s, want 500", st.WithdrawnAmount)
	}
	remaining := new(big.Int).Sub(st.TotalAmount, st.WithdrawnAmount)
	if remaining.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("remaining = %s, want 500", remaining)
	}

	entries, _ := f.audit.ForStream(ctx, "s1")
	if len(entries) != 4 {
		t.Errorf("audit entries = %d, want 4", len(entries))
	}
}

func TestApply_WithdrawUnknownStreamMaterializesPlaceholder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.proj.Apply(ctx, withdrawEvent("ghost", "tx-1", 50, 7)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	st, err := f.streams.Get(ctx, "ghost")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.WithdrawnAmount.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("withdrawn = %s, want 50", st.WithdrawnAmount)
	}
	if st.TotalAmount.Sign() != 0 {
		t.Errorf("total = %s, want 0", st.TotalAmount)
	}
}

func TestApply_TransferReassignsReceiver(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.proj.Apply(ctx, createEvent("s1", "tx-1", 1000, 1)); err != nil {
		t.Fatal(err)
	}
	ev := &domain.Event{
		Kind:      domain.EventTransfer,
		StreamID:  "s1",
		Receiver:  "GNEWRECEIVER",
		LedgerSeq: 2,
		ClosedAt:  baseTime,
		TxHash:    "tx-2",
	}
	if err := f.proj.Apply(ctx, ev); err != nil {
		t.Fatal(err)
	}

	st, _ := f.streams.Get(ctx, "s1")
	if st.Receiver != "GNEWRECEIVER" {
		t.Errorf("receiver = %q, want GNEWRECEIVER", st.Receiver)
	}
}

func TestApply_LedgerCursorNeverRegresses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.proj.Apply(ctx, createEvent("s1", "tx-1", 1000, 100)); err != nil {
		t.Fatal(err)
	}
	// Late-arriving withdraw from an earlier ledger still applies, but
	// the cursor stays at the highest sequence seen.
	if err := f.proj.Apply(ctx, withdrawEvent("s1", "tx-2", 10, 90)); err != nil {
		t.Fatal(err)
	}

	st, _ := f.streams.Get(ctx, "s1")
	if st.LastLedgerSeq != 100 {
		t.Errorf("last ledger = %d, want 100", st.LastLedgerSeq)
	}
	if st.WithdrawnAmount.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("withdrawn = %s, want 10", st.WithdrawnAmount)
	}
}

func TestApply_MissingStreamIDIsMalformed(t *testing.T) {
	f := newFixture()

	ev := withdrawEvent("", "tx-1", 10, 1)
	err := f.proj.Apply(context.Background(), ev)
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("err = %v, want ErrMalformedEvent", err)
	}

	entries, _ := f.audit.Recent(context.Background(), storage.RecentDefaultLimit)
	if len(entries) != 0 {
		t.Errorf("malformed event reached the audit log: %d entries", len(entries))
	}
}

func TestApply_PauseIsAuditOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.proj.Apply(ctx, createEvent("s1", "tx-1", 1000, 1)); err != nil {
		t.Fatal(err)
	}
	ev := &domain.Event{
		Kind:      domain.EventPause,
		Sender:    "GPAUSER",
		LedgerSeq: 2,
		ClosedAt:  baseTime,
		TxHash:    "tx-2",
		Metadata:  map[string]string{"paused": "true"},
	}
	if err := f.proj.Apply(ctx, ev); err != nil {
		t.Fatal(err)
	}

	st, _ := f.streams.Get(ctx, "s1")
	if st.Status != domain.StreamActive {
		t.Errorf("pause mutated stream state: status = %s", st.Status)
	}
	entries, _ := f.audit.Recent(ctx, 10)
	if len(entries) != 2 {
		t.Errorf("audit entries = %d, want 2", len(entries))
	}
}

type captureNotifier struct {
	kinds     []domain.EventKind
	displaced []string
}

func (c *captureNotifier) NotifyStream(_ *domain.StreamState, kind domain.EventKind, displaced string, _ time.Time) {
	c.kinds = append(c.kinds, kind)
	c.displaced = append(c.displaced, displaced)
}

func TestApply_NotifiesAfterCommitOnly(t *testing.T) {
	n := &captureNotifier{}
	f := newFixture(WithNotifier(n))
	ctx := context.Background()

	ev := createEvent("s1", "tx-1", 1000, 1)
	if err := f.proj.Apply(ctx, ev); err != nil {
		t.Fatal(err)
	}
	// Redelivery must not notify again.
	if err := f.proj.Apply(ctx, ev); err != nil {
		t.Fatal(err)
	}

	if len(n.kinds) != 1 || n.kinds[0] != domain.EventCreate {
		t.Errorf("notifications = %v, want [create]", n.kinds)
	}
}

func TestApply_TransferNamesDisplacedReceiver(t *testing.T) {
	n := &captureNotifier{}
	f := newFixture(WithNotifier(n))
	ctx := context.Background()

	if err := f.proj.Apply(ctx, createEvent("s1", "tx-1", 1000, 1)); err != nil {
		t.Fatal(err)
	}
	ev := &domain.Event{
		Kind:      domain.EventTransfer,
		StreamID:  "s1",
		Receiver:  "GNEWRECEIVER",
		LedgerSeq: 2,
		ClosedAt:  baseTime,
		TxHash:    "tx-2",
	}
	if err := f.proj.Apply(ctx, ev); err != nil {
		t.Fatal(err)
	}

	if len(n.displaced) != 2 {
		t.Fatalf("notifications = %d, want 2", len(n.displaced))
	}
	if n.displaced[0] != "" {
		t.Errorf("create displaced = %q, want empty", n.displaced[0])
	}
	if n.displaced[1] != "GRECEIVER" {
		t.Errorf("transfer displaced = %q, want GRECEIVER", n.displaced[1])
	}
}
