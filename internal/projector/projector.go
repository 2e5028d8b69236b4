// Package projector applies normalized events to materialized stream
// state. Each event is applied in one transaction together with its
// audit entry, keyed by the transaction hash so redelivery is a no-op.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/idhash"
	"stellar-stream-indexer/internal/observability"
	"stellar-stream-indexer/internal/storage"
)

// ErrMalformedEvent marks events that carry no usable stream identity
// and cannot be applied. Callers route these to a dead-letter counter
// instead of retrying.
var ErrMalformedEvent = errors.New("malformed event")

// Notifier receives state changes after the owning transaction has
// committed. displaced names the receiver a transfer replaced and is
// empty for every other kind. Implementations must not block.
type Notifier interface {
	NotifyStream(st *domain.StreamState, kind domain.EventKind, displaced string, at time.Time)
}

// Projector folds events into stream state and the audit log.
type Projector struct {
	txer     storage.Transactor
	notifier Notifier
	logger   *log.Logger
}

// Option configures a Projector.
type Option func(*Projector)

// WithNotifier registers a post-commit notification sink.
func WithNotifier(n Notifier) Option {
	return func(p *Projector) { p.notifier = n }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Projector) { p.logger = l }
}

// New creates a Projector on top of a transactional store.
func New(txer storage.Transactor, opts ...Option) *Projector {
	p := &Projector{
		txer:   txer,
		logger: log.New(os.Stdout, "[projector] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply folds one event into stream state. The state mutation and the
// audit append happen in a single transaction; a transaction hash seen
// before makes the whole call a no-op. Notifications go out only after
// the transaction commits.
func (p *Projector) Apply(ctx context.Context, ev *domain.Event) error {
	if ev == nil || ev.TxHash == "" {
		observability.RecordMalformedEvent()
		return ErrMalformedEvent
	}
	if ev.StreamID == "" && needsStream(ev.Kind) {
		observability.RecordMalformedEvent()
		return fmt.Errorf("%w: %s event without stream id (tx %s)", ErrMalformedEvent, ev.Kind, ev.TxHash)
	}

	start := time.Now()
	var (
		changed     *domain.StreamState
		displaced   string
		redelivered bool
	)

	err := p.txer.WithinTx(ctx, func(tx storage.TxStores) error {
		seen, err := tx.Audit.HasTxHash(ctx, ev.TxHash)
		if err != nil {
			return fmt.Errorf("dedupe check: %w", err)
		}
		if seen {
			redelivered = true
			return nil
		}

		switch ev.Kind {
		case domain.EventCreate:
			changed, err = p.applyCreate(ctx, tx.Streams, ev)
		case domain.EventWithdraw:
			changed, err = p.applyWithdraw(ctx, tx.Streams, ev)
		case domain.EventCancel:
			changed, err = p.applyCancel(ctx, tx.Streams, ev)
		case domain.EventTransfer:
			changed, displaced, err = p.applyTransfer(ctx, tx.Streams, ev)
		case domain.EventPause, domain.EventProposalCreated:
			// Audit-only kinds carry no stream state.
		default:
			observability.RecordMalformedEvent()
			return fmt.Errorf("%w: unknown kind %q (tx %s)", ErrMalformedEvent, ev.Kind, ev.TxHash)
		}
		if err != nil {
			return err
		}

		return tx.Audit.Append(ctx, auditEntryFor(ev))
	})
	if err != nil {
		return err
	}

	if redelivered {
		observability.RecordEventDeduplicated()
		return nil
	}

	observability.RecordEventApplied(string(ev.Kind), time.Since(start).Seconds())
	if p.notifier != nil && changed != nil {
		p.notifier.NotifyStream(changed, ev.Kind, displaced, ev.ClosedAt)
	}
	return nil
}

func needsStream(kind domain.EventKind) bool {
	switch kind {
	case domain.EventCreate, domain.EventWithdraw, domain.EventCancel, domain.EventTransfer:
		return true
	}
	return false
}

// applyCreate materializes a new stream. Creates never resurrect or
// overwrite: if a stream with the id already exists, only the ledger
// cursor advances, and differing identities are flagged as anomalies.
func (p *Projector) applyCreate(ctx context.Context, streams storage.StreamStore, ev *domain.Event) (*domain.StreamState, error) {
	existing, err := streams.GetForUpdate(ctx, ev.StreamID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load stream %s: %w", ev.StreamID, err)
	}

	if existing != nil {
		if existing.Sender != ev.Sender || (ev.Receiver != "" && existing.Receiver != ev.Receiver) {
			observability.RecordIntegrityAnomaly("create_identity_conflict")
			p.logger.Printf("create for existing stream %s with different parties (tx %s)", ev.StreamID, ev.TxHash)
		}
		if err := streams.TouchLedger(ctx, ev.StreamID, ev.LedgerSeq); err != nil {
			return nil, fmt.Errorf("touch stream %s: %w", ev.StreamID, err)
		}
		return nil, nil
	}

	st := &domain.StreamState{
		ID:              ev.StreamID,
		Sender:          ev.Sender,
		Receiver:        ev.Receiver,
		Token:           ev.Metadata["token"],
		TotalAmount:     amountOrZero(ev.Amount),
		WithdrawnAmount: big.NewInt(0),
		Status:          domain.StreamActive,
		StartTime:       metaInt(ev.Metadata, "start_time"),
		CliffTime:       metaInt(ev.Metadata, "cliff_time"),
		EndTime:         metaInt(ev.Metadata, "end_time"),
		CreatedAt:       ev.ClosedAt,
		UpdatedAt:       ev.ClosedAt,
		LastLedgerSeq:   ev.LedgerSeq,
	}
	if err := streams.Insert(ctx, st); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Raced with another create for the same id.
			return nil, streams.TouchLedger(ctx, ev.StreamID, ev.LedgerSeq)
		}
		return nil, fmt.Errorf("insert stream %s: %w", ev.StreamID, err)
	}
	return st, nil
}

// applyWithdraw adds the withdrawn amount to the running total. A
// withdraw against an unknown stream materializes a minimal record so
// the history is not silently lost.
func (p *Projector) applyWithdraw(ctx context.Context, streams storage.StreamStore, ev *domain.Event) (*domain.StreamState, error) {
	amount := amountOrZero(ev.Amount)

	st, err := streams.GetForUpdate(ctx, ev.StreamID)
	if errors.Is(err, storage.ErrNotFound) {
		observability.RecordIntegrityAnomaly("withdraw_unknown_stream")
		p.logger.Printf("withdraw against unknown stream %s (tx %s)", ev.StreamID, ev.TxHash)
		st = &domain.StreamState{
			ID:              ev.StreamID,
			Receiver:        ev.Receiver,
			TotalAmount:     big.NewInt(0),
			WithdrawnAmount: amount,
			Status:          domain.StreamActive,
			CreatedAt:       ev.ClosedAt,
			UpdatedAt:       ev.ClosedAt,
			LastLedgerSeq:   ev.LedgerSeq,
		}
		if err := streams.Insert(ctx, st); err != nil {
			return nil, fmt.Errorf("insert placeholder stream %s: %w", ev.StreamID, err)
		}
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stream %s: %w", ev.StreamID, err)
	}

	if st.Terminal() {
		// The terminal split is authoritative; a late withdraw is
		// audit-logged but must not disturb the settled amounts.
		observability.RecordIntegrityAnomaly("withdraw_after_terminal")
		p.logger.Printf("withdraw on %s stream %s (tx %s)", st.Status, st.ID, ev.TxHash)
		return nil, streams.TouchLedger(ctx, st.ID, ev.LedgerSeq)
	}

	st.WithdrawnAmount = new(big.Int).Add(amountOrZero(st.WithdrawnAmount), amount)
	if st.TotalAmount != nil && st.TotalAmount.Sign() > 0 && st.WithdrawnAmount.Cmp(st.TotalAmount) > 0 {
		observability.RecordIntegrityAnomaly("withdraw_exceeds_total")
		p.logger.Printf("stream %s withdrawn %s exceeds total %s (tx %s)",
			st.ID, st.WithdrawnAmount, st.TotalAmount, ev.TxHash)
	}
	st.UpdatedAt = ev.ClosedAt
	if ev.LedgerSeq > st.LastLedgerSeq {
		st.LastLedgerSeq = ev.LedgerSeq
	}

	if err := streams.Update(ctx, st); err != nil {
		return nil, fmt.Errorf("update stream %s: %w", st.ID, err)
	}
	return st, nil
}

// applyCancel closes a stream. The on-ledger split is authoritative:
// the amount returned to the sender fixes the final withdrawn total at
// total minus returned, regardless of what was projected so far.
func (p *Projector) applyCancel(ctx context.Context, streams storage.StreamStore, ev *domain.Event) (*domain.StreamState, error) {
	st, err := streams.GetForUpdate(ctx, ev.StreamID)
	if errors.Is(err, storage.ErrNotFound) {
		observability.RecordIntegrityAnomaly("cancel_unknown_stream")
		p.logger.Printf("cancel against unknown stream %s (tx %s)", ev.StreamID, ev.TxHash)
		closedAt := ev.ClosedAt
		st = &domain.StreamState{
			ID:              ev.StreamID,
			Sender:          ev.Sender,
			TotalAmount:     big.NewInt(0),
			WithdrawnAmount: big.NewInt(0),
			Status:          domain.StreamCanceled,
			CreatedAt:       ev.ClosedAt,
			UpdatedAt:       ev.ClosedAt,
			ClosedAt:        &closedAt,
			LastLedgerSeq:   ev.LedgerSeq,
		}
		if err := streams.Insert(ctx, st); err != nil {
			return nil, fmt.Errorf("insert placeholder stream %s: %w", ev.StreamID, err)
		}
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stream %s: %w", ev.StreamID, err)
	}

	if st.Status == domain.StreamCanceled {
		// Redelivered cancel under a new tx hash. Advance the cursor.
		if err := streams.TouchLedger(ctx, st.ID, ev.LedgerSeq); err != nil {
			return nil, fmt.Errorf("touch stream %s: %w", st.ID, err)
		}
		return nil, nil
	}

	toSender := amountOrZero(ev.Amount)
	if st.TotalAmount != nil && st.TotalAmount.Sign() > 0 {
		final := new(big.Int).Sub(st.TotalAmount, toSender)
		if final.Sign() < 0 {
			observability.RecordIntegrityAnomaly("cancel_refund_exceeds_total")
			p.logger.Printf("stream %s cancel returns %s over total %s (tx %s)",
				st.ID, toSender, st.TotalAmount, ev.TxHash)
			final = big.NewInt(0)
		}
		if st.WithdrawnAmount != nil && st.WithdrawnAmount.Cmp(final) != 0 {
			observability.RecordIntegrityAnomaly("cancel_divergence")
			p.logger.Printf("stream %s projected withdrawn %s, ledger says %s (tx %s)",
				st.ID, st.WithdrawnAmount, final, ev.TxHash)
		}
		st.WithdrawnAmount = final
	}

	closedAt := ev.ClosedAt
	st.Status = domain.StreamCanceled
	st.ClosedAt = &closedAt
	st.UpdatedAt = ev.ClosedAt
	if ev.LedgerSeq > st.LastLedgerSeq {
		st.LastLedgerSeq = ev.LedgerSeq
	}

	if err := streams.Update(ctx, st); err != nil {
		return nil, fmt.Errorf("update stream %s: %w", st.ID, err)
	}
	return st, nil
}

// applyTransfer reassigns the receiving address. The second return is
// the displaced receiver, so the notifier can tell them too.
func (p *Projector) applyTransfer(ctx context.Context, streams storage.StreamStore, ev *domain.Event) (*domain.StreamState, string, error) {
	st, err := streams.GetForUpdate(ctx, ev.StreamID)
	if errors.Is(err, storage.ErrNotFound) {
		observability.RecordIntegrityAnomaly("transfer_unknown_stream")
		p.logger.Printf("transfer against unknown stream %s (tx %s)", ev.StreamID, ev.TxHash)
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load stream %s: %w", ev.StreamID, err)
	}

	if st.Terminal() {
		observability.RecordIntegrityAnomaly("transfer_after_terminal")
		p.logger.Printf("transfer on %s stream %s (tx %s)", st.Status, st.ID, ev.TxHash)
		return nil, "", streams.TouchLedger(ctx, st.ID, ev.LedgerSeq)
	}
	if ev.Receiver == "" {
		observability.RecordMalformedEvent()
		return nil, "", fmt.Errorf("%w: transfer without new receiver (tx %s)", ErrMalformedEvent, ev.TxHash)
	}

	displaced := st.Receiver
	if displaced == ev.Receiver {
		displaced = ""
	}
	st.Receiver = ev.Receiver
	st.UpdatedAt = ev.ClosedAt
	if ev.LedgerSeq > st.LastLedgerSeq {
		st.LastLedgerSeq = ev.LedgerSeq
	}

	if err := streams.Update(ctx, st); err != nil {
		return nil, "", fmt.Errorf("update stream %s: %w", st.ID, err)
	}
	return st, displaced, nil
}

func auditEntryFor(ev *domain.Event) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:         idhash.ComputeEntryID(ev.TxHash, string(ev.Kind), ev.StreamID, ev.LedgerSeq),
		Kind:       ev.Kind,
		StreamID:   ev.StreamID,
		TxHash:     ev.TxHash,
		LedgerSeq:  ev.LedgerSeq,
		LedgerTime: ev.ClosedAt,
		Sender:     ev.Sender,
		Receiver:   ev.Receiver,
		Amount:     amountOrZero(ev.Amount),
		Metadata:   ev.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
}

func amountOrZero(n *big.Int) *big.Int {
	if n == nil {
		return big.NewInt(0)
	}
	return n
}

func metaInt(m map[string]string, key string) int64 {
	if m == nil {
		return 0
	}
	var n int64
	_, err := fmt.Sscanf(m[key], "%d", &n)
	if err != nil {
		return 0
	}
	return n
}
