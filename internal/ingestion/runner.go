// Package ingestion drives the live pipeline: it buffers raw feed
// events per ledger for deterministic ordering, records ledger hashes
// for later verification, and hands parsed events to the projector.
package ingestion

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/events"
	"stellar-stream-indexer/internal/observability"
	"stellar-stream-indexer/internal/projector"
	"stellar-stream-indexer/internal/storage"
)

// FeedSource delivers raw events. The channel closing means the source
// is gone for good and the runner should stop.
type FeedSource interface {
	Events() <-chan *domain.RawEvent
}

// Applier folds one normalized event into state. Implemented by the
// projector.
type Applier interface {
	Apply(ctx context.Context, ev *domain.Event) error
}

// Runner consumes the feed and applies events in ledger order.
type Runner struct {
	source       FeedSource
	parser       *events.Parser
	applier      Applier
	ledgerHashes storage.LedgerHashStore

	lagWindow     int64         // ledgers to buffer before processing
	flushInterval time.Duration // periodic flush of finalized ledgers
	logger        *log.Logger

	// Ledger-keyed buffer for deterministic ordering. Events are
	// grouped by ledger and processed once the ledger is finalized.
	buffer        map[int64][]*domain.RawEvent
	highestLedger int64
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source       FeedSource
	Parser       *events.Parser
	Applier      Applier
	LedgerHashes storage.LedgerHashStore

	LagWindow     int64         // Default: 2 ledgers
	FlushInterval time.Duration // Default: 5s
	Logger        *log.Logger
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	lagWindow := opts.LagWindow
	if lagWindow == 0 {
		lagWindow = 2
	}
	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		source:        opts.Source,
		parser:        opts.Parser,
		applier:       opts.Applier,
		ledgerHashes:  opts.LedgerHashes,
		lagWindow:     lagWindow,
		flushInterval: flushInterval,
		logger:        logger,
		buffer:        make(map[int64][]*domain.RawEvent),
	}
}

// Run consumes the feed until the context is cancelled or the source
// channel closes. Buffered events are flushed on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Println("ingestion runner started")

	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flushAll(ctx)
			r.logger.Println("ingestion runner stopping...")
			return ctx.Err()

		case raw, ok := <-r.source.Events():
			if !ok {
				r.flushAll(ctx)
				return errors.New("feed channel closed")
			}
			r.bufferEvent(ctx, raw)

		case <-flushTicker.C:
			// Process finalized ledgers even if the feed went quiet,
			// so buffered events are not held indefinitely.
			r.processFinalized(ctx)
		}
	}
}

// bufferEvent groups the event under its ledger and processes any
// ledgers the new high-water mark finalizes.
func (r *Runner) bufferEvent(ctx context.Context, raw *domain.RawEvent) {
	if raw == nil {
		return
	}
	seq := raw.LedgerSeq
	r.buffer[seq] = append(r.buffer[seq], raw)

	if seq > r.highestLedger {
		r.highestLedger = seq
		observability.UpdateHighestLedger(seq)
		r.processFinalized(ctx)
	} else if seq <= r.highestLedger-r.lagWindow {
		// Late event for an already-finalized ledger: process now.
		r.processLedger(ctx, seq)
	}
	observability.UpdateOrderingBuffer(len(r.buffer))
}

// processFinalized processes every buffered ledger at or below the
// finalization point, in ascending order.
func (r *Runner) processFinalized(ctx context.Context) {
	finalized := r.highestLedger - r.lagWindow
	if finalized < 0 {
		return
	}

	var seqs []int64
	for seq := range r.buffer {
		if seq <= finalized {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		r.processLedger(ctx, seq)
	}
	observability.UpdateOrderingBuffer(len(r.buffer))
}

// processLedger applies all events of one ledger in transaction hash
// order, which is deterministic across replays.
func (r *Runner) processLedger(ctx context.Context, seq int64) {
	raws, ok := r.buffer[seq]
	if !ok || len(raws) == 0 {
		return
	}
	delete(r.buffer, seq)

	sort.Slice(raws, func(i, j int) bool { return raws[i].TxHash < raws[j].TxHash })

	// One hash record per ledger; re-recording is a no-op so crash
	// replays are harmless.
	if r.ledgerHashes != nil && raws[0].LedgerHash != "" {
		if err := r.ledgerHashes.Record(ctx, seq, raws[0].LedgerHash); err != nil {
			r.logger.Printf("record hash for ledger %d: %v", seq, err)
		}
	}

	for _, raw := range raws {
		r.handleEvent(ctx, raw)
	}
}

// handleEvent parses and applies one raw event. Malformed events are
// counted and dropped; storage errors are logged and the event lost to
// this run (a backfill pass re-delivers it).
func (r *Runner) handleEvent(ctx context.Context, raw *domain.RawEvent) {
	ev := r.parser.Parse(raw)
	if ev == nil {
		return
	}
	observability.RecordEventParsed(string(ev.Kind))

	if err := r.applier.Apply(ctx, ev); err != nil {
		if errors.Is(err, projector.ErrMalformedEvent) {
			r.logger.Printf("dropping malformed %s event (tx %s): %v", ev.Kind, ev.TxHash, err)
			return
		}
		r.logger.Printf("apply %s event (tx %s): %v", ev.Kind, ev.TxHash, err)
	}
}

// flushAll processes every buffered ledger regardless of finalization,
// used on shutdown when ordering against future ledgers no longer
// matters.
func (r *Runner) flushAll(ctx context.Context) {
	var seqs []int64
	for seq := range r.buffer {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		r.processLedger(ctx, seq)
	}
	observability.UpdateOrderingBuffer(len(r.buffer))
}

// Backfill fetches and applies a ledger range from an RPC source,
// used to catch up after downtime. Events already applied are
// deduplicated by transaction hash downstream.
func (r *Runner) Backfill(ctx context.Context, raws []*domain.RawEvent) {
	sort.Slice(raws, func(i, j int) bool {
		if raws[i].LedgerSeq != raws[j].LedgerSeq {
			return raws[i].LedgerSeq < raws[j].LedgerSeq
		}
		return raws[i].TxHash < raws[j].TxHash
	})

	lastSeq := int64(-1)
	for _, raw := range raws {
		if r.ledgerHashes != nil && raw.LedgerSeq != lastSeq && raw.LedgerHash != "" {
			if err := r.ledgerHashes.Record(ctx, raw.LedgerSeq, raw.LedgerHash); err != nil {
				r.logger.Printf("record hash for ledger %d: %v", raw.LedgerSeq, err)
			}
			lastSeq = raw.LedgerSeq
		}
		r.handleEvent(ctx, raw)
	}
}
