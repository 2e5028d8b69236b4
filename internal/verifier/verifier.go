// Package verifier compares recorded ledger hashes against an
// authoritative source to detect silent divergence. Mismatches are
// surfaced for operator review, never auto-corrected.
package verifier

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"stellar-stream-indexer/internal/observability"
	"stellar-stream-indexer/internal/storage"
)

// HashSource fetches the authoritative hash for one ledger sequence.
// Implemented by the RPC client.
type HashSource interface {
	LedgerHash(ctx context.Context, seq int64) (string, error)
}

// Mismatch is one sequence where the recorded hash disagrees with the
// source.
type Mismatch struct {
	Seq      int64
	Recorded string
	Source   string
}

// Report summarizes one verification pass.
type Report struct {
	From       int64
	To         int64
	Verified   int
	Skipped    int // source fetch failed, sequence not judged
	Mismatches []Mismatch
}

// Clean reports whether the pass found no divergence.
func (r *Report) Clean() bool {
	return len(r.Mismatches) == 0
}

// Verifier runs hash comparison passes.
type Verifier struct {
	hashes       storage.LedgerHashStore
	source       HashSource
	fetchTimeout time.Duration
	logger       *log.Logger
}

// Options configures a Verifier.
type Options struct {
	FetchTimeout time.Duration // Default: 10s per sequence
	Logger       *log.Logger
}

// New creates a Verifier over the recorded hashes and a source.
func New(hashes storage.LedgerHashStore, source HashSource, opts Options) *Verifier {
	timeout := opts.FetchTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[verifier] ", log.LstdFlags|log.Lshortfile)
	}
	return &Verifier{
		hashes:       hashes,
		source:       source,
		fetchTimeout: timeout,
		logger:       logger,
	}
}

// Verify compares every recorded hash with from <= seq <= to against
// the source. A failed source fetch skips that sequence; it does not
// abort the pass and does not count as a mismatch.
func (v *Verifier) Verify(ctx context.Context, from, to int64) (*Report, error) {
	if from > to {
		return nil, fmt.Errorf("invalid range %d..%d", from, to)
	}

	records, err := v.hashes.Range(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load recorded hashes: %w", err)
	}

	report := &Report{From: from, To: to}
	for _, rec := range records {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		sourceHash, err := v.fetch(ctx, rec.Seq)
		if err != nil {
			report.Skipped++
			observability.RecordHashFetchSkipped()
			v.logger.Printf("seq %d: source fetch failed, skipping: %v", rec.Seq, err)
			continue
		}

		report.Verified++
		observability.RecordHashVerified()
		if sourceHash != rec.Hash {
			observability.RecordHashMismatch()
			v.logger.Printf("seq %d: hash mismatch, recorded %s source %s", rec.Seq, rec.Hash, sourceHash)
			report.Mismatches = append(report.Mismatches, Mismatch{
				Seq:      rec.Seq,
				Recorded: rec.Hash,
				Source:   sourceHash,
			})
		}
	}
	return report, nil
}

func (v *Verifier) fetch(ctx context.Context, seq int64) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()
	return v.source.LedgerHash(fetchCtx, seq)
}
