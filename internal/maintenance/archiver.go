// Package maintenance runs the periodic housekeeping passes: monthly
// stream snapshots, retention archiving of aged audit entries, and the
// stale-stream sweep.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/observability"
	"stellar-stream-indexer/internal/storage"
)

// RetentionMonths is how many calendar months of audit history stay in
// the hot store before entries move to the archive.
const RetentionMonths = 3

// Result reports what one maintenance run did.
type Result struct {
	SnapshotsCreated int
	LogsArchived     int
	StartedAt        time.Time
	Duration         time.Duration
}

// Runner executes maintenance passes. Runs are single-flight: a run
// requested while another is in progress returns ErrAlreadyRunning.
type Runner struct {
	streams   storage.StreamStore
	audit     storage.AuditLogStore
	snapshots storage.SnapshotStore
	archive   storage.ArchiveStore
	logger    *log.Logger
	now       func() time.Time
	running   atomic.Bool
}

// ErrAlreadyRunning is returned when a run overlaps an active one.
var ErrAlreadyRunning = fmt.Errorf("maintenance already running")

// NewRunner creates a maintenance runner over the given stores.
func NewRunner(streams storage.StreamStore, audit storage.AuditLogStore, snapshots storage.SnapshotStore, archive storage.ArchiveStore) *Runner {
	return &Runner{
		streams:   streams,
		audit:     audit,
		snapshots: snapshots,
		archive:   archive,
		logger:    log.New(os.Stdout, "[maintenance] ", log.LstdFlags|log.Lshortfile),
		now:       time.Now,
	}
}

// Run executes one full maintenance pass: snapshot every stream for
// the current month, then move audit entries older than the retention
// window to cold storage. Both steps are idempotent, so a rerun after
// a partial failure converges without duplicating work.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	started := r.now().UTC()
	res := &Result{StartedAt: started}

	snapped, err := r.snapshotStreams(ctx, started)
	if err != nil {
		observability.RecordMaintenanceRun("error", int64(snapped), 0)
		return nil, fmt.Errorf("snapshot pass: %w", err)
	}
	res.SnapshotsCreated = snapped

	archived, err := r.archiveOldEntries(ctx, started)
	if err != nil {
		observability.RecordMaintenanceRun("error", int64(snapped), int64(archived))
		return nil, fmt.Errorf("archive pass: %w", err)
	}
	res.LogsArchived = archived

	res.Duration = r.now().UTC().Sub(started)
	observability.RecordMaintenanceRun("ok", int64(snapped), int64(archived))
	r.logger.Printf("run complete: %d snapshots, %d entries archived in %s",
		res.SnapshotsCreated, res.LogsArchived, res.Duration)
	return res, nil
}

// snapshotStreams upserts one snapshot per stream keyed by the current
// month. Re-running within the same month overwrites in place.
func (r *Runner) snapshotStreams(ctx context.Context, now time.Time) (int, error) {
	streams, err := r.streams.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list streams: %w", err)
	}

	month := domain.MonthKey(now)
	count := 0
	for _, st := range streams {
		snap := &domain.Snapshot{
			StreamID:        st.ID,
			Month:           month,
			Sender:          st.Sender,
			Receiver:        st.Receiver,
			Token:           st.Token,
			TotalAmount:     st.TotalAmount,
			WithdrawnAmount: st.WithdrawnAmount,
			Status:          st.Status,
			EndTime:         st.EndTime,
			TakenAt:         now,
		}
		if err := r.snapshots.Upsert(ctx, snap); err != nil {
			return count, fmt.Errorf("snapshot stream %s: %w", st.ID, err)
		}
		count++
	}
	return count, nil
}

// archiveOldEntries copies aged audit entries to cold storage and only
// then deletes them from the hot store. A crash between the two steps
// leaves the entries in both places; the next run re-copies (a no-op
// on the archive side) and finishes the delete.
func (r *Runner) archiveOldEntries(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.AddDate(0, -RetentionMonths, 0)

	entries, err := r.audit.OlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select aged entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := r.archive.CopyFrom(ctx, entries, now); err != nil {
		return 0, fmt.Errorf("copy to archive: %w", err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	deleted, err := r.audit.DeleteByID(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("delete archived entries: %w", err)
	}
	return int(deleted), nil
}
