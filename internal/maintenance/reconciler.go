package maintenance

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"stellar-stream-indexer/internal/observability"
	"stellar-stream-indexer/internal/storage"
)

// Reconciler sweeps streams whose end time has passed but that never
// saw a closing event, transitioning them to COMPLETED so client-side
// views stop treating them as live.
type Reconciler struct {
	streams storage.StreamStore
	logger  *log.Logger
	now     func() time.Time
}

// NewReconciler creates a stale-stream reconciler.
func NewReconciler(streams storage.StreamStore) *Reconciler {
	return &Reconciler{
		streams: streams,
		logger:  log.New(os.Stdout, "[reconciler] ", log.LstdFlags|log.Lshortfile),
		now:     time.Now,
	}
}

// Sweep runs one pass and returns the number of streams completed.
// The sweep is a single bulk statement; once caught up it touches
// nothing, so rerunning is free.
func (r *Reconciler) Sweep(ctx context.Context) (int64, error) {
	n, err := r.streams.CompleteExpired(ctx, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("complete expired streams: %w", err)
	}
	if n > 0 {
		observability.RecordStreamsCompleted(n)
		r.logger.Printf("completed %d expired streams", n)
	}
	return n, nil
}
