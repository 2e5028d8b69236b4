package postgres

import (
	"context"
	"fmt"
	"time"

	"stellar-stream-indexer/internal/observability"
	"stellar-stream-indexer/internal/storage"
)

// Transactor runs projector applies inside a single PostgreSQL
// transaction. Stream mutation and audit append commit together or
// not at all; row locks taken via GetForUpdate serialize concurrent
// applies for the same stream id.
type Transactor struct {
	pool *Pool
}

// NewTransactor creates a Transactor over the pool.
func NewTransactor(pool *Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Compile-time interface check.
var _ storage.Transactor = (*Transactor)(nil)

// WithinTx begins a transaction, runs fn with tx-bound stores, and
// commits; any error rolls the whole transaction back.
func (t *Transactor) WithinTx(ctx context.Context, fn func(storage.TxStores) error) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "apply_tx", time.Since(start).Seconds(), err)
	}()

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = fn(storage.TxStores{
		Streams: NewStreamStore(tx),
		Audit:   NewAuditLogStore(tx),
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
