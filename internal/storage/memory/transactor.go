package memory

import (
	"context"
	"sync"

	"stellar-stream-indexer/internal/storage"
)

// Transactor serializes projector applies over the in-memory stores
// with a single mutex. It does not roll back partial mutations on
// error; the projector validates events before mutating, and the only
// mid-transaction failure mode left (duplicate audit append) is an
// idempotent no-op. Real deployments get full atomicity from the
// postgres transactor.
type Transactor struct {
	mu      sync.Mutex
	streams *StreamStore
	audit   *AuditLogStore
}

// NewTransactor creates a Transactor over the given stores.
func NewTransactor(streams *StreamStore, audit *AuditLogStore) *Transactor {
	return &Transactor{streams: streams, audit: audit}
}

// Compile-time interface check.
var _ storage.Transactor = (*Transactor)(nil)

// WithinTx runs fn while holding the transactor mutex.
func (t *Transactor) WithinTx(_ context.Context, fn func(storage.TxStores) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(storage.TxStores{Streams: t.streams, Audit: t.audit})
}
