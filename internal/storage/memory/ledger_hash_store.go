package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

// LedgerHashStore is an in-memory implementation of storage.LedgerHashStore.
type LedgerHashStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.LedgerHashRecord
}

// NewLedgerHashStore creates a new in-memory ledger hash store.
func NewLedgerHashStore() *LedgerHashStore {
	return &LedgerHashStore{data: make(map[int64]*domain.LedgerHashRecord)}
}

// Compile-time interface check.
var _ storage.LedgerHashStore = (*LedgerHashStore)(nil)

// Record stores a (sequence, hash) pair. Re-recording a sequence is a
// no-op; recorded hashes are never mutated.
func (s *LedgerHashStore) Record(_ context.Context, seq int64, hash string) error {
	if hash == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[seq]; exists {
		return nil
	}
	s.data[seq] = &domain.LedgerHashRecord{
		Seq:        seq,
		Hash:       hash,
		RecordedAt: time.Now().UTC(),
	}
	return nil
}

// Range retrieves records with from <= seq <= to, ascending.
func (s *LedgerHashStore) Range(_ context.Context, from, to int64) ([]*domain.LedgerHashRecord, error) {
	s.mu.RLock()
	var out []*domain.LedgerHashRecord
	for seq, rec := range s.data {
		if seq >= from && seq <= to {
			cp := *rec
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
