package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

// AuditLogStore is an in-memory implementation of storage.AuditLogStore.
type AuditLogStore struct {
	mu       sync.RWMutex
	byID     map[string]*domain.AuditEntry
	byTxHash map[string]string // tx hash -> entry id
}

// NewAuditLogStore creates a new in-memory audit log.
func NewAuditLogStore() *AuditLogStore {
	return &AuditLogStore{
		byID:     make(map[string]*domain.AuditEntry),
		byTxHash: make(map[string]string),
	}
}

// Compile-time interface check.
var _ storage.AuditLogStore = (*AuditLogStore)(nil)

// Append adds one entry. A duplicate tx hash is an idempotent no-op.
func (s *AuditLogStore) Append(_ context.Context, e *domain.AuditEntry) error {
	if e == nil || e.ID == "" || e.TxHash == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTxHash[e.TxHash]; exists {
		return nil
	}

	cp := cloneEntry(e)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.byID[cp.ID] = cp
	s.byTxHash[cp.TxHash] = cp.ID
	return nil
}

// HasTxHash reports whether an entry with the hash exists.
func (s *AuditLogStore) HasTxHash(_ context.Context, txHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byTxHash[txHash]
	return ok, nil
}

// Recent returns newest-first entries up to limit, clamped.
func (s *AuditLogStore) Recent(_ context.Context, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = storage.RecentDefaultLimit
	}
	if limit > storage.RecentMaxLimit {
		limit = storage.RecentMaxLimit
	}

	s.mu.RLock()
	out := s.all()
	s.mu.RUnlock()

	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ForStream returns the full history for one stream, newest-first.
func (s *AuditLogStore) ForStream(_ context.Context, streamID string) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	var out []*domain.AuditEntry
	for _, e := range s.byID {
		if e.StreamID == streamID {
			out = append(out, cloneEntry(e))
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

// OlderThan returns entries inserted before the cutoff, oldest first.
func (s *AuditLogStore) OlderThan(_ context.Context, cutoff time.Time) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	var out []*domain.AuditEntry
	for _, e := range s.byID {
		if e.CreatedAt.Before(cutoff) {
			out = append(out, cloneEntry(e))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].LedgerSeq < out[j].LedgerSeq
	})
	return out, nil
}

// DeleteByID removes entries by id. Returns rows deleted.
func (s *AuditLogStore) DeleteByID(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		e, ok := s.byID[id]
		if !ok {
			continue
		}
		delete(s.byID, id)
		delete(s.byTxHash, e.TxHash)
		deleted++
	}
	return deleted, nil
}

func (s *AuditLogStore) all() []*domain.AuditEntry {
	out := make([]*domain.AuditEntry, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, cloneEntry(e))
	}
	return out
}

func sortNewestFirst(entries []*domain.AuditEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].LedgerSeq > entries[j].LedgerSeq
	})
}

func cloneEntry(e *domain.AuditEntry) *domain.AuditEntry {
	cp := *e
	if e.Amount != nil {
		cp.Amount = new(big.Int).Set(e.Amount)
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
