package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

// StreamStore is an in-memory implementation of storage.StreamStore.
type StreamStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StreamState
}

// NewStreamStore creates a new in-memory stream store.
func NewStreamStore() *StreamStore {
	return &StreamStore{data: make(map[string]*domain.StreamState)}
}

// Compile-time interface check.
var _ storage.StreamStore = (*StreamStore)(nil)

// Get retrieves a stream by id. Returns ErrNotFound if absent.
func (s *StreamStore) Get(_ context.Context, id string) (*domain.StreamState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return st.Clone(), nil
}

// GetForUpdate is equivalent to Get; the memory transactor serializes
// transactions with a single mutex so no row lock is needed.
func (s *StreamStore) GetForUpdate(ctx context.Context, id string) (*domain.StreamState, error) {
	return s.Get(ctx, id)
}

// Insert adds a new stream. Returns ErrDuplicateKey if id exists.
func (s *StreamStore) Insert(_ context.Context, st *domain.StreamState) error {
	if st == nil || st.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[st.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[st.ID] = st.Clone()
	return nil
}

// Update overwrites the mutable fields of an existing stream.
func (s *StreamStore) Update(_ context.Context, st *domain.StreamState) error {
	if st == nil || st.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[st.ID]; !exists {
		return storage.ErrNotFound
	}
	s.data[st.ID] = st.Clone()
	return nil
}

// TouchLedger advances last_ledger_seq only, never regressing it.
func (s *StreamStore) TouchLedger(_ context.Context, id string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if seq > st.LastLedgerSeq {
		st.LastLedgerSeq = seq
		st.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// List retrieves every stream, ordered by id.
func (s *StreamStore) List(_ context.Context) ([]*domain.StreamState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.StreamState, 0, len(s.data))
	for _, st := range s.data {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CompleteExpired transitions expired ACTIVE streams to COMPLETED.
func (s *StreamStore) CompleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched int64
	cutoff := now.UTC()
	for _, st := range s.data {
		if st.Status != domain.StreamActive || st.EndTime == 0 {
			continue
		}
		if time.Unix(st.EndTime, 0).Before(cutoff) {
			st.Status = domain.StreamCompleted
			closed := cutoff
			st.ClosedAt = &closed
			st.UpdatedAt = cutoff
			touched++
		}
	}
	return touched, nil
}
