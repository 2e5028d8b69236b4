package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Snapshot // keyed by streamID|month
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{data: make(map[string]*domain.Snapshot)}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

func snapshotKey(streamID, month string) string {
	return streamID + "|" + month
}

// Upsert inserts or overwrites the snapshot for (stream, month).
func (s *SnapshotStore) Upsert(_ context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.StreamID == "" || snap.Month == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[snapshotKey(snap.StreamID, snap.Month)] = cloneSnapshot(snap)
	return nil
}

// Get retrieves one snapshot. Returns ErrNotFound if absent.
func (s *SnapshotStore) Get(_ context.Context, streamID, month string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[snapshotKey(streamID, month)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

// ForStream retrieves all snapshots for a stream, newest month first.
func (s *SnapshotStore) ForStream(_ context.Context, streamID string) ([]*domain.Snapshot, error) {
	s.mu.RLock()
	var out []*domain.Snapshot
	for _, snap := range s.data {
		if snap.StreamID == streamID {
			out = append(out, cloneSnapshot(snap))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Month > out[j].Month })
	return out, nil
}

func cloneSnapshot(snap *domain.Snapshot) *domain.Snapshot {
	cp := *snap
	if snap.TotalAmount != nil {
		cp.TotalAmount = new(big.Int).Set(snap.TotalAmount)
	}
	if snap.WithdrawnAmount != nil {
		cp.WithdrawnAmount = new(big.Int).Set(snap.WithdrawnAmount)
	}
	return &cp
}
