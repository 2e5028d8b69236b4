package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

// ArchiveStore is an in-memory implementation of storage.ArchiveStore.
type ArchiveStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ArchiveEntry // keyed by audit entry id
}

// NewArchiveStore creates a new in-memory archive store.
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{data: make(map[string]*domain.ArchiveEntry)}
}

// Compile-time interface check.
var _ storage.ArchiveStore = (*ArchiveStore)(nil)

// CopyFrom copies audit entries into the archive. Rows already present
// (same primary key) are left untouched, so re-running after a failed
// delete step does not duplicate archive rows.
func (s *ArchiveStore) CopyFrom(_ context.Context, entries []*domain.AuditEntry, archivedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[e.ID]; exists {
			continue
		}
		s.data[e.ID] = &domain.ArchiveEntry{
			AuditEntry: *cloneEntry(e),
			ArchivedAt: archivedAt.UTC(),
		}
	}
	return nil
}

// ForStream retrieves archived entries for a stream, newest-first.
func (s *ArchiveStore) ForStream(_ context.Context, streamID string) ([]*domain.ArchiveEntry, error) {
	s.mu.RLock()
	var out []*domain.ArchiveEntry
	for _, e := range s.data {
		if e.StreamID == streamID {
			cp := *e
			cp.AuditEntry = *cloneEntry(&e.AuditEntry)
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].LedgerSeq > out[j].LedgerSeq
	})
	return out, nil
}

// Len returns the number of archived entries. Test helper.
func (s *ArchiveStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
