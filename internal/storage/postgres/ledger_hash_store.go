package postgres

import (
	"context"
	"fmt"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

// LedgerHashStore implements storage.LedgerHashStore using PostgreSQL.
type LedgerHashStore struct {
	q Querier
}

// NewLedgerHashStore creates a new LedgerHashStore.
func NewLedgerHashStore(q Querier) *LedgerHashStore {
	return &LedgerHashStore{q: q}
}

// Compile-time interface check.
var _ storage.LedgerHashStore = (*LedgerHashStore)(nil)

// Record stores a (sequence, hash) pair. The first recorded hash for a
// sequence wins; re-recording is a no-op so records are never mutated.
func (s *LedgerHashStore) Record(ctx context.Context, seq int64, hash string) error {
	if hash == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO ledger_hashes (seq, hash)
		VALUES ($1, $2)
		ON CONFLICT (seq) DO NOTHING
	`

	if _, err := s.q.Exec(ctx, query, seq, hash); err != nil {
		return fmt.Errorf("record ledger hash: %w", err)
	}
	return nil
}

// Range retrieves records with from <= seq <= to, ascending.
func (s *LedgerHashStore) Range(ctx context.Context, from, to int64) ([]*domain.LedgerHashRecord, error) {
	query := `
		SELECT seq, hash, recorded_at
		FROM ledger_hashes
		WHERE seq >= $1 AND seq <= $2
		ORDER BY seq ASC
	`

	rows, err := s.q.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger hash range: %w", err)
	}
	defer rows.Close()

	var out []*domain.LedgerHashRecord
	for rows.Next() {
		var rec domain.LedgerHashRecord
		if err := rows.Scan(&rec.Seq, &rec.Hash, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan ledger hash row: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger hash rows: %w", err)
	}
	return out, nil
}
