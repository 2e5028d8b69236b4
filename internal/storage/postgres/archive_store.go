package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

// ArchiveStore implements storage.ArchiveStore using PostgreSQL.
// Deployments without a ClickHouse cold store keep archived entries in
// the same database, one table over.
type ArchiveStore struct {
	q Querier
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(q Querier) *ArchiveStore {
	return &ArchiveStore{q: q}
}

// Compile-time interface check.
var _ storage.ArchiveStore = (*ArchiveStore)(nil)

// CopyFrom copies audit entries into archive_log. ON CONFLICT DO
// NOTHING on the shared primary key makes re-running after a failed
// delete step idempotent.
func (s *ArchiveStore) CopyFrom(ctx context.Context, entries []*domain.AuditEntry, archivedAt time.Time) error {
	if len(entries) == 0 {
		return nil
	}

	query := `
		INSERT INTO archive_log (
			id, kind, stream_id, tx_hash, ledger_seq, ledger_time,
			sender, receiver, amount, metadata, created_at, archived_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`

	for _, e := range entries {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		meta, err := json.Marshal(orEmpty(e.Metadata))
		if err != nil {
			return fmt.Errorf("marshal archive metadata: %w", err)
		}

		_, err = s.q.Exec(ctx, query,
			e.ID,
			string(e.Kind),
			e.StreamID,
			e.TxHash,
			e.LedgerSeq,
			e.LedgerTime,
			e.Sender,
			e.Receiver,
			amountString(e.Amount),
			meta,
			e.CreatedAt,
			archivedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("copy audit entry to archive: %w", err)
		}
	}
	return nil
}

// ForStream retrieves archived entries for a stream, newest-first.
func (s *ArchiveStore) ForStream(ctx context.Context, streamID string) ([]*domain.ArchiveEntry, error) {
	query := `
		SELECT id, kind, stream_id, tx_hash, ledger_seq, ledger_time,
		       sender, receiver, amount, metadata, created_at, archived_at
		FROM archive_log
		WHERE stream_id = $1
		ORDER BY created_at DESC, ledger_seq DESC
	`

	rows, err := s.q.Query(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("archived entries for stream: %w", err)
	}
	defer rows.Close()

	var out []*domain.ArchiveEntry
	for rows.Next() {
		var (
			e      domain.ArchiveEntry
			kind   string
			amount string
			meta   []byte
		)
		err := rows.Scan(
			&e.ID,
			&kind,
			&e.StreamID,
			&e.TxHash,
			&e.LedgerSeq,
			&e.LedgerTime,
			&e.Sender,
			&e.Receiver,
			&amount,
			&meta,
			&e.CreatedAt,
			&e.ArchivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}

		e.Kind = domain.EventKind(kind)
		e.Amount = parseAmount(amount)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal archive metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}
	return out, nil
}
