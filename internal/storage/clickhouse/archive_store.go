package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/observability"
	"stellar-stream-indexer/internal/storage"
)

// ArchiveStore implements storage.ArchiveStore using ClickHouse as the
// cold store for aged audit entries. The table is a ReplacingMergeTree
// keyed by the audit entry id, so re-copying the same entries after a
// failed delete step collapses to a single row.
type ArchiveStore struct {
	conn *Conn
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(conn *Conn) *ArchiveStore {
	return &ArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ArchiveStore = (*ArchiveStore)(nil)

// CopyFrom bulk-inserts audit entries into the archive. Duplicates by
// id are deduplicated by the ReplacingMergeTree engine.
func (s *ArchiveStore) CopyFrom(ctx context.Context, entries []*domain.AuditEntry, archivedAt time.Time) (err error) {
	if len(entries) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "archive_copy", time.Since(start).Seconds(), err)
	}()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO archive_log (
			id, kind, stream_id, tx_hash, ledger_seq, ledger_time,
			sender, receiver, amount, metadata, created_at, archived_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare archive batch: %w", err)
	}

	for _, e := range entries {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal archive metadata: %w", err)
		}

		amount := "0"
		if e.Amount != nil {
			amount = e.Amount.String()
		}

		err = batch.Append(
			e.ID,
			string(e.Kind),
			e.StreamID,
			e.TxHash,
			uint64(e.LedgerSeq),
			e.LedgerTime,
			e.Sender,
			e.Receiver,
			amount,
			string(meta),
			e.CreatedAt,
			archivedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to archive batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send archive batch: %w", err)
	}
	return nil
}

// ForStream retrieves archived entries for a stream, newest-first.
// FINAL forces ReplacingMergeTree deduplication at read time.
func (s *ArchiveStore) ForStream(ctx context.Context, streamID string) (out []*domain.ArchiveEntry, err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "archive_read", time.Since(start).Seconds(), err)
	}()

	query := `
		SELECT id, kind, stream_id, tx_hash, ledger_seq, ledger_time,
		       sender, receiver, amount, metadata, created_at, archived_at
		FROM archive_log FINAL
		WHERE stream_id = ?
		ORDER BY created_at DESC, ledger_seq DESC
	`

	rows, err := s.conn.Query(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("archived entries for stream: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e         domain.ArchiveEntry
			kind      string
			ledgerSeq uint64
			amount    string
			meta      string
		)
		err := rows.Scan(
			&e.ID,
			&kind,
			&e.StreamID,
			&e.TxHash,
			&ledgerSeq,
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
		e.LedgerSeq = int64(ledgerSeq)
		e.Amount = parseAmount(amount)
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
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
