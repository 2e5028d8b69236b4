package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

// AuditLogStore implements storage.AuditLogStore using PostgreSQL.
type AuditLogStore struct {
	q Querier
}

// NewAuditLogStore creates a new AuditLogStore over a pool or transaction.
func NewAuditLogStore(q Querier) *AuditLogStore {
	return &AuditLogStore{q: q}
}

// Compile-time interface check.
var _ storage.AuditLogStore = (*AuditLogStore)(nil)

const auditColumns = `
	id, kind, stream_id, tx_hash, ledger_seq, ledger_time,
	sender, receiver, amount, metadata, created_at
`

// Append adds one entry. The unique tx_hash constraint rejects exact
// duplicates; ON CONFLICT DO NOTHING turns that into an idempotent
// no-op rather than an error.
func (s *AuditLogStore) Append(ctx context.Context, e *domain.AuditEntry) error {
	if e == nil || e.ID == "" || e.TxHash == "" {
		return storage.ErrInvalidInput
	}

	meta, err := json.Marshal(orEmpty(e.Metadata))
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_log (
			id, kind, stream_id, tx_hash, ledger_seq, ledger_time,
			sender, receiver, amount, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_hash) DO NOTHING
	`

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
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			// Same id under a different tx hash; treat as applied.
			return nil
		}
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// HasTxHash reports whether an entry with the hash exists.
func (s *AuditLogStore) HasTxHash(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM audit_log WHERE tx_hash = $1)`, txHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check audit tx hash: %w", err)
	}
	return exists, nil
}

// Recent returns newest-first entries up to limit, clamped at the hard
// maximum regardless of the requested value.
func (s *AuditLogStore) Recent(ctx context.Context, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = storage.RecentDefaultLimit
	}
	if limit > storage.RecentMaxLimit {
		limit = storage.RecentMaxLimit
	}

	query := `
		SELECT ` + auditColumns + `
		FROM audit_log
		ORDER BY created_at DESC, ledger_seq DESC
		LIMIT $1
	`

	rows, err := s.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("recent audit entries: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// ForStream returns the full history for one stream, newest-first.
func (s *AuditLogStore) ForStream(ctx context.Context, streamID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_log
		WHERE stream_id = $1
		ORDER BY created_at DESC, ledger_seq DESC
	`

	rows, err := s.q.Query(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("audit entries for stream: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// OlderThan returns entries inserted before the cutoff, oldest first.
func (s *AuditLogStore) OlderThan(ctx context.Context, cutoff time.Time) ([]*domain.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_log
		WHERE created_at < $1
		ORDER BY created_at ASC, ledger_seq ASC
	`

	rows, err := s.q.Query(ctx, query, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("audit entries older than cutoff: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// DeleteByID removes entries by id. Returns rows deleted.
func (s *AuditLogStore) DeleteByID(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := s.q.Exec(ctx, `DELETE FROM audit_log WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAuditEntries(rows pgx.Rows) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry

	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return out, nil
}

func scanAuditEntry(row rowScanner) (*domain.AuditEntry, error) {
	var (
		e      domain.AuditEntry
		kind   string
		amount string
		meta   []byte
	)

	err := row.Scan(
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
	)
	if err != nil {
		return nil, err
	}

	e.Kind = domain.EventKind(kind)
	e.Amount = parseAmount(amount)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return &e, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
