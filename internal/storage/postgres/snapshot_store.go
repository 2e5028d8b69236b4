package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	q Querier
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(q Querier) *SnapshotStore {
	return &SnapshotStore{q: q}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `
	stream_id, month, sender, receiver, token,
	total_amount, withdrawn_amount, status, end_time, taken_at
`

// Upsert inserts or overwrites the snapshot for (stream, month).
// Re-running the archiver within one calendar month is idempotent.
func (s *SnapshotStore) Upsert(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.StreamID == "" || snap.Month == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO snapshots (
			stream_id, month, sender, receiver, token,
			total_amount, withdrawn_amount, status, end_time, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (stream_id, month) DO UPDATE SET
			sender = EXCLUDED.sender,
			receiver = EXCLUDED.receiver,
			token = EXCLUDED.token,
			total_amount = EXCLUDED.total_amount,
			withdrawn_amount = EXCLUDED.withdrawn_amount,
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			taken_at = EXCLUDED.taken_at
	`

	_, err := s.q.Exec(ctx, query,
		snap.StreamID,
		snap.Month,
		snap.Sender,
		snap.Receiver,
		snap.Token,
		amountString(snap.TotalAmount),
		amountString(snap.WithdrawnAmount),
		snap.Status,
		snap.EndTime,
		snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Get retrieves one snapshot. Returns ErrNotFound if absent.
func (s *SnapshotStore) Get(ctx context.Context, streamID, month string) (*domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE stream_id = $1 AND month = $2`

	snap, err := scanSnapshot(s.q.QueryRow(ctx, query, streamID, month))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// ForStream retrieves all snapshots for a stream, newest month first.
func (s *SnapshotStore) ForStream(ctx context.Context, streamID string) ([]*domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE stream_id = $1 ORDER BY month DESC`

	rows, err := s.q.Query(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("snapshots for stream: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func scanSnapshots(rows pgx.Rows) ([]*domain.Snapshot, error) {
	var out []*domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return out, nil
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var (
		snap      domain.Snapshot
		total     string
		withdrawn string
	)

	err := row.Scan(
		&snap.StreamID,
		&snap.Month,
		&snap.Sender,
		&snap.Receiver,
		&snap.Token,
		&total,
		&withdrawn,
		&snap.Status,
		&snap.EndTime,
		&snap.TakenAt,
	)
	if err != nil {
		return nil, err
	}

	snap.TotalAmount = parseAmount(total)
	snap.WithdrawnAmount = parseAmount(withdrawn)
	return &snap, nil
}
