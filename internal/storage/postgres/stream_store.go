package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

// StreamStore implements storage.StreamStore using PostgreSQL.
type StreamStore struct {
	q Querier
}

// NewStreamStore creates a new StreamStore over a pool or transaction.
func NewStreamStore(q Querier) *StreamStore {
	return &StreamStore{q: q}
}

// Compile-time interface check.
var _ storage.StreamStore = (*StreamStore)(nil)

const streamColumns = `
	id, sender, receiver, token, total_amount, withdrawn_amount, status,
	start_time, cliff_time, end_time, created_at, updated_at, closed_at, last_ledger_seq
`

// Get retrieves a stream by id. Returns ErrNotFound if absent.
func (s *StreamStore) Get(ctx context.Context, id string) (*domain.StreamState, error) {
	return s.get(ctx, id, "")
}

// GetForUpdate retrieves a stream and locks its row for the duration
// of the enclosing transaction.
func (s *StreamStore) GetForUpdate(ctx context.Context, id string) (*domain.StreamState, error) {
	return s.get(ctx, id, " FOR UPDATE")
}

func (s *StreamStore) get(ctx context.Context, id, suffix string) (*domain.StreamState, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE id = $1` + suffix

	row := s.q.QueryRow(ctx, query, id)
	st, err := scanStream(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return st, nil
}

// Insert adds a new stream. Returns ErrDuplicateKey if id exists.
func (s *StreamStore) Insert(ctx context.Context, st *domain.StreamState) error {
	if st == nil || st.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO streams (
			id, sender, receiver, token, total_amount, withdrawn_amount, status,
			start_time, cliff_time, end_time, created_at, updated_at, closed_at, last_ledger_seq
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.q.Exec(ctx, query,
		st.ID,
		st.Sender,
		st.Receiver,
		st.Token,
		amountString(st.TotalAmount),
		amountString(st.WithdrawnAmount),
		st.Status,
		st.StartTime,
		st.CliffTime,
		st.EndTime,
		st.CreatedAt,
		st.UpdatedAt,
		st.ClosedAt,
		st.LastLedgerSeq,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert stream: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of an existing stream.
func (s *StreamStore) Update(ctx context.Context, st *domain.StreamState) error {
	if st == nil || st.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE streams SET
			receiver = $2,
			total_amount = $3,
			withdrawn_amount = $4,
			status = $5,
			start_time = $6,
			cliff_time = $7,
			end_time = $8,
			updated_at = $9,
			closed_at = $10,
			last_ledger_seq = GREATEST(last_ledger_seq, $11)
		WHERE id = $1
	`

	tag, err := s.q.Exec(ctx, query,
		st.ID,
		st.Receiver,
		amountString(st.TotalAmount),
		amountString(st.WithdrawnAmount),
		st.Status,
		st.StartTime,
		st.CliffTime,
		st.EndTime,
		st.UpdatedAt,
		st.ClosedAt,
		st.LastLedgerSeq,
	)
	if err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TouchLedger advances last_ledger_seq only, never regressing it.
func (s *StreamStore) TouchLedger(ctx context.Context, id string, seq int64) error {
	query := `
		UPDATE streams
		SET last_ledger_seq = GREATEST(last_ledger_seq, $2), updated_at = now()
		WHERE id = $1
	`

	tag, err := s.q.Exec(ctx, query, id, seq)
	if err != nil {
		return fmt.Errorf("touch stream ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List retrieves every stream, ordered by id.
func (s *StreamStore) List(ctx context.Context) ([]*domain.StreamState, error) {
	query := `SELECT ` + streamColumns + ` FROM streams ORDER BY id ASC`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var out []*domain.StreamState
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream row: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream rows: %w", err)
	}
	return out, nil
}

// CompleteExpired transitions every expired ACTIVE stream to COMPLETED
// in one bulk statement so the sweep holds no long-lived locks.
func (s *StreamStore) CompleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE streams
		SET status = $1, closed_at = $2, updated_at = $2
		WHERE status = $3 AND end_time > 0 AND end_time < $4
	`

	tag, err := s.q.Exec(ctx, query,
		domain.StreamCompleted,
		now.UTC(),
		domain.StreamActive,
		now.UTC().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("complete expired streams: %w", err)
	}
	return tag.RowsAffected(), nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStream(row rowScanner) (*domain.StreamState, error) {
	var (
		st        domain.StreamState
		total     string
		withdrawn string
	)

	err := row.Scan(
		&st.ID,
		&st.Sender,
		&st.Receiver,
		&st.Token,
		&total,
		&withdrawn,
		&st.Status,
		&st.StartTime,
		&st.CliffTime,
		&st.EndTime,
		&st.CreatedAt,
		&st.UpdatedAt,
		&st.ClosedAt,
		&st.LastLedgerSeq,
	)
	if err != nil {
		return nil, err
	}

	st.TotalAmount = parseAmount(total)
	st.WithdrawnAmount = parseAmount(withdrawn)
	return &st, nil
}

// amountString renders a big.Int for the TEXT amount columns. Amounts
// are arbitrary precision, so they never pass through int64.
func amountString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func parseAmount(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}
