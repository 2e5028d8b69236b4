package storage

import (
	"context"
	"time"

	"stellar-stream-indexer/internal/domain"
)

// Recent-audit query limits: requests above the cap are clamped, a
// zero limit gets the default.
const (
	RecentDefaultLimit = 50
	RecentMaxLimit     = 100
)

// StreamStore provides access to materialized stream state.
type StreamStore interface {
	// Get retrieves a stream by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*domain.StreamState, error)

	// GetForUpdate retrieves a stream and, inside a transaction,
	// locks its row so concurrent applies for the same id serialize.
	GetForUpdate(ctx context.Context, id string) (*domain.StreamState, error)

	// Insert adds a new stream. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, s *domain.StreamState) error

	// Update overwrites the mutable fields of an existing stream.
	Update(ctx context.Context, s *domain.StreamState) error

	// TouchLedger advances last_ledger_seq only, never regressing it.
	TouchLedger(ctx context.Context, id string, seq int64) error

	// List retrieves every stream, ordered by id. Used by the
	// snapshot step of maintenance.
	List(ctx context.Context) ([]*domain.StreamState, error)

	// CompleteExpired transitions every ACTIVE stream whose end time
	// is before now to COMPLETED in a single bulk statement. Returns
	// the number of rows touched; zero once caught up.
	CompleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuditLogStore provides the append-only audit trail.
type AuditLogStore interface {
	// Append adds one entry. A duplicate transaction hash is an
	// idempotent no-op, not an error.
	Append(ctx context.Context, e *domain.AuditEntry) error

	// HasTxHash reports whether an entry with the hash exists.
	HasTxHash(ctx context.Context, txHash string) (bool, error)

	// Recent returns newest-first entries up to limit, clamped to
	// RecentMaxLimit; ties on insertion time break by ledger sequence.
	Recent(ctx context.Context, limit int) ([]*domain.AuditEntry, error)

	// ForStream returns the full history for one stream, newest-first.
	ForStream(ctx context.Context, streamID string) ([]*domain.AuditEntry, error)

	// OlderThan returns entries inserted before the cutoff, oldest
	// first. Used by the archive step.
	OlderThan(ctx context.Context, cutoff time.Time) ([]*domain.AuditEntry, error)

	// DeleteByID removes entries by id after they have been copied to
	// cold storage. Returns the number of rows deleted.
	DeleteByID(ctx context.Context, ids []string) (int64, error)
}

// SnapshotStore provides monthly point-in-time stream captures.
type SnapshotStore interface {
	// Upsert inserts or overwrites the snapshot for (stream, month).
	Upsert(ctx context.Context, s *domain.Snapshot) error

	// Get retrieves one snapshot. Returns ErrNotFound if absent.
	Get(ctx context.Context, streamID, month string) (*domain.Snapshot, error)

	// ForStream retrieves all snapshots for a stream, newest month first.
	ForStream(ctx context.Context, streamID string) ([]*domain.Snapshot, error)
}

// ArchiveStore provides cold storage for aged audit entries.
type ArchiveStore interface {
	// CopyFrom copies audit entries into the archive. Sharing the
	// audit entry's primary key makes re-copying idempotent: rows
	// already present are left untouched.
	CopyFrom(ctx context.Context, entries []*domain.AuditEntry, archivedAt time.Time) error

	// ForStream retrieves archived entries for a stream, newest-first.
	ForStream(ctx context.Context, streamID string) ([]*domain.ArchiveEntry, error)
}

// LedgerHashStore records (sequence, hash) pairs for drift detection.
type LedgerHashStore interface {
	// Record stores a pair. Re-recording the same sequence is a no-op;
	// records are never mutated.
	Record(ctx context.Context, seq int64, hash string) error

	// Range retrieves records with from <= seq <= to, ascending.
	Range(ctx context.Context, from, to int64) ([]*domain.LedgerHashRecord, error)
}

// TxStores bundles the stores that participate in one projector
// transaction.
type TxStores struct {
	Streams StreamStore
	Audit   AuditLogStore
}

// Transactor runs a function inside a single transaction: either every
// mutation made through the TxStores commits, or none do.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(TxStores) error) error
}
