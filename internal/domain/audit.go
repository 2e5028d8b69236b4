package domain

import (
	"math/big"
	"time"
)

// AuditEntry is one immutable row per applied event. TxHash is unique
// so the storage layer rejects exact duplicates; ordering is by
// insertion timestamp with ledger sequence breaking ties.
type AuditEntry struct {
	ID         string // deterministic, see idhash.ComputeEntryID
	Kind       EventKind
	StreamID   string
	TxHash     string
	LedgerSeq  int64
	LedgerTime time.Time // ledger close time of the source event
	Sender     string
	Receiver   string
	Amount     *big.Int
	Metadata   map[string]string
	CreatedAt  time.Time // insertion timestamp
}

// ArchiveEntry is an AuditEntry moved wholesale into cold storage once
// it ages past the retention window. It shares the audit entry's
// primary key so re-running the copy step is idempotent.
type ArchiveEntry struct {
	AuditEntry
	ArchivedAt time.Time
}
