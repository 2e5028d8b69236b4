package domain

import "time"

// LedgerHashRecord is a (sequence, hash) pair recorded as ledgers are
// observed by the ingestion path. Used only for drift detection by the
// verifier; never mutated.
type LedgerHashRecord struct {
	Seq        int64
	Hash       string
	RecordedAt time.Time
}
