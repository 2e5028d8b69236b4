package domain

import (
	"math/big"
	"time"
)

// Stream status values. Terminal states (CANCELED, COMPLETED) are
// retained forever; streams are never physically deleted.
const (
	StreamActive    = "ACTIVE"
	StreamPaused    = "PAUSED"
	StreamCanceled  = "CANCELED"
	StreamCompleted = "COMPLETED"
)

// StreamState is the materialized view of one value-transfer stream.
// Corresponds to the streams table in PostgreSQL.
type StreamState struct {
	ID              string     // stream id from the contract
	Sender          string     // funding address, immutable after create
	Receiver        string     // receiving address, mutable via transfer
	Token           string     // token contract address
	TotalAmount     *big.Int   // original total, set once, never decreased
	WithdrawnAmount *big.Int   // monotonically non-decreasing while ACTIVE
	Status          string     // ACTIVE | PAUSED | CANCELED | COMPLETED
	StartTime       int64      // unlock schedule, unix seconds
	CliffTime       int64
	EndTime         int64      // stale-reconciler sweeps on this
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time // nil unless terminal
	LastLedgerSeq   int64      // highest ledger sequence applied
}

// Clone returns a deep copy, including the big.Int amounts.
func (s *StreamState) Clone() *StreamState {
	out := *s
	if s.TotalAmount != nil {
		out.TotalAmount = new(big.Int).Set(s.TotalAmount)
	}
	if s.WithdrawnAmount != nil {
		out.WithdrawnAmount = new(big.Int).Set(s.WithdrawnAmount)
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		out.ClosedAt = &t
	}
	return &out
}

// Terminal reports whether the stream is in a terminal status.
func (s *StreamState) Terminal() bool {
	return s.Status == StreamCanceled || s.Status == StreamCompleted
}
