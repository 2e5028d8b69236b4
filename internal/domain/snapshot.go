package domain

import (
	"math/big"
	"time"
)

// MonthKey formats t as the calendar-month snapshot key.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Snapshot is a point-in-time copy of StreamState, keyed by
// (stream id, calendar month). Re-running the archiver within the
// same month overwrites in place.
type Snapshot struct {
	StreamID        string
	Month           string // "2006-01"
	Sender          string
	Receiver        string
	Token           string
	TotalAmount     *big.Int
	WithdrawnAmount *big.Int
	Status          string
	EndTime         int64
	TakenAt         time.Time
}
