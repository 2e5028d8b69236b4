package domain

import (
	"math/big"
	"time"
)

// RawEvent is the opaque envelope delivered by the upstream ledger feed.
// Topics and Data carry the tagged binary value encoding and are decoded
// by the events package. A RawEvent is immutable once received.
type RawEvent struct {
	LedgerSeq  int64     // ledger sequence number (monotonic, non-unique)
	LedgerHash string    // hash of the containing ledger
	ClosedAt   time.Time // ledger close time
	TxHash     string    // transaction hash, unique per delivered event
	Topics     [][]byte  // ordered topic values, tagged binary
	Data       []byte    // payload value, tagged binary
}

// EventKind identifies the normalized event type.
type EventKind string

// Recognized event kinds. Everything else in the feed is filtered
// by the parser before it reaches the projector.
const (
	EventCreate          EventKind = "create"
	EventWithdraw        EventKind = "withdraw"
	EventCancel          EventKind = "cancel"
	EventTransfer        EventKind = "transfer"
	EventPause           EventKind = "pause"
	EventProposalCreated EventKind = "proposal_created"
	EventUnknown         EventKind = "unknown"
)

// Event is the normalized projection of a RawEvent.
// Re-delivery of the same RawEvent yields an identical Event.
type Event struct {
	Kind      EventKind
	StreamID  string // empty only for proposal_created and pause
	Sender    string // optional
	Receiver  string // optional
	Amount    *big.Int
	LedgerSeq int64
	ClosedAt  time.Time
	TxHash    string
	Metadata  map[string]string
}
