package domain

import "time"

// Notification type tags for fanout delivery.
const (
	NotifyStream  = "stream"
	NotifyBalance = "balance"
)

// StreamNotification announces a stream lifecycle transition.
type StreamNotification struct {
	StreamID string    `json:"streamId"`
	Sender   string    `json:"sender"`
	Receiver string    `json:"receiver"`
	Amount   string    `json:"amount"` // decimal string, arbitrary precision
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
}

// BalanceNotification announces a new cumulative withdrawn amount for
// one address.
type BalanceNotification struct {
	Address string    `json:"address"`
	Amount  string    `json:"amount"` // cumulative, decimal string
	At      time.Time `json:"at"`
}

// Notification is the fanout payload. Exactly one of Stream or Balance
// is set, selected by Type.
type Notification struct {
	Type    string               `json:"type"`
	Stream  *StreamNotification  `json:"stream,omitempty"`
	Balance *BalanceNotification `json:"balance,omitempty"`
}
