// Package ledger provides the RPC and WebSocket clients for the
// upstream ledger node: event backfill, live feed subscription, and
// ledger hash lookup for verification.
package ledger

import (
	"encoding/base64"
	"fmt"
	"time"

	"stellar-stream-indexer/internal/domain"
)

// LedgerInfo describes one closed ledger.
type LedgerInfo struct {
	Seq     int64  `json:"sequence"`
	Hash    string `json:"hash"`
	CloseAt int64  `json:"closeTime"` // unix seconds
}

// eventEnvelope is the wire shape of one contract event as delivered
// by both the RPC getEvents method and the WebSocket feed. Topics and
// the payload arrive base64-encoded.
type eventEnvelope struct {
	LedgerSeq  int64    `json:"ledgerSeq"`
	LedgerHash string   `json:"ledgerHash"`
	ClosedAt   int64    `json:"closedAt"` // unix seconds
	TxHash     string   `json:"txHash"`
	Topics     []string `json:"topics"`
	Data       string   `json:"data"`
}

// toRawEvent decodes the envelope's base64 fields into a domain event.
func (e *eventEnvelope) toRawEvent() (*domain.RawEvent, error) {
	topics := make([][]byte, len(e.Topics))
	for i, t := range e.Topics {
		b, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			return nil, fmt.Errorf("decode topic %d: %w", i, err)
		}
		topics[i] = b
	}

	var data []byte
	if e.Data != "" {
		b, err := base64.StdEncoding.DecodeString(e.Data)
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		data = b
	}

	return &domain.RawEvent{
		LedgerSeq:  e.LedgerSeq,
		LedgerHash: e.LedgerHash,
		ClosedAt:   time.Unix(e.ClosedAt, 0).UTC(),
		TxHash:     e.TxHash,
		Topics:     topics,
		Data:       data,
	}, nil
}
