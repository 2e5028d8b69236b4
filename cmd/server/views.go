package main

import (
	"math/big"
	"time"

	"stellar-stream-indexer/internal/domain"
)

// API response shapes. Amounts render as decimal strings so 128-bit
// values survive JSON.

type streamResponse struct {
	ID              string     `json:"id"`
	Sender          string     `json:"sender"`
	Receiver        string     `json:"receiver"`
	Token           string     `json:"token,omitempty"`
	TotalAmount     string     `json:"totalAmount"`
	WithdrawnAmount string     `json:"withdrawnAmount"`
	Status          string     `json:"status"`
	StartTime       int64      `json:"startTime,omitempty"`
	CliffTime       int64      `json:"cliffTime,omitempty"`
	EndTime         int64      `json:"endTime,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
	LastLedgerSeq   int64      `json:"lastLedgerSeq"`
}

type auditResponse struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	StreamID   string            `json:"streamId,omitempty"`
	TxHash     string            `json:"txHash"`
	LedgerSeq  int64             `json:"ledgerSeq"`
	LedgerTime time.Time         `json:"ledgerTime"`
	Sender     string            `json:"sender,omitempty"`
	Receiver   string            `json:"receiver,omitempty"`
	Amount     string            `json:"amount"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type archiveResponse struct {
	auditResponse
	ArchivedAt time.Time `json:"archivedAt"`
}

type snapshotResponse struct {
	StreamID        string    `json:"streamId"`
	Month           string    `json:"month"`
	Sender          string    `json:"sender"`
	Receiver        string    `json:"receiver"`
	Token           string    `json:"token,omitempty"`
	TotalAmount     string    `json:"totalAmount"`
	WithdrawnAmount string    `json:"withdrawnAmount"`
	Status          string    `json:"status"`
	EndTime         int64     `json:"endTime,omitempty"`
	TakenAt         time.Time `json:"takenAt"`
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func streamView(st *domain.StreamState) streamResponse {
	return streamResponse{
		ID:              st.ID,
		Sender:          st.Sender,
		Receiver:        st.Receiver,
		Token:           st.Token,
		TotalAmount:     bigString(st.TotalAmount),
		WithdrawnAmount: bigString(st.WithdrawnAmount),
		Status:          st.Status,
		StartTime:       st.StartTime,
		CliffTime:       st.CliffTime,
		EndTime:         st.EndTime,
		CreatedAt:       st.CreatedAt,
		UpdatedAt:       st.UpdatedAt,
		ClosedAt:        st.ClosedAt,
		LastLedgerSeq:   st.LastLedgerSeq,
	}
}

func streamViews(streams []*domain.StreamState) []streamResponse {
	out := make([]streamResponse, len(streams))
	for i, st := range streams {
		out[i] = streamView(st)
	}
	return out
}

func auditView(e *domain.AuditEntry) auditResponse {
	return auditResponse{
		ID:         e.ID,
		Kind:       string(e.Kind),
		StreamID:   e.StreamID,
		TxHash:     e.TxHash,
		LedgerSeq:  e.LedgerSeq,
		LedgerTime: e.LedgerTime,
		Sender:     e.Sender,
		Receiver:   e.Receiver,
		Amount:     bigString(e.Amount),
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt,
	}
}

func auditViews(entries []*domain.AuditEntry) []auditResponse {
	out := make([]auditResponse, len(entries))
	for i, e := range entries {
		out[i] = auditView(e)
	}
	return out
}

func archiveViews(entries []*domain.ArchiveEntry) []archiveResponse {
	out := make([]archiveResponse, len(entries))
	for i, e := range entries {
		out[i] = archiveResponse{
			auditResponse: auditView(&e.AuditEntry),
			ArchivedAt:    e.ArchivedAt,
		}
	}
	return out
}

func snapshotView(s *domain.Snapshot) snapshotResponse {
	return snapshotResponse{
		StreamID:        s.StreamID,
		Month:           s.Month,
		Sender:          s.Sender,
		Receiver:        s.Receiver,
		Token:           s.Token,
		TotalAmount:     bigString(s.TotalAmount),
		WithdrawnAmount: bigString(s.WithdrawnAmount),
		Status:          s.Status,
		EndTime:         s.EndTime,
		TakenAt:         s.TakenAt,
	}
}

func snapshotViews(snaps []*domain.Snapshot) []snapshotResponse {
	out := make([]snapshotResponse, len(snaps))
	for i, s := range snaps {
		out[i] = snapshotView(s)
	}
	return out
}
