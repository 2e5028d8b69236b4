// Package idhash computes deterministic identifiers so that
// re-delivered events always map to the same rows.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeEntryID computes a deterministic audit entry id.
// Formula: SHA256(tx_hash|kind|stream_id|ledger_seq)
// Returns hex-encoded hash (64 characters).
func ComputeEntryID(txHash, kind, streamID string, ledgerSeq int64) string {
	data := fmt.Sprintf("%s|%s|%s|%d", txHash, kind, streamID, ledgerSeq)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
