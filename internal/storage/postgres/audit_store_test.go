package postgres

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellar-stream-indexer/internal/domain"
)

func testAuditEntry(id, txHash string) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:         id,
		Kind:       domain.EventWithdraw,
		StreamID:   "stream-001",
		TxHash:     txHash,
		LedgerSeq:  100,
		LedgerTime: time.Now().UTC().Truncate(time.Millisecond),
		Sender:     "GSENDER",
		Receiver:   "GRECEIVER",
		Amount:     big.NewInt(250),
		Metadata:   map[string]string{"note": "test"},
	}
}

func TestAuditLogStore_AppendAndHasTxHash(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAuditLogStore(pool)
	ctx := context.Background()

	e := testAuditEntry("audit-001", "tx-aaa")
	require.NoError(t, store.Append(ctx, e))

	ok, err := store.HasTxHash(ctx, "tx-aaa")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasTxHash(ctx, "tx-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := store.ForStream(ctx, "stream-001")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, e.Kind, got.Kind)
	assert.Zero(t, e.Amount.Cmp(got.Amount))
	assert.Equal(t, map[string]string{"note": "test"}, got.Metadata)
	assert.NotZero(t, got.CreatedAt)
}

func TestAuditLogStore_DuplicateTxHashIsNoOp(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAuditLogStore(pool)
	ctx := context.Background()

	first := testAuditEntry("audit-first", "tx-dup")
	require.NoError(t, store.Append(ctx, first))

	// Redelivery produces a second entry carrying the same tx hash.
	second := testAuditEntry("audit-second", "tx-dup")
	second.Amount = big.NewInt(999)
	require.NoError(t, store.Append(ctx, second))

	entries, err := store.ForStream(ctx, "stream-001")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "audit-first", entries[0].ID)
	assert.Zero(t, entries[0].Amount.Cmp(big.NewInt(250)))
}

func TestAuditLogStore_RecentClampsLimit(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAuditLogStore(pool)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := testAuditEntry(fmt.Sprintf("audit-%03d", i), fmt.Sprintf("tx-%03d", i))
		e.LedgerSeq = int64(100 + i)
		require.NoError(t, store.Append(ctx, e))
	}

	entries, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// created_at ties within the same transaction batch fall back to
	// ledger_seq, so the newest ledger comes first.
	assert.Equal(t, int64(104), entries[0].LedgerSeq)

	entries, err = store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestAuditLogStore_OlderThanAndDelete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAuditLogStore(pool)
	ctx := context.Background()

	e := testAuditEntry("audit-old", "tx-old")
	require.NoError(t, store.Append(ctx, e))

	// Insertion timestamps come from the database, so a future cutoff
	// selects everything and a past cutoff selects nothing.
	old, err := store.OlderThan(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, old, 1)

	none, err := store.OlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := store.DeleteByID(ctx, []string{"audit-old", "audit-missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := store.HasTxHash(ctx, "tx-old")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err = store.DeleteByID(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
