package memory

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/storage"
)

func testEntry(id, txHash string, createdAt time.Time) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:         id,
		Kind:       domain.EventWithdraw,
		StreamID:   "s1",
		TxHash:     txHash,
		LedgerSeq:  7,
		LedgerTime: createdAt,
		Amount:     big.NewInt(100),
		Metadata:   map[string]string{"k": "v"},
		CreatedAt:  createdAt,
	}
}

func TestAuditLogStore_AppendAndHasTxHash(t *testing.T) {
	store := NewAuditLogStore()
	ctx := context.Background()

	if err := store.Append(ctx, testEntry("e1", "tx-1", time.Now())); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	has, err := store.HasTxHash(ctx, "tx-1")
	if err != nil || !has {
		t.Errorf("HasTxHash = %v, %v", has, err)
	}
	has, _ = store.HasTxHash(ctx, "tx-2")
	if has {
		t.Error("unexpected tx hash")
	}
}

func TestAuditLogStore_DuplicateTxHashIsNoOp(t *testing.T) {
	store := NewAuditLogStore()
	ctx := context.Background()
	now := time.Now()

	if err := store.Append(ctx, testEntry("e1", "tx-1", now)); err != nil {
		t.Fatal(err)
	}
	// Same tx hash under a different id: silently ignored.
	if err := store.Append(ctx, testEntry("e2", "tx-1", now)); err != nil {
		t.Fatalf("duplicate append errored: %v", err)
	}

	entries, _ := store.ForStream(ctx, "s1")
	if len(entries) != 1 || entries[0].ID != "e1" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestAuditLogStore_RecentOrderAndClamp(t *testing.T) {
	store := NewAuditLogStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < storage.RecentMaxLimit+20; i++ {
		e := testEntry(fmt.Sprintf("e%d", i), fmt.Sprintf("tx-%d", i), base.Add(time.Duration(i)*time.Second))
		if err := store.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.Recent(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("len = %d, want 5", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Errorf("not newest-first at %d", i)
		}
	}

	// Oversized requests clamp to the maximum.
	entries, _ = store.Recent(ctx, 10000)
	if len(entries) != storage.RecentMaxLimit {
		t.Errorf("len = %d, want %d", len(entries), storage.RecentMaxLimit)
	}

	// Zero means the default.
	entries, _ = store.Recent(ctx, 0)
	if len(entries) != storage.RecentDefaultLimit {
		t.Errorf("len = %d, want %d", len(entries), storage.RecentDefaultLimit)
	}
}

func TestAuditLogStore_OlderThanAndDelete(t *testing.T) {
	store := NewAuditLogStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	store.Append(ctx, testEntry("old", "tx-old", base))
	store.Append(ctx, testEntry("new", "tx-new", base.AddDate(0, 2, 0)))

	aged, err := store.OlderThan(ctx, base.AddDate(0, 1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(aged) != 1 || aged[0].ID != "old" {
		t.Fatalf("aged = %+v", aged)
	}

	n, err := store.DeleteByID(ctx, []string{"old", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	has, _ := store.HasTxHash(ctx, "tx-old")
	if has {
		t.Error("deleted entry still visible by tx hash")
	}
}

func TestAuditLogStore_EntriesAreImmutable(t *testing.T) {
	store := NewAuditLogStore()
	ctx := context.Background()

	if err := store.Append(ctx, testEntry("e1", "tx-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	entries, _ := store.ForStream(ctx, "s1")
	entries[0].Amount.SetInt64(999)
	entries[0].Metadata["k"] = "tampered"

	fresh, _ := store.ForStream(ctx, "s1")
	if fresh[0].Amount.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("amount mutated: %s", fresh[0].Amount)
	}
	if fresh[0].Metadata["k"] != "v" {
		t.Errorf("metadata mutated: %+v", fresh[0].Metadata)
	}
}
