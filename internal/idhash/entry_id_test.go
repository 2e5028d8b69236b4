package idhash

import "testing"

func TestComputeEntryID_Deterministic(t *testing.T) {
	a := ComputeEntryID("tx1", "withdraw", "7", 100)
	b := ComputeEntryID("tx1", "withdraw", "7", 100)
	if a != b {
		t.Errorf("same inputs produced different ids: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestComputeEntryID_DistinctInputs(t *testing.T) {
	ids := map[string]bool{
		ComputeEntryID("tx1", "withdraw", "7", 100): true,
		ComputeEntryID("tx2", "withdraw", "7", 100): true,
		ComputeEntryID("tx1", "cancel", "7", 100):   true,
		ComputeEntryID("tx1", "withdraw", "8", 100): true,
	}
	if len(ids) != 4 {
		t.Errorf("expected 4 distinct ids, got %d", len(ids))
	}
}
