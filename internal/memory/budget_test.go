package memory

import "testing"

func TestSnapshotReportsOverLimit(t *testing.T) {
	b := NewBudget()
	b.SetLimit(1000)

	usage := b.Snapshot(600, 300, 50)
	if usage.TotalTracked != 950 {
		t.Fatalf("TotalTracked = %d, want 950", usage.TotalTracked)
	}
	if usage.OverLimit {
		t.Fatalf("OverLimit = true, want false at 950/1000")
	}

	usage = b.Snapshot(600, 300, 200)
	if !usage.OverLimit {
		t.Fatalf("OverLimit = false, want true at 1100/1000")
	}
}

func TestSnapshotWithNoLimitIsNeverOverLimit(t *testing.T) {
	b := NewBudget()
	usage := b.Snapshot(1<<40, 1<<40, 1<<40)
	if usage.OverLimit {
		t.Fatalf("OverLimit = true with no limit set")
	}
}
