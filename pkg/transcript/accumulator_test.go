package transcript

import "testing"

func TestMergeAppendsFinals(t *testing.T) {
	acc := NewAccumulator()
	acc.Merge(Batch{{Text: "a", IsFinal: true}})
	acc.Merge(Batch{{Text: "b", IsFinal: true}})

	final, _ := acc.Snapshot()
	if len(final) != 2 || final[0].Text != "a" || final[1].Text != "b" {
		t.Fatalf("finals not appended in order: %+v", final)
	}
}

func TestMergeReplacesNonFinals(t *testing.T) {
	acc := NewAccumulator()
	acc.Merge(Batch{{Text: "A"}})
	acc.Merge(Batch{{Text: "B"}})

	_, nonfinal := acc.Snapshot()
	if len(nonfinal) != 1 || nonfinal[0].Text != "B" {
		t.Fatalf("expected nonfinal buffer [B], got %+v", nonfinal)
	}
}

func TestMergeMixedBatchClearsStalePartials(t *testing.T) {
	acc := NewAccumulator()
	acc.Merge(Batch{{Text: "hel"}})
	acc.Merge(Batch{{Text: "hello", IsFinal: true}})

	final, nonfinal := acc.Snapshot()
	if len(final) != 1 || final[0].Text != "hello" {
		t.Fatalf("final not recorded: %+v", final)
	}
	if len(nonfinal) != 0 {
		t.Fatalf("stale partials kept: %+v", nonfinal)
	}
}

func TestResetClearsEverything(t *testing.T) {
	acc := NewAccumulator()
	acc.Merge(Batch{{Text: "x", IsFinal: true}, {Text: "y"}})
	acc.Reset()

	final, nonfinal := acc.Snapshot()
	if len(final) != 0 || len(nonfinal) != 0 {
		t.Fatalf("reset left state behind: %+v %+v", final, nonfinal)
	}
	if acc.HasFinal() || acc.HasNonFinal() {
		t.Fatal("reset accumulator reports pending tokens")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	acc := NewAccumulator()
	acc.Merge(Batch{{Text: "keep", IsFinal: true}})
	final, _ := acc.Snapshot()
	final[0].Text = "mutated"

	again, _ := acc.Snapshot()
	if again[0].Text != "keep" {
		t.Fatal("snapshot exposed internal buffer")
	}
}
