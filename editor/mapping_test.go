package editor

import "testing"

func TestStepMapInsertShiftsLaterPositions(t *testing.T) {
	// Insert 2 chars at position 3: everything at or after 3 shifts by 2.
	m := NewStepMap([]int{3, 0, 2})

	if got := m.Map(0, -1); got != 0 {
		t.Fatalf("pos before insert: got %d, want 0", got)
	}
	if got := m.Map(5, -1); got != 7 {
		t.Fatalf("pos after insert: got %d, want 7", got)
	}
}

func TestStepMapDeleteCollapsesRange(t *testing.T) {
	// Delete [2,5): positions inside collapse to 2.
	m := NewStepMap([]int{2, 3, 0})

	pos, deleted := m.MapResult(3, -1)
	if !deleted || pos != 2 {
		t.Fatalf("pos inside delete: got (%d,%v), want (2,true)", pos, deleted)
	}

	if got := m.Map(10, -1); got != 7 {
		t.Fatalf("pos after delete: got %d, want 7", got)
	}
}

func TestMappingMirrorErasesUndoRedoDrift(t *testing.T) {
	mp := NewMapping()

	// Index 0: undo of a local insert of 3 chars at position 5 becomes a
	// delete, i.e. the StepMap here models the delete half: [5,8)->[5,5).
	undoDelete := NewStepMap([]int{5, 3, 0})
	i0 := mp.AppendMap(undoDelete)

	// Index 1: reapplying the (rebased) insert of 3 chars at position 5.
	redoInsert := NewStepMap([]int{5, 0, 3})
	i1 := mp.AppendMap(redoInsert)

	mp.SetMirror(i0, i1)

	// A position at 6 (inside the original inserted text, offset 1 from
	// its start) is reconstructed through the mirror at the same offset
	// inside the redo insert's range, rather than collapsing to the
	// shared anchor (5): the undo/redo pair reinserts exactly what it
	// removed, so every position it touched comes back exactly where it
	// was.
	got := mp.Map(6, -1)
	if got != 6 {
		t.Fatalf("mirrored mapping: got %d, want 6 (reconstructed, not collapsed)", got)
	}
}

func TestMappingSliceShiftsMirrorIndices(t *testing.T) {
	mp := NewMapping()
	mp.AppendMap(NewStepMap([]int{0, 0, 1}))
	i1 := mp.AppendMap(NewStepMap([]int{0, 1, 0}))
	i2 := mp.AppendMap(NewStepMap([]int{0, 0, 1}))
	mp.SetMirror(i1, i2)

	sliced := mp.Slice(1)
	if sliced.Size() != 2 {
		t.Fatalf("sliced size: got %d, want 2", sliced.Size())
	}
	if to, ok := sliced.mirror[0]; !ok || to != 1 {
		t.Fatalf("sliced mirror: got %v, want 0->1", sliced.mirror)
	}
}
