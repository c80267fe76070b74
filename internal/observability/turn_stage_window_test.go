package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe(StagePersist, 50*time.Millisecond)
	w.Observe(StagePersist, 70*time.Millisecond)
	w.Observe(StagePersist, 90*time.Millisecond)
	w.ObservePath("generated")
	w.ObservePath("generated")
	w.ObservePath(" ")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StagePersist {
		t.Fatalf("Stage = %q, want %q", s.Stage, StagePersist)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 90 {
		t.Fatalf("LastMS = %.2f, want 90", s.LastMS)
	}
	if s.P50MS != 70 {
		t.Fatalf("P50MS = %.2f, want 70", s.P50MS)
	}
	if s.P95MS <= 70 || s.P95MS > 90 {
		t.Fatalf("P95MS = %.2f, want (70,90]", s.P95MS)
	}
	if s.TargetP95MS != 250 {
		t.Fatalf("TargetP95MS = %.2f, want 250", s.TargetP95MS)
	}
	if len(snap.Paths) != 1 || snap.Paths[0].Path != "generated" || snap.Paths[0].Count != 2 {
		t.Fatalf("Paths = %+v, want one generated=2 entry", snap.Paths)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := NewStageWindow(2)
	w.Observe(StageGenerate, 10*time.Millisecond)
	w.Observe(StageGenerate, 20*time.Millisecond)
	w.Observe(StageGenerate, 30*time.Millisecond)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
}
