package observability

import (
	"testing"
	"time"
)

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(8)
	w.Observe(StageRetrieve, 500)
	w.Observe(StageRetrieve, 700)
	w.Observe(StageRetrieve, 900)
	w.ObserveIndicator("ambiguous_decision")
	w.ObserveIndicator("ambiguous_decision")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageRetrieve {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageRetrieve)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1500 {
		t.Fatalf("TargetP95MS = %.2f, want 1500", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want %d", snap.Indicators[0].Count, 2)
	}
}

func TestTurnStageWindowWrapsAtCapacity(t *testing.T) {
	w := newTurnStageWindow(2)
	w.Observe(StagePersist, 10)
	w.Observe(StagePersist, 20)
	w.Observe(StagePersist, 30)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
}

func TestMetricsObserveTurnStage(t *testing.T) {
	m := NewMetrics("ragent_test_stage")
	m.ObserveTurnStage(StageTurnTotal, 1500*time.Millisecond)
	m.ObserveTurnStage("", time.Second)

	snap := m.TurnStageSnapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	if snap.Stages[0].LastMS != 1500 {
		t.Fatalf("LastMS = %.2f, want 1500", snap.Stages[0].LastMS)
	}

	m.ResetTurnStages()
	if got := len(m.TurnStageSnapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) after reset = %d, want 0", got)
	}
}
