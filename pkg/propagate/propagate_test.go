package propagate

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/store/memory"
)

func link(t *testing.T, s *memory.Store, src, tgt, label string) {
	t.Helper()
	if err := s.AddRelationship("t1", common.Relationship{SourceID: src, TargetID: tgt, Label: label}); err != nil {
		t.Fatalf("link %s-%s: %v", src, tgt, err)
	}
}

func graphOf(t *testing.T, names ...string) *memory.Store {
	t.Helper()
	s := memory.New()
	for _, n := range names {
		s.AddEntity("t1", common.Entity{ID: n, Name: n})
	}
	return s
}

func scores(out []Scored) map[string]float64 {
	m := make(map[string]float64, len(out))
	for _, s := range out {
		m[s.Name] = s.Score
	}
	return m
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMinimumHopDistanceNotDoubleCounted(t *testing.T) {
	s := graphOf(t, "S", "N", "M")
	link(t, s, "S", "N", "SUPPLIES")
	link(t, s, "N", "S", "PAYS")
	link(t, s, "S", "M", "RELATED")
	link(t, s, "M", "N", "RELATED")

	p := NewPropagator(s, DefaultConfig())
	out, err := p.Propagate(context.Background(), "t1", []string{"S"}, 0.85, 2, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := scores(out)
	if !near(got["N"], 0.85) {
		t.Fatalf("N score = %v, want 0.85", got["N"])
	}
	if !near(got["S"], 1) || !near(got["M"], 0.85) {
		t.Fatalf("unexpected scores %v", got)
	}
}

func TestSumsAcrossSeedsAndRanks(t *testing.T) {
	s := graphOf(t, "A", "B", "C", "D")
	link(t, s, "A", "B", "R")
	link(t, s, "B", "C", "R")
	link(t, s, "C", "D", "R")

	p := NewPropagator(s, DefaultConfig())
	out, err := p.Propagate(context.Background(), "t1", []string{"A", "C", "A"}, 0.5, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Scored{
		{EntityID: "A", Name: "A", Score: 1.25},
		{EntityID: "C", Name: "C", Score: 1.25},
		{EntityID: "B", Name: "B", Score: 1},
	}
	if len(out) != len(want) {
		t.Fatalf("got %d results, want %d: %+v", len(out), len(want), out)
	}
	for i := range want {
		if out[i].EntityID != want[i].EntityID || !near(out[i].Score, want[i].Score) {
			t.Fatalf("result[%d] = %+v, want %+v", i, out[i], want[i])
		}
	}
}

func TestMentionEdgesNotFollowed(t *testing.T) {
	s := graphOf(t, "A", "B")
	s.AddChunk("t1", common.TextChunk{ID: "c1", DocumentID: "d1"}, "A", "B")

	p := NewPropagator(s, DefaultConfig())
	out, err := p.Propagate(context.Background(), "t1", []string{"A"}, 0.85, 3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := scores(out)["B"]; ok {
		t.Fatalf("B reached through a mention edge: %+v", out)
	}
}

func TestHopsCapped(t *testing.T) {
	s := graphOf(t, "A", "B", "C", "D", "E")
	link(t, s, "A", "B", "R")
	link(t, s, "B", "C", "R")
	link(t, s, "C", "D", "R")
	link(t, s, "D", "E", "R")

	p := NewPropagator(s, DefaultConfig())
	out, err := p.Propagate(context.Background(), "t1", []string{"A"}, 0.9, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	got := scores(out)
	if _, ok := got["E"]; ok {
		t.Fatalf("walk went past %d hops: %v", MaxHopsLimit, got)
	}
	if !near(got["D"], math.Pow(0.9, 3)) {
		t.Fatalf("D score = %v", got["D"])
	}
}

func TestFailingSeedsAreSkipped(t *testing.T) {
	s := graphOf(t, "A", "B", "C")
	link(t, s, "A", "B", "R")
	boom := errors.New("boom")
	s.SetSeedFailure("C", boom)

	p := NewPropagator(s, DefaultConfig())
	out, err := p.Propagate(context.Background(), "t1", []string{"A", "C"}, 0.85, 1, 10)
	if err != nil {
		t.Fatalf("one failing seed must not fail the call: %v", err)
	}
	if _, ok := scores(out)["C"]; ok {
		t.Fatalf("failed seed contributed: %+v", out)
	}

	s.SetSeedFailure("A", boom)
	if _, err := p.Propagate(context.Background(), "t1", []string{"A", "C"}, 0.85, 1, 10); !errors.Is(err, boom) {
		t.Fatalf("expected error when every seed fails, got %v", err)
	}
}

func TestInvalidInput(t *testing.T) {
	p := NewPropagator(memory.New(), DefaultConfig())
	for _, d := range []float64{0, -0.5, 1.5, math.NaN()} {
		if _, err := p.Propagate(context.Background(), "t1", []string{"A"}, d, 2, 5); !errors.Is(err, common.ErrInputValidation) {
			t.Fatalf("damping %v: expected input validation error, got %v", d, err)
		}
	}
	if _, err := p.Propagate(context.Background(), "t1", []string{"A"}, 0.5, -1, 5); !errors.Is(err, common.ErrInputValidation) {
		t.Fatalf("expected input validation error for negative hops, got %v", err)
	}
	out, err := p.Propagate(context.Background(), "t1", nil, 0.5, 2, 5)
	if err != nil || out != nil {
		t.Fatalf("no seeds: got %v, %v", out, err)
	}
}

func TestCancelledContext(t *testing.T) {
	s := graphOf(t, "A", "B")
	link(t, s, "A", "B", "R")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPropagator(s, DefaultConfig())
	if _, err := p.Propagate(ctx, "t1", []string{"A"}, 0.85, 2, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
