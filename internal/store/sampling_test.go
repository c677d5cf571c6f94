package store

import (
	"context"
	"errors"
	"testing"

	"alphaevolve/internal/model"
)

func TestSampleUnknownStrategy(t *testing.T) {
	s := newTestStore(t, 10, 1)

	_, _, err := s.Sample(context.Background(), "bogus", "")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSampleEliteDrawsOnlyFromTopDecile(t *testing.T) {
	s := newTestStore(t, 100, 1)
	ctx := context.Background()

	// 20 scored programs, calmar 1..20. The elite pool is the top 2.
	topIDs := make(map[string]bool)
	for i := 1; i <= 20; i++ {
		id, err := s.Insert(ctx, "code", scoredCalmar(float64(i)), "", "")
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if i >= 19 {
			topIDs[id] = true
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		program, ok, err := s.Sample(ctx, StrategyElite, "")
		if err != nil || !ok {
			t.Fatalf("sample: ok=%v err=%v", ok, err)
		}
		if !topIDs[program.ID] {
			t.Fatalf("elite draw returned program outside the top decile")
		}
		seen[program.ID] = true
	}
	if len(seen) != 2 {
		t.Fatalf("elite draws covered %d of the 2 elite programs", len(seen))
	}
}

func TestSampleEliteSkipsPending(t *testing.T) {
	s := newTestStore(t, 10, 1)
	ctx := context.Background()

	scoredID, err := s.Insert(ctx, "scored", scoredCalmar(1.0), "", "")
	if err != nil {
		t.Fatalf("insert scored: %v", err)
	}
	if _, err := s.Insert(ctx, "pending", model.PendingEvaluation(), "", ""); err != nil {
		t.Fatalf("insert pending: %v", err)
	}

	for i := 0; i < 20; i++ {
		program, ok, err := s.Sample(ctx, StrategyElite, "")
		if err != nil || !ok {
			t.Fatalf("sample: ok=%v err=%v", ok, err)
		}
		if program.ID != scoredID {
			t.Fatal("elite sampling returned a pending program")
		}
	}
}

func TestSampleExploitBiasesHigherFitness(t *testing.T) {
	s := newTestStore(t, 10, 1)
	ctx := context.Background()

	lowID, err := s.Insert(ctx, "low", scoredCalmar(1.0), "", "")
	if err != nil {
		t.Fatalf("insert low: %v", err)
	}
	highID, err := s.Insert(ctx, "high", scoredCalmar(10.0), "", "")
	if err != nil {
		t.Fatalf("insert high: %v", err)
	}

	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		program, ok, err := s.Sample(ctx, StrategyExploit, "")
		if err != nil || !ok {
			t.Fatalf("sample: ok=%v err=%v", ok, err)
		}
		counts[program.ID]++
	}
	if counts[highID] <= counts[lowID] {
		t.Fatalf("exploit did not favor higher fitness: high=%d low=%d", counts[highID], counts[lowID])
	}
}

func TestSampleExploitHandlesNegativeFitness(t *testing.T) {
	s := newTestStore(t, 10, 1)
	ctx := context.Background()

	for _, calmar := range []float64{-5.0, -1.0, 3.0} {
		if _, err := s.Insert(ctx, "code", scoredCalmar(calmar), "", ""); err != nil {
			t.Fatalf("insert %.1f: %v", calmar, err)
		}
	}

	for i := 0; i < 100; i++ {
		if _, ok, err := s.Sample(ctx, StrategyExploit, ""); err != nil || !ok {
			t.Fatalf("sample with negative fitness: ok=%v err=%v", ok, err)
		}
	}
}

func TestSampleExploitEqualFitnessIsUniform(t *testing.T) {
	s := newTestStore(t, 10, 1)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := s.Insert(ctx, "code", scoredCalmar(2.0), "", "")
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, id)
	}

	counts := map[string]int{}
	for i := 0; i < 600; i++ {
		program, ok, err := s.Sample(ctx, StrategyExploit, "")
		if err != nil || !ok {
			t.Fatalf("sample: ok=%v err=%v", ok, err)
		}
		counts[program.ID]++
	}
	for _, id := range ids {
		if counts[id] < 100 {
			t.Fatalf("equal-fitness exploit starved program %s: %d draws of 600", id, counts[id])
		}
	}
}

func TestSampleExploreIsUniformIncludingPending(t *testing.T) {
	s := newTestStore(t, 10, 1)
	ctx := context.Background()

	ids := make([]string, 0, 4)
	pendingID, err := s.Insert(ctx, "pending", model.PendingEvaluation(), "", "")
	if err != nil {
		t.Fatalf("insert pending: %v", err)
	}
	ids = append(ids, pendingID)
	for _, calmar := range []float64{0.5, 2.0, 8.0} {
		id, err := s.Insert(ctx, "scored", scoredCalmar(calmar), "", "")
		if err != nil {
			t.Fatalf("insert %.1f: %v", calmar, err)
		}
		ids = append(ids, id)
	}

	counts := map[string]int{}
	for i := 0; i < 800; i++ {
		program, ok, err := s.Sample(ctx, StrategyExplore, "")
		if err != nil || !ok {
			t.Fatalf("sample: ok=%v err=%v", ok, err)
		}
		counts[program.ID]++
	}
	// Expected 200 each; allow a wide band for a 4-way uniform draw.
	for _, id := range ids {
		if counts[id] < 120 || counts[id] > 280 {
			t.Fatalf("explore draw count for %s = %d, outside the uniform band", id, counts[id])
		}
	}
}

func TestSampleExploitSkipsPendingOnly(t *testing.T) {
	s := newTestStore(t, 10, 1)
	ctx := context.Background()

	if _, err := s.Insert(ctx, "pending", model.PendingEvaluation(), "", ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, ok, err := s.Sample(ctx, StrategyExploit, "")
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if ok {
		t.Fatal("exploit returned a program from an all-pending population")
	}
}

func TestSampleRespectsExperimentFilter(t *testing.T) {
	s := newTestStore(t, 10, 1)
	ctx := context.Background()

	aID, err := s.Insert(ctx, "a", scoredCalmar(1.0), "", "exp-a")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Insert(ctx, "b", scoredCalmar(9.0), "", "exp-b"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for i := 0; i < 50; i++ {
		program, ok, err := s.Sample(ctx, StrategyExploit, "exp-a")
		if err != nil || !ok {
			t.Fatalf("sample: ok=%v err=%v", ok, err)
		}
		if program.ID != aID {
			t.Fatalf("sample crossed experiment boundary: got %s", program.ID)
		}
	}

	if _, ok, err := s.Sample(ctx, StrategyExplore, "exp-c"); err != nil || ok {
		t.Fatalf("empty experiment filter: ok=%v err=%v", ok, err)
	}
}
