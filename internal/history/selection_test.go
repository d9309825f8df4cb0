package history

import "testing"

func rec(iter int, q, v float64) DesignRecord {
	return DesignRecord{
		Iteration: iter,
		Params:    testCell().InitialParams(),
		Q:         q,
		V:         v,
		QV:        q / v,
		Success:   true,
	}
}

// #region duplicate-tests

func TestFindDuplicateExactMatch(t *testing.T) {
	a := rec(1, 5e4, 0.8)
	b := rec(2, 2e5, 0.7)
	b.Params.MinAPercent = 89
	records := []DesignRecord{a, b}

	cand := testCell().InitialParams()
	cand.MinAPercent = 89
	dup, ok := FindDuplicate(cand, records)
	if !ok {
		t.Fatal("expected duplicate")
	}
	if dup.Iteration != 2 {
		t.Fatalf("expected iteration 2, got %d", dup.Iteration)
	}
}

func TestFindDuplicateToleratesSubHundredthNoise(t *testing.T) {
	records := []DesignRecord{rec(1, 5e4, 0.8)}
	cand := testCell().InitialParams()
	cand.PeriodNM += 0.004
	if _, ok := FindDuplicate(cand, records); !ok {
		t.Fatal("sub-hundredth noise must still match")
	}
}

func TestFindDuplicateDistinguishesNearbyDesigns(t *testing.T) {
	records := []DesignRecord{rec(1, 5e4, 0.8)}
	cand := testCell().InitialParams()
	cand.PeriodNM += 1 // nearby is not identical
	if _, ok := FindDuplicate(cand, records); ok {
		t.Fatal("a 1nm different design is not a duplicate")
	}
}

func TestFindDuplicateSkipsFailedTrials(t *testing.T) {
	failed := rec(1, 0, 1)
	failed.Success = false
	records := []DesignRecord{failed}

	if _, ok := FindDuplicate(testCell().InitialParams(), records); ok {
		t.Fatal("failed trials must be retryable")
	}
}

func TestFindDuplicateReturnsEarliest(t *testing.T) {
	records := []DesignRecord{rec(1, 5e4, 0.8), rec(4, 6e4, 0.8)}
	dup, ok := FindDuplicate(testCell().InitialParams(), records)
	if !ok || dup.Iteration != 1 {
		t.Fatalf("expected earliest match (1), got %d ok=%t", dup.Iteration, ok)
	}
}

// #endregion duplicate-tests

// #region best-tests

func TestBestMaximizesQV(t *testing.T) {
	records := []DesignRecord{rec(1, 1e5, 0.8), rec(2, 2e5, 0.5), rec(3, 3e5, 1.0)}
	best, ok := Best(records)
	if !ok || best.Iteration != 2 {
		t.Fatalf("expected iteration 2 (Q/V=4e5), got %d ok=%t", best.Iteration, ok)
	}
}

func TestBestTieBreaksOnQThenIteration(t *testing.T) {
	// Same Q/V, different Q.
	records := []DesignRecord{rec(1, 1e5, 0.5), rec(2, 2e5, 1.0)}
	best, _ := Best(records)
	if best.Iteration != 2 {
		t.Fatalf("equal Q/V must prefer higher Q, got iteration %d", best.Iteration)
	}

	// Fully equal: earliest wins.
	records = []DesignRecord{rec(3, 2e5, 1.0), rec(5, 2e5, 1.0)}
	best, _ = Best(records)
	if best.Iteration != 3 {
		t.Fatalf("full tie must keep the earliest, got iteration %d", best.Iteration)
	}
}

func TestBestIgnoresFailures(t *testing.T) {
	failed := rec(2, 9e9, 0.1)
	failed.Success = false
	records := []DesignRecord{rec(1, 1e5, 0.8), failed}
	best, _ := Best(records)
	if best.Iteration != 1 {
		t.Fatalf("failed trials never win, got iteration %d", best.Iteration)
	}
}

func TestBestEmptyHistory(t *testing.T) {
	if _, ok := Best(nil); ok {
		t.Fatal("expected no best for empty history")
	}
	failed := rec(1, 1e5, 0.8)
	failed.Success = false
	if _, ok := Best([]DesignRecord{failed}); ok {
		t.Fatal("expected no best when every trial failed")
	}
}

// #endregion best-tests

// #region compare-tests

func TestCompareMarksDiffers(t *testing.T) {
	a := rec(1, 5e4, 0.8)
	b := rec(2, 2e5, 0.7)
	b.Params.MinAPercent = 89
	records := []DesignRecord{a, b}

	cmp, err := Compare(records, []int{2, 1})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(cmp.Iterations) != 2 || cmp.Iterations[0] != 1 {
		t.Fatalf("expected sorted iterations, got %v", cmp.Iterations)
	}

	byField := map[string]ComparisonRow{}
	for _, row := range cmp.Rows {
		byField[row.Field] = row
	}
	if !byField["min_a_percent"].Differs {
		t.Fatal("min_a_percent must differ")
	}
	if byField["period_nm"].Differs {
		t.Fatal("period_nm must not differ")
	}
	if !byField["Q"].Differs {
		t.Fatal("Q must differ")
	}
}

func TestCompareErrors(t *testing.T) {
	records := []DesignRecord{rec(1, 5e4, 0.8)}
	if _, err := Compare(records, []int{1}); err == nil {
		t.Fatal("fewer than 2 iterations must error")
	}
	if _, err := Compare(records, []int{1, 7}); err == nil {
		t.Fatal("unknown iteration must error")
	}
}

// #endregion compare-tests
