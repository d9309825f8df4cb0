package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/session"
)

// #region fixture-tests

// TestFixture_TuningSession replays the recorded tuning session and compares
// each turn's decision and sweep step against the expectations. This is the
// primary regression test — if enforcement, duplicate detection, or step
// completion rules change, this catches the drift.
func TestFixture_TuningSession(t *testing.T) {
	fixturePath := filepath.Join("testdata", "tuning_session.json")
	f, err := LoadFixture(fixturePath)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	interactions := make([]Interaction, len(f.Interactions))
	for i := range f.Interactions {
		interactions[i] = f.Interactions[i].ToInteraction()
	}

	results, summary, err := Replay(f.UnitCell.ToInput(), interactions, session.Options{})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(results) != len(f.ExpectedResults) {
		t.Fatalf("expected %d results, got %d", len(f.ExpectedResults), len(results))
	}

	for i, expected := range f.ExpectedResults {
		actual := results[i]
		if actual.Label != expected.Label {
			t.Errorf("turn %d: expected label=%s, got %s", i, expected.Label, actual.Label)
		}
		if string(actual.Action) != expected.Action {
			t.Errorf("turn %d (%s): expected action=%s, got action=%s (reason: %s)",
				i, expected.Label, expected.Action, actual.Action, actual.Reason)
		}
		if string(actual.Step) != expected.Step {
			t.Errorf("turn %d (%s): expected step=%s, got step=%s",
				i, expected.Label, expected.Step, actual.Step)
		}
		if expected.Iteration != 0 && actual.Iteration != expected.Iteration {
			t.Errorf("turn %d (%s): expected iteration=%d, got %d",
				i, expected.Label, expected.Iteration, actual.Iteration)
		}
	}

	if summary.Best == nil || summary.Best.Iteration != 3 {
		t.Errorf("expected best at iteration 3 (highest Q/V), got %+v", summary.Best)
	}
}

// TestLoadFixture_NotFound verifies error on missing file.
func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// TestLoadFixture_Malformed verifies error on invalid JSON.
func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

// #endregion fixture-tests
