package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/history"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/simbridge"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/sweep"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/target"
)

// #region fakes
type simResponse struct {
	q, v, res  float64
	failLayout bool
	failFDTD   bool
}

// fakeSim answers from a queue and counts FDTD runs, so tests can assert
// which candidates actually cost a simulation.
type fakeSim struct {
	queue     []simResponse
	fdtdCalls int
}

func (f *fakeSim) push(q, v, res float64) {
	f.queue = append(f.queue, simResponse{q: q, v: v, res: res})
}

func (f *fakeSim) pushFail(layout bool) {
	f.queue = append(f.queue, simResponse{failLayout: layout, failFDTD: !layout})
}

func (f *fakeSim) BuildLayout(_ context.Context, _ params.UnitCell, _ params.DesignParams) (simbridge.Layout, error) {
	if len(f.queue) == 0 {
		return simbridge.Layout{}, &simbridge.SimulationError{Stage: simbridge.StageLayout, Detail: "unscripted call"}
	}
	if f.queue[0].failLayout {
		f.queue = f.queue[1:]
		return simbridge.Layout{}, &simbridge.SimulationError{Stage: simbridge.StageLayout, Detail: "scripted layout failure"}
	}
	return simbridge.Layout{GDSPath: "test://layout.gds"}, nil
}

func (f *fakeSim) RunFDTD(_ context.Context, _ params.UnitCell, _ params.DesignParams, _ simbridge.Layout) (simbridge.Metrics, error) {
	if len(f.queue) == 0 {
		return simbridge.Metrics{}, &simbridge.SimulationError{Stage: simbridge.StageFDTD, Detail: "unscripted call"}
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	if r.failFDTD {
		return simbridge.Metrics{}, &simbridge.SimulationError{Stage: simbridge.StageFDTD, Detail: "scripted fdtd failure"}
	}
	f.fdtdCalls++
	return simbridge.Metrics{Q: r.q, V: r.v, ResonanceNM: r.res}, nil
}

// #endregion fakes

// #region helpers
func cellInput() params.UnitCellInput {
	return params.UnitCellInput{
		TargetWavelengthNM: 737,
		PeriodNM:           270,
		WgWidthNM:          600,
		WgHeightNM:         350,
		HoleRxNM:           80,
		HoleRyNM:           160,
		Material:           params.MaterialSiN,
		MaterialIndex:      2.0,
	}
}

func newSession(t *testing.T, dbPath string, sim *fakeSim, opts Options) *Controller {
	t.Helper()
	store, err := history.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctrl, err := New(store, sim, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ctrl
}

func confirmedSession(t *testing.T, sim *fakeSim, opts Options) *Controller {
	t.Helper()
	ctrl := newSession(t, filepath.Join(t.TempDir(), "test.db"), sim, opts)
	if _, err := ctrl.ConfigureUnitCell(cellInput()); err != nil {
		t.Fatalf("ConfigureUnitCell: %v", err)
	}
	if _, err := ctrl.ConfirmUnitCell(); err != nil {
		t.Fatalf("ConfirmUnitCell: %v", err)
	}
	return ctrl
}

// #endregion helpers

// #region lifecycle-tests

func TestEvaluateRequiresConfirmedCell(t *testing.T) {
	sim := &fakeSim{}
	ctrl := newSession(t, filepath.Join(t.TempDir(), "test.db"), sim, Options{})

	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{}); !errors.Is(err, params.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	if _, err := ctrl.ConfigureUnitCell(cellInput()); err != nil {
		t.Fatalf("ConfigureUnitCell: %v", err)
	}
	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{}); !errors.Is(err, params.ErrNotConfigured) {
		t.Fatalf("configured but unconfirmed must reject, got %v", err)
	}
}

func TestConfigureAfterConfirmNeedsReset(t *testing.T) {
	sim := &fakeSim{}
	ctrl := confirmedSession(t, sim, Options{})

	if _, err := ctrl.ConfigureUnitCell(cellInput()); !errors.Is(err, params.ErrAlreadyConfirmed) {
		t.Fatalf("expected ErrAlreadyConfirmed, got %v", err)
	}

	ctrl.ResetSession()
	if _, err := ctrl.ConfigureUnitCell(cellInput()); err != nil {
		t.Fatalf("reconfigure after reset: %v", err)
	}
}

// Overriding only part of the sweep configuration must not zero the rest:
// a caller supplying candidate lists still gets the standard clamps.
func TestOptionsPartialSweepConfigKeepsClamps(t *testing.T) {
	opts := Options{SweepCfg: sweep.Config{MinACandidates: []float64{90, 89}}}.withDefaults()

	if got := opts.SweepCfg.MinACandidates; len(got) != 2 {
		t.Fatalf("override must survive defaulting, got %v", got)
	}
	def := sweep.DefaultConfig()
	if opts.SweepCfg.MaxPeriodDriftNM != def.MaxPeriodDriftNM {
		t.Fatalf("expected default drift clamp %v, got %v", def.MaxPeriodDriftNM, opts.SweepCfg.MaxPeriodDriftNM)
	}
	if opts.SweepCfg.MaxFineStepNM != def.MaxFineStepNM {
		t.Fatalf("expected default fine step %v, got %v", def.MaxFineStepNM, opts.SweepCfg.MaxFineStepNM)
	}
	if opts.SweepCfg.TaperCandidates == nil || opts.SweepCfg.FinePeriodOffsets == nil {
		t.Fatal("unset candidate lists must take defaults")
	}
}

// #endregion lifecycle-tests

// #region protocol-tests

// The canonical session opening: a detuned baseline, a blocked premature
// parameter change, then an on-target period move that unlocks the next
// sweep step.
func TestResonanceTuningFlow(t *testing.T) {
	sim := &fakeSim{}
	ctrl := confirmedSession(t, sim, Options{})

	sim.push(5e4, 0.8, 725)
	out, err := ctrl.EvaluateDesign(context.Background(), Candidate{})
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if out.Record.Iteration != 1 {
		t.Fatalf("expected iteration 1, got %d", out.Record.Iteration)
	}
	if out.Record.Params.PeriodNM != 270 || out.Record.Params.HoleRxNM != 80 {
		t.Fatalf("baseline must use exact unit-cell geometry: %+v", out.Record.Params)
	}
	if out.Status.Phase != target.PhaseResonanceTuning {
		t.Fatalf("expected resonance_tuning, got %s", out.Status.Phase)
	}
	if out.Status.Direction != target.DirectionIncreasePeriod {
		t.Fatalf("725 < 737 needs a longer period, got %s", out.Status.Direction)
	}

	// Changing chirp depth while the cavity is detuned is blocked before
	// any simulation is spent.
	_, err = ctrl.EvaluateDesign(context.Background(), Candidate{MinAPercent: 89})
	var viol *sweep.Violation
	if !errors.As(err, &viol) {
		t.Fatalf("expected Violation, got %v", err)
	}
	if viol.Param != params.FieldMinAPercent {
		t.Fatalf("expected min_a_percent named, got %s", viol.Param)
	}
	if sim.fdtdCalls != 1 {
		t.Fatalf("rejected candidate must not simulate, got %d calls", sim.fdtdCalls)
	}

	sim.push(6e4, 0.8, 736)
	out, err = ctrl.EvaluateDesign(context.Background(), Candidate{PeriodNM: 275})
	if err != nil {
		t.Fatalf("period move: %v", err)
	}
	if out.Status.Phase != target.PhaseQOptimization {
		t.Fatalf("on resonance with low Q, expected q_optimization, got %s", out.Status.Phase)
	}
	if out.Step != sweep.StepMinA {
		t.Fatalf("expected step min_a after on-target tune, got %s", out.Step)
	}
	if out.Locked[params.FieldPeriodNM] != 275 {
		t.Fatalf("expected locked period 275, got %v", out.Locked[params.FieldPeriodNM])
	}
	if !out.IsBest {
		t.Fatal("highest Q/V so far must be flagged best")
	}
}

// An exact repeat is answered from history without burning a simulation.
func TestDuplicateAnsweredFromCache(t *testing.T) {
	sim := &fakeSim{}
	ctrl := confirmedSession(t, sim, Options{})

	sim.push(5e4, 0.8, 736) // baseline lands on target, advancing to min_a
	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{}); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	sim.push(2e5, 0.7, 735)
	out, err := ctrl.EvaluateDesign(context.Background(), Candidate{MinAPercent: 89})
	if err != nil {
		t.Fatalf("min_a move: %v", err)
	}

	_, err = ctrl.EvaluateDesign(context.Background(), Candidate{MinAPercent: 89})
	var dup *DuplicateTrialError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateTrialError, got %v", err)
	}
	if dup.Iteration != out.Record.Iteration {
		t.Fatalf("expected match with iteration %d, got %d", out.Record.Iteration, dup.Iteration)
	}
	if dup.Q != 2e5 || dup.ResonanceNM != 735 {
		t.Fatalf("cached result drifted: %+v", dup)
	}
	if sim.fdtdCalls != 2 {
		t.Fatalf("duplicate must not simulate, got %d calls", sim.fdtdCalls)
	}

	// Sub-hundredth formatting noise is still the same design.
	_, err = ctrl.EvaluateDesign(context.Background(), Candidate{MinAPercent: 89.0041})
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateTrialError under rounding, got %v", err)
	}
}

// A swept parameter change may carry a compensating period re-tune, but
// never a second parameter.
func TestCompensatingRetune(t *testing.T) {
	sim := &fakeSim{}
	plan := sweep.Plan{sweep.StepResonanceTuning, sweep.StepHoleRx, sweep.StepComplete}
	ctrl := confirmedSession(t, sim, Options{Plan: plan})

	sim.push(5e4, 0.8, 736)
	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{}); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	sim.push(8e4, 0.8, 735)
	out, err := ctrl.EvaluateDesign(context.Background(), Candidate{HoleRxNM: 78, PeriodNM: 273})
	if err != nil {
		t.Fatalf("rx with compensating period must pass: %v", err)
	}
	if out.Step != sweep.StepHoleRx {
		t.Fatalf("expected step hole_rx, got %s", out.Step)
	}

	_, err = ctrl.EvaluateDesign(context.Background(), Candidate{HoleRxNM: 76, HoleRyNM: 150})
	var viol *sweep.Violation
	if !errors.As(err, &viol) {
		t.Fatalf("expected Violation, got %v", err)
	}
	if viol.Param != params.FieldHoleRyNM {
		t.Fatalf("expected hole_ry_nm named, got %s", viol.Param)
	}
}

// A completed pass locks its best value, not its last one. Candidates in
// the next step must start from the ledger: omitting the parameter resolves
// back to the locked best, and naming it explicitly is equally legal.
func TestLockedBestCarriesIntoNextStep(t *testing.T) {
	sim := &fakeSim{}
	ctrl := confirmedSession(t, sim, Options{})

	// Baseline lands on target; min_a=90 counts as tried.
	sim.push(6e4, 0.8, 736)
	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{}); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	// Walk the chirp candidates; 89 peaks, 87 is tried last.
	for _, tc := range []struct {
		minA float64
		q    float64
	}{{89, 2e5}, {88, 1.5e5}, {87, 1e5}} {
		sim.push(tc.q, 0.7, 736)
		if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{MinAPercent: tc.minA}); err != nil {
			t.Fatalf("min_a=%g: %v", tc.minA, err)
		}
	}

	step, _ := ctrl.ActiveStep()
	if step != sweep.StepHoleRx {
		t.Fatalf("expected hole_rx after the chirp pass, got %s", step)
	}
	locked, _ := ctrl.LockedValues()
	if locked[params.FieldMinAPercent] != 89 {
		t.Fatalf("expected locked min_a 89 (the best, not the last), got %v", locked[params.FieldMinAPercent])
	}

	// Omitted min_a resolves from the ledger: 87 -> 89 must be legal.
	sim.push(3e5, 0.7, 736)
	out, err := ctrl.EvaluateDesign(context.Background(), Candidate{HoleRxNM: 78})
	if err != nil {
		t.Fatalf("rx move from the locked ledger must pass: %v", err)
	}
	if out.Record.Params.MinAPercent != 89 {
		t.Fatalf("expected resolved min_a 89, got %v", out.Record.Params.MinAPercent)
	}
	if out.Step != sweep.StepHoleRx {
		t.Fatalf("expected step hole_rx, got %s", out.Step)
	}

	// Naming the locked value explicitly is just as legal.
	sim.push(3.5e5, 0.7, 736)
	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{MinAPercent: 89, HoleRxNM: 76}); err != nil {
		t.Fatalf("explicit locked min_a must pass: %v", err)
	}

	// Deviating from both the previous trial and the ledger stays blocked.
	_, err = ctrl.EvaluateDesign(context.Background(), Candidate{MinAPercent: 85, HoleRxNM: 74})
	var viol *sweep.Violation
	if !errors.As(err, &viol) {
		t.Fatalf("expected Violation, got %v", err)
	}
	if viol.Param != params.FieldMinAPercent {
		t.Fatalf("expected min_a_percent named, got %s", viol.Param)
	}
	if sim.fdtdCalls != 6 {
		t.Fatalf("rejected candidate must not simulate, got %d calls", sim.fdtdCalls)
	}
}

// A simulator fault is recorded as a failed trial and the same parameters
// may be retried once the collaborator recovers.
func TestSimulationFailureRecordedAndRetryable(t *testing.T) {
	sim := &fakeSim{}
	ctrl := confirmedSession(t, sim, Options{})

	sim.pushFail(false) // FDTD fails
	out, err := ctrl.EvaluateDesign(context.Background(), Candidate{})
	var simErr *simbridge.SimulationError
	if !errors.As(err, &simErr) {
		t.Fatalf("expected SimulationError, got %v", err)
	}
	if out.Record.Iteration != 1 || out.Record.Success {
		t.Fatalf("failure must be recorded as unsuccessful trial: %+v", out.Record)
	}
	if out.Record.Detail == "" {
		t.Fatal("expected diagnostic detail on the failed record")
	}

	if _, _, err := ctrl.BestDesign(); err != nil {
		t.Fatalf("BestDesign: %v", err)
	}
	if _, ok, _ := ctrl.BestDesign(); ok {
		t.Fatal("failed trials must not produce a best design")
	}

	sim.push(5e4, 0.8, 725)
	out, err = ctrl.EvaluateDesign(context.Background(), Candidate{})
	if err != nil {
		t.Fatalf("retry after recovery must simulate: %v", err)
	}
	if out.Record.Iteration != 2 {
		t.Fatalf("expected iteration 2, got %d", out.Record.Iteration)
	}
}

func TestBestDesignEmptySession(t *testing.T) {
	ctrl := confirmedSession(t, &fakeSim{}, Options{})
	if _, ok, err := ctrl.BestDesign(); err != nil || ok {
		t.Fatalf("fresh session has no best: ok=%t err=%v", ok, err)
	}
}

// #endregion protocol-tests

// #region resume-tests

// A restart with the identical unit cell resumes the session: same history,
// same sweep position, and duplicate detection spanning the restart.
func TestResumeRestoresProtocolState(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	sim := &fakeSim{}
	ctrl := newSession(t, dbPath, sim, Options{})
	if _, err := ctrl.ConfigureUnitCell(cellInput()); err != nil {
		t.Fatalf("ConfigureUnitCell: %v", err)
	}
	if _, err := ctrl.ConfirmUnitCell(); err != nil {
		t.Fatalf("ConfirmUnitCell: %v", err)
	}

	sim.push(5e4, 0.8, 725)
	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{}); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	sim.push(6e4, 0.8, 736)
	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{PeriodNM: 275}); err != nil {
		t.Fatalf("tune: %v", err)
	}

	sim2 := &fakeSim{}
	ctrl2 := newSession(t, dbPath, sim2, Options{})
	if _, err := ctrl2.ConfigureUnitCell(cellInput()); err != nil {
		t.Fatalf("ConfigureUnitCell: %v", err)
	}
	sess, err := ctrl2.ConfirmUnitCell()
	if err != nil {
		t.Fatalf("ConfirmUnitCell: %v", err)
	}
	if !sess.Resumed {
		t.Fatal("identical cell must resume")
	}

	records, err := ctrl2.ListHistory()
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 trials after resume, got %d", len(records))
	}

	step, err := ctrl2.ActiveStep()
	if err != nil {
		t.Fatalf("ActiveStep: %v", err)
	}
	if step != sweep.StepMinA {
		t.Fatalf("expected resumed step min_a, got %s", step)
	}
	locked, _ := ctrl2.LockedValues()
	if locked[params.FieldPeriodNM] != 275 {
		t.Fatalf("expected resumed locked period 275, got %v", locked[params.FieldPeriodNM])
	}

	// The resumed session still refuses the exact repeat of iteration 2.
	_, err = ctrl2.EvaluateDesign(context.Background(), Candidate{PeriodNM: 275})
	var dup *DuplicateTrialError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateTrialError after resume, got %v", err)
	}
	if dup.Iteration != 2 {
		t.Fatalf("expected duplicate of iteration 2, got %d", dup.Iteration)
	}
	if sim2.fdtdCalls != 0 {
		t.Fatalf("resume plus duplicate must not simulate, got %d calls", sim2.fdtdCalls)
	}
}

// A different unit cell on the same database gets an independent session,
// never a merged one.
func TestDivergentCellStartsFresh(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	sim := &fakeSim{}
	ctrl := newSession(t, dbPath, sim, Options{})
	if _, err := ctrl.ConfigureUnitCell(cellInput()); err != nil {
		t.Fatalf("ConfigureUnitCell: %v", err)
	}
	if _, err := ctrl.ConfirmUnitCell(); err != nil {
		t.Fatalf("ConfirmUnitCell: %v", err)
	}
	sim.push(5e4, 0.8, 725)
	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{}); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	other := cellInput()
	other.PeriodNM = 280
	ctrl2 := newSession(t, dbPath, &fakeSim{}, Options{})
	if _, err := ctrl2.ConfigureUnitCell(other); err != nil {
		t.Fatalf("ConfigureUnitCell: %v", err)
	}
	sess, err := ctrl2.ConfirmUnitCell()
	if err != nil {
		t.Fatalf("ConfirmUnitCell: %v", err)
	}
	if sess.Resumed {
		t.Fatal("different geometry must start fresh")
	}
	records, _ := ctrl2.ListHistory()
	if len(records) != 0 {
		t.Fatalf("expected empty history, got %d", len(records))
	}
}

// #endregion resume-tests

// #region query-tests

func TestCompareAcrossTrials(t *testing.T) {
	sim := &fakeSim{}
	ctrl := confirmedSession(t, sim, Options{})

	sim.push(5e4, 0.8, 725)
	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{}); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	sim.push(6e4, 0.8, 736)
	if _, err := ctrl.EvaluateDesign(context.Background(), Candidate{PeriodNM: 275}); err != nil {
		t.Fatalf("tune: %v", err)
	}

	cmp, err := ctrl.Compare([]int{1, 2})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	var periodRow, rxRow bool
	for _, row := range cmp.Rows {
		switch row.Field {
		case params.FieldPeriodNM:
			periodRow = row.Differs
		case params.FieldHoleRxNM:
			rxRow = row.Differs
		}
	}
	if !periodRow {
		t.Fatal("period must differ between the trials")
	}
	if rxRow {
		t.Fatal("rx must not differ between the trials")
	}
}

// #endregion query-tests
