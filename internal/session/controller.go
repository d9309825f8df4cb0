package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/history"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/logging"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/simbridge"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/sweep"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/target"
)

// #region options
// Options configures a session controller. Zero-valued fields take the
// current protocol defaults.
type Options struct {
	Plan       sweep.Plan
	SweepCfg   sweep.Config
	Thresholds target.Thresholds
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Plan == nil {
		o.Plan = sweep.DefaultPlan()
	}
	// Each zero sweep setting defaults on its own, so a caller overriding
	// only the candidate lists keeps the standard clamps.
	def := sweep.DefaultConfig()
	if o.SweepCfg.MinACandidates == nil {
		o.SweepCfg.MinACandidates = def.MinACandidates
	}
	if o.SweepCfg.TaperCandidates == nil {
		o.SweepCfg.TaperCandidates = def.TaperCandidates
	}
	if o.SweepCfg.FinePeriodOffsets == nil {
		o.SweepCfg.FinePeriodOffsets = def.FinePeriodOffsets
	}
	if o.SweepCfg.MaxPeriodDriftNM == 0 {
		o.SweepCfg.MaxPeriodDriftNM = def.MaxPeriodDriftNM
	}
	if o.SweepCfg.MaxFineStepNM == 0 {
		o.SweepCfg.MaxFineStepNM = def.MaxFineStepNM
	}
	if o.Thresholds == (target.Thresholds{}) {
		o.Thresholds = target.DefaultThresholds()
	}
	// The sweep's on-target window and the evaluator's must agree, or step
	// completion would count trials the evaluator calls detuned.
	o.SweepCfg.ResonanceToleranceNM = o.Thresholds.ResonanceToleranceNM
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// #endregion options

// #region controller
// Controller drives one optimization session end to end: unit-cell
// lifecycle, enforcement, duplicate detection, simulation dispatch, durable
// history, and step transitions. It is single-threaded; callers serialize.
type Controller struct {
	store *history.Store
	sim   Simulator
	opts  Options

	cfg     *params.Config
	sess    history.Session
	guard   *sweep.Controller
	trials  []history.DesignRecord
	started bool
}

// New builds a controller over an open store and simulator. The session
// itself starts when the unit cell is confirmed.
func New(store *history.Store, sim Simulator, opts Options) (*Controller, error) {
	opts = opts.withDefaults()
	if err := opts.Plan.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	return &Controller{
		store: store,
		sim:   sim,
		opts:  opts,
		cfg:   params.NewConfig(),
	}, nil
}

// #endregion controller

// #region lifecycle
// ConfigureUnitCell validates and stages the base geometry. Repeat calls
// replace the staged cell until confirmation.
func (c *Controller) ConfigureUnitCell(in params.UnitCellInput) (params.UnitCell, error) {
	if err := c.cfg.Configure(in); err != nil {
		return params.UnitCell{}, err
	}
	cell, _ := c.cfg.Pending()
	return cell, nil
}

// ConfirmUnitCell freezes the configuration and opens the session: a stored
// session with the same config key resumes with its full history and sweep
// position; anything else starts empty.
func (c *Controller) ConfirmUnitCell() (history.Session, error) {
	if err := c.cfg.Confirm(); err != nil {
		return history.Session{}, err
	}
	cell, err := c.cfg.Cell()
	if err != nil {
		return history.Session{}, err
	}

	sess, err := c.store.OpenSession(cell)
	if err != nil {
		return history.Session{}, err
	}

	trials, err := c.store.Trials(sess.Key)
	if err != nil {
		return history.Session{}, err
	}

	st, ok, err := c.store.LoadSweepState(sess.Key)
	if err != nil {
		return history.Session{}, err
	}
	var guard *sweep.Controller
	if ok {
		guard, err = sweep.Restore(st, c.opts.SweepCfg)
		if err != nil {
			return history.Session{}, &history.CorruptStateError{SessionKey: sess.Key, Cause: err}
		}
	} else {
		guard, err = sweep.NewController(c.opts.Plan, c.opts.SweepCfg)
		if err != nil {
			return history.Session{}, err
		}
	}

	c.sess = sess
	c.trials = trials
	c.guard = guard
	c.started = true

	c.opts.Logger.Info("session open",
		"session_key", shortKey(sess.Key),
		"resumed", sess.Resumed,
		"trials", len(trials),
		"step", guard.Active(),
	)
	return sess, nil
}

// ResetSession discards the in-memory session so a new unit cell can be
// configured. Stored history is untouched.
func (c *Controller) ResetSession() {
	c.cfg.Reset()
	c.sess = history.Session{}
	c.trials = nil
	c.guard = nil
	c.started = false
}

// Session returns the open session descriptor.
func (c *Controller) Session() (history.Session, error) {
	if !c.started {
		return history.Session{}, params.ErrNotConfigured
	}
	return c.sess, nil
}

// #endregion lifecycle

// #region evaluate
// EvaluateDesign runs one trial: resolve the candidate against defaults,
// enforce the active sweep step, reject exact duplicates, simulate, commit
// the record, and advance the step machine. The record is durable before
// this returns.
func (c *Controller) EvaluateDesign(ctx context.Context, cand Candidate) (Outcome, error) {
	if !c.started {
		return Outcome{}, params.ErrNotConfigured
	}
	cell, err := c.cfg.Cell()
	if err != nil {
		return Outcome{}, err
	}

	resolved := c.resolve(cell, cand)

	if prev, ok := c.prevParams(); ok {
		if err := c.guard.Validate(resolved, prev); err != nil {
			c.logDecision(0, logging.ActionEnforceReject, err.Error())
			return Outcome{}, err
		}
	}

	if dup, ok := history.FindDuplicate(resolved, c.trials); ok {
		dupErr := &DuplicateTrialError{
			Iteration:   dup.Iteration,
			Q:           dup.Q,
			V:           dup.V,
			QV:          dup.QV,
			ResonanceNM: dup.ResonanceNM,
		}
		c.logDecision(dup.Iteration, logging.ActionDuplicateReject, dupErr.Error())
		return Outcome{}, dupErr
	}

	phase := c.currentPhase(cell)

	layout, err := c.sim.BuildLayout(ctx, cell, resolved)
	if err != nil {
		return c.recordFailure(cell, resolved, phase, err)
	}
	metrics, err := c.sim.RunFDTD(ctx, cell, resolved, layout)
	if err != nil {
		return c.recordFailure(cell, resolved, phase, err)
	}

	rec := history.DesignRecord{
		Params:            resolved,
		Q:                 metrics.Q,
		V:                 metrics.V,
		QV:                metrics.Q / metrics.V,
		ResonanceNM:       metrics.ResonanceNM,
		PhaseAtEvaluation: phase,
		Success:           true,
		Detail:            cand.Hypothesis,
	}
	rec, err = c.store.Append(c.sess.Key, rec)
	if err != nil {
		return Outcome{}, err
	}
	c.trials = append(c.trials, rec)

	status := target.Evaluate(
		target.Metrics{Q: metrics.Q, V: metrics.V, ResonanceNM: metrics.ResonanceNM},
		cell.TargetWavelengthNM, c.opts.Thresholds,
	)

	notes := c.guard.Observe(c.trialViews(), cell.TargetWavelengthNM)
	if err := c.store.SaveSweepState(c.sess.Key, c.guard.State()); err != nil {
		return Outcome{}, err
	}
	for _, n := range notes {
		c.logDecision(rec.Iteration, logging.ActionStepTransition, n)
		c.opts.Logger.Info("step transition", "iteration", rec.Iteration, "note", n)
	}
	c.logDecision(rec.Iteration, logging.ActionAccept, status.Message)
	c.opts.Logger.Info("trial committed",
		"iteration", rec.Iteration,
		"q", rec.Q, "v", rec.V, "resonance_nm", rec.ResonanceNM,
		"phase", status.Phase, "step", c.guard.Active(),
	)

	best, _ := history.Best(c.trials)
	return Outcome{
		Record:  rec,
		Status:  status,
		Step:    c.guard.Active(),
		Locked:  c.guard.Locked(),
		IsBest:  best.Iteration == rec.Iteration,
		Resumed: c.sess.Resumed,
	}, nil
}

// recordFailure commits a success=false record for a simulation error. The
// failed trial never joins the duplicate set, so the same parameters may be
// retried once the collaborator recovers.
func (c *Controller) recordFailure(cell params.UnitCell, p params.DesignParams, phase target.Phase, simErr error) (Outcome, error) {
	rec := history.DesignRecord{
		Params:            p,
		PhaseAtEvaluation: phase,
		Success:           false,
		Detail:            simErr.Error(),
	}
	rec, err := c.store.Append(c.sess.Key, rec)
	if err != nil {
		return Outcome{}, errors.Join(simErr, err)
	}
	c.trials = append(c.trials, rec)
	if err := c.store.SaveSweepState(c.sess.Key, c.guard.State()); err != nil {
		return Outcome{}, errors.Join(simErr, err)
	}
	c.logDecision(rec.Iteration, logging.ActionSimFailure, simErr.Error())
	c.opts.Logger.Warn("simulation failed", "iteration", rec.Iteration, "err", simErr)
	return Outcome{Record: rec, Step: c.guard.Active(), Locked: c.guard.Locked()}, simErr
}

// #endregion evaluate

// #region resolve
// resolve fills a candidate's omitted fields: unit-cell initials, then the
// most recent trial, then the locked ledger, then the candidate's explicit
// values. The first trial always runs the exact baseline geometry so later
// deltas have a reference point.
func (c *Controller) resolve(cell params.UnitCell, cand Candidate) params.DesignParams {
	base := cell.InitialParams()
	if len(c.trials) == 0 {
		return base
	}
	if prev, ok := c.prevParams(); ok {
		base = prev
	}
	c.guard.Locked().Apply(&base)
	base = cand.overlay(base)
	base.TaperProfile = params.TaperQuadratic
	return base.Canon()
}

// prevParams returns the most recent recorded trial's parameters.
func (c *Controller) prevParams() (params.DesignParams, bool) {
	if len(c.trials) == 0 {
		return params.DesignParams{}, false
	}
	return c.trials[len(c.trials)-1].Params.Canon(), true
}

// currentPhase is the phase in effect before the next trial runs: the
// verdict of the latest successful trial, or resonance tuning for a fresh
// session.
func (c *Controller) currentPhase(cell params.UnitCell) target.Phase {
	for i := len(c.trials) - 1; i >= 0; i-- {
		if !c.trials[i].Success {
			continue
		}
		t := c.trials[i]
		return target.Evaluate(
			target.Metrics{Q: t.Q, V: t.V, ResonanceNM: t.ResonanceNM},
			cell.TargetWavelengthNM, c.opts.Thresholds,
		).Phase
	}
	return target.PhaseResonanceTuning
}

func (c *Controller) trialViews() []sweep.Trial {
	views := make([]sweep.Trial, 0, len(c.trials))
	for _, rec := range c.trials {
		views = append(views, rec.TrialView())
	}
	return views
}

// #endregion resolve

// #region queries
// ListHistory returns the committed trials in iteration order.
func (c *Controller) ListHistory() ([]history.DesignRecord, error) {
	if !c.started {
		return nil, params.ErrNotConfigured
	}
	return append([]history.DesignRecord(nil), c.trials...), nil
}

// Compare builds a side-by-side diff table for the named iterations.
func (c *Controller) Compare(iterations []int) (history.Comparison, error) {
	if !c.started {
		return history.Comparison{}, params.ErrNotConfigured
	}
	return history.Compare(c.trials, iterations)
}

// BestDesign returns the highest-Q/V successful trial, ties broken by Q
// then by earliest iteration. ok is false while no trial has succeeded.
func (c *Controller) BestDesign() (history.DesignRecord, bool, error) {
	if !c.started {
		return history.DesignRecord{}, false, params.ErrNotConfigured
	}
	rec, ok := history.Best(c.trials)
	return rec, ok, nil
}

// ActiveStep reports the step enforcement currently runs under.
func (c *Controller) ActiveStep() (sweep.Step, error) {
	if !c.started {
		return "", params.ErrNotConfigured
	}
	return c.guard.Active(), nil
}

// LockedValues returns a copy of the locked-value ledger.
func (c *Controller) LockedValues() (sweep.Locked, error) {
	if !c.started {
		return nil, params.ErrNotConfigured
	}
	return c.guard.Locked(), nil
}

// Decisions returns the session's decision log, oldest first.
func (c *Controller) Decisions() ([]logging.DecisionEntry, error) {
	if !c.started {
		return nil, params.ErrNotConfigured
	}
	return logging.Decisions(c.store.DB(), c.sess.Key)
}

// #endregion queries

// #region helpers
func (c *Controller) logDecision(iteration int, action logging.Action, reason string) {
	err := logging.LogDecision(c.store.DB(), logging.DecisionEntry{
		SessionKey: c.sess.Key,
		Iteration:  iteration,
		Action:     action,
		Reason:     reason,
	})
	if err != nil {
		c.opts.Logger.Warn("decision log write failed", "err", err)
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

// #endregion helpers

var _ Simulator = (*simbridge.Client)(nil)
