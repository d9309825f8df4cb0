package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/history"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/session"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/simbridge"
)

var (
	targetWavelength float64
	wavelengthSpan   float64
	cellPeriod       float64
	wgWidth          float64
	wgHeight         float64
	holeRx           float64
	holeRy           float64
	material         string
	materialIndex    float64
	freestanding     bool
	substrate        string
	substrateIndex   float64
	initialMinA      float64
	evalTimeout      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive optimization session",
	Long: `Configure and confirm a unit cell, then read evaluation requests from
stdin. Each request is a JSON candidate, e.g.:

  {"period_nm": 275, "hypothesis": "shift resonance red"}

Session commands: history, best, step, compare <i> <j>, decisions,
sweep <param> <v1,v2,...>, quit.`,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Float64Var(&targetWavelength, "target-wavelength", 0, "Target resonance wavelength in nm (required)")
	runCmd.Flags().Float64Var(&wavelengthSpan, "wavelength-span", 0, "Simulation wavelength span in nm (default 100)")
	runCmd.Flags().Float64Var(&cellPeriod, "period", 0, "Unit cell period in nm (required)")
	runCmd.Flags().Float64Var(&wgWidth, "wg-width", 0, "Waveguide width in nm (required)")
	runCmd.Flags().Float64Var(&wgHeight, "wg-height", 0, "Waveguide height in nm (required)")
	runCmd.Flags().Float64Var(&holeRx, "hole-rx", 0, "Hole semi-axis rx in nm (required)")
	runCmd.Flags().Float64Var(&holeRy, "hole-ry", 0, "Hole semi-axis ry in nm (required)")
	runCmd.Flags().StringVar(&material, "material", "", "Core material (SiN, Si, GaAs, AlN, diamond)")
	runCmd.Flags().Float64Var(&materialIndex, "index", 0, "Material refractive index")
	runCmd.Flags().BoolVar(&freestanding, "freestanding", true, "Freestanding membrane (no substrate)")
	runCmd.Flags().StringVar(&substrate, "substrate", "", "Substrate material when not freestanding")
	runCmd.Flags().Float64Var(&substrateIndex, "substrate-index", 0, "Substrate refractive index when not freestanding")
	runCmd.Flags().Float64Var(&initialMinA, "initial-min-a", 0, "Initial chirp depth in percent (default 90)")
	runCmd.Flags().DurationVar(&evalTimeout, "eval-timeout", 30*time.Minute, "Per-trial simulation timeout")
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sim, err := simbridge.NewClient(cfg.Simulator.Addr)
	if err != nil {
		return err
	}
	defer sim.Close()

	ctrl, err := session.New(store, sim, session.Options{
		Plan:       cfg.SweepPlan(),
		SweepCfg:   cfg.SweepConfig(),
		Thresholds: cfg.Thresholds(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	cell, err := ctrl.ConfigureUnitCell(params.UnitCellInput{
		TargetWavelengthNM: targetWavelength,
		WavelengthSpanNM:   wavelengthSpan,
		PeriodNM:           cellPeriod,
		WgWidthNM:          wgWidth,
		WgHeightNM:         wgHeight,
		HoleRxNM:           holeRx,
		HoleRyNM:           holeRy,
		Material:           params.Material(material),
		MaterialIndex:      materialIndex,
		Freestanding:       &freestanding,
		Substrate:          substrate,
		SubstrateIndex:     substrateIndex,
		InitialMinAPercent: initialMinA,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Unit cell: λ=%gnm period=%gnm wg=%gx%gnm holes=%gx%gnm %s (n=%g)\n",
		cell.TargetWavelengthNM, cell.PeriodNM, cell.WgWidthNM, cell.WgHeightNM,
		cell.HoleRxNM, cell.HoleRyNM, cell.Material, cell.MaterialIndex)

	sess, err := ctrl.ConfirmUnitCell()
	if err != nil {
		return err
	}
	trials, _ := ctrl.ListHistory()
	if sess.Resumed {
		fmt.Printf("Resumed session %s with %d trials.\n", sess.ID, len(trials))
	} else {
		fmt.Printf("New session %s.\n", sess.ID)
	}

	fmt.Println("Enter a JSON candidate per line (or 'quit'):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if done, err := runCommand(ctrl, line); done {
			if err != nil {
				fmt.Printf("error: %v\n", err)
			}
			continue
		}

		var cand candidateRequest
		if err := json.Unmarshal([]byte(line), &cand); err != nil {
			fmt.Printf("not a command and not valid JSON: %v\n", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
		out, err := ctrl.EvaluateDesign(ctx, cand.toCandidate())
		cancel()
		if err != nil {
			fmt.Printf("rejected: %v\n", err)
			continue
		}
		fmt.Println(out.Record.Summary())
		fmt.Printf("phase=%s on_target=%t step=%s: %s\n",
			out.Status.Phase, out.Status.OnTarget, out.Step, out.Status.Message)
	}
	return scanner.Err()
}

// candidateRequest is the REPL's JSON wire form of a candidate.
type candidateRequest struct {
	PeriodNM       float64 `json:"period_nm"`
	WgWidthNM      float64 `json:"wg_width_nm"`
	HoleRxNM       float64 `json:"hole_rx_nm"`
	HoleRyNM       float64 `json:"hole_ry_nm"`
	NumTaperHoles  int     `json:"num_taper_holes"`
	NumMirrorHoles int     `json:"num_mirror_holes"`
	MinAPercent    float64 `json:"min_a_percent"`
	MinRxPercent   float64 `json:"min_rx_percent"`
	MinRyPercent   float64 `json:"min_ry_percent"`
	Hypothesis     string  `json:"hypothesis"`
}

func (r candidateRequest) toCandidate() session.Candidate {
	return session.Candidate{
		PeriodNM:       r.PeriodNM,
		WgWidthNM:      r.WgWidthNM,
		HoleRxNM:       r.HoleRxNM,
		HoleRyNM:       r.HoleRyNM,
		NumTaperHoles:  r.NumTaperHoles,
		NumMirrorHoles: r.NumMirrorHoles,
		MinAPercent:    r.MinAPercent,
		MinRxPercent:   r.MinRxPercent,
		MinRyPercent:   r.MinRyPercent,
		Hypothesis:     r.Hypothesis,
	}
}

// runCommand handles the non-JSON REPL commands. done is false when the line
// should be parsed as a candidate instead.
func runCommand(ctrl *session.Controller, line string) (done bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "history":
		records, err := ctrl.ListHistory()
		if err != nil {
			return true, err
		}
		for _, rec := range records {
			fmt.Println(rec.Summary())
		}
		return true, nil

	case "best":
		best, ok, err := ctrl.BestDesign()
		if err != nil {
			return true, err
		}
		if !ok {
			fmt.Println("No successful trials yet.")
			return true, nil
		}
		fmt.Println(best.Summary())
		return true, nil

	case "step":
		step, err := ctrl.ActiveStep()
		if err != nil {
			return true, err
		}
		locked, _ := ctrl.LockedValues()
		fmt.Printf("step=%s locked=%s\n", step, locked)
		return true, nil

	case "compare":
		if len(fields) < 3 {
			return true, fmt.Errorf("usage: compare <iter> <iter> [iter...]")
		}
		iters := make([]int, 0, len(fields)-1)
		for _, f := range fields[1:] {
			n, err := strconv.Atoi(f)
			if err != nil {
				return true, fmt.Errorf("iteration %q: %w", f, err)
			}
			iters = append(iters, n)
		}
		cmp, err := ctrl.Compare(iters)
		if err != nil {
			return true, err
		}
		printComparison(cmp)
		return true, nil

	case "decisions":
		entries, err := ctrl.Decisions()
		if err != nil {
			return true, err
		}
		for _, e := range entries {
			fmt.Printf("%s #%d %s: %s\n", e.CreatedAt.Format(time.RFC3339), e.Iteration, e.Action, e.Reason)
		}
		return true, nil

	case "sweep":
		if len(fields) != 3 {
			return true, fmt.Errorf("usage: sweep <param> <v1,v2,...>")
		}
		var values []float64
		for _, v := range strings.Split(fields[2], ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return true, fmt.Errorf("value %q: %w", v, err)
			}
			values = append(values, f)
		}
		result, err := ctrl.BeginManualSweep(context.Background(), fields[1], values)
		if err != nil {
			return true, err
		}
		for _, p := range result.Points {
			marker := " "
			if result.Best != nil && p.Iteration == result.Best.Iteration {
				marker = "*"
			}
			if p.Failed {
				fmt.Printf("%s %s=%g FAILED\n", marker, result.Field, p.Value)
				continue
			}
			fmt.Printf("%s %s=%g period=%g Q=%.0f V=%.3f Q/V=%.0f res=%.1fnm on_target=%t\n",
				marker, result.Field, p.Value, p.PeriodNM, p.Q, p.V, p.QV, p.ResonanceNM, p.OnTarget)
		}
		if result.Best == nil {
			fmt.Println("No on-target point; nothing locked.")
		}
		return true, nil
	}
	return false, nil
}

func printComparison(cmp history.Comparison) {
	header := "field"
	for _, it := range cmp.Iterations {
		header += fmt.Sprintf("\t#%d", it)
	}
	fmt.Println(header)
	for _, row := range cmp.Rows {
		line := row.Field
		for _, v := range row.Values {
			line += "\t" + v
		}
		if row.Differs {
			line += "\t<-"
		}
		fmt.Println(line)
	}
}
