package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/replay"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/session"
)

var replayCmd = &cobra.Command{
	Use:   "replay <fixture.json>",
	Short: "Replay a recorded session fixture through the full protocol",
	Long: `Replay runs a recorded session entirely in memory: enforcement,
duplicate detection, and step transitions execute for real while the
simulator answers are taken from the fixture. Exits non-zero when any
turn's decision differs from the fixture's expectation.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := replay.LoadFixture(args[0])
	if err != nil {
		return err
	}

	interactions := make([]replay.Interaction, len(f.Interactions))
	for i := range f.Interactions {
		interactions[i] = f.Interactions[i].ToInteraction()
	}

	results, summary, err := replay.Replay(f.UnitCell.ToInput(), interactions, session.Options{Logger: logger})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TURN\tACTION\tSTEP\tITER\tREASON")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.Label, r.Action, r.Step, r.Iteration, r.Reason)
	}
	w.Flush()

	fmt.Printf("\n%d turns: %d commits, %d enforce rejects, %d duplicate rejects, %d sim failures; final step %s\n",
		summary.TotalTurns, summary.Commits, summary.EnforceRejects,
		summary.DuplicateRejects, summary.SimFailures, summary.FinalStep)
	if summary.Best != nil {
		fmt.Printf("best: %s\n", summary.Best.Summary())
	}

	mismatches := 0
	for i, expected := range f.ExpectedResults {
		if i >= len(results) {
			break
		}
		if string(results[i].Action) != expected.Action || string(results[i].Step) != expected.Step {
			mismatches++
			fmt.Printf("MISMATCH %s: expected %s/%s, got %s/%s\n",
				expected.Label, expected.Action, expected.Step, results[i].Action, results[i].Step)
		}
	}
	if mismatches > 0 {
		return fmt.Errorf("%d turns diverged from the fixture", mismatches)
	}
	return nil
}
