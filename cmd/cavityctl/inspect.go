package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/history"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/logging"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect stored sessions without running one",
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored optimization sessions",
	RunE:  runListSessions,
}

var historyCmd = &cobra.Command{
	Use:   "history <session-key>",
	Short: "List the trial history of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runListTrials,
}

var bestCmd = &cobra.Command{
	Use:   "best <session-key>",
	Short: "Show the best design of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runBest,
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions <session-key>",
	Short: "Show the decision log of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecisions,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.AddCommand(sessionsCmd)
	inspectCmd.AddCommand(historyCmd)
	inspectCmd.AddCommand(bestCmd)
	inspectCmd.AddCommand(decisionsCmd)
}

func openStore() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return history.NewStore(cfg.DBPath)
}

func runListSessions(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := store.Sessions()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTARGET\tMATERIAL\tTRIALS\tCREATED")
	for _, info := range infos {
		fmt.Fprintf(w, "%.12s\t%gnm\t%s\t%d\t%s\n",
			info.Key, info.Cell.TargetWavelengthNM, info.Cell.Material,
			info.Trials, info.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runListTrials(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Trials(args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No trials found.")
		return nil
	}
	for _, rec := range records {
		fmt.Println(rec.Summary())
	}
	return nil
}

func runBest(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Trials(args[0])
	if err != nil {
		return err
	}
	best, ok := history.Best(records)
	if !ok {
		fmt.Println("No successful trials yet.")
		return nil
	}
	fmt.Println(best.Summary())
	return nil
}

func runDecisions(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := logging.Decisions(store.DB(), args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No decisions logged.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s #%d %s: %s\n", e.CreatedAt.Format(time.RFC3339), e.Iteration, e.Action, e.Reason)
	}
	return nil
}
