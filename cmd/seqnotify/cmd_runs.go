package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List registered run ids",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, _ []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	runs, err := reg.ListRuns(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs registered. Run 'seqnotify scan' first.")
		return nil
	}
	fmt.Fprintln(out, "Registered runs:")
	fmt.Fprintln(out, "----------------")
	for _, r := range runs {
		state := "in progress"
		if !r.CompletedAt.IsZero() {
			state = "completed " + r.CompletedAt.UTC().Format(time.RFC3339)
		}
		if r.GroupName != "" {
			fmt.Fprintf(out, "%s  (group %s, %s)\n", r.RunID, r.GroupName, state)
		} else {
			fmt.Fprintf(out, "%s  (%s)\n", r.RunID, state)
		}
	}
	return nil
}
