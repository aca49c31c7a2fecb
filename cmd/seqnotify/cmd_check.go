package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"seqnotify/internal/registry"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report per-run notification readiness",
	Long: `Walk every registered run and report whether it could be dispatched
right now: ok, or the reason it is not ready (still in progress, no files,
no recipients).`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, _ []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := cmd.Context()
	runs, err := reg.ListRuns(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs registered. Run 'seqnotify scan' first.")
		return nil
	}

	fmt.Fprintln(out, "Checking all runs:")
	fmt.Fprintln(out, "------------------")
	notReady := 0
	for _, r := range runs {
		_, err := reg.Resolve(ctx, r.RunID)
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s: ok\n", r.RunID)
		case errors.Is(err, registry.ErrRunIncomplete):
			notReady++
			fmt.Fprintf(out, "%s: not ready (%v)\n", r.RunID, err)
		default:
			return err
		}
	}
	fmt.Fprintf(out, "\n%d run(s), %d not ready\n", len(runs), notReady)
	return nil
}
