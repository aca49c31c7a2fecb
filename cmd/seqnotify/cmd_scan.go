package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"seqnotify/internal/scan"
)

var scanFlags struct {
	incoming  []string
	checksums bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover run folders and register them",
	Long: `Walk the configured incoming directories, discover completed run
folders and register their downloadable files. Runs without a usable
output set are registered as in progress.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringSliceVar(&scanFlags.incoming, "incoming", nil, "Incoming directories to walk (default from config)")
	f.BoolVar(&scanFlags.checksums, "checksums", true, "Compute md5 checksums for staged archives")
}

func runScan(cmd *cobra.Command, _ []string) error {
	incoming := cfg.Scan.IncomingPaths
	if len(scanFlags.incoming) > 0 {
		incoming = scanFlags.incoming
	}
	if len(incoming) == 0 {
		return fmt.Errorf("no incoming directories configured (set scan.incoming_paths or --incoming)")
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	scanner := scan.New(incoming, cfg.Scan.PublicBaseURL, scanFlags.checksums)
	completed, err := scanner.Sync(cmd.Context(), reg)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Registered %d completed run(s)\n", completed)
	return nil
}
