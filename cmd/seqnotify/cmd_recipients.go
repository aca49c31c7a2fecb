package main

import (
	"fmt"
	"net/mail"

	"github.com/spf13/cobra"

	"seqnotify/internal/registry"
)

var recipientsFlags struct {
	add    string
	remove string
	name   string
	group  string
}

var recipientsCmd = &cobra.Command{
	Use:   "recipients <run-id>",
	Short: "Show or edit a run's recipient list",
	Long: `Without flags, list the run's recipients. --add and --remove edit the
list; --group sets the run's research group.

  seqnotify recipients 240519_M03491_0042 --add jane@example.org --name "Jane Doe"
  seqnotify recipients 240519_M03491_0042 --remove jane@example.org
  seqnotify recipients 240519_M03491_0042 --group AG-Stiewe`,
	Args: cobra.ExactArgs(1),
	RunE: runRecipients,
}

func init() {
	f := recipientsCmd.Flags()
	f.StringVar(&recipientsFlags.add, "add", "", "Address to add to the run's recipient list")
	f.StringVar(&recipientsFlags.remove, "remove", "", "Address to remove from the run's recipient list")
	f.StringVar(&recipientsFlags.name, "name", "", "Display name for --add")
	f.StringVar(&recipientsFlags.group, "group", "", "Set the run's research group")
}

func runRecipients(cmd *cobra.Command, args []string) error {
	runID := args[0]

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	changed := false

	if recipientsFlags.group != "" {
		if err := reg.SetGroup(ctx, runID, recipientsFlags.group); err != nil {
			return err
		}
		fmt.Fprintf(out, "Group for %s set to %s\n", runID, recipientsFlags.group)
		changed = true
	}

	if recipientsFlags.add != "" {
		if _, err := mail.ParseAddress(recipientsFlags.add); err != nil {
			return fmt.Errorf("invalid address %q: %w", recipientsFlags.add, err)
		}
		rec := registry.Recipient{Address: recipientsFlags.add, DisplayName: recipientsFlags.name}
		if err := reg.AddRecipient(ctx, runID, rec); err != nil {
			return err
		}
		fmt.Fprintf(out, "Added %s to %s\n", recipientsFlags.add, runID)
		changed = true
	}

	if recipientsFlags.remove != "" {
		if err := reg.RemoveRecipient(ctx, runID, recipientsFlags.remove); err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %s from %s\n", recipientsFlags.remove, runID)
		changed = true
	}

	if changed {
		return nil
	}

	recs, err := reg.ListRecipients(ctx, runID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(out, "No recipients for %s\n", runID)
		return nil
	}
	fmt.Fprintf(out, "Recipients for %s:\n", runID)
	for _, r := range recs {
		if r.DisplayName != "" {
			fmt.Fprintf(out, "  %s <%s>\n", r.DisplayName, r.Address)
		} else {
			fmt.Fprintf(out, "  %s\n", r.Address)
		}
	}
	return nil
}
