package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"seqnotify/internal/mailer"
	"seqnotify/internal/notify"
)

var dispatchFlags struct {
	timeout string
	dryRun  bool
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <run-id>",
	Short: "Notify all recipients of a completed run",
	Long: `Resolve a run in the registry, compose the notification and deliver it
to every recipient.

Exit codes:
  0  all recipients delivered
  2  some recipients failed
  3  all recipients failed
  4  run id not found in the registry
  5  run known but not ready to notify (retry later)
  1  anything else (configuration, transport setup, usage)`,
	Args: cobra.ExactArgs(1),
	RunE: runDispatch,
}

func init() {
	f := dispatchCmd.Flags()
	f.StringVar(&dispatchFlags.timeout, "timeout", "", "Whole-dispatch deadline, e.g. 90s (default from config)")
	f.BoolVar(&dispatchFlags.dryRun, "dry-run", false, "Resolve and compose, print the message, send nothing")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	runID := args[0]

	if err := cfg.ValidateSMTP(); err != nil && !dispatchFlags.dryRun {
		return err
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := cmd.Context()
	timeout := cfg.Dispatch.Timeout.Std()
	if dispatchFlags.timeout != "" {
		timeout, err = parseTimeout(dispatchFlags.timeout)
		if err != nil {
			return err
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := cmd.OutOrStdout()

	if dispatchFlags.dryRun {
		md, err := reg.Resolve(ctx, runID)
		if err != nil {
			return err
		}
		msg := notify.Compose(md)
		fmt.Fprintf(out, "Subject: %s\n\n%s", msg.Subject, msg.Body)
		fmt.Fprintf(out, "\nWould deliver to %d recipient(s):\n", len(msg.Recipients))
		for _, r := range msg.Recipients {
			fmt.Fprintf(out, "  %s\n", r.Addr())
		}
		return nil
	}

	transport, err := mailer.NewSMTP(mailer.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		StartTLS: cfg.SMTP.StartTLS,
	})
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(transport, cfg.SMTP.From, notify.DispatcherConfig{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		Backoff:     cfg.Dispatch.Backoff.Std(),
		Workers:     cfg.Dispatch.Workers,
	})

	var defaults []notify.Recipient
	for _, r := range cfg.DefaultRecipients {
		defaults = append(defaults, notify.Recipient{DisplayName: r.Name, Address: r.Address})
	}

	notifier := notify.NewNotifier(reg, dispatcher, defaults)
	res, err := notifier.Dispatch(ctx, runID)
	if err != nil {
		return err
	}

	printResult(out, res)
	return resultError(res)
}

func printResult(out io.Writer, res *notify.DispatchResult) {
	fmt.Fprintf(out, "Run %s: %s\n", res.RunID, res.Status)
	for _, o := range res.Outcomes {
		if o.Delivered {
			fmt.Fprintf(out, "  delivered  %s\n", o.Recipient.Address)
		} else {
			fmt.Fprintf(out, "  FAILED     %s (%s)\n", o.Recipient.Address, o.Reason)
		}
	}
}

// resultError maps the aggregate status onto the exit-code contract.
func resultError(res *notify.DispatchResult) error {
	failed := 0
	for _, o := range res.Outcomes {
		if !o.Delivered {
			failed++
		}
	}
	switch res.Status {
	case notify.StatusAllDelivered:
		return nil
	case notify.StatusTotalFailure:
		return &statusError{
			code: exitTotalFailure,
			err:  fmt.Errorf("run %s: delivery failed for all %d recipients", res.RunID, len(res.Outcomes)),
		}
	default:
		return &statusError{
			code: exitPartialFailure,
			err:  fmt.Errorf("run %s: delivery failed for %d of %d recipients", res.RunID, failed, len(res.Outcomes)),
		}
	}
}
