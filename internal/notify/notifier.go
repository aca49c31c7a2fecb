package notify

import (
	"context"
	"fmt"
	"log/slog"

	"seqnotify/internal/logging"
)

// Resolver maps a run id to its notification metadata. Implemented by the
// run registry; resolution is pure lookup with no side effects.
type Resolver interface {
	Resolve(ctx context.Context, runID string) (*RunMetadata, error)
}

// Notifier ties resolve, compose and deliver together for one invocation.
// Resolver failures abort the dispatch before anything is composed or sent.
type Notifier struct {
	resolver   Resolver
	dispatcher *Dispatcher
	defaults   []Recipient // facility recipients added to every run
	log        *slog.Logger
}

// NewNotifier builds the orchestrator. defaults may be nil.
func NewNotifier(r Resolver, d *Dispatcher, defaults []Recipient) *Notifier {
	return &Notifier{
		resolver:   r,
		dispatcher: d,
		defaults:   defaults,
		log:        logging.New("notify"),
	}
}

// Dispatch is the single externally invoked operation: resolve the run,
// compose the message, deliver it to every recipient. The returned result
// carries one terminal outcome per recipient.
func (n *Notifier) Dispatch(ctx context.Context, runID string) (*DispatchResult, error) {
	md, err := n.resolver.Resolve(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("resolve run %q: %w", runID, err)
	}

	if len(n.defaults) > 0 {
		withDefaults := *md
		withDefaults.Recipients = mergeRecipients(md.Recipients, n.defaults)
		md = &withDefaults
	}

	msg := Compose(md)
	n.log.Info("dispatching run",
		"run_id", runID, "recipients", len(msg.Recipients), "files", len(md.Files))
	return n.dispatcher.Deliver(ctx, msg), nil
}

// mergeRecipients appends extras not already present, comparing by address.
// Order is preserved: resolved recipients first, extras after.
func mergeRecipients(base, extras []Recipient) []Recipient {
	seen := make(map[string]bool, len(base))
	merged := make([]Recipient, 0, len(base)+len(extras))
	for _, r := range base {
		if seen[r.Address] {
			continue
		}
		seen[r.Address] = true
		merged = append(merged, r)
	}
	for _, r := range extras {
		if seen[r.Address] {
			continue
		}
		seen[r.Address] = true
		merged = append(merged, r)
	}
	return merged
}
