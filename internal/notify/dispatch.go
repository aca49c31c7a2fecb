package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"seqnotify/internal/logging"
	"seqnotify/internal/mailer"
)

// DispatcherConfig bounds retry and fan-out behavior.
type DispatcherConfig struct {
	MaxAttempts int           // send attempts per recipient
	Backoff     time.Duration // base backoff between attempts, grows linearly
	Workers     int           // concurrent deliveries
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Dispatcher sends a composed message to every recipient and aggregates the
// per-recipient outcomes. A run id is delivered at most once per Dispatcher
// instance: repeated Deliver calls for the same run return the first result
// without touching the transport. The guard lives on the instance, not in a
// package global, so it dies with the process invocation that owns it.
type Dispatcher struct {
	transport mailer.Transport
	from      string
	cfg       DispatcherConfig
	log       *slog.Logger

	mu   sync.Mutex
	runs map[string]*dispatchEntry
}

type dispatchEntry struct {
	once sync.Once
	res  *DispatchResult
}

// NewDispatcher wires a dispatcher to its transport. from is the sender
// address used for every message.
func NewDispatcher(t mailer.Transport, from string, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		transport: t,
		from:      from,
		cfg:       cfg.withDefaults(),
		log:       logging.New("dispatch"),
		runs:      make(map[string]*dispatchEntry),
	}
}

// Deliver fans the message out to all recipients and blocks until every
// recipient has a terminal outcome. One recipient's failure never stops the
// others. On ctx expiry, recipients still in flight are reported as failed
// with a timeout reason rather than left pending.
func (d *Dispatcher) Deliver(ctx context.Context, msg ComposedMessage) *DispatchResult {
	d.mu.Lock()
	e, seen := d.runs[msg.RunID]
	if !seen {
		e = &dispatchEntry{}
		d.runs[msg.RunID] = e
	}
	d.mu.Unlock()

	e.once.Do(func() {
		e.res = d.send(ctx, msg)
	})
	if seen {
		d.log.Info("run already dispatched, returning cached result",
			"run_id", msg.RunID, "status", e.res.Status)
	}
	return e.res
}

func (d *Dispatcher) send(ctx context.Context, msg ComposedMessage) *DispatchResult {
	outcomes := make([]DeliveryOutcome, len(msg.Recipients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i, r := range msg.Recipients {
		g.Go(func() error {
			outcomes[i] = d.deliverOne(gctx, msg, r)
			return nil
		})
	}
	// Errors stay inside each DeliveryOutcome; Wait is only the barrier.
	_ = g.Wait()

	res := &DispatchResult{
		RunID:    msg.RunID,
		Outcomes: outcomes,
		Status:   aggregate(outcomes),
	}
	d.log.Info("dispatch finished",
		"run_id", msg.RunID, "recipients", len(outcomes), "status", res.Status)
	return res
}

// deliverOne drives the bounded retry loop for a single recipient.
// Transient transport failures are retried with linear backoff; permanent
// ones are not.
func (d *Dispatcher) deliverOne(ctx context.Context, msg ComposedMessage, r Recipient) DeliveryOutcome {
	body := msg.PersonalBody(r)

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * d.cfg.Backoff
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return timedOut(r, ctx.Err())
			}
		}
		if err := ctx.Err(); err != nil {
			return timedOut(r, err)
		}

		lastErr = d.transport.Send(ctx, d.from, r.Addr(), msg.Subject, body)
		if lastErr == nil {
			d.log.Info("delivered", "run_id", msg.RunID, "recipient", r.Address, "attempt", attempt)
			return DeliveryOutcome{Recipient: r, Delivered: true}
		}
		if ctx.Err() != nil {
			return timedOut(r, ctx.Err())
		}
		if !mailer.IsTransient(lastErr) {
			d.log.Warn("permanent delivery failure",
				"run_id", msg.RunID, "recipient", r.Address, "error", lastErr)
			break
		}
		d.log.Warn("transient delivery failure",
			"run_id", msg.RunID, "recipient", r.Address, "attempt", attempt, "error", lastErr)
	}
	return DeliveryOutcome{Recipient: r, Reason: lastErr.Error()}
}

func timedOut(r Recipient, cause error) DeliveryOutcome {
	return DeliveryOutcome{Recipient: r, Reason: "timeout: " + cause.Error()}
}

func aggregate(outcomes []DeliveryOutcome) OverallStatus {
	delivered := 0
	for _, o := range outcomes {
		if o.Delivered {
			delivered++
		}
	}
	switch delivered {
	case len(outcomes):
		return StatusAllDelivered
	case 0:
		return StatusTotalFailure
	default:
		return StatusPartialFailure
	}
}
