package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"seqnotify/internal/mailer"
)

// fakeTransport scripts per-address failures and records every send.
type fakeTransport struct {
	mu    sync.Mutex
	sends map[string]int // bare address -> attempts seen
	fail  map[string][]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sends: make(map[string]int),
		fail:  make(map[string][]error),
	}
}

// failWith queues errors for an address; each send consumes one, and sends
// after the queue drains succeed.
func (f *fakeTransport) failWith(address string, errs ...error) {
	f.fail[address] = append(f.fail[address], errs...)
}

func (f *fakeTransport) Send(_ context.Context, _, to, _, _ string) error {
	addr := to
	if i := strings.LastIndex(to, "<"); i >= 0 {
		addr = strings.TrimSuffix(to[i+1:], ">")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends[addr]++
	if queue := f.fail[addr]; len(queue) > 0 {
		err := queue[0]
		f.fail[addr] = queue[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) sendCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[address]
}

func (f *fakeTransport) totalSends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.sends {
		total += n
	}
	return total
}

func testMessage(recipients ...Recipient) ComposedMessage {
	return ComposedMessage{
		RunID:      "run-1",
		Subject:    "Sequencing run run-1 finished: data ready for download",
		Body:       "Hi,\n\nyour data is ready.\n",
		Recipients: recipients,
	}
}

func fastConfig() DispatcherConfig {
	return DispatcherConfig{MaxAttempts: 3, Backoff: time.Millisecond, Workers: 4}
}

func TestDeliver_AllDelivered(t *testing.T) {
	ft := newFakeTransport()
	d := NewDispatcher(ft, "seq@example.org", fastConfig())

	msg := testMessage(
		Recipient{Address: "a@example.org"},
		Recipient{Address: "b@example.org"},
		Recipient{Address: "c@example.org"},
	)
	res := d.Deliver(context.Background(), msg)

	if res.Status != StatusAllDelivered {
		t.Fatalf("status = %s, want %s", res.Status, StatusAllDelivered)
	}
	if len(res.Outcomes) != 3 {
		t.Fatalf("want 3 outcomes, got %d", len(res.Outcomes))
	}
	for i, o := range res.Outcomes {
		if !o.Delivered || o.Reason != "" {
			t.Errorf("outcome %d not delivered: %+v", i, o)
		}
		if o.Recipient.Address != msg.Recipients[i].Address {
			t.Errorf("outcome %d out of order: got %s want %s", i, o.Recipient.Address, msg.Recipients[i].Address)
		}
	}
}

func TestDeliver_PartialFailureIsolation(t *testing.T) {
	ft := newFakeTransport()
	ft.failWith("bad@example.org", &mailer.PermanentError{Err: errors.New("550 no such user")})
	d := NewDispatcher(ft, "seq@example.org", fastConfig())

	msg := testMessage(
		Recipient{Address: "a@example.org"},
		Recipient{Address: "bad@example.org"},
		Recipient{Address: "c@example.org"},
	)
	res := d.Deliver(context.Background(), msg)

	if res.Status != StatusPartialFailure {
		t.Fatalf("status = %s, want %s", res.Status, StatusPartialFailure)
	}
	if len(res.Outcomes) != 3 {
		t.Fatalf("want 3 outcomes, got %d", len(res.Outcomes))
	}
	bad := res.Outcomes[1]
	if bad.Delivered {
		t.Error("failed recipient reported as delivered")
	}
	if bad.Recipient.Address != "bad@example.org" {
		t.Errorf("failed outcome lost its recipient identity: %+v", bad)
	}
	if !strings.Contains(bad.Reason, "no such user") {
		t.Errorf("failed outcome lost its reason: %q", bad.Reason)
	}
	for _, i := range []int{0, 2} {
		if !res.Outcomes[i].Delivered {
			t.Errorf("sibling delivery %d aborted by another recipient's failure", i)
		}
	}
}

func TestDeliver_TotalFailure(t *testing.T) {
	ft := newFakeTransport()
	perm := &mailer.PermanentError{Err: errors.New("rejected")}
	ft.failWith("a@example.org", perm)
	ft.failWith("b@example.org", perm)
	d := NewDispatcher(ft, "seq@example.org", fastConfig())

	res := d.Deliver(context.Background(), testMessage(
		Recipient{Address: "a@example.org"},
		Recipient{Address: "b@example.org"},
	))
	if res.Status != StatusTotalFailure {
		t.Fatalf("status = %s, want %s", res.Status, StatusTotalFailure)
	}
}

func TestDeliver_RetriesTransientThenSucceeds(t *testing.T) {
	ft := newFakeTransport()
	ft.failWith("flaky@example.org", &mailer.TransientError{Err: errors.New("connection reset")})
	d := NewDispatcher(ft, "seq@example.org", fastConfig())

	res := d.Deliver(context.Background(), testMessage(Recipient{Address: "flaky@example.org"}))

	if res.Status != StatusAllDelivered {
		t.Fatalf("status = %s, want %s", res.Status, StatusAllDelivered)
	}
	if got := ft.sendCount("flaky@example.org"); got != 2 {
		t.Errorf("want 2 attempts (fail, then success), got %d", got)
	}
}

func TestDeliver_PermanentNotRetried(t *testing.T) {
	ft := newFakeTransport()
	ft.failWith("dead@example.org",
		&mailer.PermanentError{Err: errors.New("550 user unknown")},
		&mailer.PermanentError{Err: errors.New("550 user unknown")},
	)
	d := NewDispatcher(ft, "seq@example.org", fastConfig())

	res := d.Deliver(context.Background(), testMessage(Recipient{Address: "dead@example.org"}))

	if res.Status != StatusTotalFailure {
		t.Fatalf("status = %s, want %s", res.Status, StatusTotalFailure)
	}
	if got := ft.sendCount("dead@example.org"); got != 1 {
		t.Errorf("permanent failure must not be retried, got %d attempts", got)
	}
}

func TestDeliver_RetriesExhausted(t *testing.T) {
	ft := newFakeTransport()
	blip := &mailer.TransientError{Err: errors.New("timeout talking to server")}
	ft.failWith("slow@example.org", blip, blip, blip, blip)
	d := NewDispatcher(ft, "seq@example.org", fastConfig())

	res := d.Deliver(context.Background(), testMessage(Recipient{Address: "slow@example.org"}))

	if res.Status != StatusTotalFailure {
		t.Fatalf("status = %s, want %s", res.Status, StatusTotalFailure)
	}
	if got := ft.sendCount("slow@example.org"); got != 3 {
		t.Errorf("want exactly MaxAttempts=3 attempts, got %d", got)
	}
}

func TestDeliver_DedupByRunID(t *testing.T) {
	ft := newFakeTransport()
	d := NewDispatcher(ft, "seq@example.org", fastConfig())

	msg := testMessage(Recipient{Address: "a@example.org"}, Recipient{Address: "b@example.org"})
	first := d.Deliver(context.Background(), msg)
	before := ft.totalSends()

	second := d.Deliver(context.Background(), msg)
	if ft.totalSends() != before {
		t.Error("second Deliver for the same run id must not touch the transport")
	}
	if first != second {
		t.Error("second Deliver must return the cached result")
	}
}

func TestDeliver_DistinctRunsAreIndependent(t *testing.T) {
	ft := newFakeTransport()
	d := NewDispatcher(ft, "seq@example.org", fastConfig())

	msgA := testMessage(Recipient{Address: "a@example.org"})
	msgB := testMessage(Recipient{Address: "a@example.org"})
	msgB.RunID = "run-2"

	d.Deliver(context.Background(), msgA)
	d.Deliver(context.Background(), msgB)
	if got := ft.sendCount("a@example.org"); got != 2 {
		t.Errorf("distinct runs must each send, got %d sends", got)
	}
}

func TestDeliver_ContextTimeout(t *testing.T) {
	ft := newFakeTransport()
	blip := &mailer.TransientError{Err: errors.New("connection reset")}
	// Endless transient failures keep the recipient in its retry loop.
	ft.failWith("stuck@example.org", blip, blip, blip, blip, blip)

	d := NewDispatcher(ft, "seq@example.org", DispatcherConfig{
		MaxAttempts: 5,
		Backoff:     200 * time.Millisecond,
		Workers:     2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := d.Deliver(ctx, testMessage(
		Recipient{Address: "ok@example.org"},
		Recipient{Address: "stuck@example.org"},
	))

	if len(res.Outcomes) != 2 {
		t.Fatalf("every recipient needs a terminal outcome, got %d", len(res.Outcomes))
	}
	stuck := res.Outcomes[1]
	if stuck.Delivered {
		t.Fatal("timed-out recipient reported as delivered")
	}
	if !strings.Contains(stuck.Reason, "timeout") {
		t.Errorf("timed-out recipient should carry a timeout reason, got %q", stuck.Reason)
	}
	if !res.Outcomes[0].Delivered {
		t.Error("recipient that completed before the deadline should stay delivered")
	}
	if res.Status != StatusPartialFailure {
		t.Errorf("status = %s, want %s", res.Status, StatusPartialFailure)
	}
}

func TestAggregate(t *testing.T) {
	ok := DeliveryOutcome{Delivered: true}
	bad := DeliveryOutcome{Reason: "x"}
	cases := []struct {
		outcomes []DeliveryOutcome
		want     OverallStatus
	}{
		{[]DeliveryOutcome{ok, ok}, StatusAllDelivered},
		{[]DeliveryOutcome{bad, bad}, StatusTotalFailure},
		{[]DeliveryOutcome{ok, bad}, StatusPartialFailure},
		{[]DeliveryOutcome{bad, ok, ok}, StatusPartialFailure},
	}
	for i, tc := range cases {
		if got := aggregate(tc.outcomes); got != tc.want {
			t.Errorf("case %d: aggregate = %s, want %s", i, got, tc.want)
		}
	}
}

func TestDeliver_ManyRecipientsBoundedPool(t *testing.T) {
	ft := newFakeTransport()
	d := NewDispatcher(ft, "seq@example.org", DispatcherConfig{MaxAttempts: 1, Backoff: time.Millisecond, Workers: 3})

	var recipients []Recipient
	for i := 0; i < 20; i++ {
		recipients = append(recipients, Recipient{Address: fmt.Sprintf("r%02d@example.org", i)})
	}
	res := d.Deliver(context.Background(), testMessage(recipients...))

	if res.Status != StatusAllDelivered {
		t.Fatalf("status = %s", res.Status)
	}
	if len(res.Outcomes) != 20 {
		t.Fatalf("want 20 outcomes, got %d", len(res.Outcomes))
	}
	for i, o := range res.Outcomes {
		if o.Recipient.Address != recipients[i].Address {
			t.Fatalf("outcome %d out of order", i)
		}
	}
}
