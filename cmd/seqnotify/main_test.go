package main

import (
	"errors"
	"fmt"
	"testing"

	"seqnotify/internal/notify"
	"seqnotify/internal/registry"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain error", errors.New("boom"), exitFailure},
		{"not found", fmt.Errorf("resolve: %w", registry.ErrRunNotFound), exitRunNotFound},
		{"incomplete", fmt.Errorf("resolve: %w", registry.ErrRunIncomplete), exitRunIncomplete},
		{"partial", &statusError{code: exitPartialFailure, err: errors.New("2 of 5 failed")}, exitPartialFailure},
		{"total", &statusError{code: exitTotalFailure, err: errors.New("all failed")}, exitTotalFailure},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Errorf("%s: exitCode = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestResultError(t *testing.T) {
	ok := notify.DeliveryOutcome{Delivered: true}
	bad := notify.DeliveryOutcome{Reason: "rejected"}

	cases := []struct {
		name     string
		res      *notify.DispatchResult
		wantCode int
	}{
		{
			"all delivered",
			&notify.DispatchResult{RunID: "r", Outcomes: []notify.DeliveryOutcome{ok, ok}, Status: notify.StatusAllDelivered},
			exitOK,
		},
		{
			"partial",
			&notify.DispatchResult{RunID: "r", Outcomes: []notify.DeliveryOutcome{ok, bad}, Status: notify.StatusPartialFailure},
			exitPartialFailure,
		},
		{
			"total",
			&notify.DispatchResult{RunID: "r", Outcomes: []notify.DeliveryOutcome{bad, bad}, Status: notify.StatusTotalFailure},
			exitTotalFailure,
		},
	}
	for _, tc := range cases {
		err := resultError(tc.res)
		if got := exitCode(err); got != tc.wantCode {
			t.Errorf("%s: exit code = %d, want %d", tc.name, got, tc.wantCode)
		}
	}
}

func TestParseTimeout(t *testing.T) {
	if _, err := parseTimeout("soon"); err == nil {
		t.Error("invalid timeout accepted")
	}
	if _, err := parseTimeout("-5s"); err == nil {
		t.Error("negative timeout accepted")
	}
	d, err := parseTimeout("90s")
	if err != nil || d.Seconds() != 90 {
		t.Errorf("parseTimeout(90s) = %v, %v", d, err)
	}
}
