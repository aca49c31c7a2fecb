package main

import (
	"fmt"
	"time"
)

// parseTimeout parses a --timeout flag value. Zero disables the deadline.
func parseTimeout(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative: %s", s)
	}
	return d, nil
}
