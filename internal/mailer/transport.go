package mailer

import (
	"context"
	"errors"
)

// Transport is the outbound mail boundary. Implementations send one message
// to one recipient per call and classify failures as transient or permanent
// via TransientError / PermanentError so callers can decide on retry.
type Transport interface {
	// Send delivers one message. from and to are RFC 5322 addresses
	// (display names allowed). Blocks until the transport accepts or
	// rejects the message, or ctx expires.
	Send(ctx context.Context, from, to, subject, body string) error
}

// TransientError marks a failure expected to succeed on retry, such as a
// connection reset or a 4xx SMTP reply.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not succeed on retry, such as a
// recipient address rejected by the server.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether a delivery error is worth retrying.
// Unclassified errors (DNS, connection refused) count as transient.
func IsTransient(err error) bool {
	var perm *PermanentError
	return !errors.As(err, &perm)
}
