package notify

import (
	"fmt"
	"net/mail"
	"time"
)

// Recipient is one person entitled to a run notification.
// Equality is by address; DisplayName is optional.
type Recipient struct {
	DisplayName string
	Address     string
}

// Addr renders the recipient as an RFC 5322 address, including the display
// name when present.
func (r Recipient) Addr() string {
	a := mail.Address{Name: r.DisplayName, Address: r.Address}
	return a.String()
}

// FileReference points at one downloadable output of a run.
// Checksum is the md5 of the staged archive; empty when not computed.
type FileReference struct {
	LogicalName string
	Location    string
	Checksum    string
}

// RunMetadata is everything needed to notify about one completed run.
// Build it through NewRunMetadata so the invariants hold from then on:
// non-empty file and recipient lists, valid recipient addresses, a known
// completion time.
type RunMetadata struct {
	RunID       string
	Group       string
	CompletedAt time.Time
	Files       []FileReference
	Recipients  []Recipient
	ExpiryDays  int
}

// NewRunMetadata validates and assembles run metadata. It is the single
// construction path; resolver implementations map a validation failure to
// their "run not ready" error rather than handing malformed metadata on.
func NewRunMetadata(runID, group string, completedAt time.Time, files []FileReference, recipients []Recipient, expiryDays int) (*RunMetadata, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is empty")
	}
	if completedAt.IsZero() {
		return nil, fmt.Errorf("run %s has no completion time", runID)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("run %s has no files", runID)
	}
	for _, f := range files {
		if f.LogicalName == "" || f.Location == "" {
			return nil, fmt.Errorf("run %s has a file reference without name or location", runID)
		}
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("run %s has no recipients", runID)
	}
	for _, r := range recipients {
		if _, err := mail.ParseAddress(r.Address); err != nil {
			return nil, fmt.Errorf("run %s has invalid recipient address %q: %w", runID, r.Address, err)
		}
	}
	if expiryDays <= 0 {
		expiryDays = DefaultExpiryDays
	}
	return &RunMetadata{
		RunID:       runID,
		Group:       group,
		CompletedAt: completedAt,
		Files:       files,
		Recipients:  recipients,
		ExpiryDays:  expiryDays,
	}, nil
}

// DefaultExpiryDays is how long download links stay valid unless the
// registry says otherwise.
const DefaultExpiryDays = 14

// ComposedMessage is the rendered notification for one run. Immutable;
// derived deterministically from RunMetadata.
type ComposedMessage struct {
	RunID      string
	Subject    string
	Body       string
	Recipients []Recipient
}

// OverallStatus summarizes a dispatch across all recipients.
type OverallStatus string

const (
	StatusAllDelivered   OverallStatus = "all_delivered"
	StatusPartialFailure OverallStatus = "partial_failure"
	StatusTotalFailure   OverallStatus = "total_failure"
)

// DeliveryOutcome is the terminal result for one recipient.
type DeliveryOutcome struct {
	Recipient Recipient
	Delivered bool
	Reason    string // failure reason, empty when delivered
}

// DispatchResult is the sole artifact of one dispatch: one outcome per
// recipient, in recipient order, plus the aggregate status.
type DispatchResult struct {
	RunID    string
	Outcomes []DeliveryOutcome
	Status   OverallStatus
}
