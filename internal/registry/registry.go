package registry

import (
	"context"
	"errors"
	"time"

	"seqnotify/internal/notify"
)

// DefaultDBPath is the default relative path for the registry DB.
// Resolve against cwd; Open() creates the parent dir (e.g. .seqnotify).
const DefaultDBPath = ".seqnotify/registry.db"

// ErrRunNotFound means no run matches the identifier at all.
var ErrRunNotFound = errors.New("run not found")

// ErrRunIncomplete means the run exists but is not ready to notify about:
// still in progress, no files registered, or no recipients. Distinct from
// ErrRunNotFound because it means "retry later", not "never existed".
var ErrRunIncomplete = errors.New("run not ready to notify")

// Run is one registered sequencing run. CompletedAt is zero while the run
// is still in progress.
type Run struct {
	RunID       string
	GroupName   string
	CompletedAt time.Time
}

// File is one downloadable output registered for a run.
type File struct {
	LogicalName string
	Location    string
	Checksum    string
}

// Recipient is one registry entry on a run's notification list.
type Recipient struct {
	Address     string
	DisplayName string
}

// Registry is the persistence facade over run records. Resolve is the
// read-only resolver path used by dispatch; the write methods exist for the
// scan and recipients commands. Implementations are SQLite or in-memory.
type Registry interface {
	// Resolve maps a run id to validated notification metadata.
	// Returns ErrRunNotFound or ErrRunIncomplete (errors.Is-matchable).
	Resolve(ctx context.Context, runID string) (*notify.RunMetadata, error)

	ListRuns(ctx context.Context) ([]Run, error)
	UpsertRun(ctx context.Context, run Run) error
	ReplaceFiles(ctx context.Context, runID string, files []File) error
	SetGroup(ctx context.Context, runID, group string) error
	AddRecipient(ctx context.Context, runID string, r Recipient) error
	RemoveRecipient(ctx context.Context, runID, address string) error
	ListRecipients(ctx context.Context, runID string) ([]Recipient, error)

	Close() error
}

// Options tune metadata the registry attaches to resolved runs.
type Options struct {
	// LinkExpiryDays is surfaced in notifications as how long download
	// links stay valid. Zero means notify.DefaultExpiryDays.
	LinkExpiryDays int
}
