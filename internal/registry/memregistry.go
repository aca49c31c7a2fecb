package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"seqnotify/internal/notify"
)

// MemRegistry is an in-memory Registry for tests.
type MemRegistry struct {
	mu   sync.Mutex
	opts Options

	runs       map[string]Run
	files      map[string][]File
	recipients map[string][]Recipient
}

// NewMem returns an empty in-memory registry.
func NewMem(opts Options) *MemRegistry {
	return &MemRegistry{
		opts:       opts,
		runs:       make(map[string]Run),
		files:      make(map[string][]File),
		recipients: make(map[string][]Recipient),
	}
}

// Close implements Registry.
func (m *MemRegistry) Close() error { return nil }

// Resolve implements Registry with the same error contract as SQLRegistry.
func (m *MemRegistry) Resolve(_ context.Context, runID string) (*notify.RunMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if run.CompletedAt.IsZero() {
		return nil, fmt.Errorf("run %q is still in progress: %w", runID, ErrRunIncomplete)
	}

	files := append([]File(nil), m.files[runID]...)
	sort.Slice(files, func(i, j int) bool { return files[i].LogicalName < files[j].LogicalName })
	if len(files) == 0 {
		return nil, fmt.Errorf("run %q has no registered files: %w", runID, ErrRunIncomplete)
	}

	recs := append([]Recipient(nil), m.recipients[runID]...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Address < recs[j].Address })
	if len(recs) == 0 {
		return nil, fmt.Errorf("run %q has no recipients: %w", runID, ErrRunIncomplete)
	}

	nfiles := make([]notify.FileReference, len(files))
	for i, f := range files {
		nfiles[i] = notify.FileReference{LogicalName: f.LogicalName, Location: f.Location, Checksum: f.Checksum}
	}
	nrecs := make([]notify.Recipient, len(recs))
	for i, rec := range recs {
		nrecs[i] = notify.Recipient{DisplayName: rec.DisplayName, Address: rec.Address}
	}

	md, err := notify.NewRunMetadata(runID, run.GroupName, run.CompletedAt, nfiles, nrecs, m.opts.LinkExpiryDays)
	if err != nil {
		return nil, fmt.Errorf("run %q: %v: %w", runID, err, ErrRunIncomplete)
	}
	return md, nil
}

// ListRuns implements Registry.
func (m *MemRegistry) ListRuns(_ context.Context) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	return runs, nil
}

// UpsertRun implements Registry.
func (m *MemRegistry) UpsertRun(_ context.Context, run Run) error {
	if run.RunID == "" {
		return fmt.Errorf("upsert run: empty run id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.runs[run.RunID]; ok && run.GroupName == "" {
		run.GroupName = existing.GroupName
	}
	if !run.CompletedAt.IsZero() {
		run.CompletedAt = run.CompletedAt.UTC().Truncate(time.Second)
	}
	m.runs[run.RunID] = run
	return nil
}

// ReplaceFiles implements Registry.
func (m *MemRegistry) ReplaceFiles(_ context.Context, runID string, files []File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[runID] = append([]File(nil), files...)
	return nil
}

// SetGroup implements Registry.
func (m *MemRegistry) SetGroup(_ context.Context, runID, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	run.GroupName = group
	m.runs[runID] = run
	return nil
}

// AddRecipient implements Registry.
func (m *MemRegistry) AddRecipient(_ context.Context, runID string, rec Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	for i, existing := range m.recipients[runID] {
		if existing.Address == rec.Address {
			m.recipients[runID][i] = rec
			return nil
		}
	}
	m.recipients[runID] = append(m.recipients[runID], rec)
	return nil
}

// RemoveRecipient implements Registry.
func (m *MemRegistry) RemoveRecipient(_ context.Context, runID, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.recipients[runID]
	for i, existing := range recs {
		if existing.Address == address {
			m.recipients[runID] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

// ListRecipients implements Registry.
func (m *MemRegistry) ListRecipients(_ context.Context, runID string) ([]Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := append([]Recipient(nil), m.recipients[runID]...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Address < recs[j].Address })
	return recs, nil
}
