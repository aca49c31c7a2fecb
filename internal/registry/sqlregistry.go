package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"seqnotify/internal/notify"
)

// SQLRegistry implements Registry with SQLite.
type SQLRegistry struct {
	db   *sql.DB
	opts Options
}

// Open opens or creates a SQLite registry at path and runs migrations.
// Creates the parent directory (e.g. .seqnotify) if it does not exist.
func Open(path string, opts Options) (*SQLRegistry, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	r := &SQLRegistry{db: db, opts: opts}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return r, nil
}

// Close closes the underlying DB.
func (r *SQLRegistry) Close() error { return r.db.Close() }

func (r *SQLRegistry) migrate() error {
	if _, err := r.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var version int
	err := r.db.QueryRow(`SELECT version FROM schema_info LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := r.db.Exec(`INSERT INTO schema_info (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version > schemaVersion:
		return fmt.Errorf("registry schema version %d is newer than this build supports (%d)", version, schemaVersion)
	}
	return nil
}

// Resolve implements Registry. The file and recipient lists come back in a
// fixed order (by logical name and address) so composition downstream is
// deterministic for a given registry state.
func (r *SQLRegistry) Resolve(ctx context.Context, runID string) (*notify.RunMetadata, error) {
	var group, completedAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT group_name, completed_at FROM runs WHERE run_id = ?`, runID,
	).Scan(&group, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %q: %w", runID, err)
	}

	if completedAt == "" {
		return nil, fmt.Errorf("run %q is still in progress: %w", runID, ErrRunIncomplete)
	}
	completed, err := time.Parse(time.RFC3339, completedAt)
	if err != nil {
		return nil, fmt.Errorf("run %q has malformed completion time %q: %w", runID, completedAt, ErrRunIncomplete)
	}

	files, err := r.runFiles(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("run %q has no registered files: %w", runID, ErrRunIncomplete)
	}

	recs, err := r.ListRecipients(ctx, runID)
	if err != nil {
		return nil, err
	}
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

	md, err := notify.NewRunMetadata(runID, group, completed, nfiles, nrecs, r.opts.LinkExpiryDays)
	if err != nil {
		// A registry entry that fails metadata validation (e.g. a bad
		// address slipped in) reads as not-ready, not as a crash.
		return nil, fmt.Errorf("run %q: %v: %w", runID, err, ErrRunIncomplete)
	}
	return md, nil
}

func (r *SQLRegistry) runFiles(ctx context.Context, runID string) ([]File, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT logical_name, location, checksum FROM run_files WHERE run_id = ? ORDER BY logical_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("query files for run %q: %w", runID, err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.LogicalName, &f.Location, &f.Checksum); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListRuns implements Registry, ordered by run id.
func (r *SQLRegistry) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, group_name, completed_at FROM runs ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var completedAt string
		if err := rows.Scan(&run.RunID, &run.GroupName, &completedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if completedAt != "" {
			if t, err := time.Parse(time.RFC3339, completedAt); err == nil {
				run.CompletedAt = t
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpsertRun implements Registry. An existing run keeps its group name when
// the incoming record has none.
func (r *SQLRegistry) UpsertRun(ctx context.Context, run Run) error {
	if run.RunID == "" {
		return fmt.Errorf("upsert run: empty run id")
	}
	completedAt := ""
	if !run.CompletedAt.IsZero() {
		completedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, group_name, completed_at) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			completed_at = excluded.completed_at,
			group_name = CASE WHEN excluded.group_name != '' THEN excluded.group_name ELSE runs.group_name END`,
		run.RunID, run.GroupName, completedAt)
	if err != nil {
		return fmt.Errorf("upsert run %q: %w", run.RunID, err)
	}
	return nil
}

// ReplaceFiles implements Registry: the run's file set becomes exactly files.
func (r *SQLRegistry) ReplaceFiles(ctx context.Context, runID string, files []File) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace files: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_files WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear files for run %q: %w", runID, err)
	}
	for _, f := range files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_files (run_id, logical_name, location, checksum) VALUES (?, ?, ?, ?)`,
			runID, f.LogicalName, f.Location, f.Checksum); err != nil {
			return fmt.Errorf("insert file %q for run %q: %w", f.LogicalName, runID, err)
		}
	}
	return tx.Commit()
}

// SetGroup implements Registry.
func (r *SQLRegistry) SetGroup(ctx context.Context, runID, group string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET group_name = ? WHERE run_id = ?`, group, runID)
	if err != nil {
		return fmt.Errorf("set group for run %q: %w", runID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	return nil
}

// AddRecipient implements Registry. Re-adding an address updates its
// display name.
func (r *SQLRegistry) AddRecipient(ctx context.Context, runID string, rec Recipient) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE run_id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return fmt.Errorf("check run %q: %w", runID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO run_recipients (run_id, address, display_name) VALUES (?, ?, ?)
		ON CONFLICT(run_id, address) DO UPDATE SET display_name = excluded.display_name`,
		runID, rec.Address, rec.DisplayName)
	if err != nil {
		return fmt.Errorf("add recipient %q to run %q: %w", rec.Address, runID, err)
	}
	return nil
}

// RemoveRecipient implements Registry.
func (r *SQLRegistry) RemoveRecipient(ctx context.Context, runID, address string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM run_recipients WHERE run_id = ? AND address = ?`, runID, address)
	if err != nil {
		return fmt.Errorf("remove recipient %q from run %q: %w", address, runID, err)
	}
	return nil
}

// ListRecipients implements Registry, ordered by address.
func (r *SQLRegistry) ListRecipients(ctx context.Context, runID string) ([]Recipient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT address, display_name FROM run_recipients WHERE run_id = ? ORDER BY address`, runID)
	if err != nil {
		return nil, fmt.Errorf("query recipients for run %q: %w", runID, err)
	}
	defer rows.Close()

	var recs []Recipient
	for rows.Next() {
		var rec Recipient
		if err := rows.Scan(&rec.Address, &rec.DisplayName); err != nil {
			return nil, fmt.Errorf("scan recipient row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
