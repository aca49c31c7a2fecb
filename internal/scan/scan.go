// Package scan discovers completed sequencing runs in the instrument
// output directories and registers them in the run registry.
//
// Layout conventions it understands:
//   - run folders have digit-prefixed names longer than four characters,
//     either directly under an incoming path or nested one level below a
//     four-character instrument folder;
//   - the downloadable file set lives in the newest Alignment* subtree
//     (Alignment*/<n>/Fastq), or in Unaligned, or in
//     Data/Intensities/BaseCalls, whichever exists first.
package scan

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"seqnotify/internal/logging"
	"seqnotify/internal/registry"
)

// ErrNoOutput means a run folder has no recognizable output file set yet.
var ErrNoOutput = errors.New("no fastq output folder found")

// Scanner walks incoming instrument directories and syncs discovered runs
// into a registry.
type Scanner struct {
	// IncomingPaths are the directories to walk.
	IncomingPaths []string
	// PublicBaseURL, when set, prefixes registered download locations.
	// Otherwise the local file path is registered.
	PublicBaseURL string
	// Checksums enables md5 computation for staged .tar.gz archives.
	Checksums bool

	log *slog.Logger
}

// New returns a Scanner over the given incoming paths.
func New(incoming []string, publicBaseURL string, checksums bool) *Scanner {
	return &Scanner{
		IncomingPaths: incoming,
		PublicBaseURL: publicBaseURL,
		Checksums:     checksums,
		log:           logging.New("scan"),
	}
}

// Discover maps run id to run folder across all incoming paths.
func (s *Scanner) Discover() (map[string]string, error) {
	found := make(map[string]string)
	for _, base := range s.IncomingPaths {
		entries, err := os.ReadDir(base)
		if err != nil {
			return nil, fmt.Errorf("read incoming path %s: %w", base, err)
		}
		for _, e := range entries {
			if !e.IsDir() || !isRunName(e.Name()) {
				continue
			}
			dir := filepath.Join(base, e.Name())
			if len(e.Name()) > 4 {
				found[e.Name()] = dir
				continue
			}
			// Four-character instrument folder: runs nest one level down.
			subs, err := os.ReadDir(dir)
			if err != nil {
				s.log.Warn("cannot read instrument folder", "path", dir, "error", err)
				continue
			}
			for _, sub := range subs {
				if sub.IsDir() && isRunName(sub.Name()) && len(sub.Name()) > 4 {
					found[sub.Name()] = filepath.Join(dir, sub.Name())
				}
			}
		}
	}
	return found, nil
}

// isRunName reports whether a folder name looks like a run or instrument
// folder: digit-prefixed, at least four characters.
func isRunName(name string) bool {
	if len(name) < 4 {
		return false
	}
	return unicode.IsDigit(rune(name[0]))
}

// OutputDir locates the downloadable file set inside one run folder.
// Returns ErrNoOutput when no recognized layout matches.
func OutputDir(runDir, runID string) (string, error) {
	sub := runDir
	if nested := filepath.Join(runDir, runID); dirExists(nested) {
		sub = nested
	}

	entries, err := os.ReadDir(sub)
	if err != nil {
		return "", fmt.Errorf("read run folder %s: %w", sub, err)
	}
	var alignments []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "Alignment") {
			alignments = append(alignments, e.Name())
		}
	}
	if len(alignments) > 0 {
		// Newest alignment wins; its first entry holds the Fastq dir.
		sort.Sort(sort.Reverse(sort.StringSlice(alignments)))
		inner, err := os.ReadDir(filepath.Join(sub, alignments[0]))
		if err != nil {
			return "", fmt.Errorf("read alignment folder: %w", err)
		}
		for _, e := range inner {
			if e.IsDir() {
				return filepath.Join(sub, alignments[0], e.Name(), "Fastq"), nil
			}
		}
		return "", fmt.Errorf("run %s: alignment folder %s is empty: %w", runID, alignments[0], ErrNoOutput)
	}

	// Pre-Alignment layouts.
	if d := filepath.Join(runDir, "Unaligned"); dirExists(d) {
		return d, nil
	}
	if d := filepath.Join(runDir, "Data", "Intensities", "BaseCalls"); dirExists(d) {
		return d, nil
	}
	return "", fmt.Errorf("run %s in %s: %w", runID, runDir, ErrNoOutput)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Files lists the downloadable entries of an output dir: anything with
// "fastq" in its name. Checksums are computed for .tar.gz archives only
// when enabled; fastq archives can be large and md5 reads the whole file.
func (s *Scanner) Files(outputDir string) ([]registry.File, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("read output dir %s: %w", outputDir, err)
	}
	var files []registry.File
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), "fastq") {
			continue
		}
		f := registry.File{
			LogicalName: e.Name(),
			Location:    s.location(e.Name(), outputDir),
		}
		if s.Checksums && strings.HasSuffix(e.Name(), ".tar.gz") {
			sum, err := md5Sum(filepath.Join(outputDir, e.Name()))
			if err != nil {
				s.log.Warn("checksum failed", "file", e.Name(), "error", err)
			} else {
				f.Checksum = sum
			}
		}
		files = append(files, f)
	}
	return files, nil
}

func (s *Scanner) location(name, outputDir string) string {
	if s.PublicBaseURL != "" {
		return strings.TrimSuffix(s.PublicBaseURL, "/") + "/" + name
	}
	return filepath.Join(outputDir, name)
}

func md5Sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Sync discovers runs and upserts them into reg. A run with a usable
// output set is registered as completed (folder mtime) with its file list;
// a run without one is registered as in progress so check can report it.
// Returns the number of runs registered as completed.
func (s *Scanner) Sync(ctx context.Context, reg registry.Registry) (int, error) {
	runs, err := s.Discover()
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(runs))
	for id := range runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	completed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		runDir := runs[id]
		rec := registry.Run{RunID: id}

		outDir, err := OutputDir(runDir, id)
		if err != nil {
			if !errors.Is(err, ErrNoOutput) {
				return completed, err
			}
			s.log.Info("run has no output yet", "run_id", id)
			if err := reg.UpsertRun(ctx, rec); err != nil {
				return completed, err
			}
			continue
		}

		files, err := s.Files(outDir)
		if err != nil {
			return completed, err
		}
		if len(files) == 0 {
			s.log.Info("output folder is empty", "run_id", id, "dir", outDir)
			if err := reg.UpsertRun(ctx, rec); err != nil {
				return completed, err
			}
			continue
		}

		if info, err := os.Stat(outDir); err == nil {
			rec.CompletedAt = info.ModTime().UTC()
		}
		if err := reg.UpsertRun(ctx, rec); err != nil {
			return completed, err
		}
		if err := reg.ReplaceFiles(ctx, id, files); err != nil {
			return completed, err
		}
		completed++
		s.log.Info("registered run", "run_id", id, "files", len(files))
	}
	return completed, nil
}
