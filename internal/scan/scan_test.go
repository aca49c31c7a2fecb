package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"seqnotify/internal/registry"
)

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(p, 0755); err != nil {
			t.Fatal(err)
		}
	}
}

func touch(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscover(t *testing.T) {
	incoming := t.TempDir()
	// Direct run folder.
	mkdirs(t, filepath.Join(incoming, "240519_M03491_0042"))
	// Instrument folder with a nested run.
	mkdirs(t, filepath.Join(incoming, "2405", "240520_N12345_0007"))
	// Noise: non-digit prefix, too-short name, plain file.
	mkdirs(t, filepath.Join(incoming, "Archive"))
	mkdirs(t, filepath.Join(incoming, "24"))
	touch(t, filepath.Join(incoming, "250101_notes.txt"), "x")

	s := New([]string{incoming}, "", false)
	runs, err := s.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("want 2 runs, got %v", runs)
	}
	if _, ok := runs["240519_M03491_0042"]; !ok {
		t.Error("direct run folder not discovered")
	}
	if _, ok := runs["240520_N12345_0007"]; !ok {
		t.Error("nested run folder not discovered")
	}
}

func TestOutputDir_Layouts(t *testing.T) {
	t.Run("alignment picks newest", func(t *testing.T) {
		runDir := t.TempDir()
		mkdirs(t, filepath.Join(runDir, "Alignment_1", "20240518_120000", "Fastq"))
		mkdirs(t, filepath.Join(runDir, "Alignment_2", "20240519_120000", "Fastq"))

		got, err := OutputDir(runDir, "run-a")
		if err != nil {
			t.Fatalf("OutputDir: %v", err)
		}
		want := filepath.Join(runDir, "Alignment_2", "20240519_120000", "Fastq")
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})

	t.Run("unaligned fallback", func(t *testing.T) {
		runDir := t.TempDir()
		mkdirs(t, filepath.Join(runDir, "Unaligned"))
		got, err := OutputDir(runDir, "run-b")
		if err != nil || got != filepath.Join(runDir, "Unaligned") {
			t.Fatalf("got %s err %v", got, err)
		}
	})

	t.Run("basecalls fallback", func(t *testing.T) {
		runDir := t.TempDir()
		mkdirs(t, filepath.Join(runDir, "Data", "Intensities", "BaseCalls"))
		got, err := OutputDir(runDir, "run-c")
		if err != nil || got != filepath.Join(runDir, "Data", "Intensities", "BaseCalls") {
			t.Fatalf("got %s err %v", got, err)
		}
	})

	t.Run("nested run id folder", func(t *testing.T) {
		runDir := t.TempDir()
		mkdirs(t, filepath.Join(runDir, "run-d", "Alignment_1", "n1", "Fastq"))
		got, err := OutputDir(runDir, "run-d")
		if err != nil {
			t.Fatalf("OutputDir: %v", err)
		}
		want := filepath.Join(runDir, "run-d", "Alignment_1", "n1", "Fastq")
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})

	t.Run("no output", func(t *testing.T) {
		runDir := t.TempDir()
		mkdirs(t, filepath.Join(runDir, "Logs"))
		_, err := OutputDir(runDir, "run-e")
		if !errors.Is(err, ErrNoOutput) {
			t.Fatalf("want ErrNoOutput, got %v", err)
		}
	})
}

func TestFiles(t *testing.T) {
	out := t.TempDir()
	touch(t, filepath.Join(out, "sample1.fastq.gz"), "AAAA")
	touch(t, filepath.Join(out, "run_fastq.tar.gz"), "BBBB")
	touch(t, filepath.Join(out, "RunInfo.xml"), "<xml/>")
	mkdirs(t, filepath.Join(out, "fastq_reports")) // dirs are skipped

	s := New(nil, "https://dl.example.org/public/", true)
	files, err := s.Files(out)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("want 2 files, got %+v", files)
	}

	byName := map[string]registry.File{}
	for _, f := range files {
		byName[f.LogicalName] = f
	}
	tarball, ok := byName["run_fastq.tar.gz"]
	if !ok {
		t.Fatal("tarball not listed")
	}
	if tarball.Location != "https://dl.example.org/public/run_fastq.tar.gz" {
		t.Errorf("public URL not applied: %s", tarball.Location)
	}
	if tarball.Checksum == "" {
		t.Error("archive checksum not computed")
	}
	if byName["sample1.fastq.gz"].Checksum != "" {
		t.Error("checksum should only be computed for .tar.gz archives")
	}
}

func TestSync(t *testing.T) {
	incoming := t.TempDir()
	ready := filepath.Join(incoming, "240519_M03491_0042")
	mkdirs(t, filepath.Join(ready, "Unaligned"))
	touch(t, filepath.Join(ready, "Unaligned", "run_fastq.tar.gz"), "data")
	// A run folder with no output yet.
	mkdirs(t, filepath.Join(incoming, "240520_M03491_0043"))

	reg := registry.NewMem(registry.Options{})
	s := New([]string{incoming}, "", false)

	completed, err := s.Sync(context.Background(), reg)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if completed != 1 {
		t.Fatalf("want 1 completed run, got %d", completed)
	}

	runs, err := reg.ListRuns(context.Background())
	if err != nil || len(runs) != 2 {
		t.Fatalf("ListRuns: %v (%d)", err, len(runs))
	}
	if runs[0].RunID != "240519_M03491_0042" || runs[0].CompletedAt.IsZero() {
		t.Errorf("ready run not registered as completed: %+v", runs[0])
	}
	if runs[1].RunID != "240520_M03491_0043" || !runs[1].CompletedAt.IsZero() {
		t.Errorf("pending run should register as in progress: %+v", runs[1])
	}
}
