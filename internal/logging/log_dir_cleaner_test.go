package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLogFile(t *testing.T, dir, name string, size int, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("Failed to set mtime on %s: %v", name, err)
	}
	return path
}

func TestPruneRemovesOldestFirstAndKeepsActiveLog(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	oldest := writeLogFile(t, dir, "main-2025-01-01.log.gz", 1024, now.Add(-72*time.Hour))
	middle := writeLogFile(t, dir, "main-2025-01-02.log", 1024, now.Add(-48*time.Hour))
	active := writeLogFile(t, dir, "main.log", 1024, now.Add(-96*time.Hour))
	other := writeLogFile(t, dir, "notes.txt", 4096, now.Add(-96*time.Hour))

	cleaner := &logCleaner{dir: dir, maxBytes: 2 * 1024, keep: active}
	pruned, err := cleaner.prune()
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("Expected 1 pruned file, got %d", pruned)
	}
	if _, err = os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("Expected the oldest rotated log to be removed")
	}
	for _, path := range []string{middle, active, other} {
		if _, err = os.Stat(path); err != nil {
			t.Errorf("Expected %s to survive: %v", filepath.Base(path), err)
		}
	}
}

func TestPruneNoopUnderCap(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "main.log", 512, time.Now())

	cleaner := &logCleaner{dir: dir, maxBytes: 1024 * 1024}
	pruned, err := cleaner.prune()
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if pruned != 0 {
		t.Errorf("Expected no pruning under the cap, got %d", pruned)
	}
}

func TestPruneMissingDirectory(t *testing.T) {
	cleaner := &logCleaner{dir: filepath.Join(t.TempDir(), "missing"), maxBytes: 1024}
	pruned, err := cleaner.prune()
	if err != nil {
		t.Fatalf("Expected missing directory to be a no-op, got %v", err)
	}
	if pruned != 0 {
		t.Errorf("Expected 0 pruned files, got %d", pruned)
	}
}

func TestIsLogFileName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"main.log", true},
		{"main-2025-01-02T10-00-00.000.log", true},
		{"main-2025-01-02T10-00-00.000.log.gz", true},
		{"MAIN.LOG", true},
		{"notes.txt", false},
		{"main.log.bak", false},
		{"", false},
		{"  ", false},
	}
	for _, tt := range tests {
		if got := isLogFileName(tt.name); got != tt.want {
			t.Errorf("isLogFileName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
