package logging

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// logCleaner prunes rotated log files in the logs directory so the total
// size stays under the configured cap. The active main.log is never removed.
type logCleaner struct {
	dir      string
	maxBytes int64
	keep     string
	cancel   context.CancelFunc
}

const logCleanerSweepInterval = time.Minute

var activeLogCleaner *logCleaner

// startLogCleanerLocked replaces the running cleaner with one for the given
// settings. A cap of zero or below disables cleanup. Caller holds writerMu.
func startLogCleanerLocked(logDir string, maxTotalSizeMB int, keepPath string) {
	stopLogCleanerLocked()

	dir := strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || dir == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cleaner := &logCleaner{
		dir:      filepath.Clean(dir),
		maxBytes: int64(maxTotalSizeMB) * 1024 * 1024,
		keep:     strings.TrimSpace(keepPath),
		cancel:   cancel,
	}
	activeLogCleaner = cleaner
	go cleaner.run(ctx)
}

// stopLogCleanerLocked stops the running cleaner, if any. Caller holds writerMu.
func stopLogCleanerLocked() {
	if activeLogCleaner == nil {
		return
	}
	activeLogCleaner.cancel()
	activeLogCleaner = nil
}

func (c *logCleaner) run(ctx context.Context) {
	ticker := time.NewTicker(logCleanerSweepInterval)
	defer ticker.Stop()

	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *logCleaner) sweep() {
	pruned, err := c.prune()
	if err != nil {
		log.WithError(err).Warn("logging: log directory cleanup failed")
		return
	}
	if pruned > 0 {
		log.Debugf("logging: pruned %d log file(s) to stay under the size cap", pruned)
	}
}

// prune deletes the oldest removable log files until the directory total is
// within the cap. It returns the number of files removed.
func (c *logCleaner) prune() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	type candidate struct {
		path    string
		size    int64
		modTime time.Time
	}

	var (
		candidates []candidate
		total      int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		candidates = append(candidates, candidate{
			path:    filepath.Join(c.dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}
	if total <= c.maxBytes {
		return 0, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	keep := c.keep
	if keep != "" {
		keep = filepath.Clean(keep)
	}

	pruned := 0
	for _, file := range candidates {
		if total <= c.maxBytes {
			break
		}
		if keep != "" && filepath.Clean(file.path) == keep {
			continue
		}
		if errRemove := os.Remove(file.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove log file: %s", filepath.Base(file.path))
			continue
		}
		total -= file.size
		pruned++
	}
	return pruned, nil
}

// isLogFileName reports whether a directory entry looks like a log file this
// service wrote: the main log, a lumberjack rotation, or a compressed one.
func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return false
	}
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
