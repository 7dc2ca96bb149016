package scheduler

import (
	"os"
	"path/filepath"
	"time"

	"shorts-relay/internal/logging"
)

// DownloadMonitor removes downloads that outlived their request, e.g. after a crash
// between retrieval and cleanup.
type DownloadMonitor struct {
	dir    string
	maxAge time.Duration
	log    *logging.Logger
}

func NewDownloadMonitor(dir string, maxAge time.Duration, log *logging.Logger) *DownloadMonitor {
	return &DownloadMonitor{dir: dir, maxAge: maxAge, log: log}
}

// Sweep deletes regular files in the download dir last modified before now-maxAge.
// A missing directory is not an error.
func (m *DownloadMonitor) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-m.maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed concurrently by a finishing request
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.log.Errorf("download monitor: remove %s: %v", path, err)
			continue
		}
		m.log.Infof("download monitor: removed stale %s (age %s)", path, now.Sub(info.ModTime()).Round(time.Minute))
		removed++
	}
	return removed, nil
}
