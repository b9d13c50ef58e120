package datapackage

import (
	"log/slog"
	"os"
	"sync"
)

// CleanupQueue collects scratch directories to remove once a response has
// been sent. Handlers create one per request and defer Run, so removal
// happens after the body is written even when writing fails or panics.
type CleanupQueue struct {
	mu   sync.Mutex
	dirs []string
	log  *slog.Logger
}

func NewCleanupQueue(log *slog.Logger) *CleanupQueue {
	return &CleanupQueue{log: log}
}

// Defer schedules dir for removal. Empty paths are ignored.
func (q *CleanupQueue) Defer(dir string) {
	if dir == "" {
		return
	}
	q.mu.Lock()
	q.dirs = append(q.dirs, dir)
	q.mu.Unlock()
}

// DeferPackages schedules the scratch directories of pkgs.
func (q *CleanupQueue) DeferPackages(pkgs ...*ResolvedPackage) {
	for _, p := range pkgs {
		if p != nil {
			q.Defer(p.ScratchDir)
		}
	}
}

// Run removes every queued directory. Already missing directories are not
// an error, so Run may be called more than once.
func (q *CleanupQueue) Run() {
	q.mu.Lock()
	dirs := q.dirs
	q.dirs = nil
	q.mu.Unlock()

	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			q.log.Warn("Scratch directory cleanup failed", "dir", dir, "err", err)
			continue
		}
		q.log.Debug("Scratch directory removed", "dir", dir)
	}
}
