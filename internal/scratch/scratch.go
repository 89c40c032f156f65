// Package scratch manages short-lived files derived from uploaded receipts.
//
// Every Create must be paired with a Release. Sweep and Run exist as a
// backstop for files whose release failed or was never reached.
package scratch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Tracker owns a scratch directory and the files created in it
type Tracker struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]time.Time
}

// NewTracker creates a tracker rooted at dir. An empty dir creates a fresh
// directory under the system temp dir.
func NewTracker(dir string, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "spend-tracker-")
		if err != nil {
			return nil, fmt.Errorf("creating scratch dir: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}

	return &Tracker{
		dir:    dir,
		logger: logger,
		live:   make(map[string]time.Time),
	}, nil
}

// Dir returns the scratch directory
func (t *Tracker) Dir() string {
	return t.dir
}

// Create writes data to a new file matching pattern (as in os.CreateTemp)
func (t *Tracker) Create(pattern string, data []byte) (*Handle, error) {
	f, err := os.CreateTemp(t.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("creating scratch file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("closing scratch file: %w", err)
	}

	t.mu.Lock()
	t.live[path] = time.Now()
	t.mu.Unlock()

	return &Handle{path: path, tracker: t}, nil
}

// Live returns the number of files created but not yet removed
func (t *Tracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

func (t *Tracker) remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	t.mu.Lock()
	delete(t.live, path)
	t.mu.Unlock()
	return nil
}

// Sweep removes tracked files older than maxAge and returns how many were
// removed. Files the tracker did not create are left alone.
func (t *Tracker) Sweep(maxAge time.Duration) int {
	t.mu.Lock()
	paths := make([]string, 0, len(t.live))
	for path := range t.live {
		paths = append(paths, path)
	}
	t.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err == nil && info.ModTime().After(cutoff) {
			continue
		}
		if err != nil && !os.IsNotExist(err) {
			t.logger.Warn("checking scratch file", "path", path, "error", err)
			continue
		}

		if err := t.remove(path); err != nil {
			t.logger.Warn("sweeping scratch file", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		t.logger.Info("swept scratch files", "count", removed)
	}
	return removed
}

// Run sweeps every interval until ctx is canceled
func (t *Tracker) Run(ctx context.Context, interval, maxAge time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Sweep(maxAge)
		}
	}
}

// Handle is one scratch file. Release is safe to call from every exit path.
type Handle struct {
	path    string
	tracker *Tracker
	once    sync.Once
	err     error
}

// Path returns the file location
func (h *Handle) Path() string {
	return h.path
}

// Release removes the file. Only the first call does any work; a failed
// removal is logged and left for Sweep.
func (h *Handle) Release() error {
	h.once.Do(func() {
		if err := h.tracker.remove(h.path); err != nil {
			h.tracker.logger.Warn("releasing scratch file", "path", h.path, "error", err)
			h.err = err
		}
	})
	return h.err
}
