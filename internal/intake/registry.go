package intake

import (
	"fmt"
	"sync"
	"time"
)

// Fingerprint identifies an upload by name, size and modification time
func Fingerprint(name string, size int64, modified time.Time) string {
	return fmt.Sprintf("%s-%d-%d", name, size, modified.UnixMilli())
}

// Registry is the set of fingerprints currently being scanned. One registry
// is shared by every scan in a process; tests create their own.
type Registry struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{inflight: make(map[string]struct{})}
}

// TryAcquire claims fp and reports whether it was free
func (r *Registry) TryAcquire(fp string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[fp]; ok {
		return false
	}
	r.inflight[fp] = struct{}{}
	return true
}

// Release frees fp. Releasing a free fingerprint does nothing.
func (r *Registry) Release(fp string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, fp)
}

// Held reports whether fp is currently claimed
func (r *Registry) Held(fp string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[fp]
	return ok
}

// Len returns the number of claimed fingerprints
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
