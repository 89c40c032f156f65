package intake

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle position of a scan
type State string

const (
	Idle     State = "idle"
	Scanning State = "scanning"
	TimedOut State = "timed_out"
	Errored  State = "errored"
	Complete State = "complete"
)

var (
	// ErrTimedOut is reported to observers when the scan watchdog fires
	ErrTimedOut = errors.New("scan timed out")
	// ErrCanceled marks a scan closed by its caller
	ErrCanceled = errors.New("scan canceled")
)

// Status is a point-in-time view of a scan
type Status struct {
	Fingerprint string `json:"fingerprint"`
	State       State  `json:"state"`
	Progress    int    `json:"progress"`
	Message     string `json:"message,omitempty"`
	Attempt     int    `json:"attempt"`
}

// Scan drives one upload through idle, scanning and a terminal state.
// The fingerprint is claimed on Start and released exactly once per claim,
// whichever of Complete, Fail, Cancel or the watchdog gets there first.
type Scan struct {
	fingerprint string
	registry    *Registry
	observer    Observer
	logger      *slog.Logger

	mu       sync.Mutex
	state    State
	progress int
	message  string
	attempt  int
	held     bool
	canceled bool
	timer    *time.Timer
	timerGen int
}

// NewScan creates an idle scan for fingerprint. A nil observer discards events.
func NewScan(fingerprint string, registry *Registry, observer Observer, logger *slog.Logger) *Scan {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scan{
		fingerprint: fingerprint,
		registry:    registry,
		observer:    observer,
		logger:      logger.With("fingerprint", fingerprint),
		state:       Idle,
	}
}

// Fingerprint returns the scan's fingerprint
func (s *Scan) Fingerprint() string {
	return s.fingerprint
}

// Start moves the scan to scanning. It is a no-op returning false when the
// fingerprint is already in flight elsewhere, the scan was canceled, or the
// scan is not in idle, timed_out or errored.
func (s *Scan) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.canceled {
		s.logger.Info("not starting canceled scan")
		return false
	}
	switch s.state {
	case Idle, TimedOut, Errored:
	default:
		s.logger.Info("scan not restartable", "state", s.state)
		return false
	}

	if !s.held {
		if !s.registry.TryAcquire(s.fingerprint) {
			s.logger.Info("scan already in flight")
			return false
		}
		s.held = true
	}

	s.stopTimerLocked()
	s.state = Scanning
	s.progress = 0
	s.message = "Starting scan"
	s.attempt++
	return true
}

// UpdateProgress records progress while scanning. Values are clamped to
// 0..100 and never move backwards.
func (s *Scan) UpdateProgress(value int, message string) {
	s.mu.Lock()
	if s.state != Scanning {
		s.mu.Unlock()
		return
	}
	value = max(0, min(value, 100))
	if value > s.progress {
		s.progress = value
	}
	if message != "" {
		s.message = message
	}
	p := Progress{Fingerprint: s.fingerprint, Percent: s.progress, Message: s.message}
	s.mu.Unlock()

	s.observer.OnProgress(p)
}

// ArmTimeout starts a watchdog that moves the scan to timed_out if it is
// still scanning after d. It does not interrupt work in progress; callers
// check Active before using results.
func (s *Scan) ArmTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Scanning {
		return
	}
	s.stopTimerLocked()
	gen := s.timerGen
	s.timer = time.AfterFunc(d, func() { s.expire(gen) })
}

func (s *Scan) expire(gen int) {
	s.mu.Lock()
	if gen != s.timerGen || s.state != Scanning {
		s.mu.Unlock()
		return
	}
	s.state = TimedOut
	s.message = "Scan timed out"
	s.releaseLocked()
	s.mu.Unlock()

	s.logger.Warn("scan timed out")
	s.observer.OnError(s.fingerprint, ErrTimedOut)
}

// Complete finishes the scan and reports c to the observer. A timed out
// scan may still complete; the watchdog is advisory. It returns false for
// canceled, errored, idle or already complete scans.
func (s *Scan) Complete(c Completion) bool {
	s.mu.Lock()
	if !s.finishableLocked() {
		s.mu.Unlock()
		return false
	}
	s.stopTimerLocked()
	s.state = Complete
	s.progress = 100
	s.message = "Scan complete"
	s.releaseLocked()
	s.mu.Unlock()

	c.Fingerprint = s.fingerprint
	s.observer.OnComplete(c)
	return true
}

// Fail moves a scanning or timed out scan to errored and reports err
func (s *Scan) Fail(err error) bool {
	s.mu.Lock()
	if !s.finishableLocked() {
		s.mu.Unlock()
		return false
	}
	s.stopTimerLocked()
	s.state = Errored
	s.message = err.Error()
	s.releaseLocked()
	s.mu.Unlock()

	s.observer.OnError(s.fingerprint, err)
	return true
}

// Cancel closes the scan from the caller side. The fingerprint is released
// immediately and the scan cannot be restarted. Safe to call repeatedly.
func (s *Scan) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.canceled = true
	s.stopTimerLocked()
	if s.state == Scanning || s.state == Idle {
		s.state = Errored
		s.message = ErrCanceled.Error()
	}
	s.releaseLocked()
}

// Canceled reports whether Cancel was called
func (s *Scan) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Active reports whether results produced now should still be used
func (s *Scan) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Scanning && s.held && s.registry.Held(s.fingerprint)
}

// State returns the current lifecycle state
func (s *Scan) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the scan
func (s *Scan) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Fingerprint: s.fingerprint,
		State:       s.state,
		Progress:    s.progress,
		Message:     s.message,
		Attempt:     s.attempt,
	}
}

func (s *Scan) finishableLocked() bool {
	return !s.canceled && (s.state == Scanning || s.state == TimedOut)
}

func (s *Scan) releaseLocked() {
	if !s.held {
		return
	}
	s.held = false
	s.registry.Release(s.fingerprint)
}

func (s *Scan) stopTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
