package bootstrap

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/john/chatguard/internal/metrics"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxAttempts = 20
)

// State is the supervisor's position in Polling -> Activated | GaveUp
type State int

const (
	Polling State = iota
	Activated
	GaveUp
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Activated:
		return "activated"
	case GaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// Terminal reports whether polling has stopped for good
func (s State) Terminal() bool {
	return s != Polling
}

// Surface is what the supervisor needs from a surface adapter
type Surface interface {
	Name() string
	ContainerPresent() bool
	Observe() bool
	ScanExisting() int
}

// Supervisor polls a page for surface containers and activates the
// adapters whose container shows up, giving up after a fixed number of
// empty attempts.
type Supervisor struct {
	page        string
	surfaces    []Surface
	interval    time.Duration
	maxAttempts int
	logger      *zap.Logger

	stepMu sync.Mutex // serializes Step

	mu       sync.Mutex // guards the fields below
	state    State
	attempts int
	active   []string
}

// New creates a supervisor over surfaces. Zero interval or maxAttempts use
// the defaults.
func New(page string, surfaces []Surface, interval time.Duration, maxAttempts int, logger *zap.Logger) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Supervisor{
		page:        page,
		surfaces:    surfaces,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Step performs one poll attempt and returns the resulting state. Steps
// after a terminal state do nothing.
func (s *Supervisor) Step() State {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	s.mu.Lock()
	if s.state.Terminal() {
		state := s.state
		s.mu.Unlock()
		return state
	}
	var pending []Surface
	for _, surf := range s.surfaces {
		if !s.isActive(surf.Name()) {
			pending = append(pending, surf)
		}
	}
	attempt := s.attempts + 1
	s.mu.Unlock()

	// Unlocked: a scan may block on a full dispatcher while Status is read
	var activated []string
	for _, surf := range pending {
		if !surf.ContainerPresent() {
			continue
		}
		// Observer first, so nothing added during the scan is missed.
		if !surf.Observe() {
			continue
		}
		n := surf.ScanExisting()
		activated = append(activated, surf.Name())
		s.logger.Info("Surface activated",
			zap.String("surface", surf.Name()),
			zap.Int("existing_messages", n),
			zap.Int("attempt", attempt))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = append(s.active, activated...)
	s.attempts = attempt

	switch {
	case len(s.active) > 0:
		s.state = Activated
	case s.attempts >= s.maxAttempts:
		s.state = GaveUp
		s.logger.Info("No supported chat surface found, leaving page unannotated",
			zap.Int("attempts", s.attempts))
	}

	if s.state.Terminal() {
		metrics.SupervisorOutcomes.WithLabelValues(s.state.String()).Inc()
	}
	return s.state
}

// Run polls every interval until the supervisor reaches a terminal state
// or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("Waiting for chat surfaces",
		zap.Duration("interval", s.interval),
		zap.Int("max_attempts", s.maxAttempts))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.Step().Terminal() {
				return nil
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Status is a point-in-time view of a supervisor
type Status struct {
	Page     string   `json:"page"`
	State    string   `json:"state"`
	Attempts int      `json:"attempts"`
	Active   []string `json:"active_surfaces"`
}

// Status returns the current state, attempt count and active surfaces
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Page:     s.page,
		State:    s.state.String(),
		Attempts: s.attempts,
		Active:   append([]string(nil), s.active...),
	}
}

// State returns the current state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) isActive(name string) bool {
	for _, n := range s.active {
		if n == name {
			return true
		}
	}
	return false
}
