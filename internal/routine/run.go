package routine

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/vidsuite/internal/tool"
)

// Status is the state of a single routine run.
type Status string

const (
	// StatusIdle indicates the run has not started.
	StatusIdle Status = "IDLE"
	// StatusRunning indicates the collaborator call is in progress.
	StatusRunning Status = "RUNNING"
	// StatusSucceeded indicates the run produced an output.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusFailed indicates the run ended with a Failure.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed. Terminal
// states have no way out, so a run is never retried.
var validTransitions = map[Status][]Status{
	StatusIdle:      {StatusRunning},
	StatusRunning:   {StatusSucceeded, StatusFailed},
	StatusSucceeded: {},
	StatusFailed:    {},
}

func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Run tracks one invocation of a routine for one upload.
type Run struct {
	mu sync.RWMutex

	Tool       tool.ID
	Status     Status
	Result     Result
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRun returns an idle run for t.
func NewRun(t tool.ID) *Run {
	return &Run{Tool: t, Status: StatusIdle}
}

// TransitionTo attempts to change the run status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (r *Run) TransitionTo(status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.Status, status) {
		return ErrInvalidTransition
	}

	r.Status = status
	now := time.Now()
	switch status {
	case StatusRunning:
		r.StartedAt = now
	case StatusSucceeded, StatusFailed:
		r.FinishedAt = now
	}
	return nil
}

// Start moves the run from IDLE to RUNNING.
func (r *Run) Start() error {
	return r.TransitionTo(StatusRunning)
}

// Finish records res and moves the run to the matching terminal state.
func (r *Run) Finish(res Result) error {
	to := StatusFailed
	if res.OK() {
		to = StatusSucceeded
	}
	if err := r.TransitionTo(to); err != nil {
		return err
	}
	r.mu.Lock()
	r.Result = res
	r.mu.Unlock()
	return nil
}

// GetStatus returns the current status (thread-safe).
func (r *Run) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// Elapsed returns how long the run took, or zero while it is not finished.
func (r *Run) Elapsed() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
