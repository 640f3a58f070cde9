// Package session holds the per-user state that survives across
// interactions: the selected tool and whether an upload is being processed.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/vidsuite/internal/session/id"
	"github.com/maauso/vidsuite/internal/tool"
)

// ErrBusy is returned by Begin when the session is already processing an upload.
var ErrBusy = errors.New("session is already processing an upload")

// Session is one user's continuous sequence of interactions.
type Session struct {
	mu sync.RWMutex

	// ID is the unique identifier for this session.
	ID string
	// SelectedTool is the currently chosen tool. It changes only through Select.
	SelectedTool tool.ID
	// Processing is true while a routine runs for this session.
	Processing bool
	// CreatedAt is when the session was created.
	CreatedAt time.Time
	// UpdatedAt is when the session was last updated.
	UpdatedAt time.Time
}

// New creates a session with a generated ID and the given default selection.
func New(defaultTool tool.ID) *Session {
	return NewWithID(id.Generate(), defaultTool)
}

// NewWithID creates a session with a caller-provided ID.
func NewWithID(sessionID string, defaultTool tool.ID) *Session {
	now := time.Now()
	return &Session{
		ID:           sessionID,
		SelectedTool: defaultTool,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Select records an explicit tool selection.
func (s *Session) Select(t tool.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SelectedTool = t
	s.UpdatedAt = time.Now()
}

// Touch records activity without changing the selection.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdatedAt = time.Now()
}

// Idle reports whether the session is not processing and was last updated
// before cutoff.
func (s *Session) Idle(cutoff time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.Processing && s.UpdatedAt.Before(cutoff)
}

// Selection returns the current tool selection.
func (s *Session) Selection() tool.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SelectedTool
}

// Begin marks the session as processing. Returns ErrBusy if it already is.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Processing {
		return ErrBusy
	}
	s.Processing = true
	s.UpdatedAt = time.Now()
	return nil
}

// End clears the processing flag.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processing = false
	s.UpdatedAt = time.Now()
}

// Clone creates a copy of the session for safe reads.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Session{
		ID:           s.ID,
		SelectedTool: s.SelectedTool,
		Processing:   s.Processing,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
