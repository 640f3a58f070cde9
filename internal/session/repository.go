package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session cannot be found by ID.
var ErrNotFound = errors.New("session not found")

// Repository defines session persistence.
type Repository interface {
	// Save stores a session, replacing any existing one with the same ID.
	Save(ctx context.Context, s *Session) error

	// FindByID returns a copy of the session.
	// Returns ErrNotFound if it does not exist.
	FindByID(ctx context.Context, id string) (*Session, error)

	// Update applies fn to the stored session atomically. If fn returns an
	// error the session is left unchanged.
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)

	// Delete removes a session.
	// Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// IdleBefore returns the IDs of sessions that are not processing and
	// were last updated before cutoff.
	IdleBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}
