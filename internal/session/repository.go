package session

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned when a session does not exist.
var ErrSessionNotFound = errors.New("session: not found")

// Repository defines the persistence interface for preview sessions.
// Sessions are live aggregates (they own an engine bridge), so
// implementations store and return them by reference.
type Repository interface {
	// Save stores a session.
	Save(ctx context.Context, s *Session) error

	// FindByID retrieves a session by its ID.
	// Returns ErrSessionNotFound if it does not exist.
	FindByID(ctx context.Context, id string) (*Session, error)

	// List returns all live sessions.
	List(ctx context.Context) ([]*Session, error)

	// Delete removes a session from storage.
	// Returns ErrSessionNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}
