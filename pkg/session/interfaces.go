package session

import (
	"context"
)

// Service performs the remote half of every lifecycle operation for one
// session type. Services never touch the store; the Manager owns status
// transitions and calls into the Service for the daemon round-trips.
//
// A no-op is a valid implementation for any operation the type does not need.
type Service interface {
	// Type returns the session type this service handles.
	Type() Type

	// Capabilities returns the operations this service implements with real behavior.
	Capabilities() []Capability

	// Create provisions the session remotely and returns the daemon-issued id.
	Create(ctx context.Context, req CreateRequest) (string, error)

	// Update pushes edited fields. Nil credential fields must not be sent.
	Update(ctx context.Context, req UpdateRequest) error

	// Delete removes the session from the daemon.
	Delete(ctx context.Context, s Session) error

	// Start asks the daemon to mint and apply credentials.
	// The call may block while the daemon waits for an MFA token.
	Start(ctx context.Context, s Session) error

	// Stop asks the daemon to revoke and remove credentials.
	Stop(ctx context.Context, s Session) error

	// Rotate refreshes credentials of an active session.
	Rotate(ctx context.Context, s Session) error

	// ApplyCredentials writes credentials where consumers read them.
	ApplyCredentials(ctx context.Context, s Session) error

	// DeApplyCredentials removes previously applied credentials.
	DeApplyCredentials(ctx context.Context, s Session) error

	// GenerateCredentials returns the credentials currently backing the session.
	GenerateCredentials(ctx context.Context, s Session) (*Credentials, error)
}

// Store is the single source of truth for session state.
type Store interface {
	// Add inserts a new session. Duplicate ids fail with a conflict error.
	Add(s Session) error

	// Remove deletes a session. Removing an unknown id is not an error.
	Remove(id string)

	// Get returns a copy of the session or a not_found error.
	Get(id string) (Session, error)

	// List returns a snapshot in insertion order.
	List() []Session

	// Replace swaps the whole entry for s.ID.
	Replace(s Session) error

	// Update applies fn to the current entry and stores the result atomically.
	Update(id string, fn func(Session) Session) (Session, error)

	// Lock serializes mutations of one session id; call the returned func to release.
	Lock(id string) func()
}

// HasCapability reports whether svc lists c among its capabilities.
func HasCapability(svc Service, c Capability) bool {
	for _, have := range svc.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}
