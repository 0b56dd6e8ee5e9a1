package mfa

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingRequest is an outstanding MFA prompt. Copies share the resolution
// slot; the first Resolve or Cancel wins.
type PendingRequest struct {
	ID        string
	SessionID string
	Label     string
	CreatedAt time.Time

	slot *slot
}

type slot struct {
	once      sync.Once
	done      chan struct{}
	code      string
	cancelled bool
}

func newPendingRequest(sessionID, label string, now time.Time) PendingRequest {
	return PendingRequest{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Label:     label,
		CreatedAt: now,
		slot:      &slot{done: make(chan struct{})},
	}
}

// Resolve settles the request with code. It reports whether this call won.
func (p PendingRequest) Resolve(code string) bool {
	return p.settle(code, false)
}

// Cancel settles the request as declined. It reports whether this call won.
func (p PendingRequest) Cancel() bool {
	return p.settle("", true)
}

func (p PendingRequest) settle(code string, cancelled bool) bool {
	won := false
	p.slot.once.Do(func() {
		p.slot.code = code
		p.slot.cancelled = cancelled
		close(p.slot.done)
		won = true
	})
	return won
}

// Done is closed once the request is settled.
func (p PendingRequest) Done() <-chan struct{} {
	return p.slot.done
}

// Result returns the code once settled. ok is false for a cancelled or
// still-open request.
func (p PendingRequest) Result() (code string, ok bool) {
	select {
	case <-p.slot.done:
	default:
		return "", false
	}
	if p.slot.cancelled || p.slot.code == "" {
		return "", false
	}
	return p.slot.code, true
}
