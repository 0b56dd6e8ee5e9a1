// Package mfa correlates daemon MFA token requests with the user.
//
// At most one prompt is outstanding process-wide. Notifications that arrive
// while a prompt is open are dropped, not queued.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anirudhbiyani/cloud-session/pkg/logging"
	"github.com/anirudhbiyani/cloud-session/pkg/session"
)

// ErrCancelled is returned by a Prompter when the user declines to enter a code.
var ErrCancelled = errors.New("mfa prompt cancelled")

// ErrNoPendingRequest is returned by Resolve and Cancel when the id does not
// match the outstanding prompt.
var ErrNoPendingRequest = errors.New("no matching pending mfa request")

// LabelResolver looks up a display label for a session from the daemon.
type LabelResolver interface {
	Label(ctx context.Context, sessionID string) (string, error)
}

// Confirmer forwards an MFA code to the daemon.
type Confirmer interface {
	ConfirmMFA(ctx context.Context, sessionID, code string) error
}

// Stopper stops a session whose MFA prompt was declined.
type Stopper interface {
	Stop(ctx context.Context, sessionID string) error
}

// Prompter asks the user for a code. It returns ErrCancelled (or any error)
// when no code is given.
type Prompter interface {
	Prompt(ctx context.Context, req PendingRequest) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req PendingRequest) (string, error)

// Prompt implements Prompter.
func (f PrompterFunc) Prompt(ctx context.Context, req PendingRequest) (string, error) {
	return f(ctx, req)
}

// Event is an inbound MFA token request.
type Event struct {
	SessionID  string
	ReceivedAt time.Time
}

// Coordinator owns the MFA gate.
type Coordinator struct {
	resolver  LabelResolver
	confirmer Confirmer
	stopper   Stopper
	prompter  Prompter

	logger   *slog.Logger
	now      func() time.Time
	onResult func(sessionID string, err error)

	busy   atomic.Bool
	events chan Event

	mu      sync.Mutex
	current *PendingRequest
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithResultHandler registers a callback invoked after every handled event.
// err is nil when the code was confirmed.
func WithResultHandler(fn func(sessionID string, err error)) Option {
	return func(c *Coordinator) {
		c.onResult = fn
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(resolver LabelResolver, confirmer Confirmer, stopper Stopper, prompter Prompter, opts ...Option) *Coordinator {
	c := &Coordinator{
		resolver:  resolver,
		confirmer: confirmer,
		stopper:   stopper,
		prompter:  prompter,
		now:       time.Now,
		events:    make(chan Event, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "mfa")
	return c
}

// Notify offers an event to the coordinator. It reports false and drops the
// event when a prompt is already in flight.
func (c *Coordinator) Notify(evt Event) bool {
	if !c.busy.CompareAndSwap(false, true) {
		logging.WarnWithContext(c.logger, "mfa request dropped", "mfa_request_dropped",
			logging.SessionID(evt.SessionID),
			logging.String(logging.FieldImpact, "the daemon keeps waiting for a code for this session"),
			logging.String(logging.FieldErrorHint, "finish the open prompt, then start the session again"))
		return false
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = c.now()
	}
	c.events <- evt
	return true
}

// Run handles accepted events until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-c.events:
			c.process(ctx, evt)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, evt Event) {
	defer c.busy.Store(false)

	err := c.Handle(ctx, evt)
	if err != nil {
		logging.WarnWithContext(c.logger, "mfa request failed", "mfa_request_failed",
			logging.SessionID(evt.SessionID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "session start does not complete"),
			logging.String(logging.FieldErrorHint, "start the session again"))
	}
	if c.onResult != nil {
		c.onResult(evt.SessionID, err)
	}
}

// Handle runs one prompt to completion: label lookup, prompt, then either
// confirmation of the code or a stop of the session.
func (c *Coordinator) Handle(ctx context.Context, evt Event) error {
	id := evt.SessionID

	label, err := c.resolver.Label(ctx, id)
	if err != nil {
		c.logger.Debug("label lookup failed, using session id", logging.SessionID(id), logging.Error(err))
		label = id
	}

	req := newPendingRequest(id, label, c.now())
	c.setCurrent(&req)
	defer c.setCurrent(nil)

	promptCtx, cancelPrompt := context.WithCancel(ctx)
	defer cancelPrompt()
	go func() {
		code, err := c.prompter.Prompt(promptCtx, req)
		if err != nil {
			req.Cancel()
			return
		}
		req.Resolve(code)
	}()

	select {
	case <-req.Done():
	case <-ctx.Done():
		req.Cancel()
	}

	code, ok := req.Result()
	if !ok {
		c.logger.Info("mfa prompt declined, stopping session", logging.SessionID(id))
		if err := c.stopper.Stop(context.WithoutCancel(ctx), id); err != nil {
			c.logger.Debug("stop after declined mfa failed", logging.SessionID(id), logging.Error(err))
		}
		return session.ErrMissingMFAToken(id).WithOperation("mfa")
	}

	if err := c.confirmer.ConfirmMFA(ctx, id, code); err != nil {
		return fmt.Errorf("confirm mfa token: %w", err)
	}
	c.logger.Info("mfa token confirmed", logging.SessionID(id))
	return nil
}

// Current returns the outstanding prompt, if any.
func (c *Coordinator) Current() (PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return PendingRequest{}, false
	}
	return *c.current, true
}

// Resolve answers the outstanding prompt identified by requestID.
func (c *Coordinator) Resolve(requestID, code string) error {
	req, ok := c.Current()
	if !ok || req.ID != requestID {
		return ErrNoPendingRequest
	}
	req.Resolve(code)
	return nil
}

// Cancel declines the outstanding prompt identified by requestID.
func (c *Coordinator) Cancel(requestID string) error {
	req, ok := c.Current()
	if !ok || req.ID != requestID {
		return ErrNoPendingRequest
	}
	req.Cancel()
	return nil
}

func (c *Coordinator) setCurrent(req *PendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = req
}
