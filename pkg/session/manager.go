package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anirudhbiyani/cloud-session/pkg/logging"
)

// Manager drives the session state machine against the registered services
// and the store.
//
// Failures of operations on an existing session are recorded in that
// session's status (StatusError plus LastError) instead of being returned.
// Create and the final parent delete of Delete return their errors because
// there is no session left to carry them.
type Manager struct {
	registry *Registry
	store    Store
	logger   *slog.Logger
	now      func() time.Time
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithRegistry sets the service registry.
func WithRegistry(r *Registry) ManagerOption {
	return func(m *Manager) {
		m.registry = r
	}
}

// WithStore sets the session store.
func WithStore(s Store) ManagerOption {
	return func(m *Manager) {
		m.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the time source used for StartedAt.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager with the given options.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: NewRegistry(),
		store:    NewMemoryStore(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "session")
	return m
}

// Store returns the backing store.
func (m *Manager) Store() Store {
	return m.store
}

// Sessions returns a snapshot of all sessions in insertion order.
func (m *Manager) Sessions() []Session {
	return m.store.List()
}

// Get returns a copy of one session.
func (m *Manager) Get(id string) (Session, error) {
	return m.store.Get(id)
}

// Create provisions a new session remotely and adds it to the store as stopped.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Session, error) {
	if err := req.Validate(); err != nil {
		return Session{}, ErrValidation(err.Error()).WithOperation("create")
	}
	if chained, ok := req.(*ChainedCreateRequest); ok {
		if err := m.checkParent(chained.ParentID); err != nil {
			return Session{}, err
		}
	}

	svc, err := m.registry.Get(req.Type())
	if err != nil {
		return Session{}, err
	}

	id, err := svc.Create(ctx, req)
	if err != nil {
		return Session{}, fmt.Errorf("create %s session: %w", req.Type(), err)
	}

	sess := newSession(id, req)
	if err := m.store.Add(sess); err != nil {
		return Session{}, fmt.Errorf("create %s session: %w", req.Type(), err)
	}
	m.logger.Info("session created",
		logging.SessionID(id),
		logging.String("type", string(sess.Type)),
		logging.String("account", sess.AccountName))
	return sess, nil
}

// Start moves a session through loading to active, or to error on failure.
// Only an unknown id is reported as an error.
//
// The per-id lock is not held during the remote call: the daemon may hold the
// request open until an MFA prompt is answered, and cancelling that prompt
// stops the same session. The loading status guards against a second Start.
func (m *Manager) Start(ctx context.Context, id string) error {
	sess, svc, proceed, err := m.beginStart(id)
	if err != nil || !proceed {
		return err
	}

	startErr := svc.Start(ctx, sess)
	if startErr == nil && HasCapability(svc, CapabilityApplyCredentials) {
		startErr = svc.ApplyCredentials(ctx, sess)
	}

	unlock := m.store.Lock(id)
	defer unlock()
	_, err = m.store.Update(id, func(cur Session) Session {
		if cur.Status != StatusLoading {
			// Stopped or deleted while the daemon was working.
			return cur
		}
		if startErr != nil {
			cur.Status = StatusError
			cur.LastError = startErr.Error()
			return cur
		}
		cur.Status = StatusActive
		cur.StartedAt = m.now()
		cur.LastError = ""
		return cur
	})
	if err != nil {
		m.logger.Debug("session removed while starting", logging.SessionID(id))
		return nil
	}
	if startErr != nil {
		m.warn("session start failed", "session_start_failed", id, startErr,
			"session moved to error status", "retry start once the daemon reports healthy")
		return nil
	}
	m.logger.Info("session started", logging.SessionID(id))
	return nil
}

func (m *Manager) beginStart(id string) (Session, Service, bool, error) {
	unlock := m.store.Lock(id)
	defer unlock()

	sess, err := m.store.Get(id)
	if err != nil {
		return Session{}, nil, false, err
	}
	if sess.Status == StatusActive || sess.Status == StatusLoading {
		m.logger.Debug("start ignored", logging.SessionID(id), logging.String("status", string(sess.Status)))
		return sess, nil, false, nil
	}

	svc, err := m.registry.Get(sess.Type)
	if err != nil {
		m.recordFailure(id, "start", err)
		return sess, nil, false, nil
	}
	if sess.Type.Chained() {
		if err := m.checkParent(sess.ParentID); err != nil {
			m.recordFailure(id, "start", err)
			return sess, nil, false, nil
		}
	}

	sess, err = m.store.Update(id, func(cur Session) Session {
		cur.Status = StatusLoading
		cur.LastError = ""
		return cur
	})
	if err != nil {
		return Session{}, nil, false, err
	}
	return sess, svc, true, nil
}

// Stop moves a session to stopped, or to error when the daemon call fails.
// Only an unknown id is reported as an error.
func (m *Manager) Stop(ctx context.Context, id string) error {
	unlock := m.store.Lock(id)
	defer unlock()

	sess, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if sess.Status == StatusStopped {
		return nil
	}
	if err := m.stopLocked(ctx, sess); err != nil {
		m.warn("session stop failed", "session_stop_failed", id, err,
			"credentials may still be applied", "retry stop")
	}
	return nil
}

// stopLocked performs the remote stop and records the outcome. The caller holds the id lock.
func (m *Manager) stopLocked(ctx context.Context, sess Session) error {
	svc, err := m.registry.Get(sess.Type)
	if err == nil {
		err = svc.Stop(ctx, sess)
	}
	if err == nil && HasCapability(svc, CapabilityDeApplyCredentials) {
		err = svc.DeApplyCredentials(ctx, sess)
	}
	if err != nil {
		m.recordFailure(sess.ID, "stop", err)
		return err
	}
	_, _ = m.store.Update(sess.ID, func(cur Session) Session {
		cur.Status = StatusStopped
		cur.StartedAt = time.Time{}
		cur.LastError = ""
		return cur
	})
	m.logger.Info("session stopped", logging.SessionID(sess.ID))
	return nil
}

// RecordStop applies the outcome of a stop issued outside the Manager, such
// as the one sent when an MFA prompt is declined. A nil stopErr moves the
// session to stopped whatever its current status; an id absent from the
// store is ignored.
func (m *Manager) RecordStop(id string, stopErr error) {
	unlock := m.store.Lock(id)
	defer unlock()

	if _, err := m.store.Get(id); err != nil {
		return
	}
	if stopErr != nil {
		m.recordFailure(id, "stop", stopErr)
		return
	}
	_, _ = m.store.Update(id, func(cur Session) Session {
		cur.Status = StatusStopped
		cur.StartedAt = time.Time{}
		cur.LastError = ""
		return cur
	})
	m.logger.Info("session stopped", logging.SessionID(id))
}

// Update pushes edited fields to the daemon and replaces the store entry.
// An id absent from the store is a no-op with no remote call.
func (m *Manager) Update(ctx context.Context, req UpdateRequest) error {
	id := req.Session.ID
	unlock := m.store.Lock(id)
	defer unlock()

	cur, err := m.store.Get(id)
	if err != nil {
		m.logger.Debug("update ignored for unknown session", logging.SessionID(id))
		return nil
	}

	svc, err := m.registry.Get(cur.Type)
	if err != nil {
		return err
	}
	if err := svc.Update(ctx, req); err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}

	next := req.Session
	next.Type = cur.Type
	next.Status = cur.Status
	next.StartedAt = cur.StartedAt
	next.LastError = cur.LastError
	return m.store.Replace(next)
}

// Delete tears down a session and every chained session that depends on it.
//
// Dependents are stopped (if active), deleted remotely and removed from the
// store one at a time; their failures do not stop the cascade. The parent's
// own remote delete runs last and its error is returned with the parent left
// in the store. When only dependent steps failed the parent is removed and a
// *CascadeError lists the failures.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.store.Lock(id)
	defer unlock()

	sess, err := m.store.Get(id)
	if err != nil {
		return err
	}
	svc, err := m.registry.Get(sess.Type)
	if err != nil {
		return err
	}

	if sess.Status == StatusActive && !m.brokenChain(sess) {
		if err := m.stopLocked(ctx, sess); err != nil {
			m.warn("stop before delete failed", "session_delete_stop_failed", id, err,
				"delete continues", "check the daemon for leftover credentials")
		}
	}

	deps := m.dependents(id)
	var failures []StepFailure
	for _, dep := range deps {
		failures = append(failures, m.deleteDependent(ctx, dep.ID)...)
	}

	if err := svc.Delete(ctx, sess); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	m.store.Remove(id)
	m.logger.Info("session deleted", logging.SessionID(id), logging.Int("dependents", len(deps)))

	if len(failures) > 0 {
		cascadeErr := &CascadeError{ParentID: id, Failures: failures}
		m.warn("dependent sessions not fully deleted", "session_cascade_partial", id, cascadeErr,
			"daemon may keep orphaned chained sessions", "delete the listed sessions from the daemon")
		return cascadeErr
	}
	return nil
}

func (m *Manager) deleteDependent(ctx context.Context, id string) []StepFailure {
	unlock := m.store.Lock(id)
	defer unlock()

	dep, err := m.store.Get(id)
	if err != nil {
		// Already removed by a concurrent delete.
		return nil
	}

	var failures []StepFailure
	svc, err := m.registry.Get(dep.Type)
	if err != nil {
		m.store.Remove(id)
		return []StepFailure{{SessionID: id, Step: "delete", Err: err}}
	}
	if dep.Status == StatusActive {
		if err := m.stopLocked(ctx, dep); err != nil {
			failures = append(failures, StepFailure{SessionID: id, Step: "stop", Err: err})
		}
	}
	if err := svc.Delete(ctx, dep); err != nil {
		failures = append(failures, StepFailure{SessionID: id, Step: "delete", Err: err})
	}
	m.store.Remove(id)
	return failures
}

// Rotate refreshes credentials of an active session. Failures move the session to error.
func (m *Manager) Rotate(ctx context.Context, id string) error {
	unlock := m.store.Lock(id)
	defer unlock()

	sess, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if sess.Status != StatusActive {
		return nil
	}
	svc, err := m.registry.Get(sess.Type)
	if err == nil {
		if !HasCapability(svc, CapabilityRotate) {
			m.logger.Debug("rotate skipped, type re-mints on start", logging.SessionID(id),
				logging.String("type", string(sess.Type)))
			return nil
		}
		err = svc.Rotate(ctx, sess)
	}
	if err != nil {
		m.recordFailure(id, "rotate", err)
		m.warn("session rotate failed", "session_rotate_failed", id, err,
			"session moved to error status", "restart the session")
	}
	return nil
}

// GenerateCredentials returns the credentials currently backing a session.
func (m *Manager) GenerateCredentials(ctx context.Context, id string) (*Credentials, error) {
	sess, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	svc, err := m.registry.Get(sess.Type)
	if err != nil {
		return nil, err
	}
	if !HasCapability(svc, CapabilityGenerateCredentials) {
		return nil, NewError(ErrCategoryUnsupported,
			fmt.Sprintf("session type %q cannot generate credentials", sess.Type)).
			WithOperation("credentials").WithSession(id)
	}
	creds, err := svc.GenerateCredentials(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("generate credentials for %s: %w", id, err)
	}
	return creds, nil
}

// dependents returns the chained sessions whose parent is id.
func (m *Manager) dependents(id string) []Session {
	var out []Session
	for _, s := range m.store.List() {
		if s.Type.Chained() && s.ParentID == id {
			out = append(out, s)
		}
	}
	return out
}

// brokenChain reports whether a chained session's parent is missing or incompatible.
func (m *Manager) brokenChain(s Session) bool {
	return s.Type.Chained() && m.checkParent(s.ParentID) != nil
}

func (m *Manager) checkParent(parentID string) error {
	parent, err := m.store.Get(parentID)
	if err != nil {
		return ErrValidation(fmt.Sprintf("parent session %s does not exist", parentID)).WithSession(parentID)
	}
	if parent.Type.Chained() {
		return ErrValidation(fmt.Sprintf("parent session %s is itself chained", parentID)).WithSession(parentID)
	}
	return nil
}

// recordFailure moves a session to error. The caller holds the id lock.
func (m *Manager) recordFailure(id, op string, err error) {
	_, _ = m.store.Update(id, func(cur Session) Session {
		cur.Status = StatusError
		cur.LastError = fmt.Sprintf("%s: %v", op, err)
		return cur
	})
}

func (m *Manager) warn(msg, eventType, id string, err error, impact, hint string) {
	logging.WarnWithContext(m.logger, msg, eventType,
		logging.SessionID(id),
		logging.Error(err),
		logging.String(logging.FieldImpact, impact),
		logging.String(logging.FieldErrorHint, hint))
}

func newSession(id string, req CreateRequest) Session {
	sess := Session{ID: id, Type: req.Type(), Status: StatusStopped}
	switch r := req.(type) {
	case *IAMUserCreateRequest:
		sess.AccountName = r.AccountName
		sess.Region = r.Region
		sess.MFADevice = r.MFADevice
		sess.ProfileID = r.ProfileName
	case *ChainedCreateRequest:
		sess.AccountName = r.AccountName
		sess.Region = r.Region
		sess.ParentID = r.ParentID
		sess.RoleARN = r.RoleARN
		sess.RoleSessionName = r.RoleSessionName
		sess.ProfileID = r.ProfileName
	}
	return sess
}
