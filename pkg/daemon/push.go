package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/anirudhbiyani/cloud-session/pkg/logging"
	"github.com/anirudhbiyani/cloud-session/pkg/session"
)

// MessageType tags push frames.
type MessageType int

const (
	// MessageTypeMFATokenRequest asks the client to collect an MFA code.
	MessageTypeMFATokenRequest MessageType = 0
)

// RegisterClientPath is the daemon's push channel endpoint.
const RegisterClientPath = "/websocket/register-client"

// Frame is one push notification. Data holds a JSON document encoded as a string.
type Frame struct {
	MessageType MessageType `json:"messageType"`
	Data        string      `json:"data"`
}

// MFATokenRequest is the payload of a MessageTypeMFATokenRequest frame.
type MFATokenRequest struct {
	SessionID string `json:"SessionId"`
}

// DecodeMFATokenRequest parses the data member of an MFA token request frame.
func DecodeMFATokenRequest(data string) (MFATokenRequest, error) {
	var req MFATokenRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return MFATokenRequest{}, fmt.Errorf("decode mfa token request: %w", err)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return MFATokenRequest{}, errors.New("decode mfa token request: SessionId is empty")
	}
	return req, nil
}

// Handler receives the data member of a frame. Handlers run on the read
// loop and must not block.
type Handler func(ctx context.Context, data string)

// Listener holds the push channel to the daemon and forwards typed frames to
// registered handlers. Notifications are best-effort: malformed or unknown
// frames are dropped.
type Listener struct {
	url    string
	logger *slog.Logger

	reconnect  bool
	minBackoff time.Duration
	maxBackoff time.Duration
	onConnect  func()

	mu       sync.RWMutex
	handlers map[MessageType]Handler
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger.
func WithListenerLogger(l *slog.Logger) ListenerOption {
	return func(ln *Listener) {
		ln.logger = l
	}
}

// WithReconnect makes Run redial after a dropped connection, backing off
// exponentially from minBackoff to maxBackoff. Without it a disconnect ends Run.
func WithReconnect(minBackoff, maxBackoff time.Duration) ListenerOption {
	return func(ln *Listener) {
		if minBackoff <= 0 {
			minBackoff = time.Second
		}
		if maxBackoff < minBackoff {
			maxBackoff = minBackoff
		}
		ln.reconnect = true
		ln.minBackoff = minBackoff
		ln.maxBackoff = maxBackoff
	}
}

// WithConnectHook calls fn after every successful dial.
func WithConnectHook(fn func()) ListenerOption {
	return func(ln *Listener) {
		ln.onConnect = fn
	}
}

// NewListener creates a listener for the websocket at wsURL.
func NewListener(wsURL string, opts ...ListenerOption) *Listener {
	ln := &Listener{
		url:      wsURL,
		handlers: make(map[MessageType]Handler),
	}
	for _, opt := range opts {
		opt(ln)
	}
	ln.logger = logging.NewComponentLogger(ln.logger, "push")
	return ln
}

// Handle registers h for frames of type mt, replacing any previous handler.
func (l *Listener) Handle(mt MessageType, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[mt] = h
}

// Run dials the push channel and dispatches frames until ctx is done or the
// connection drops. With reconnect enabled, dial failures and disconnects
// are retried until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		conn, _, err := websocket.Dial(ctx, l.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !l.reconnect {
				return session.ErrDaemonCommunication("connect push channel").
					WithOperation("dial " + l.url).WithCause(err)
			}
			l.logger.Debug("push channel dial failed",
				logging.Error(err),
				logging.Duration("retry_in", backoff))
		} else {
			l.logger.Info("push channel connected", logging.String("url", l.url))
			backoff = l.minBackoff
			if l.onConnect != nil {
				l.onConnect()
			}
			err = l.readLoop(ctx, conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !l.reconnect {
				l.logger.Info("push channel closed; notifications stop", logging.Error(err))
				return nil
			}
			l.logger.Info("push channel closed; reconnecting",
				logging.Error(err),
				logging.Duration("retry_in", backoff))
		}

		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close(websocket.StatusNormalClosure, "client closed") //nolint:errcheck

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			l.logger.Debug("dropping non-text frame")
			continue
		}
		l.dispatch(ctx, data)
	}
}

func (l *Listener) dispatch(ctx context.Context, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		l.logger.Debug("dropping malformed frame", logging.Error(err))
		return
	}

	l.mu.RLock()
	h, ok := l.handlers[frame.MessageType]
	l.mu.RUnlock()
	if !ok {
		l.logger.Debug("dropping frame with unknown type", logging.Int("message_type", int(frame.MessageType)))
		return
	}
	h(ctx, frame.Data)
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
