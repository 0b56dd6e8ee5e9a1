package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/anirudhbiyani/cloud-session/pkg/config"
	"github.com/anirudhbiyani/cloud-session/pkg/daemon"
	"github.com/anirudhbiyani/cloud-session/pkg/logging"
	"github.com/anirudhbiyani/cloud-session/pkg/mfa"
	"github.com/anirudhbiyani/cloud-session/pkg/providers/aws"
	"github.com/anirudhbiyani/cloud-session/pkg/session"
)

const (
	workspaceLockWait = 5 * time.Second
	pushConnectWait   = 2 * time.Second
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	// prompter answers MFA requests; nil selects the terminal on stdin.
	prompter mfa.Prompter
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		level := cfg.Logging.Level
		if c.verbose != nil && *c.verbose {
			level = "debug"
		}
		var outputs []string
		if cfg.Logging.File != "" {
			outputs = []string{cfg.Logging.File}
		}
		c.logger, c.loggerErr = logging.New(logging.Options{
			Level:       level,
			Format:      cfg.Logging.Format,
			OutputPaths: outputs,
		})
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) daemonClient() (*daemon.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	return daemon.New(cfg.Daemon.BaseURL,
		daemon.WithTimeout(cfg.RequestTimeout()),
		daemon.WithLogger(logger)), nil
}

// runtimeOptions selects what withRuntime wires up around a command.
type runtimeOptions struct {
	// push runs the push listener and MFA coordinator in the background.
	push bool
	// readOnly loads the workspace and releases the lock immediately.
	readOnly bool
}

// runtime is the assembled client stack one command works against.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *daemon.Client
	users    *aws.IAMUserService
	chained  *aws.ChainedService
	registry *session.Registry
	manager  *session.Manager

	// stopper is set while the MFA coordinator runs.
	stopper *declineStopper

	// pushDone is closed when the push listener exits; pushErr is then set.
	pushDone chan struct{}
	pushErr  error
}

// record fetches the daemon's view of id through the family the workspace
// knows it by. Unknown ids use the IAM user family.
func (rt *runtime) record(ctx context.Context, id string) (*aws.Record, error) {
	if s, err := rt.manager.Get(id); err == nil && s.Type.Chained() {
		return rt.chained.Get(ctx, id)
	}
	return rt.users.Get(ctx, id)
}

func (c *commandContext) withRuntime(cmd *cobra.Command, opts runtimeOptions, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}
	client, err := c.daemonClient()
	if err != nil {
		return err
	}

	lockCtx, cancelLock := context.WithTimeout(ctx, workspaceLockWait)
	ws, err := session.OpenWorkspace(lockCtx, cfg.Workspace.Path)
	cancelLock()
	if err != nil {
		return fmt.Errorf("open workspace %s (is another cloud-session command running?): %w", cfg.Workspace.Path, err)
	}
	store, err := ws.Load()
	if err != nil {
		_ = ws.Close()
		return err
	}
	if opts.readOnly {
		_ = ws.Close()
		ws = nil
	} else {
		defer ws.Close() //nolint:errcheck
	}

	users := aws.NewIAMUserService(client, aws.WithLogger(logger))
	chained := aws.NewChainedService(client, aws.WithLogger(logger))
	registry := session.NewRegistry().MustRegister(users, chained)
	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		users:    users,
		chained:  chained,
		registry: registry,
		manager: session.NewManager(
			session.WithRegistry(registry),
			session.WithStore(store),
			session.WithLogger(logger)),
		pushDone: make(chan struct{}),
	}

	var wg sync.WaitGroup
	bgCtx, stopBackground := context.WithCancel(ctx)
	if opts.push && len(registry.Supporting(session.CapabilityMFA)) > 0 {
		rt.startPush(bgCtx, &wg, c.mfaPrompter(cmd.ErrOrStderr()), cmd.ErrOrStderr())
	} else {
		close(rt.pushDone)
	}

	runErr := fn(ctx, rt)
	stopBackground()
	wg.Wait()

	if ws != nil {
		if err := ws.Save(store); err != nil {
			return errors.Join(runErr, fmt.Errorf("save workspace: %w", err))
		}
	}
	return runErr
}

func (c *commandContext) mfaPrompter(errOut io.Writer) mfa.Prompter {
	if c.prompter != nil {
		return c.prompter
	}
	return mfa.NewTerminalPrompter(os.Stdin, errOut)
}

// declinedMFA reports whether an MFA prompt for id was declined during this command.
func (rt *runtime) declinedMFA(id string) bool {
	return rt.stopper != nil && rt.stopper.declined(id)
}

// declineStopper stops sessions whose MFA prompt was declined. The remote
// stop always goes to the daemon; the local store only mirrors the outcome,
// since it may be a stale read-only snapshot.
type declineStopper struct {
	remote  *aws.MFAGateway
	manager *session.Manager

	mu  sync.Mutex
	ids map[string]struct{}
}

func (s *declineStopper) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()

	err := s.remote.Stop(ctx, id)
	s.manager.RecordStop(id, err)
	return err
}

func (s *declineStopper) declined(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// startPush runs the push listener and the MFA coordinator until ctx is done.
func (rt *runtime) startPush(ctx context.Context, wg *sync.WaitGroup, prompter mfa.Prompter, errOut io.Writer) {
	gateway := aws.NewMFAGateway(rt.users, rt.chained, rt.manager.Get)
	rt.stopper = &declineStopper{remote: gateway, manager: rt.manager, ids: make(map[string]struct{})}
	coordinator := mfa.NewCoordinator(gateway, gateway, rt.stopper, prompter,
		mfa.WithLogger(rt.logger),
		mfa.WithResultHandler(func(id string, err error) {
			if err != nil {
				fmt.Fprintf(errOut, "MFA for session %s: %v\n", id, err)
			}
		}))

	connected := make(chan struct{})
	var connectOnce sync.Once
	listenerOpts := []daemon.ListenerOption{
		daemon.WithListenerLogger(rt.logger),
		daemon.WithConnectHook(func() { connectOnce.Do(func() { close(connected) }) }),
	}
	if rt.cfg.Push.Reconnect {
		minBackoff, maxBackoff := rt.cfg.ReconnectBackoff()
		listenerOpts = append(listenerOpts, daemon.WithReconnect(minBackoff, maxBackoff))
	}
	listener := daemon.NewListener(rt.cfg.WebsocketURL(), listenerOpts...)
	listener.Handle(daemon.MessageTypeMFATokenRequest, func(_ context.Context, data string) {
		req, err := daemon.DecodeMFATokenRequest(data)
		if err != nil {
			rt.logger.Debug("dropping mfa request", logging.Error(err))
			return
		}
		coordinator.Notify(mfa.Event{SessionID: req.SessionID})
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(rt.pushDone)
		err := listener.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Debug("push listener stopped", logging.Error(err))
			rt.pushErr = err
		}
	}()
	go func() {
		defer wg.Done()
		_ = coordinator.Run(ctx)
	}()

	// MFA requests raised before the channel is registered are lost.
	select {
	case <-connected:
	case <-rt.pushDone:
	case <-time.After(pushConnectWait):
		rt.logger.Debug("push channel not connected yet, continuing")
	case <-ctx.Done():
	}
}
