// Package aws provides the session services for AWS credential sessions.
//
// Both session types are driven through the credential daemon; the daemon
// mints credentials and writes them to the named profile. This package adds
// the client-side reads of that profile and MFA device discovery via IAM.
package aws

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anirudhbiyani/cloud-session/pkg/daemon"
	"github.com/anirudhbiyani/cloud-session/pkg/logging"
	"github.com/anirudhbiyani/cloud-session/pkg/session"
)

// Caller abstracts the daemon RPC client for testing.
type Caller interface {
	Call(ctx context.Context, desc daemon.Descriptor, params daemon.Params, body, out any) error
}

// Record is the daemon's representation of a session.
type Record struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Region          string `json:"region"`
	MFADevice       string `json:"mfaDevice,omitempty"`
	ProfileName     string `json:"awsNamedProfileName"`
	ParentID        string `json:"parentId,omitempty"`
	RoleARN         string `json:"roleArn,omitempty"`
	RoleSessionName string `json:"roleSessionName,omitempty"`
}

// Option configures a service.
type Option func(*options)

type options struct {
	loader ProfileLoader
	logger *slog.Logger
}

// WithProfileLoader overrides how credentials are read from a named profile.
func WithProfileLoader(l ProfileLoader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{loader: LoadProfileCredentials}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.NewComponentLogger(o.logger, component)
	return o
}

// base holds the operations both session types share.
type base struct {
	client Caller
	family daemon.Family
	opts   options
}

// Get fetches the daemon's record for id.
func (b *base) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := b.client.Call(ctx, b.family.Get, daemon.ID(id), nil, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}

// Delete implements session.Service.
func (b *base) Delete(ctx context.Context, s session.Session) error {
	return b.client.Call(ctx, b.family.Delete, daemon.ID(s.ID), nil, nil)
}

// Start implements session.Service.
func (b *base) Start(ctx context.Context, s session.Session) error {
	return b.client.Call(ctx, b.family.Start, daemon.ID(s.ID), nil, nil)
}

// Stop implements session.Service.
func (b *base) Stop(ctx context.Context, s session.Session) error {
	return b.client.Call(ctx, b.family.Stop, daemon.ID(s.ID), nil, nil)
}

// Rotate implements session.Service. The daemon re-mints on every start, so
// there is nothing to rotate client-side.
func (b *base) Rotate(context.Context, session.Session) error {
	return nil
}

// ApplyCredentials implements session.Service. The daemon writes the profile.
func (b *base) ApplyCredentials(context.Context, session.Session) error {
	return nil
}

// DeApplyCredentials implements session.Service. The daemon clears the profile.
func (b *base) DeApplyCredentials(context.Context, session.Session) error {
	return nil
}

// GenerateCredentials implements session.Service by reading the named
// profile the daemon wrote for the session.
func (b *base) GenerateCredentials(ctx context.Context, s session.Session) (*session.Credentials, error) {
	if s.ProfileID == "" {
		return nil, session.ErrValidation(fmt.Sprintf("session %s has no named profile", s.ID)).
			WithSession(s.ID).WithOperation("credentials")
	}
	creds, err := b.opts.loader(ctx, s.ProfileID, s.Region)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", s.ProfileID, err)
	}
	out := &session.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Source:          creds.Source,
	}
	if creds.CanExpire {
		out.Expires = creds.Expires
	}
	return out, nil
}

// create posts body and returns the daemon-issued id.
func (b *base) create(ctx context.Context, body any) (string, error) {
	var rec Record
	if err := b.client.Call(ctx, b.family.Create, nil, body, &rec); err != nil {
		return "", err
	}
	if rec.ID == "" {
		return "", session.ErrDaemonCommunication("daemon returned no session id").
			WithOperation(b.family.Create.String()).WithRetryable(false)
	}
	b.opts.logger.Debug("daemon created session", logging.SessionID(rec.ID))
	return rec.ID, nil
}
