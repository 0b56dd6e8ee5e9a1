package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/anirudhbiyani/cloud-session/pkg/daemon"
	"github.com/anirudhbiyani/cloud-session/pkg/session"
)

// IAMUserService implements session.Service for sessions backed by IAM user
// access keys.
type IAMUserService struct {
	base
}

// NewIAMUserService creates the service over a daemon client.
func NewIAMUserService(client Caller, opts ...Option) *IAMUserService {
	return &IAMUserService{base{
		client: client,
		family: daemon.IAMUserSessions,
		opts:   buildOptions("aws-iam-user", opts),
	}}
}

// Type implements session.Service.
func (s *IAMUserService) Type() session.Type {
	return session.TypeIAMUser
}

// Capabilities implements session.Service.
func (s *IAMUserService) Capabilities() []session.Capability {
	return []session.Capability{
		session.CapabilityCreate,
		session.CapabilityUpdate,
		session.CapabilityDelete,
		session.CapabilityStart,
		session.CapabilityStop,
		session.CapabilityGenerateCredentials,
		session.CapabilityMFA,
	}
}

// Create implements session.Service.
func (s *IAMUserService) Create(ctx context.Context, req session.CreateRequest) (string, error) {
	r, ok := req.(*session.IAMUserCreateRequest)
	if !ok {
		return "", session.ErrValidation(fmt.Sprintf("unsupported request type: %T", req)).WithOperation("create")
	}
	return s.create(ctx, r)
}

type iamUserUpdateBody struct {
	Name            string  `json:"name"`
	Region          string  `json:"region"`
	MFADevice       string  `json:"mfaDevice"`
	ProfileName     string  `json:"awsNamedProfileName"`
	AccessKeyID     *string `json:"awsAccessKeyId,omitempty"`
	SecretAccessKey *string `json:"awsSecretAccessKey,omitempty"`
}

// Update implements session.Service. Credential fields are only sent when set.
func (s *IAMUserService) Update(ctx context.Context, req session.UpdateRequest) error {
	if req.AccessKeyID != nil && strings.TrimSpace(*req.AccessKeyID) == "" {
		return session.ErrValidation("awsAccessKeyId must not be empty when provided").WithSession(req.Session.ID)
	}
	if req.SecretAccessKey != nil && *req.SecretAccessKey == "" {
		return session.ErrValidation("awsSecretAccessKey must not be empty when provided").WithSession(req.Session.ID)
	}
	body := iamUserUpdateBody{
		Name:            req.Session.AccountName,
		Region:          req.Session.Region,
		MFADevice:       req.Session.MFADevice,
		ProfileName:     req.Session.ProfileID,
		AccessKeyID:     req.AccessKeyID,
		SecretAccessKey: req.SecretAccessKey,
	}
	return s.client.Call(ctx, s.family.Update, daemon.ID(req.Session.ID), body, nil)
}

type confirmMFABody struct {
	MFAToken string `json:"mfaToken"`
}

// ConfirmMFA forwards a user-supplied MFA code for a session whose start is
// waiting on it.
func (s *IAMUserService) ConfirmMFA(ctx context.Context, id, code string) error {
	return s.client.Call(ctx, s.family.ConfirmMFAToken, daemon.ID(id), confirmMFABody{MFAToken: code}, nil)
}
