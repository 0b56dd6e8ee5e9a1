package aws

import (
	"context"
	"fmt"

	"github.com/anirudhbiyani/cloud-session/pkg/daemon"
	"github.com/anirudhbiyani/cloud-session/pkg/session"
)

// ChainedService implements session.Service for sessions that assume a role
// with a parent session's credentials.
type ChainedService struct {
	base
}

// NewChainedService creates the service over a daemon client.
func NewChainedService(client Caller, opts ...Option) *ChainedService {
	return &ChainedService{base{
		client: client,
		family: daemon.IAMRoleChainedSessions,
		opts:   buildOptions("aws-iam-role-chained", opts),
	}}
}

// Type implements session.Service.
func (s *ChainedService) Type() session.Type {
	return session.TypeIAMRoleChained
}

// Capabilities implements session.Service.
func (s *ChainedService) Capabilities() []session.Capability {
	return []session.Capability{
		session.CapabilityCreate,
		session.CapabilityUpdate,
		session.CapabilityDelete,
		session.CapabilityStart,
		session.CapabilityStop,
		session.CapabilityGenerateCredentials,
	}
}

// Create implements session.Service.
func (s *ChainedService) Create(ctx context.Context, req session.CreateRequest) (string, error) {
	r, ok := req.(*session.ChainedCreateRequest)
	if !ok {
		return "", session.ErrValidation(fmt.Sprintf("unsupported request type: %T", req)).WithOperation("create")
	}
	return s.create(ctx, r)
}

type chainedUpdateBody struct {
	Name            string `json:"name"`
	Region          string `json:"region"`
	ParentID        string `json:"parentId"`
	RoleARN         string `json:"roleArn"`
	RoleSessionName string `json:"roleSessionName,omitempty"`
	ProfileName     string `json:"awsNamedProfileName"`
}

// Update implements session.Service. Chained sessions hold no access keys.
func (s *ChainedService) Update(ctx context.Context, req session.UpdateRequest) error {
	if req.AccessKeyID != nil || req.SecretAccessKey != nil {
		return session.ErrValidation("chained sessions do not accept access keys").WithSession(req.Session.ID)
	}
	body := chainedUpdateBody{
		Name:            req.Session.AccountName,
		Region:          req.Session.Region,
		ParentID:        req.Session.ParentID,
		RoleARN:         req.Session.RoleARN,
		RoleSessionName: req.Session.RoleSessionName,
		ProfileName:     req.Session.ProfileID,
	}
	return s.client.Call(ctx, s.family.Update, daemon.ID(req.Session.ID), body, nil)
}
