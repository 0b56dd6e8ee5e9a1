package session

import (
	"encoding/json"
	"time"
)

// Capability represents an operation a session type supports.
type Capability string

const (
	CapabilityStart               Capability = "start"
	CapabilityStop                Capability = "stop"
	CapabilityCreate              Capability = "create"
	CapabilityUpdate              Capability = "update"
	CapabilityDelete              Capability = "delete"
	CapabilityRotate              Capability = "rotate"
	CapabilityApplyCredentials    Capability = "apply_credentials"
	CapabilityDeApplyCredentials  Capability = "deapply_credentials"
	CapabilityGenerateCredentials Capability = "generate_credentials"
	// CapabilityMFA indicates the daemon may raise MFA token requests for sessions of this type.
	CapabilityMFA Capability = "mfa"
)

// Type identifies a session variant.
type Type string

const (
	// TypeIAMUser is a plain credential session backed by long-lived IAM user access keys.
	TypeIAMUser Type = "aws-iam-user"
	// TypeIAMRoleChained is a session whose credentials are derived from a parent session.
	TypeIAMRoleChained Type = "aws-iam-role-chained"
)

// Chained reports whether sessions of this type reference a parent session.
func (t Type) Chained() bool {
	return t == TypeIAMRoleChained
}

// Status is the activation state of a session.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusLoading Status = "loading"
	StatusActive  Status = "active"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusStopped, StatusLoading, StatusActive, StatusError:
		return true
	}
	return false
}

// Session is a named, typed handle on a set of cloud credentials.
// Values are snapshots: the store hands out copies and replaces whole entries.
type Session struct {
	// ID is assigned by the daemon on creation.
	ID string `json:"id"`

	Type   Type   `json:"type"`
	Status Status `json:"status"`

	AccountName string `json:"account_name"`
	Region      string `json:"region"`

	// MFADevice is the ARN or serial of the MFA device, if any.
	MFADevice string `json:"mfa_device,omitempty"`

	// ProfileID is the named profile the daemon writes credentials under.
	ProfileID string `json:"profile_id,omitempty"`

	// ParentID references the parent session of a chained session.
	// It is a lookup key, not ownership.
	ParentID string `json:"parent_id,omitempty"`

	RoleARN         string `json:"role_arn,omitempty"`
	RoleSessionName string `json:"role_session_name,omitempty"`

	StartedAt time.Time `json:"started_at,omitzero"`

	// LastError records the failure that moved the session into StatusError.
	LastError string `json:"last_error,omitempty"`
}

// String implements fmt.Stringer.
func (s Session) String() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// Credentials are temporary or long-lived cloud credentials produced for a session.
type Credentials struct {
	AccessKeyID     string    `json:"access_key_id"`
	SecretAccessKey string    `json:"secret_access_key"`
	SessionToken    string    `json:"session_token,omitempty"`
	Expires         time.Time `json:"expires,omitzero"`
	Source          string    `json:"source,omitempty"`
}

// UpdateRequest carries an edited session plus optional replacement keys.
// Nil credential fields leave the daemon's stored value untouched.
type UpdateRequest struct {
	Session         Session
	AccessKeyID     *string
	SecretAccessKey *string
}
