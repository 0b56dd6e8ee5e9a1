package session

import (
	"fmt"
	"regexp"
	"strings"
)

// CreateRequest is the base interface for session creation requests.
// Each session type has its own concrete request type.
type CreateRequest interface {
	// Type returns the session type this request provisions.
	Type() Type

	// Validate validates the request fields.
	Validate() error
}

var (
	regionPattern    = regexp.MustCompile(`^[a-z]{2}(-gov|-iso[a-z]*)?-[a-z]+-\d$`)
	accessKeyPattern = regexp.MustCompile(`^(AKIA|ASIA)[A-Z0-9]{12,}$`)
	roleARNPattern   = regexp.MustCompile(`^arn:aws[a-zA-Z-]*:iam::\d{12}:role/.+$`)
)

// IAMUserCreateRequest provisions a plain credential session from IAM user access keys.
type IAMUserCreateRequest struct {
	// AccountName is the display name of the session.
	AccountName string `json:"name"`

	// Region is the default region written alongside the credentials.
	Region string `json:"region"`

	// MFADevice is the ARN of the user's MFA device, if MFA is enforced.
	MFADevice string `json:"mfaDevice,omitempty"`

	// ProfileName is the named profile the daemon writes credentials under.
	ProfileName string `json:"awsNamedProfileName"`

	AccessKeyID     string `json:"awsAccessKeyId"`
	SecretAccessKey string `json:"awsSecretAccessKey"`
}

// Type implements CreateRequest.
func (r *IAMUserCreateRequest) Type() Type {
	return TypeIAMUser
}

// Validate implements CreateRequest.
func (r *IAMUserCreateRequest) Validate() error {
	if strings.TrimSpace(r.AccountName) == "" {
		return fmt.Errorf("name is required")
	}
	if !regionPattern.MatchString(r.Region) {
		return fmt.Errorf("region %q is not a valid AWS region", r.Region)
	}
	if strings.TrimSpace(r.ProfileName) == "" {
		return fmt.Errorf("awsNamedProfileName is required")
	}
	if !accessKeyPattern.MatchString(r.AccessKeyID) {
		return fmt.Errorf("awsAccessKeyId is not a valid access key id")
	}
	if r.SecretAccessKey == "" {
		return fmt.Errorf("awsSecretAccessKey is required")
	}
	return nil
}

// ChainedCreateRequest provisions a session that assumes a role using a parent session's credentials.
type ChainedCreateRequest struct {
	AccountName string `json:"name"`
	Region      string `json:"region"`

	// ParentID is the id of the session whose credentials assume the role.
	ParentID string `json:"parentId"`

	RoleARN         string `json:"roleArn"`
	RoleSessionName string `json:"roleSessionName,omitempty"`

	ProfileName string `json:"awsNamedProfileName"`
}

// Type implements CreateRequest.
func (r *ChainedCreateRequest) Type() Type {
	return TypeIAMRoleChained
}

// Validate implements CreateRequest.
func (r *ChainedCreateRequest) Validate() error {
	if strings.TrimSpace(r.AccountName) == "" {
		return fmt.Errorf("name is required")
	}
	if !regionPattern.MatchString(r.Region) {
		return fmt.Errorf("region %q is not a valid AWS region", r.Region)
	}
	if strings.TrimSpace(r.ParentID) == "" {
		return fmt.Errorf("parentId is required")
	}
	if !roleARNPattern.MatchString(r.RoleARN) {
		return fmt.Errorf("roleArn %q is not a valid IAM role ARN", r.RoleARN)
	}
	if strings.TrimSpace(r.ProfileName) == "" {
		return fmt.Errorf("awsNamedProfileName is required")
	}
	return nil
}
