package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/anirudhbiyani/cloud-session/pkg/session"
)

// MFADeviceLister abstracts the IAM ListMFADevices call for testing.
type MFADeviceLister interface {
	ListMFADevices(ctx context.Context, params *iam.ListMFADevicesInput, optFns ...func(*iam.Options)) (*iam.ListMFADevicesOutput, error)
}

// MFADevice is one MFA device registered to an IAM user.
type MFADevice struct {
	SerialNumber string
	UserName     string
	EnableDate   time.Time
}

// NewIAMClient creates an IAM client that signs with the given access key pair.
// IAM is a global service; region only selects the partition endpoint.
func NewIAMClient(accessKeyID, secretAccessKey, region string) *iam.Client {
	if region == "" {
		region = "us-east-1"
	}
	return iam.NewFromConfig(awssdk.Config{
		Region:      region,
		Credentials: staticCredentials(accessKeyID, secretAccessKey),
	})
}

// DiscoverMFADevices lists the MFA devices of userName, or of the calling
// user when userName is empty.
func DiscoverMFADevices(ctx context.Context, lister MFADeviceLister, userName string) ([]MFADevice, error) {
	input := &iam.ListMFADevicesInput{}
	if userName != "" {
		input.UserName = awssdk.String(userName)
	}

	var devices []MFADevice
	pager := iam.NewListMFADevicesPaginator(lister, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list mfa devices: %w", err)
		}
		for _, d := range page.MFADevices {
			devices = append(devices, MFADevice{
				SerialNumber: awssdk.ToString(d.SerialNumber),
				UserName:     awssdk.ToString(d.UserName),
				EnableDate:   awssdk.ToTime(d.EnableDate),
			})
		}
	}
	return devices, nil
}

// SessionLookup returns the locally known session for id.
type SessionLookup func(id string) (session.Session, error)

// MFAGateway serves the MFA coordinator's daemon round-trips: the label
// lookup, the code confirmation and the stop of a declined session.
type MFAGateway struct {
	users   *IAMUserService
	chained *ChainedService
	lookup  SessionLookup
}

// NewMFAGateway creates a gateway. lookup selects the endpoint family that
// owns an id; ids it does not know use the IAM user family.
func NewMFAGateway(users *IAMUserService, chained *ChainedService, lookup SessionLookup) *MFAGateway {
	return &MFAGateway{users: users, chained: chained, lookup: lookup}
}

func (g *MFAGateway) owner(id string) *base {
	if g.lookup != nil && g.chained != nil {
		if s, err := g.lookup(id); err == nil && s.Type.Chained() {
			return &g.chained.base
		}
	}
	return &g.users.base
}

// Label asks the daemon for the display name of the session.
func (g *MFAGateway) Label(ctx context.Context, id string) (string, error) {
	rec, err := g.owner(id).Get(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.Name == "" {
		return id, nil
	}
	return rec.Name, nil
}

// ConfirmMFA forwards the code to the daemon. Only the IAM user family
// defines the confirm endpoint.
func (g *MFAGateway) ConfirmMFA(ctx context.Context, id, code string) error {
	if !session.HasCapability(g.users, session.CapabilityMFA) {
		return session.NewError(session.ErrCategoryUnsupported, "no session type accepts mfa tokens").
			WithSession(id).WithOperation("confirm mfa")
	}
	return g.users.ConfirmMFA(ctx, id, code)
}

// Stop asks the daemon to stop id through the family that owns it. The
// local status is not consulted: the daemon is waiting on this session
// whatever a local snapshot says.
func (g *MFAGateway) Stop(ctx context.Context, id string) error {
	return g.owner(id).Stop(ctx, session.Session{ID: id})
}
