package aws

import (
	"context"
	"errors"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ProfileLoader reads the credentials stored under a named profile.
type ProfileLoader func(ctx context.Context, profile, region string) (awssdk.Credentials, error)

// LoadProfileCredentials resolves profile through the shared config and
// credentials files, the same chain every AWS SDK consumer uses.
func LoadProfileCredentials(ctx context.Context, profile, region string) (awssdk.Credentials, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithSharedConfigProfile(profile),
	}
	if region != "" {
		optFns = append(optFns, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return awssdk.Credentials{}, err
	}
	if cfg.Credentials == nil {
		return awssdk.Credentials{}, errors.New("profile resolves to no credentials provider")
	}
	return cfg.Credentials.Retrieve(ctx)
}

// staticCredentials wraps a fixed key pair in a cached provider.
func staticCredentials(accessKeyID, secretAccessKey string) awssdk.CredentialsProvider {
	return awssdk.NewCredentialsCache(awssdk.CredentialsProviderFunc(func(context.Context) (awssdk.Credentials, error) {
		return awssdk.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			Source:          "cloud-session",
		}, nil
	}))
}
