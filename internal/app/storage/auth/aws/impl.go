// Package aws mints AWS RDS IAM tokens used as Postgres passwords.
package aws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/jackc/pgx/v5"

	"github.com/stacklok/offline-sync/internal/config"
)

const (
	regionDetect = "detect"
	imdsTimeout  = 2 * time.Second
)

// resolveRegion returns the configured region, asking instance metadata when it is "detect"
func resolveRegion(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	region := cfg.DynamicAuth.AWSRDSIAM.Region
	if region == "" {
		return "", fmt.Errorf("AWS RDS IAM region is not configured")
	}
	if region != regionDetect {
		return region, nil
	}

	client := imds.New(imds.Options{HTTPClient: &http.Client{Timeout: imdsTimeout}})
	out, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get region from IMDS: %w", err)
	}
	return out.Region, nil
}

func buildToken(
	ctx context.Context, cfg *config.DatabaseConfig, region, user string, creds awssdk.CredentialsProvider,
) (string, error) {
	endpoint := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	token, err := auth.BuildAuthToken(ctx, endpoint, region, user, creds)
	if err != nil {
		return "", fmt.Errorf("failed to build authentication token: %w", err)
	}
	return token, nil
}

func loadCredentials(ctx context.Context, region string) (awssdk.CredentialsProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg.Credentials, nil
}

// NewToken mints a single token for user
func NewToken(ctx context.Context, cfg *config.DatabaseConfig, user string) (string, error) {
	region, err := resolveRegion(ctx, cfg)
	if err != nil {
		return "", err
	}
	creds, err := loadCredentials(ctx, region)
	if err != nil {
		return "", err
	}
	return buildToken(ctx, cfg, region, user, creds)
}

// PgxAuthFunc returns a BeforeConnect hook minting a token for every new pool
// connection. The region and credential chain are resolved once, up front.
func PgxAuthFunc(
	ctx context.Context,
	cfg *config.DatabaseConfig,
	user string,
) (func(ctx context.Context, connConfig *pgx.ConnConfig) error, error) {
	region, err := resolveRegion(ctx, cfg)
	if err != nil {
		return nil, err
	}
	creds, err := loadCredentials(ctx, region)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, connConfig *pgx.ConnConfig) error {
		token, err := buildToken(ctx, cfg, region, user, creds)
		if err != nil {
			return err
		}
		connConfig.Password = token
		return nil
	}, nil
}
