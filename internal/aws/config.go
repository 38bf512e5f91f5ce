package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRegion = "us-east-1"

// LoadAWSConfig resolves the shared AWS config. AWS_REGION falls back to us-east-1 and
// AWS_ENDPOINT_OVERRIDE (e.g. LocalStack) replaces the base endpoint of every client.
func LoadAWSConfig(ctx context.Context) (sdkaws.Config, error) {
	return LoadAWSConfigWith(ctx, os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_OVERRIDE"))
}

// LoadAWSConfigWith is LoadAWSConfig with explicit region and endpoint values.
func LoadAWSConfigWith(ctx context.Context, region, endpoint string) (sdkaws.Config, error) {
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return cfg, nil
}
