// Package awsenv loads shared AWS client configuration for the EventBridge
// bus and the SQS dead-letter queue.
package awsenv

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// loadTimeout bounds credential and region resolution at startup
const loadTimeout = 10 * time.Second

// LoadConfig resolves credentials and region from the default chain.
// An empty region defers to AWS_REGION / shared config.
func LoadConfig(region string) (aws.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// Endpoint returns an optional endpoint override, nil when empty
func Endpoint(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}
