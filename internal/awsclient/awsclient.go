// Package awsclient builds the SQS and SNS clients used for inbound
// movement events and outbound domain events.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

const defaultRegion = "eu-west-2"

// Config holds explicit connection parameters. Empty credentials fall back
// to the default credential chain.
type Config struct {
	Region          string
	Endpoint        string // optional, e.g. LocalStack
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Clients bundles the AWS service clients.
type Clients struct {
	SQS *sqs.Client
	SNS *sns.Client
}

// LoadConfig resolves the AWS configuration for cfg.
func LoadConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("awsclient: load config: %w", err)
	}
	return awsCfg, nil
}

// New builds SQS and SNS clients sharing one configuration.
func New(ctx context.Context, cfg Config) (Clients, error) {
	awsCfg, err := LoadConfig(ctx, cfg)
	if err != nil {
		return Clients{}, err
	}

	return Clients{
		SQS: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
		SNS: sns.NewFromConfig(awsCfg, func(o *sns.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
	}, nil
}
