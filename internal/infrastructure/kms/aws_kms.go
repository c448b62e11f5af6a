// Package kms wires a real AWS KMS client for production use, behind
// the narrow crypto.KMSClient interface the domain layer depends on.
package kms

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/complyaudit/audit-core/pkg/apierr"
)

// Options configures the AWS KMS client construction.
type Options struct {
	Region          string
	Endpoint        string // non-empty for LocalStack/test endpoints
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient builds an *kms.Client from Options, loading default AWS
// config and overriding the region/credentials/endpoint when supplied.
func NewClient(ctx context.Context, opts Options) (*kms.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeConfigError, "failed to load AWS config for KMS client", err)
	}

	var kmsOptFns []func(*kms.Options)
	if opts.Endpoint != "" {
		kmsOptFns = append(kmsOptFns, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}

	return kms.NewFromConfig(cfg, kmsOptFns...), nil
}
