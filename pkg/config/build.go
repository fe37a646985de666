package config

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nounverb/nvdb/pkg/storage"
)

// BuildStorage materializes the Backend named by StorageConfig.Kind.
// Callers needing a browser-opfs backend on a non-browser target should
// construct storage.NewOPFS themselves against their own JS bridge;
// here it is wired with a plain origin/quota pair like any other kind.
func BuildStorage(ctx context.Context, cfg StorageConfig) (storage.Backend, error) {
	switch cfg.Kind {
	case StorageMemory, "":
		return storage.NewMemory(), nil
	case StorageLocalFS:
		return storage.NewLocal(cfg.Root)
	case StorageBrowserOPFS:
		return storage.NewOPFS(cfg.OPFSOrigin, cfg.OPFSQuotaBytes), nil
	case StorageS3:
		client, err := buildS3Client(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: building s3 client: %w", err)
		}
		return storage.NewS3(client, cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("config: unknown storage.kind %q", cfg.Kind)
	}
}

// buildS3Client assembles an *s3.Client for cfg.Style. AWS uses
// virtual-hosted addressing and the SDK's regional default endpoint;
// R2/GCS/custom dialects typically require path-style addressing and an
// explicit endpoint, which BaseEndpoint/UsePathStyle set accordingly.
func buildS3Client(ctx context.Context, cfg StorageConfig) (*s3.Client, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Credentials != nil {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Credentials.AccessKeyID, cfg.Credentials.SecretAccessKey, cfg.Credentials.SessionToken,
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(cfg.Endpoint)
		}
		if cfg.Style != S3StyleAWS {
			o.UsePathStyle = true
		}
	}), nil
}
