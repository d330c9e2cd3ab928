// Package archive optionally pushes a completed job's result video to S3,
// adapted from the teacher's S3 result-storage adapter.
package archive

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config configures the optional S3 archive target. A zero Config (empty
// Bucket) means archival is disabled.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible endpoints (minio, R2, ...)
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether archival is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// Archiver uploads completed job results to S3 and returns their public
// URL.
type Archiver struct {
	client *s3.Client
	bucket string
	region string
}

// New builds an Archiver from cfg. It is an error to call New with a
// disabled Config; callers should check Config.Enabled first.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("archive: bucket is required")
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Upload pushes the file at localPath to S3 under key and returns a
// public URL for it.
func (a *Archiver) Upload(ctx context.Context, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("archive: upload %s: %w", key, err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, key), nil
}
