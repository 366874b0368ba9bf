// internal/infra/objstore/minio.go

// Package objstore uploads run logs and artifacts to an S3-compatible
// object store through minio-go.
package objstore

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"

	"release-orchestrator/internal/domain"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config is the object store endpoint. Region is optional; setting it skips
// the bucket location lookup.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type Client struct {
	mc     *minio.Client
	logger *slog.Logger
	tracer trace.Tracer
}

var _ domain.ObjectStore = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("object store access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &Client{
		mc:     mc,
		logger: logger.With("component", "object-store"),
		tracer: otel.Tracer("release-orchestrator-object-store"),
	}, nil
}

// EnsureBucket creates bucket when it does not exist.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		c.logger.Info("created bucket", "bucket", bucket)
	}
	return nil
}

// Put uploads localFile and returns its s3:// locator.
func (c *Client) Put(ctx context.Context, localFile, bucket, key string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "objstore.Put", trace.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("key", key),
	))
	defer span.End()

	contentType := mime.TypeByExtension(filepath.Ext(localFile))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := c.mc.FPutObject(ctx, bucket, key, localFile, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload object")
		return "", fmt.Errorf("failed to upload %s to %s/%s: %w", localFile, bucket, key, err)
	}

	c.logger.Debug("uploaded object", "bucket", bucket, "key", key, "size", info.Size)
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}
