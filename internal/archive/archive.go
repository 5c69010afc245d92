// Package archive stores downloaded agenda packets in an S3-compatible
// bucket, keyed by content hash. The archive is optional: without
// configuration every call is a cheap no-op and the pipeline runs on live
// vendor downloads alone.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/pkg/logger"
)

// Service provides content-addressed packet storage
type Service struct {
	client *s3.Client
	bucket string
	log    *slog.Logger
}

// NewService creates the archive from config. Unconfigured archives are
// valid and permanently disabled.
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	scoped := log.With(logger.Scope("archive"))

	ac := cfg.Archive
	if !ac.IsConfigured() {
		scoped.Info("packet archive disabled - no endpoint configured")
		return &Service{log: scoped}, nil
	}

	// MinIO and friends need a fixed endpoint and path-style addressing
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               ac.Endpoint,
				HostnameImmutable: true,
				SigningRegion:     ac.Region,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(ac.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			ac.AccessKey,
			ac.SecretKey,
			"",
		)),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	scoped.Info("packet archive initialized",
		slog.String("endpoint", ac.Endpoint),
		slog.String("bucket", ac.Bucket),
	)

	return &Service{
		client: client,
		bucket: ac.Bucket,
		log:    scoped,
	}, nil
}

// Enabled returns true if the archive is configured
func (s *Service) Enabled() bool {
	return s.client != nil
}

// Store writes a packet under its content hash. Existing objects are left
// alone: the same hash is by definition the same bytes.
func (s *Service) Store(ctx context.Context, hash string, body []byte, contentType string) error {
	if !s.Enabled() {
		return nil
	}

	key := objectKey(hash)

	exists, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		s.log.Debug("packet already archived", slog.String("key", key))
		return nil
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.log.Error("failed to archive packet",
			slog.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("archive upload failed: %w", err)
	}

	s.log.Debug("packet archived",
		slog.String("key", key),
		slog.Int("size", len(body)),
	)
	return nil
}

// Fetch retrieves an archived packet by content hash.
func (s *Service) Fetch(ctx context.Context, hash string) (io.ReadCloser, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("packet archive not enabled")
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(hash)),
	})
	if err != nil {
		s.log.Error("failed to fetch archived packet",
			slog.String("hash", hash),
			logger.Error(err),
		)
		return nil, fmt.Errorf("archive fetch failed: %w", err)
	}

	return result.Body, nil
}

// exists checks for an object without downloading it
func (s *Service) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "NotFound") || strings.Contains(errStr, "404") || strings.Contains(errStr, "NoSuchKey") {
			return false, nil
		}
		return false, fmt.Errorf("head object failed: %w", err)
	}
	return true, nil
}

// objectKey fans hashes out over two-character prefixes so bucket listings
// stay usable.
func objectKey(hash string) string {
	if len(hash) < 2 {
		return "packets/" + hash
	}
	return fmt.Sprintf("packets/%s/%s", hash[:2], hash)
}
