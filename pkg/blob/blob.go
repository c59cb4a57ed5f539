// Package blob stores uploaded CNAB files in S3 or an S3-compatible object
// store such as MinIO. Workers download the file again when they process it,
// so the pipeline never depends on local disk.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/cnabflow/cnabflow/internal/logger"
)

// Typed errors surfaced to the pipeline.
var (
	// ErrObjectNotFound means the requested key does not exist in the bucket.
	ErrObjectNotFound = errors.New("object not found")
)

// Config holds object store settings.
type Config struct {
	// Endpoint is the S3 endpoint URL. Empty uses AWS proper; MinIO and
	// Localstack need an explicit endpoint plus path-style addressing.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	Region          string `mapstructure:"region"            yaml:"region"`
	Bucket          string `mapstructure:"bucket"            yaml:"bucket"            validate:"required"`
	AccessKeyID     string `mapstructure:"access_key_id"     yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	// KeyPrefix is prepended to all object keys. Should end with "/" if set.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// ForcePathStyle forces path-style addressing (required for MinIO/Localstack).
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// Retry settings for transient errors. Zero values pick the defaults
	// (3 retries, 500ms initial backoff doubling up to 2s).
	MaxRetries        int           `mapstructure:"max_retries"        yaml:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"    yaml:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"        yaml:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.Bucket == "" {
		c.Bucket = "cnab-uploads"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = 2.0
	}
}

// retryConfig holds retry settings for object store operations.
type retryConfig struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

// Store is an S3-backed object store gateway.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	retry     retryConfig
}

// New creates the gateway from configuration. The bucket is not touched
// here; call EnsureBucket separately so an unreachable store cannot block
// process startup.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.ApplyDefaults()

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing S3 client. Used by tests that point the
// client at a container.
func NewWithClient(client *s3.Client, cfg Config) *Store {
	cfg.ApplyDefaults()
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		retry: retryConfig{
			maxRetries:        cfg.MaxRetries,
			initialBackoff:    cfg.InitialBackoff,
			maxBackoff:        cfg.MaxBackoff,
			backoffMultiplier: cfg.BackoffMultiplier,
		},
	}
}

// fullKey returns the complete object key for a storage path.
func (s *Store) fullKey(path string) string {
	return s.keyPrefix + path
}

// EnsureBucket creates the bucket if it does not exist. Callers treat a
// failure as a warning: put operations surface their own errors, so an
// object store that is down at boot only degrades uploads, not startup.
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}

	logger.Info("Created object store bucket", "bucket", s.bucket)
	return nil
}

// Put uploads the file bytes under the given storage path and returns the
// object URL. Transient errors are retried with exponential backoff.
func (s *Store) Put(ctx context.Context, path string, data []byte) (string, error) {
	key := s.fullKey(path)

	err := s.withRetry(ctx, "put", key, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object %s: %w", key, err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Get downloads the object at the given storage path. Missing objects
// surface as ErrObjectNotFound; transient errors are retried.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	key := s.fullKey(path)

	var data []byte
	err := s.withRetry(ctx, "get", key, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("s3 get object %s: %w", key, err)
	}

	return data, nil
}

// Delete removes the object at the given storage path. Deleting a missing
// object is not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	key := s.fullKey(path)

	err := s.withRetry(ctx, "delete", key, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if isNotFoundError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("s3 delete object %s: %w", key, err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("object store health check failed: %w", err)
	}
	return nil
}

// withRetry runs op, retrying transient failures with exponential backoff.
func (s *Store) withRetry(ctx context.Context, opName, key string, op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Retrying object store operation",
				"op", opName, "key", key, "attempt", attempt, "backoff", backoff)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", s.retry.maxRetries+1, lastErr)
}

// calculateBackoff returns the backoff duration for a given attempt.
func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.retry.initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.backoffMultiplier
	}
	if backoff > float64(s.retry.maxBackoff) {
		backoff = float64(s.retry.maxBackoff)
	}
	return time.Duration(backoff)
}

// isNotFoundError returns true if the error indicates the object doesn't exist.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey")
}

// isRetryableError returns true if the error is transient and the operation
// should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()

		// Throttling - retryable
		if code == "Throttling" || code == "ThrottlingException" ||
			code == "RequestThrottled" || code == "SlowDown" {
			return true
		}

		// Server errors (5xx) - retryable
		if code == "InternalError" || code == "ServiceUnavailable" {
			return true
		}

		// Not found, access denied, invalid request - not retryable
		if code == "NoSuchKey" || code == "NotFound" ||
			code == "AccessDenied" || code == "Forbidden" ||
			code == "InvalidRequest" {
			return false
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "500")
}
