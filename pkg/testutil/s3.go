package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/viper"

	"github.com/proxyguard/log-watcher/pkg/s3"
	"github.com/proxyguard/log-watcher/pkg/watcher"
)

// S3TestHelper creates and inspects dead-letter buckets in integration tests
type S3TestHelper struct {
	client *awss3.Client
}

// GetS3Config returns the S3 settings of the running configuration,
// read from the environment
func GetS3Config() s3.Config {
	for key, spec := range watcher.ConfigSpec {
		viper.SetDefault(key, spec.DefaultValue)
		if spec.EnvVar != "" {
			_ = viper.BindEnv(key, spec.EnvVar)
		}
	}

	return s3.Config{
		Endpoint:         watcher.ConfigSpec.GetString("s3.endpoint"),
		Region:           watcher.ConfigSpec.GetString("s3.region"),
		AccessKeyID:      watcher.ConfigSpec.GetString("s3.access-key-id"),
		SecretAccessKey:  watcher.ConfigSpec.GetString("s3.secret-access-key"),
		MaxRetryAttempts: watcher.ConfigSpec.GetInt("s3.max-retry-attempts"),
	}
}

// S3Configured reports whether S3 credentials are available to integration tests
func S3Configured() bool {
	cfg := GetS3Config()
	return cfg.AccessKeyID != "" && cfg.SecretAccessKey != ""
}

// NewS3TestHelper creates a new S3 test helper
func NewS3TestHelper(ctx context.Context) (*S3TestHelper, error) {
	cfg := GetS3Config()
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("S3 credentials not configured")
	}

	region := cfg.Region
	if region == "" {
		region = s3.DefaultRegion
	}

	client := awss3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3TestHelper{client: client}, nil
}

// CreateBucket creates a test bucket, succeeding when it already exists
func (h *S3TestHelper) CreateBucket(ctx context.Context, bucketName string) error {
	_, err := h.client.CreateBucket(ctx, &awss3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		var bucketAlreadyExists *types.BucketAlreadyExists
		var bucketAlreadyOwnedByYou *types.BucketAlreadyOwnedByYou
		if !errors.As(err, &bucketAlreadyExists) && !errors.As(err, &bucketAlreadyOwnedByYou) {
			return fmt.Errorf("failed to create test bucket: %w", err)
		}
	}
	return nil
}

// DeleteBucket deletes a test bucket and the objects it holds
func (h *S3TestHelper) DeleteBucket(ctx context.Context, bucketName string) error {
	keys, err := h.ListObjects(ctx, bucketName, "")
	if err != nil {
		var noSuchBucket *types.NoSuchBucket
		if errors.As(err, &noSuchBucket) {
			return nil
		}
		return err
	}

	for _, key := range keys {
		_, err := h.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(bucketName),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete object %s: %w", key, err)
		}
	}

	_, err = h.client.DeleteBucket(ctx, &awss3.DeleteBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	return nil
}

// GetObject returns the content of an object
func (h *S3TestHelper) GetObject(ctx context.Context, bucketName, key string) ([]byte, error) {
	output, err := h.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer func() { _ = output.Body.Close() }()

	content, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object content: %w", err)
	}
	return content, nil
}

// ListObjects lists the keys of a bucket under prefix
func (h *S3TestHelper) ListObjects(ctx context.Context, bucketName, prefix string) ([]string, error) {
	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucketName),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	output, err := h.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	keys := make([]string, 0, len(output.Contents))
	for _, obj := range output.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys, nil
}

// CountingUploader wraps an uploader and counts upload outcomes
type CountingUploader struct {
	uploader     s3.UploaderInterface
	successCount atomic.Int64
	failureCount atomic.Int64
}

// NewCountingUploader creates a new counting uploader wrapper
func NewCountingUploader(uploader s3.UploaderInterface) *CountingUploader {
	return &CountingUploader{uploader: uploader}
}

// Upload forwards to the wrapped uploader
func (c *CountingUploader) Upload(ctx context.Context, bucket, key string, content []byte) error {
	if err := c.uploader.Upload(ctx, bucket, key, content); err != nil {
		c.failureCount.Add(1)
		return err
	}
	c.successCount.Add(1)
	return nil
}

// GetSuccessCount returns the number of successful uploads
func (c *CountingUploader) GetSuccessCount() int64 {
	return c.successCount.Load()
}

// GetFailureCount returns the number of failed uploads
func (c *CountingUploader) GetFailureCount() int64 {
	return c.failureCount.Load()
}
