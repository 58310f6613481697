package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// UploaderInterface uploads objects to a bucket
type UploaderInterface interface {
	Upload(ctx context.Context, bucket, key string, content []byte) error
}

// Uploader uploads dead-letter objects to S3
type Uploader struct {
	client *Client
}

// NewUploader creates a new uploader
func NewUploader(client *Client) *Uploader {
	return &Uploader{client: client}
}

// Upload uploads an object to the specified bucket.
// Retries are handled automatically by the SDK client based on its retry configuration.
func (u *Uploader) Upload(ctx context.Context, bucket, key string, content []byte) error {
	_, err := u.client.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})

	if err != nil {
		return fmt.Errorf("failed to upload to S3: bucket=%s, key=%s: %w", bucket, key, err)
	}

	return nil
}

// IsPermanentError determines if an S3 error is permanent or transient
//
// Permanent errors are configuration or permission issues that won't be fixed by retrying:
// - NoSuchBucket: Target bucket doesn't exist
// - InvalidAccessKeyId: Wrong or invalid credentials
// - AccessDenied: Valid credentials but insufficient permissions
// - NotFound, Forbidden: the body-less forms of the above returned to HEAD requests
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	// SDK v2 wraps errors in smithy OperationError, which doesn't properly
	// implement error wrapping for specific types.
	errStr := strings.ToLower(err.Error())
	permanentPatterns := []string{
		"nosuchbucket",
		"invalidaccesskeyid",
		"accessdenied",
		"notfound",
		"forbidden",
	}

	for _, pattern := range permanentPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
