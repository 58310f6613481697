package ensureserviceuser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
)

const (
	// ServicePath is the IAM path of service users managed by this package
	ServicePath = "/log-watcher/"
)

// IAMAPI is the subset of the IAM client used to provision service users
type IAMAPI interface {
	GetUser(ctx context.Context, in *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error)
	CreateUser(ctx context.Context, in *iam.CreateUserInput, optFns ...func(*iam.Options)) (*iam.CreateUserOutput, error)
	PutUserPolicy(ctx context.Context, in *iam.PutUserPolicyInput, optFns ...func(*iam.Options)) (*iam.PutUserPolicyOutput, error)
	ListAccessKeys(ctx context.Context, in *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
	CreateAccessKey(ctx context.Context, in *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error)
}

// Options selects the service user and the dead-letter location it may write to
type Options struct {
	ServiceName string
	Bucket      string
	Prefix      string
}

// Apply ensures a service user exists in IAM with write access to the
// dead-letter bucket. It creates the user, attaches the policy, and ensures
// an access key exists. Returns the access key information.
func Apply(ctx context.Context, iamClient IAMAPI, opts Options) (*Result, error) {
	serviceName := opts.ServiceName
	if serviceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}

	if err := ensureUser(ctx, iamClient, serviceName); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	if err := ensurePolicy(ctx, iamClient, serviceName, opts.Bucket, opts.Prefix); err != nil {
		return nil, fmt.Errorf("failed to ensure policy: %w", err)
	}

	result, err := ensureAccessKey(ctx, iamClient, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure access key: %w", err)
	}
	result.Bucket = opts.Bucket
	result.Prefix = opts.Prefix

	return result, nil
}

// ensureUser creates the user if it doesn't exist, or validates the existing user's path.
func ensureUser(ctx context.Context, iamClient IAMAPI, serviceName string) error {
	getUserOutput, err := iamClient.GetUser(ctx, &iam.GetUserInput{
		UserName: aws.String(serviceName),
	})

	if err == nil {
		if getUserOutput.User.Path != nil && *getUserOutput.User.Path != ServicePath {
			return fmt.Errorf("user already exists with conflicting path: %s", *getUserOutput.User.Path)
		}
		return nil
	}

	var noSuchEntity *types.NoSuchEntityException
	if !errors.As(err, &noSuchEntity) {
		return fmt.Errorf("get user failed: %w", err)
	}

	_, err = iamClient.CreateUser(ctx, &iam.CreateUserInput{
		UserName: aws.String(serviceName),
		Path:     aws.String(ServicePath),
	})
	if err != nil {
		return fmt.Errorf("create user failed: %w", err)
	}

	return nil
}

// PolicyDocument returns the inline policy granting s3:PutObject on the
// objects under prefix in bucket.
func PolicyDocument(bucket, prefix string) ([]byte, error) {
	policyDoc := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":   "Allow",
				"Action":   "s3:PutObject",
				"Resource": fmt.Sprintf("arn:aws:s3:::%s/%s*", bucket, prefix),
			},
		},
	}

	policyJSON, err := json.Marshal(policyDoc)
	if err != nil {
		return nil, fmt.Errorf("marshal policy document failed: %w", err)
	}
	return policyJSON, nil
}

// ensurePolicy attaches the dead-letter write policy to the user.
func ensurePolicy(ctx context.Context, iamClient IAMAPI, serviceName, bucket, prefix string) error {
	policyJSON, err := PolicyDocument(bucket, prefix)
	if err != nil {
		return err
	}

	_, err = iamClient.PutUserPolicy(ctx, &iam.PutUserPolicyInput{
		UserName:       aws.String(serviceName),
		PolicyName:     aws.String(serviceName),
		PolicyDocument: aws.String(string(policyJSON)),
	})
	if err != nil {
		return fmt.Errorf("put user policy failed: %w", err)
	}

	return nil
}

// ensureAccessKey creates an access key if none exists, or returns the existing key ID.
func ensureAccessKey(ctx context.Context, iamClient IAMAPI, serviceName string) (*Result, error) {
	listOutput, err := iamClient.ListAccessKeys(ctx, &iam.ListAccessKeysInput{
		UserName: aws.String(serviceName),
	})
	if err != nil {
		return nil, fmt.Errorf("list access keys failed: %w", err)
	}

	if len(listOutput.AccessKeyMetadata) > 0 {
		return &Result{
			AccessKeyId:     *listOutput.AccessKeyMetadata[0].AccessKeyId,
			SecretAccessKey: nil,
		}, nil
	}

	createOutput, err := iamClient.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{
		UserName: aws.String(serviceName),
	})
	if err != nil {
		return nil, fmt.Errorf("create access key failed: %w", err)
	}

	return &Result{
		AccessKeyId:     *createOutput.AccessKey.AccessKeyId,
		SecretAccessKey: createOutput.AccessKey.SecretAccessKey,
	}, nil
}
