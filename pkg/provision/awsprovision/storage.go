package awsprovision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

type bucketClient interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutPublicAccessBlock(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
}

type userPolicyClient interface {
	PutUserPolicy(ctx context.Context, params *iam.PutUserPolicyInput, optFns ...func(*iam.Options)) (*iam.PutUserPolicyOutput, error)
}

// readWriteActions are the actions granted to identities with read and write access to a bucket.
var readWriteActions = []string{
	"s3:GetObject*",
	"s3:GetBucket*",
	"s3:List*",
	"s3:DeleteObject*",
	"s3:PutObject",
	"s3:PutObjectLegalHold",
	"s3:PutObjectRetention",
	"s3:PutObjectTagging",
	"s3:PutObjectVersionTagging",
	"s3:Abort*",
}

// StorageHandler applies a [model.ObjectStorage]: a private bucket and an inline policy granting
// read and write access to every grantee.
type StorageHandler struct {
	logger  *slog.Logger
	buckets bucketClient
	users   userPolicyClient
}

func NewStorageHandler(logger *slog.Logger, buckets bucketClient, users userPolicyClient) *StorageHandler {
	return &StorageHandler{logger: logger, buckets: buckets, users: users}
}

func (h *StorageHandler) Put(ctx context.Context, options *provision.PutOptions) (provision.Result, error) {
	storage, ok := options.Resource.(*model.ObjectStorage)
	if !ok {
		return provision.Result{}, fmt.Errorf("storage handler can't apply %s", options.Resource.Kind())
	}

	if err := h.bucket(ctx, storage, options); err != nil {
		return provision.Result{}, err
	}

	_, err := h.buckets.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: aws.String(storage.BucketName),
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(true),
			BlockPublicPolicy:     aws.Bool(true),
			IgnorePublicAcls:      aws.Bool(true),
			RestrictPublicBuckets: aws.Bool(true),
		},
	})
	if err != nil {
		return provision.Result{}, fmt.Errorf("failed to block public access to bucket %q: %w", storage.BucketName, err)
	}

	arn := bucketArn(storage.BucketName)
	policy := readWritePolicy(arn)
	for _, grantee := range storage.GrantReadWrite {
		userName, err := options.Resolver.Attribute(grantee, model.AttrUserName)
		if err != nil {
			return provision.Result{}, err
		}
		_, err = h.users.PutUserPolicy(ctx, &iam.PutUserPolicyInput{
			UserName:       aws.String(userName),
			PolicyName:     aws.String(storage.BucketName + "-read-write"),
			PolicyDocument: aws.String(policy.String()),
		})
		if err != nil {
			return provision.Result{}, fmt.Errorf("failed to grant user %q access to bucket %q: %w", userName, storage.BucketName, err)
		}
	}

	return provision.Result{
		PhysicalID: storage.BucketName,
		Outputs: map[string]string{
			model.AttrBucketName: storage.BucketName,
			model.AttrArn:        arn,
		},
	}, nil
}

func (h *StorageHandler) bucket(ctx context.Context, storage *model.ObjectStorage, options *provision.PutOptions) error {
	_, err := h.buckets.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(storage.BucketName)})
	if err == nil {
		return nil
	}
	if !provision.IsNotFound(err) {
		return fmt.Errorf("failed to head bucket %q: %w", storage.BucketName, err)
	}

	region, err := region(options)
	if err != nil {
		return err
	}
	input := &s3.CreateBucketInput{
		Bucket: aws.String(storage.BucketName),
		ACL:    s3types.BucketCannedACLPrivate,
	}
	// us-east-1 is the default and must not be passed as constraint
	if region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}

	_, err = h.buckets.CreateBucket(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", storage.BucketName, err)
	}
	h.logger.InfoContext(ctx, "Created bucket", "bucket", storage.BucketName)
	return nil
}

func bucketArn(name string) string {
	return "arn:aws:s3:::" + name
}

func readWritePolicy(bucketArn string) policyDocument {
	return policyDocument{
		Version: policyVersion,
		Statement: []policyStatement{
			{
				Effect:   "Allow",
				Action:   readWriteActions,
				Resource: []string{bucketArn, bucketArn + "/*"},
			},
		},
	}
}
