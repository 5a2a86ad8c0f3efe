package awsprovision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

type identityClient interface {
	GetUser(ctx context.Context, params *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error)
	CreateUser(ctx context.Context, params *iam.CreateUserInput, optFns ...func(*iam.Options)) (*iam.CreateUserOutput, error)
	ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
	CreateAccessKey(ctx context.Context, params *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error)
	DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error)
}

type keyStoreClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// IdentityHandler applies a [model.Identity]: an IAM user with a single access key. The secret
// access key can only be read when the key is created. It is empty in the outputs of an update
// if it is found in the key store of the identity. Otherwise the existing keys are deleted and a
// new key is created.
type IdentityHandler struct {
	logger  *slog.Logger
	client  identityClient
	secrets keyStoreClient
}

func NewIdentityHandler(logger *slog.Logger, client identityClient, secrets keyStoreClient) *IdentityHandler {
	return &IdentityHandler{logger: logger, client: client, secrets: secrets}
}

func (h *IdentityHandler) Put(ctx context.Context, options *provision.PutOptions) (provision.Result, error) {
	identity, ok := options.Resource.(*model.Identity)
	if !ok {
		return provision.Result{}, fmt.Errorf("identity handler can't apply %s", options.Resource.Kind())
	}

	user, err := h.user(ctx, identity, options.Descriptor.Name)
	if err != nil {
		return provision.Result{}, err
	}

	accessKeyID, secretAccessKey, err := h.accessKey(ctx, identity)
	if err != nil {
		return provision.Result{}, err
	}

	return provision.Result{
		PhysicalID: aws.ToString(user.Arn),
		Outputs: map[string]string{
			model.AttrUserName:        aws.ToString(user.UserName),
			model.AttrArn:             aws.ToString(user.Arn),
			model.AttrAccessKeyID:     accessKeyID,
			model.AttrSecretAccessKey: secretAccessKey,
		},
		Sensitive: []string{model.AttrSecretAccessKey},
	}, nil
}

func (h *IdentityHandler) user(ctx context.Context, identity *model.Identity, stack string) (*iamtypes.User, error) {
	existing, err := h.client.GetUser(ctx, &iam.GetUserInput{UserName: aws.String(identity.UserName)})
	if err == nil {
		return existing.User, nil
	}
	if !provision.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get user %q: %w", identity.UserName, err)
	}

	created, err := h.client.CreateUser(ctx, &iam.CreateUserInput{
		UserName: aws.String(identity.UserName),
		Path:     aws.String(identity.Path),
		Tags:     []iamtypes.Tag{{Key: aws.String(TagStack), Value: aws.String(stack)}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user %q: %w", identity.UserName, err)
	}
	h.logger.InfoContext(ctx, "Created user", "userName", identity.UserName)
	return created.User, nil
}

func (h *IdentityHandler) accessKey(ctx context.Context, identity *model.Identity) (string, string, error) {
	keys, err := h.client.ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: aws.String(identity.UserName)})
	if err != nil {
		return "", "", fmt.Errorf("failed to list access keys of user %q: %w", identity.UserName, err)
	}
	if len(keys.AccessKeyMetadata) > 0 {
		stored, err := h.stored(ctx, identity)
		if err != nil {
			return "", "", err
		}
		if stored {
			return aws.ToString(keys.AccessKeyMetadata[0].AccessKeyId), "", nil
		}

		for _, key := range keys.AccessKeyMetadata {
			_, err := h.client.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{UserName: aws.String(identity.UserName), AccessKeyId: key.AccessKeyId})
			if err != nil && !provision.IsNotFound(err) {
				return "", "", fmt.Errorf("failed to delete access key %q of user %q: %w", aws.ToString(key.AccessKeyId), identity.UserName, err)
			}
			h.logger.InfoContext(ctx, "Deleted access key with unknown secret", "userName", identity.UserName, "accessKeyId", aws.ToString(key.AccessKeyId))
		}
	}

	created, err := h.client.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{UserName: aws.String(identity.UserName)})
	if err != nil {
		return "", "", fmt.Errorf("failed to create access key of user %q: %w", identity.UserName, err)
	}
	h.logger.InfoContext(ctx, "Created access key", "userName", identity.UserName, "accessKeyId", aws.ToString(created.AccessKey.AccessKeyId))
	return aws.ToString(created.AccessKey.AccessKeyId), aws.ToString(created.AccessKey.SecretAccessKey), nil
}

// stored returns true if the secret access key of the identity is found in its key store. An
// identity without key store is assumed to keep its key elsewhere.
func (h *IdentityHandler) stored(ctx context.Context, identity *model.Identity) (bool, error) {
	if identity.KeyStore == nil {
		return true, nil
	}

	value, err := h.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(identity.KeyStore.Secret)})
	if provision.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get value of secret %q: %w", identity.KeyStore.Secret, err)
	}

	fields := make(map[string]string)
	if err := json.Unmarshal([]byte(aws.ToString(value.SecretString)), &fields); err != nil {
		return false, fmt.Errorf("secret %q is not a JSON document of strings: %v", identity.KeyStore.Secret, err)
	}
	return fields[identity.KeyStore.Field] != "", nil
}
