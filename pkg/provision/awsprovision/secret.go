package awsprovision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
	"github.com/monica-infra/deployer/pkg/secret"
)

type secretClient interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
}

// SecretHandler applies a [model.Secret] stored as JSON document. Generated fields are generated
// once and kept on updates. Referenced fields are refreshed unless the reference resolves to an
// empty value, which is the case for credentials that can only be read when they are created. An
// empty reference without stored value is an error.
type SecretHandler struct {
	logger   *slog.Logger
	client   secretClient
	generate func(secret.Spec) (string, error)
}

func NewSecretHandler(logger *slog.Logger, client secretClient) *SecretHandler {
	return &SecretHandler{logger: logger, client: client, generate: secret.Generate}
}

func (h *SecretHandler) Put(ctx context.Context, options *provision.PutOptions) (provision.Result, error) {
	s, ok := options.Resource.(*model.Secret)
	if !ok {
		return provision.Result{}, fmt.Errorf("secret handler can't apply %s", options.Resource.Kind())
	}

	arn, current, err := h.current(ctx, s)
	if err != nil {
		return provision.Result{}, err
	}

	fields, err := h.fields(s, current, options.Resolver)
	if err != nil {
		return provision.Result{}, err
	}

	document, err := json.Marshal(fields)
	if err != nil {
		return provision.Result{}, fmt.Errorf("failed to encode secret %q: %v", s.Name, err)
	}

	if arn == "" {
		created, err := h.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(s.Name),
			SecretString: aws.String(string(document)),
			Tags:         []smtypes.Tag{{Key: aws.String(TagStack), Value: aws.String(options.Descriptor.Name)}},
		})
		if err != nil {
			return provision.Result{}, fmt.Errorf("failed to create secret %q: %w", s.Name, err)
		}
		arn = aws.ToString(created.ARN)
		h.logger.InfoContext(ctx, "Created secret", "name", s.Name)
	} else if !maps.Equal(current, fields) {
		_, err := h.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(arn),
			SecretString: aws.String(string(document)),
		})
		if err != nil {
			return provision.Result{}, fmt.Errorf("failed to update secret %q: %w", s.Name, err)
		}
		h.logger.InfoContext(ctx, "Updated secret", "name", s.Name)
	}

	outputs := map[string]string{model.AttrArn: arn}
	sensitive := make([]string, 0, len(fields))
	for _, name := range sortedKeys(fields) {
		outputs[name] = fields[name]
		sensitive = append(sensitive, name)
	}
	return provision.Result{PhysicalID: arn, Outputs: outputs, Sensitive: sensitive}, nil
}

// current returns the ARN and fields of the existing secret. The ARN is empty if the secret does
// not exist.
func (h *SecretHandler) current(ctx context.Context, s *model.Secret) (string, map[string]string, error) {
	described, err := h.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(s.Name)})
	if provision.IsNotFound(err) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to describe secret %q: %w", s.Name, err)
	}

	arn := aws.ToString(described.ARN)
	value, err := h.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(arn)})
	if err != nil {
		return "", nil, fmt.Errorf("failed to get value of secret %q: %w", s.Name, err)
	}

	fields := make(map[string]string)
	if err := json.Unmarshal([]byte(aws.ToString(value.SecretString)), &fields); err != nil {
		return "", nil, fmt.Errorf("secret %q is not a JSON document of strings: %v", s.Name, err)
	}
	return arn, fields, nil
}

func (h *SecretHandler) fields(s *model.Secret, current map[string]string, resolver *provision.Resolver) (map[string]string, error) {
	fields := make(map[string]string, len(s.Generate)+len(s.References))
	for _, g := range s.Generate {
		if value, ok := current[g.Name]; ok && value != "" {
			fields[g.Name] = value
			continue
		}
		value, err := h.generate(secret.Spec{Length: g.Length, ExcludeCharacters: g.ExcludeCharacters, ExcludePunctuation: g.ExcludePunctuation})
		if err != nil {
			return nil, fmt.Errorf("failed to generate field %q of secret %q: %v", g.Name, s.Name, err)
		}
		fields[g.Name] = value
	}

	for _, name := range sortedKeys(s.References) {
		value, err := resolver.Value(s.References[name])
		if err != nil {
			return nil, err
		}
		if value == "" {
			value = current[name]
		}
		if value == "" {
			return nil, fmt.Errorf("field %q of secret %q resolves to an empty value and no value is stored", name, s.Name)
		}
		fields[name] = value
	}
	return fields, nil
}
