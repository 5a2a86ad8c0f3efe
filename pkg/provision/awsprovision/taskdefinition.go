package awsprovision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

const (
	executionRolePolicy = "arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"
	// tagChecksum holds the checksum of the registered definition so unchanged definitions are not
	// registered as new revision.
	tagChecksum = "monica:checksum"

	policyDescriptor = "descriptor"
	policySecrets    = "secrets"
	policyLogs       = "logs"
)

type taskDefinitionClient interface {
	DescribeTaskDefinition(ctx context.Context, params *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
	RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
}

// TaskDefinitionHandler applies a [model.TaskDefinition] together with the roles of its tasks. A
// new revision is only registered if the rendered definition changed.
type TaskDefinitionHandler struct {
	logger *slog.Logger
	client taskDefinitionClient
	roles  roleClient
}

func NewTaskDefinitionHandler(logger *slog.Logger, client taskDefinitionClient, roles roleClient) *TaskDefinitionHandler {
	return &TaskDefinitionHandler{logger: logger, client: client, roles: roles}
}

func (h *TaskDefinitionHandler) Put(ctx context.Context, options *provision.PutOptions) (provision.Result, error) {
	td, ok := options.Resource.(*model.TaskDefinition)
	if !ok {
		return provision.Result{}, fmt.Errorf("task definition handler can't apply %s", options.Resource.Kind())
	}
	stack := options.Descriptor.Name

	region, err := region(options)
	if err != nil {
		return provision.Result{}, err
	}

	secretArns := make(map[string]string)
	for _, id := range td.Secrets() {
		arn, err := options.Resolver.Attribute(id, model.AttrArn)
		if err != nil {
			return provision.Result{}, err
		}
		secretArns[id] = arn
	}

	taskRoleArn, err := putRole(ctx, h.roles, taskRole(td, stack))
	if err != nil {
		return provision.Result{}, err
	}
	executionRoleArn, err := putRole(ctx, h.roles, executionRole(td, stack, secretArns))
	if err != nil {
		return provision.Result{}, err
	}

	input, err := renderTaskDefinition(td, options.Resolver, secretArns, region)
	if err != nil {
		return provision.Result{}, err
	}
	input.TaskRoleArn = aws.String(taskRoleArn)
	input.ExecutionRoleArn = aws.String(executionRoleArn)

	checksum, err := definitionChecksum(input)
	if err != nil {
		return provision.Result{}, err
	}

	arn, err := h.current(ctx, td.Family, checksum)
	if err != nil {
		return provision.Result{}, err
	}
	if arn == "" {
		input.Tags = []ecstypes.Tag{
			{Key: aws.String(TagStack), Value: aws.String(stack)},
			{Key: aws.String(tagChecksum), Value: aws.String(checksum)},
		}
		registered, err := h.client.RegisterTaskDefinition(ctx, input)
		if err != nil {
			return provision.Result{}, fmt.Errorf("failed to register task definition %q: %w", td.Family, err)
		}
		arn = aws.ToString(registered.TaskDefinition.TaskDefinitionArn)
		h.logger.InfoContext(ctx, "Registered task definition", "family", td.Family, "revision", registered.TaskDefinition.Revision)
	}

	return provision.Result{
		PhysicalID: arn,
		Outputs: map[string]string{
			model.AttrArn:    arn,
			model.AttrFamily: td.Family,
		},
	}, nil
}

// current returns the ARN of the latest revision of the family if it was registered with the
// given checksum.
func (h *TaskDefinitionHandler) current(ctx context.Context, family, checksum string) (string, error) {
	output, err := h.client.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(family),
		Include:        []ecstypes.TaskDefinitionField{ecstypes.TaskDefinitionFieldTags},
	})
	if err != nil {
		if provision.IsNotFound(err) || isClientException(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to describe task definition %q: %w", family, err)
	}

	for _, tag := range output.Tags {
		if aws.ToString(tag.Key) == tagChecksum && aws.ToString(tag.Value) == checksum {
			return aws.ToString(output.TaskDefinition.TaskDefinitionArn), nil
		}
	}
	return "", nil
}

func taskRole(td *model.TaskDefinition, stack string) role {
	r := role{
		name:        td.Family + "-task",
		path:        "/",
		service:     "ecs-tasks.amazonaws.com",
		stack:       stack,
		inline:      map[string]policyDocument{},
		knownInline: []string{policyDescriptor},
	}
	if len(td.TaskRolePolicy) > 0 {
		r.inline[policyDescriptor] = toPolicyDocument(td.TaskRolePolicy)
	}
	return r
}

// executionRole is the role used by the container agent to pull images, write logs and read the
// injected secrets.
func executionRole(td *model.TaskDefinition, stack string, secretArns map[string]string) role {
	r := role{
		name:    td.Family + "-execution",
		path:    "/",
		service: "ecs-tasks.amazonaws.com",
		stack:   stack,
		managed: []string{executionRolePolicy},
		inline: map[string]policyDocument{
			policyLogs: {
				Version:   policyVersion,
				Statement: []policyStatement{{Effect: "Allow", Action: []string{"logs:CreateLogGroup"}, Resource: []string{"*"}}},
			},
		},
		knownInline: []string{policyDescriptor, policySecrets},
	}

	if len(secretArns) > 0 {
		var arns []string
		for _, id := range sortedKeys(secretArns) {
			arns = append(arns, secretArns[id])
		}
		r.inline[policySecrets] = policyDocument{
			Version: policyVersion,
			Statement: []policyStatement{
				{Effect: "Allow", Action: []string{"secretsmanager:GetSecretValue", "secretsmanager:DescribeSecret"}, Resource: arns},
			},
		}
	}
	if len(td.ExecutionRolePolicy) > 0 {
		r.inline[policyDescriptor] = toPolicyDocument(td.ExecutionRolePolicy)
	}
	return r
}

// renderTaskDefinition resolves the values of the task definition. Secrets are rendered as
// references into the secret document which the container agent resolves when the task starts.
func renderTaskDefinition(td *model.TaskDefinition, resolver *provision.Resolver, secretArns map[string]string, region string) (*ecs.RegisterTaskDefinitionInput, error) {
	input := &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(td.Family),
		NetworkMode:             ecstypes.NetworkMode(td.NetworkMode),
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityEc2},
	}

	for _, v := range td.Volumes {
		input.Volumes = append(input.Volumes, ecstypes.Volume{
			Name: aws.String(v.Name),
			Host: &ecstypes.HostVolumeProperties{SourcePath: aws.String(v.SourcePath)},
		})
	}

	for _, c := range td.Containers {
		definition := ecstypes.ContainerDefinition{
			Name:              aws.String(c.Name),
			Image:             aws.String(c.Image),
			MemoryReservation: aws.Int32(c.MemoryReservationMiB),
			Essential:         aws.Bool(c.Essential),
			DockerLabels:      c.DockerLabels,
			Links:             c.Links,
		}

		for _, name := range sortedKeys(c.Environment) {
			value, err := resolver.Value(c.Environment[name])
			if err != nil {
				return nil, fmt.Errorf("failed to render environment %q of container %q: %w", name, c.Name, err)
			}
			definition.Environment = append(definition.Environment, ecstypes.KeyValuePair{Name: aws.String(name), Value: aws.String(value)})
		}

		for _, name := range sortedKeys(c.Secrets) {
			ref := c.Secrets[name]
			arn, ok := secretArns[ref.Secret]
			if !ok {
				return nil, fmt.Errorf("failed to render secret %q of container %q: %s has not been applied", name, c.Name, ref)
			}
			definition.Secrets = append(definition.Secrets, ecstypes.Secret{
				Name:      aws.String(name),
				ValueFrom: aws.String(secretValueFrom(arn, ref.Field)),
			})
		}

		for _, p := range c.PortMappings {
			definition.PortMappings = append(definition.PortMappings, ecstypes.PortMapping{
				ContainerPort: aws.Int32(p.ContainerPort),
				HostPort:      aws.Int32(p.HostPort),
				Protocol:      ecstypes.TransportProtocol(p.Protocol),
			})
		}

		for _, m := range c.MountPoints {
			definition.MountPoints = append(definition.MountPoints, ecstypes.MountPoint{
				SourceVolume:  aws.String(m.SourceVolume),
				ContainerPath: aws.String(m.ContainerPath),
				ReadOnly:      aws.Bool(m.ReadOnly),
			})
		}

		for _, d := range c.DependsOn {
			definition.DependsOn = append(definition.DependsOn, ecstypes.ContainerDependency{
				ContainerName: aws.String(d.Container),
				Condition:     ecstypes.ContainerCondition(d.Condition),
			})
		}

		if c.Logging != nil {
			definition.LogConfiguration = &ecstypes.LogConfiguration{
				LogDriver: ecstypes.LogDriverAwslogs,
				Options: map[string]string{
					"awslogs-create-group":  "true",
					"awslogs-group":         "/ecs/" + td.Family,
					"awslogs-region":        region,
					"awslogs-stream-prefix": c.Logging.StreamPrefix,
				},
			}
		}

		input.ContainerDefinitions = append(input.ContainerDefinitions, definition)
	}

	return input, nil
}

// secretValueFrom references a JSON key of the current version of a secret.
func secretValueFrom(secretArn, field string) string {
	return secretArn + ":" + field + "::"
}

func definitionChecksum(input *ecs.RegisterTaskDefinitionInput) (string, error) {
	b, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode task definition: %v", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
