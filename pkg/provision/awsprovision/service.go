package awsprovision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

type serviceClient interface {
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	CreateService(ctx context.Context, params *ecs.CreateServiceInput, optFns ...func(*ecs.Options)) (*ecs.CreateServiceOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

// ServiceHandler applies a [model.Service] running on the container instances of the cluster.
type ServiceHandler struct {
	logger *slog.Logger
	client serviceClient
}

func NewServiceHandler(logger *slog.Logger, client serviceClient) *ServiceHandler {
	return &ServiceHandler{logger: logger, client: client}
}

func (h *ServiceHandler) Put(ctx context.Context, options *provision.PutOptions) (provision.Result, error) {
	service, ok := options.Resource.(*model.Service)
	if !ok {
		return provision.Result{}, fmt.Errorf("service handler can't apply %s", options.Resource.Kind())
	}

	cluster, err := options.Resolver.Attribute(service.Cluster, model.AttrClusterName)
	if err != nil {
		return provision.Result{}, err
	}
	taskDefinition, err := options.Resolver.Attribute(service.TaskDefinition, model.AttrArn)
	if err != nil {
		return provision.Result{}, err
	}

	existing, err := h.client.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{service.ServiceName},
	})
	if err != nil {
		return provision.Result{}, fmt.Errorf("failed to describe service %q: %w", service.ServiceName, err)
	}

	for _, s := range existing.Services {
		if aws.ToString(s.Status) != "ACTIVE" {
			continue
		}
		if aws.ToString(s.TaskDefinition) == taskDefinition && s.DesiredCount == service.DesiredCount {
			return serviceResult(s.ServiceArn), nil
		}
		updated, err := h.client.UpdateService(ctx, &ecs.UpdateServiceInput{
			Cluster:        aws.String(cluster),
			Service:        aws.String(service.ServiceName),
			TaskDefinition: aws.String(taskDefinition),
			DesiredCount:   aws.Int32(service.DesiredCount),
		})
		if err != nil {
			return provision.Result{}, fmt.Errorf("failed to update service %q: %w", service.ServiceName, err)
		}
		h.logger.InfoContext(ctx, "Updated service", "name", service.ServiceName, "taskDefinition", taskDefinition)
		return serviceResult(updated.Service.ServiceArn), nil
	}

	created, err := h.client.CreateService(ctx, &ecs.CreateServiceInput{
		Cluster:        aws.String(cluster),
		ServiceName:    aws.String(service.ServiceName),
		TaskDefinition: aws.String(taskDefinition),
		DesiredCount:   aws.Int32(service.DesiredCount),
		LaunchType:     ecstypes.LaunchTypeEc2,
		Tags:           []ecstypes.Tag{{Key: aws.String(TagStack), Value: aws.String(options.Descriptor.Name)}},
	})
	if err != nil {
		return provision.Result{}, fmt.Errorf("failed to create service %q: %w", service.ServiceName, err)
	}
	h.logger.InfoContext(ctx, "Created service", "name", service.ServiceName, "taskDefinition", taskDefinition)
	return serviceResult(created.Service.ServiceArn), nil
}

func serviceResult(arn *string) provision.Result {
	return provision.Result{
		PhysicalID: aws.ToString(arn),
		Outputs:    map[string]string{model.AttrArn: aws.ToString(arn)},
	}
}

// isClientException returns true for the generic ECS error also reported for unknown task
// definition families.
func isClientException(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ClientException"
}
