// Package awsprovision applies descriptor resources to an AWS account. There is one handler per
// resource kind. Handlers look up the resource by its physical name first and create it only if it
// does not exist, otherwise they update it. Handlers depend on narrow interfaces of the AWS SDK
// clients so they can be tested without an account.
package awsprovision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

// TagStack is the tag carrying the name of the descriptor a resource belongs to.
const TagStack = "monica:stack"

// LoadConfig loads the AWS configuration from the default chain. The region is overridden if
// given.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	var options []func(*config.LoadOptions) error
	if region != "" {
		options = append(options, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %v", err)
	}
	return cfg, nil
}

// NewHandlers returns a handler for every resource kind.
func NewHandlers(logger *slog.Logger, cfg aws.Config) map[model.Kind]provision.Handler {
	ec2Client := ec2.NewFromConfig(cfg)
	iamClient := iam.NewFromConfig(cfg)
	ecsClient := ecs.NewFromConfig(cfg)
	secretsClient := secretsmanager.NewFromConfig(cfg)

	return map[model.Kind]provision.Handler{
		model.KindNetwork:        NewNetworkHandler(logger, ec2Client),
		model.KindIdentity:       NewIdentityHandler(logger, iamClient, secretsClient),
		model.KindObjectStorage:  NewStorageHandler(logger, s3.NewFromConfig(cfg), iamClient),
		model.KindSecret:         NewSecretHandler(logger, secretsClient),
		model.KindDatabase:       NewDatabaseHandler(logger, rds.NewFromConfig(cfg), ec2Client),
		model.KindComputeCluster: NewClusterHandler(logger, ecsClient, iamClient, ec2Client, autoscaling.NewFromConfig(cfg)),
		model.KindTaskDefinition: NewTaskDefinitionHandler(logger, ecsClient, iamClient),
		model.KindService:        NewServiceHandler(logger, ecsClient),
	}
}

// NewPseudoResolver returns a resolver of the region and account the configuration points at.
func NewPseudoResolver(cfg aws.Config) *PseudoResolver {
	return &PseudoResolver{region: cfg.Region, client: sts.NewFromConfig(cfg)}
}

func region(options *provision.PutOptions) (string, error) {
	return options.Resolver.Attribute(model.PseudoResource, model.PseudoRegion)
}

func account(options *provision.PutOptions) (string, error) {
	return options.Resolver.Attribute(model.PseudoResource, model.PseudoAccountID)
}
