package awsprovision

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

const clusterAvailable = "available"

type databaseClient interface {
	DescribeDBSubnetGroups(ctx context.Context, params *rds.DescribeDBSubnetGroupsInput, optFns ...func(*rds.Options)) (*rds.DescribeDBSubnetGroupsOutput, error)
	CreateDBSubnetGroup(ctx context.Context, params *rds.CreateDBSubnetGroupInput, optFns ...func(*rds.Options)) (*rds.CreateDBSubnetGroupOutput, error)
	ModifyDBSubnetGroup(ctx context.Context, params *rds.ModifyDBSubnetGroupInput, optFns ...func(*rds.Options)) (*rds.ModifyDBSubnetGroupOutput, error)
	DescribeDBClusters(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
	CreateDBCluster(ctx context.Context, params *rds.CreateDBClusterInput, optFns ...func(*rds.Options)) (*rds.CreateDBClusterOutput, error)
	ModifyDBCluster(ctx context.Context, params *rds.ModifyDBClusterInput, optFns ...func(*rds.Options)) (*rds.ModifyDBClusterOutput, error)
}

// DatabaseHandler applies a [model.Database] as a serverless Aurora cluster. It waits for the
// cluster to become available since its endpoint is only known by then.
type DatabaseHandler struct {
	logger       *slog.Logger
	client       databaseClient
	ingress      ingressClient
	pollInterval time.Duration
}

func NewDatabaseHandler(logger *slog.Logger, client databaseClient, ingress ingressClient) *DatabaseHandler {
	return &DatabaseHandler{logger: logger, client: client, ingress: ingress, pollInterval: 30 * time.Second}
}

func (h *DatabaseHandler) Put(ctx context.Context, options *provision.PutOptions) (provision.Result, error) {
	database, ok := options.Resource.(*model.Database)
	if !ok {
		return provision.Result{}, fmt.Errorf("database handler can't apply %s", options.Resource.Kind())
	}
	stack := options.Descriptor.Name

	subnetIDs, err := options.Resolver.List(database.Subnets)
	if err != nil {
		return provision.Result{}, err
	}
	groupID, err := options.Resolver.Value(database.SecurityGroup)
	if err != nil {
		return provision.Result{}, err
	}
	password, err := options.Resolver.SecretField(database.MasterPassword)
	if err != nil {
		return provision.Result{}, err
	}

	subnetGroup, err := h.subnetGroup(ctx, database, subnetIDs, stack)
	if err != nil {
		return provision.Result{}, err
	}

	if err := reconcileIngress(ctx, h.logger, h.ingress, groupID, database.Ingress, options.Resolver); err != nil {
		return provision.Result{}, err
	}

	cluster, err := h.describe(ctx, database.ClusterIdentifier)
	if err != nil {
		return provision.Result{}, err
	}
	if cluster == nil {
		err = h.create(ctx, database, subnetGroup, groupID, password, stack)
	} else {
		err = h.modify(ctx, database, cluster)
	}
	if err != nil {
		return provision.Result{}, err
	}

	cluster, err = h.waitAvailable(ctx, database.ClusterIdentifier)
	if err != nil {
		return provision.Result{}, err
	}

	return provision.Result{
		PhysicalID: database.ClusterIdentifier,
		Outputs: map[string]string{
			model.AttrEndpointAddress:   aws.ToString(cluster.Endpoint),
			model.AttrPort:              strconv.Itoa(int(aws.ToInt32(cluster.Port))),
			model.AttrClusterIdentifier: aws.ToString(cluster.DBClusterIdentifier),
		},
	}, nil
}

func (h *DatabaseHandler) subnetGroup(ctx context.Context, database *model.Database, subnetIDs []string, stack string) (string, error) {
	name := database.ClusterIdentifier + "-subnets"
	_, err := h.client.DescribeDBSubnetGroups(ctx, &rds.DescribeDBSubnetGroupsInput{DBSubnetGroupName: aws.String(name)})
	if err != nil && !provision.IsNotFound(err) {
		return "", fmt.Errorf("failed to describe subnet group %q: %w", name, err)
	}

	description := "subnets of database " + database.ClusterIdentifier
	if err == nil {
		_, err = h.client.ModifyDBSubnetGroup(ctx, &rds.ModifyDBSubnetGroupInput{
			DBSubnetGroupName:        aws.String(name),
			DBSubnetGroupDescription: aws.String(description),
			SubnetIds:                subnetIDs,
		})
		if err != nil {
			return "", fmt.Errorf("failed to modify subnet group %q: %w", name, err)
		}
		return name, nil
	}

	_, err = h.client.CreateDBSubnetGroup(ctx, &rds.CreateDBSubnetGroupInput{
		DBSubnetGroupName:        aws.String(name),
		DBSubnetGroupDescription: aws.String(description),
		SubnetIds:                subnetIDs,
		Tags:                     []rdstypes.Tag{{Key: aws.String(TagStack), Value: aws.String(stack)}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create subnet group %q: %w", name, err)
	}
	return name, nil
}

// describe returns the cluster or nil if it does not exist.
func (h *DatabaseHandler) describe(ctx context.Context, identifier string) (*rdstypes.DBCluster, error) {
	output, err := h.client.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{DBClusterIdentifier: aws.String(identifier)})
	if provision.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to describe database cluster %q: %w", identifier, err)
	}
	if len(output.DBClusters) == 0 {
		return nil, nil
	}
	return &output.DBClusters[0], nil
}

func scalingConfiguration(scaling model.Scaling) *rdstypes.ScalingConfiguration {
	return &rdstypes.ScalingConfiguration{
		MinCapacity:           aws.Int32(scaling.MinCapacity),
		MaxCapacity:           aws.Int32(scaling.MaxCapacity),
		AutoPause:             aws.Bool(true),
		SecondsUntilAutoPause: aws.Int32(int32(time.Duration(scaling.AutoPause).Seconds())),
	}
}

func (h *DatabaseHandler) create(ctx context.Context, database *model.Database, subnetGroup, groupID, password, stack string) error {
	_, err := h.client.CreateDBCluster(ctx, &rds.CreateDBClusterInput{
		DBClusterIdentifier:  aws.String(database.ClusterIdentifier),
		Engine:               aws.String(database.Engine),
		EngineMode:           aws.String("serverless"),
		DatabaseName:         aws.String(database.DefaultDatabaseName),
		MasterUsername:       aws.String(database.MasterUsername),
		MasterUserPassword:   aws.String(password),
		DBSubnetGroupName:    aws.String(subnetGroup),
		VpcSecurityGroupIds:  []string{groupID},
		ScalingConfiguration: scalingConfiguration(database.Scaling),
		Tags:                 []rdstypes.Tag{{Key: aws.String(TagStack), Value: aws.String(stack)}},
	})
	if err != nil {
		return fmt.Errorf("failed to create database cluster %q: %w", database.ClusterIdentifier, err)
	}
	h.logger.InfoContext(ctx, "Created database cluster", "clusterIdentifier", database.ClusterIdentifier)
	return nil
}

func (h *DatabaseHandler) modify(ctx context.Context, database *model.Database, cluster *rdstypes.DBCluster) error {
	want := scalingConfiguration(database.Scaling)
	if current := cluster.ScalingConfigurationInfo; current != nil &&
		aws.ToInt32(current.MinCapacity) == aws.ToInt32(want.MinCapacity) &&
		aws.ToInt32(current.MaxCapacity) == aws.ToInt32(want.MaxCapacity) &&
		aws.ToBool(current.AutoPause) == aws.ToBool(want.AutoPause) &&
		aws.ToInt32(current.SecondsUntilAutoPause) == aws.ToInt32(want.SecondsUntilAutoPause) {
		return nil
	}

	_, err := h.client.ModifyDBCluster(ctx, &rds.ModifyDBClusterInput{
		DBClusterIdentifier:  aws.String(database.ClusterIdentifier),
		ScalingConfiguration: want,
		ApplyImmediately:     aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to modify database cluster %q: %w", database.ClusterIdentifier, err)
	}
	h.logger.InfoContext(ctx, "Modified database cluster", "clusterIdentifier", database.ClusterIdentifier)
	return nil
}

func (h *DatabaseHandler) waitAvailable(ctx context.Context, identifier string) (*rdstypes.DBCluster, error) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		cluster, err := h.describe(ctx, identifier)
		if err != nil {
			return nil, err
		}
		if cluster == nil {
			return nil, fmt.Errorf("database cluster %q vanished while waiting for it", identifier)
		}
		status := aws.ToString(cluster.Status)
		if status == clusterAvailable {
			return cluster, nil
		}
		h.logger.DebugContext(ctx, "Waiting for database cluster", "clusterIdentifier", identifier, "status", status)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("database cluster %q not available: %w", identifier, ctx.Err())
		case <-ticker.C:
		}
	}
}
