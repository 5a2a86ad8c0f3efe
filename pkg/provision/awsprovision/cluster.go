package awsprovision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

const (
	instanceRolePolicy = "arn:aws:iam::aws:policy/service-role/AmazonEC2ContainerServiceforEC2Role"
	ecsImagePattern    = "amzn2-ami-ecs-hvm-*-x86_64-ebs"
	latestVersion      = "$Latest"
)

type containerClusterClient interface {
	DescribeClusters(ctx context.Context, params *ecs.DescribeClustersInput, optFns ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error)
	CreateCluster(ctx context.Context, params *ecs.CreateClusterInput, optFns ...func(*ecs.Options)) (*ecs.CreateClusterOutput, error)
}

type instanceProfileClient interface {
	roleClient
	GetInstanceProfile(ctx context.Context, params *iam.GetInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error)
	CreateInstanceProfile(ctx context.Context, params *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error)
	AddRoleToInstanceProfile(ctx context.Context, params *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error)
}

type launchTemplateClient interface {
	ingressClient
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DescribeLaunchTemplateVersions(ctx context.Context, params *ec2.DescribeLaunchTemplateVersionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplateVersionsOutput, error)
	CreateLaunchTemplate(ctx context.Context, params *ec2.CreateLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error)
	CreateLaunchTemplateVersion(ctx context.Context, params *ec2.CreateLaunchTemplateVersionInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateVersionOutput, error)
}

type autoScalingClient interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	CreateAutoScalingGroup(ctx context.Context, params *autoscaling.CreateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error)
	UpdateAutoScalingGroup(ctx context.Context, params *autoscaling.UpdateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error)
}

// ClusterHandler applies a [model.ComputeCluster]: an ECS cluster and an autoscaling group of
// container instances registering with it.
type ClusterHandler struct {
	logger      *slog.Logger
	clusters    containerClusterClient
	iam         instanceProfileClient
	ec2         launchTemplateClient
	autoScaling autoScalingClient
}

func NewClusterHandler(logger *slog.Logger, clusters containerClusterClient, iam instanceProfileClient, ec2 launchTemplateClient, autoScaling autoScalingClient) *ClusterHandler {
	return &ClusterHandler{logger: logger, clusters: clusters, iam: iam, ec2: ec2, autoScaling: autoScaling}
}

func (h *ClusterHandler) Put(ctx context.Context, options *provision.PutOptions) (provision.Result, error) {
	cluster, ok := options.Resource.(*model.ComputeCluster)
	if !ok {
		return provision.Result{}, fmt.Errorf("cluster handler can't apply %s", options.Resource.Kind())
	}
	stack := options.Descriptor.Name

	subnetIDs, err := options.Resolver.List(cluster.Subnets)
	if err != nil {
		return provision.Result{}, err
	}
	groupID, err := options.Resolver.Value(cluster.SecurityGroup)
	if err != nil {
		return provision.Result{}, err
	}

	arn, err := h.cluster(ctx, cluster, stack)
	if err != nil {
		return provision.Result{}, err
	}

	if err := reconcileIngress(ctx, h.logger, h.ec2, groupID, cluster.Ingress, options.Resolver); err != nil {
		return provision.Result{}, err
	}

	profileArn, err := h.instanceProfile(ctx, cluster, stack)
	if err != nil {
		return provision.Result{}, err
	}

	template, err := h.launchTemplate(ctx, cluster, profileArn, groupID, stack)
	if err != nil {
		return provision.Result{}, err
	}

	if err := h.autoScalingGroup(ctx, cluster, template, subnetIDs, stack); err != nil {
		return provision.Result{}, err
	}

	return provision.Result{
		PhysicalID: arn,
		Outputs: map[string]string{
			model.AttrClusterName: cluster.ClusterName,
			model.AttrArn:         arn,
		},
	}, nil
}

func (h *ClusterHandler) cluster(ctx context.Context, cluster *model.ComputeCluster, stack string) (string, error) {
	existing, err := h.clusters.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: []string{cluster.ClusterName}})
	if err != nil {
		return "", fmt.Errorf("failed to describe cluster %q: %w", cluster.ClusterName, err)
	}
	for _, c := range existing.Clusters {
		// deleted clusters are reported as inactive until they are purged
		if aws.ToString(c.Status) == "ACTIVE" {
			return aws.ToString(c.ClusterArn), nil
		}
	}

	created, err := h.clusters.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName: aws.String(cluster.ClusterName),
		Tags:        []ecstypes.Tag{{Key: aws.String(TagStack), Value: aws.String(stack)}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create cluster %q: %w", cluster.ClusterName, err)
	}
	h.logger.InfoContext(ctx, "Created cluster", "name", cluster.ClusterName)
	return aws.ToString(created.Cluster.ClusterArn), nil
}

func (h *ClusterHandler) instanceProfile(ctx context.Context, cluster *model.ComputeCluster, stack string) (string, error) {
	name := cluster.ClusterName + "-instance"
	_, err := putRole(ctx, h.iam, role{
		name:    name,
		path:    "/",
		service: "ec2.amazonaws.com",
		stack:   stack,
		managed: []string{instanceRolePolicy},
	})
	if err != nil {
		return "", err
	}

	existing, err := h.iam.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{InstanceProfileName: aws.String(name)})
	if err != nil && !provision.IsNotFound(err) {
		return "", fmt.Errorf("failed to get instance profile %q: %w", name, err)
	}

	var profile *iamtypes.InstanceProfile
	if err == nil {
		profile = existing.InstanceProfile
	} else {
		created, err := h.iam.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
			InstanceProfileName: aws.String(name),
			Tags:                []iamtypes.Tag{{Key: aws.String(TagStack), Value: aws.String(stack)}},
		})
		if err != nil {
			return "", fmt.Errorf("failed to create instance profile %q: %w", name, err)
		}
		profile = created.InstanceProfile
	}

	for _, r := range profile.Roles {
		if aws.ToString(r.RoleName) == name {
			return aws.ToString(profile.Arn), nil
		}
	}
	_, err = h.iam.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: aws.String(name),
		RoleName:            aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to add role to instance profile %q: %w", name, err)
	}
	return aws.ToString(profile.Arn), nil
}

// image returns the latest ECS optimized image.
func (h *ClusterHandler) image(ctx context.Context) (string, error) {
	output, err := h.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners:  []string{"amazon"},
		Filters: []ec2types.Filter{filter("name", ecsImagePattern), filter("state", "available")},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe ECS optimized images: %w", err)
	}
	if len(output.Images) == 0 {
		return "", errors.New("no ECS optimized image found")
	}

	images := output.Images
	sort.Slice(images, func(i, j int) bool {
		return aws.ToString(images[i].CreationDate) > aws.ToString(images[j].CreationDate)
	})
	return aws.ToString(images[0].ImageId), nil
}

// userData joins the instance to the cluster.
func userData(clusterName string) string {
	script := fmt.Sprintf("#!/bin/bash\necho ECS_CLUSTER=%s >> /etc/ecs/ecs.config\n", clusterName)
	return base64.StdEncoding.EncodeToString([]byte(script))
}

// launchTemplate creates the template or a new version of it if the instances changed. The
// autoscaling group always uses the latest version.
func (h *ClusterHandler) launchTemplate(ctx context.Context, cluster *model.ComputeCluster, profileArn, groupID, stack string) (string, error) {
	name := cluster.ClusterName + "-capacity"

	imageID, err := h.image(ctx)
	if err != nil {
		return "", err
	}

	data := &ec2types.RequestLaunchTemplateData{
		ImageId:            aws.String(imageID),
		InstanceType:       ec2types.InstanceType(cluster.Capacity.InstanceType),
		IamInstanceProfile: &ec2types.LaunchTemplateIamInstanceProfileSpecificationRequest{Arn: aws.String(profileArn)},
		SecurityGroupIds:   []string{groupID},
		UserData:           aws.String(userData(cluster.ClusterName)),
	}

	existing, err := h.ec2.DescribeLaunchTemplateVersions(ctx, &ec2.DescribeLaunchTemplateVersionsInput{
		LaunchTemplateName: aws.String(name),
		Versions:           []string{latestVersion},
	})
	if err != nil && !provision.IsNotFound(err) {
		return "", fmt.Errorf("failed to describe launch template %q: %w", name, err)
	}

	if err == nil && len(existing.LaunchTemplateVersions) > 0 {
		current := existing.LaunchTemplateVersions[0].LaunchTemplateData
		if current != nil &&
			aws.ToString(current.ImageId) == imageID &&
			current.InstanceType == data.InstanceType &&
			aws.ToString(current.UserData) == aws.ToString(data.UserData) &&
			slices.Equal(current.SecurityGroupIds, data.SecurityGroupIds) &&
			current.IamInstanceProfile != nil && aws.ToString(current.IamInstanceProfile.Arn) == profileArn {
			return name, nil
		}

		_, err := h.ec2.CreateLaunchTemplateVersion(ctx, &ec2.CreateLaunchTemplateVersionInput{
			LaunchTemplateName: aws.String(name),
			LaunchTemplateData: data,
		})
		if err != nil {
			return "", fmt.Errorf("failed to create version of launch template %q: %w", name, err)
		}
		h.logger.InfoContext(ctx, "Created launch template version", "name", name, "imageId", imageID)
		return name, nil
	}

	_, err = h.ec2.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
		LaunchTemplateName: aws.String(name),
		LaunchTemplateData: data,
		TagSpecifications:  tagSpecification(ec2types.ResourceTypeLaunchTemplate, name, stack),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create launch template %q: %w", name, err)
	}
	h.logger.InfoContext(ctx, "Created launch template", "name", name, "imageId", imageID)
	return name, nil
}

func (h *ClusterHandler) autoScalingGroup(ctx context.Context, cluster *model.ComputeCluster, template string, subnetIDs []string, stack string) error {
	name := cluster.ClusterName + "-capacity"
	capacity := cluster.Capacity
	launchTemplate := &astypes.LaunchTemplateSpecification{
		LaunchTemplateName: aws.String(template),
		Version:            aws.String(latestVersion),
	}
	subnets := strings.Join(subnetIDs, ",")

	existing, err := h.autoScaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil {
		return fmt.Errorf("failed to describe autoscaling group %q: %w", name, err)
	}

	if len(existing.AutoScalingGroups) > 0 {
		_, err := h.autoScaling.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
			AutoScalingGroupName: aws.String(name),
			LaunchTemplate:       launchTemplate,
			MinSize:              aws.Int32(0),
			MaxSize:              aws.Int32(capacity.MaxCapacity),
			DesiredCapacity:      aws.Int32(capacity.DesiredCapacity),
			VPCZoneIdentifier:    aws.String(subnets),
		})
		if err != nil {
			return fmt.Errorf("failed to update autoscaling group %q: %w", name, err)
		}
		return nil
	}

	_, err = h.autoScaling.CreateAutoScalingGroup(ctx, &autoscaling.CreateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(name),
		LaunchTemplate:       launchTemplate,
		MinSize:              aws.Int32(0),
		MaxSize:              aws.Int32(capacity.MaxCapacity),
		DesiredCapacity:      aws.Int32(capacity.DesiredCapacity),
		VPCZoneIdentifier:    aws.String(subnets),
		Tags: []astypes.Tag{
			{Key: aws.String("Name"), Value: aws.String(name), PropagateAtLaunch: aws.Bool(true)},
			{Key: aws.String(TagStack), Value: aws.String(stack), PropagateAtLaunch: aws.Bool(true)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create autoscaling group %q: %w", name, err)
	}
	h.logger.InfoContext(ctx, "Created autoscaling group", "name", name, "desiredCapacity", capacity.DesiredCapacity)
	return nil
}
