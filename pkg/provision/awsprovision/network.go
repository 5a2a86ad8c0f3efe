package awsprovision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

type networkClient interface {
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	CreateVpc(ctx context.Context, params *ec2.CreateVpcInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error)
	ModifyVpcAttribute(ctx context.Context, params *ec2.ModifyVpcAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyVpcAttributeOutput, error)
	DescribeAvailabilityZones(ctx context.Context, params *ec2.DescribeAvailabilityZonesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error)
	DescribeInternetGateways(ctx context.Context, params *ec2.DescribeInternetGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error)
	CreateInternetGateway(ctx context.Context, params *ec2.CreateInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error)
	AttachInternetGateway(ctx context.Context, params *ec2.AttachInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	CreateSubnet(ctx context.Context, params *ec2.CreateSubnetInput, optFns ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error)
	ModifySubnetAttribute(ctx context.Context, params *ec2.ModifySubnetAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifySubnetAttributeOutput, error)
	DescribeRouteTables(ctx context.Context, params *ec2.DescribeRouteTablesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error)
	CreateRouteTable(ctx context.Context, params *ec2.CreateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteTableOutput, error)
	CreateRoute(ctx context.Context, params *ec2.CreateRouteInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error)
	AssociateRouteTable(ctx context.Context, params *ec2.AssociateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.AssociateRouteTableOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
}

// NetworkHandler applies a [model.Network]: a VPC with an internet gateway, public subnets routed
// to it, isolated subnets without a route out, and the security groups of the database and the
// compute cluster.
type NetworkHandler struct {
	logger *slog.Logger
	client networkClient
}

func NewNetworkHandler(logger *slog.Logger, client networkClient) *NetworkHandler {
	return &NetworkHandler{logger: logger, client: client}
}

func (h *NetworkHandler) Put(ctx context.Context, options *provision.PutOptions) (provision.Result, error) {
	network, ok := options.Resource.(*model.Network)
	if !ok {
		return provision.Result{}, fmt.Errorf("network handler can't apply %s", options.Resource.Kind())
	}
	stack := options.Descriptor.Name

	vpcID, err := h.vpc(ctx, network, stack)
	if err != nil {
		return provision.Result{}, err
	}

	zones, err := h.availabilityZones(ctx)
	if err != nil {
		return provision.Result{}, err
	}

	gatewayID, err := h.internetGateway(ctx, network, vpcID, stack)
	if err != nil {
		return provision.Result{}, err
	}

	routeTableID, err := h.publicRouteTable(ctx, network, vpcID, gatewayID, stack)
	if err != nil {
		return provision.Result{}, err
	}

	subnetIDs := make(map[model.SubnetType][]string)
	for _, subnet := range network.Subnets {
		zone := zones[subnet.AvailabilityZone%len(zones)]
		id, err := h.subnet(ctx, network, subnet, vpcID, zone, stack)
		if err != nil {
			return provision.Result{}, err
		}
		if subnet.Type == model.SubnetPublic {
			if err := h.associate(ctx, routeTableID, id); err != nil {
				return provision.Result{}, err
			}
		}
		subnetIDs[subnet.Type] = append(subnetIDs[subnet.Type], id)
	}

	databaseGroupID, err := h.securityGroup(ctx, vpcID, network.Name+"-database", "database of "+stack, stack)
	if err != nil {
		return provision.Result{}, err
	}
	clusterGroupID, err := h.securityGroup(ctx, vpcID, network.Name+"-cluster", "compute cluster of "+stack, stack)
	if err != nil {
		return provision.Result{}, err
	}

	return provision.Result{
		PhysicalID: vpcID,
		Outputs: map[string]string{
			model.AttrVpcID:                   vpcID,
			model.AttrPublicSubnetIDs:         provision.JoinList(subnetIDs[model.SubnetPublic]),
			model.AttrIsolatedSubnetIDs:       provision.JoinList(subnetIDs[model.SubnetIsolated]),
			model.AttrDatabaseSecurityGroupID: databaseGroupID,
			model.AttrClusterSecurityGroupID:  clusterGroupID,
		},
	}, nil
}

func tagSpecification(resourceType ec2types.ResourceType, name, stack string) []ec2types.TagSpecification {
	return []ec2types.TagSpecification{
		{
			ResourceType: resourceType,
			Tags: []ec2types.Tag{
				{Key: aws.String("Name"), Value: aws.String(name)},
				{Key: aws.String(TagStack), Value: aws.String(stack)},
			},
		},
	}
}

func filter(name string, values ...string) ec2types.Filter {
	return ec2types.Filter{Name: aws.String(name), Values: values}
}

func (h *NetworkHandler) vpc(ctx context.Context, network *model.Network, stack string) (string, error) {
	existing, err := h.client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{filter("tag:Name", network.Name), filter("cidr", network.CIDR)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe VPC %q: %w", network.Name, err)
	}
	if len(existing.Vpcs) > 0 {
		return aws.ToString(existing.Vpcs[0].VpcId), nil
	}

	created, err := h.client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         aws.String(network.CIDR),
		TagSpecifications: tagSpecification(ec2types.ResourceTypeVpc, network.Name, stack),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create VPC %q: %w", network.Name, err)
	}
	vpcID := aws.ToString(created.Vpc.VpcId)
	h.logger.InfoContext(ctx, "Created VPC", "name", network.Name, "vpcId", vpcID)

	// the attributes have to be modified one at a time
	for _, input := range []*ec2.ModifyVpcAttributeInput{
		{VpcId: aws.String(vpcID), EnableDnsSupport: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)}},
		{VpcId: aws.String(vpcID), EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)}},
	} {
		if _, err := h.client.ModifyVpcAttribute(ctx, input); err != nil {
			return "", fmt.Errorf("failed to enable DNS in VPC %q: %w", vpcID, err)
		}
	}
	return vpcID, nil
}

func (h *NetworkHandler) availabilityZones(ctx context.Context) ([]string, error) {
	output, err := h.client.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{
		Filters: []ec2types.Filter{filter("state", "available")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe availability zones: %w", err)
	}

	var zones []string
	for _, zone := range output.AvailabilityZones {
		zones = append(zones, aws.ToString(zone.ZoneName))
	}
	if len(zones) == 0 {
		return nil, errors.New("no availability zone available")
	}
	return zones, nil
}

func (h *NetworkHandler) internetGateway(ctx context.Context, network *model.Network, vpcID, stack string) (string, error) {
	existing, err := h.client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{filter("attachment.vpc-id", vpcID)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe internet gateway of VPC %q: %w", vpcID, err)
	}
	if len(existing.InternetGateways) > 0 {
		return aws.ToString(existing.InternetGateways[0].InternetGatewayId), nil
	}

	created, err := h.client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: tagSpecification(ec2types.ResourceTypeInternetGateway, network.Name+"-igw", stack),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create internet gateway: %w", err)
	}
	gatewayID := aws.ToString(created.InternetGateway.InternetGatewayId)

	_, err = h.client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(gatewayID),
		VpcId:             aws.String(vpcID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to attach internet gateway %q to VPC %q: %w", gatewayID, vpcID, err)
	}
	return gatewayID, nil
}

func (h *NetworkHandler) publicRouteTable(ctx context.Context, network *model.Network, vpcID, gatewayID, stack string) (string, error) {
	name := network.Name + "-public"
	existing, err := h.client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{filter("vpc-id", vpcID), filter("tag:Name", name)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe route table %q: %w", name, err)
	}

	var routeTableID string
	if len(existing.RouteTables) > 0 {
		table := existing.RouteTables[0]
		routeTableID = aws.ToString(table.RouteTableId)
		for _, route := range table.Routes {
			if aws.ToString(route.DestinationCidrBlock) == anywhere && aws.ToString(route.GatewayId) == gatewayID {
				return routeTableID, nil
			}
		}
	} else {
		created, err := h.client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
			VpcId:             aws.String(vpcID),
			TagSpecifications: tagSpecification(ec2types.ResourceTypeRouteTable, name, stack),
		})
		if err != nil {
			return "", fmt.Errorf("failed to create route table %q: %w", name, err)
		}
		routeTableID = aws.ToString(created.RouteTable.RouteTableId)
	}

	_, err = h.client.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         aws.String(routeTableID),
		DestinationCidrBlock: aws.String(anywhere),
		GatewayId:            aws.String(gatewayID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create default route in route table %q: %w", routeTableID, err)
	}
	return routeTableID, nil
}

func (h *NetworkHandler) subnet(ctx context.Context, network *model.Network, subnet model.Subnet, vpcID, zone, stack string) (string, error) {
	existing, err := h.client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{filter("vpc-id", vpcID), filter("cidr-block", subnet.CIDR)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe subnet %q: %w", subnet.Name, err)
	}
	if len(existing.Subnets) > 0 {
		return aws.ToString(existing.Subnets[0].SubnetId), nil
	}

	created, err := h.client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:             aws.String(vpcID),
		CidrBlock:         aws.String(subnet.CIDR),
		AvailabilityZone:  aws.String(zone),
		TagSpecifications: tagSpecification(ec2types.ResourceTypeSubnet, network.Name+"-"+subnet.Name, stack),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create subnet %q: %w", subnet.Name, err)
	}
	subnetID := aws.ToString(created.Subnet.SubnetId)

	if subnet.Type == model.SubnetPublic {
		_, err = h.client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            aws.String(subnetID),
			MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		if err != nil {
			return "", fmt.Errorf("failed to map public IPs in subnet %q: %w", subnetID, err)
		}
	}
	return subnetID, nil
}

func (h *NetworkHandler) associate(ctx context.Context, routeTableID, subnetID string) error {
	existing, err := h.client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{filter("association.subnet-id", subnetID)},
	})
	if err != nil {
		return fmt.Errorf("failed to describe route table of subnet %q: %w", subnetID, err)
	}
	for _, table := range existing.RouteTables {
		if aws.ToString(table.RouteTableId) == routeTableID {
			return nil
		}
	}

	_, err = h.client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: aws.String(routeTableID),
		SubnetId:     aws.String(subnetID),
	})
	if err != nil {
		return fmt.Errorf("failed to associate route table %q with subnet %q: %w", routeTableID, subnetID, err)
	}
	return nil
}

func (h *NetworkHandler) securityGroup(ctx context.Context, vpcID, name, description, stack string) (string, error) {
	existing, err := h.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{filter("vpc-id", vpcID), filter("group-name", name)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe security group %q: %w", name, err)
	}
	if len(existing.SecurityGroups) > 0 {
		return aws.ToString(existing.SecurityGroups[0].GroupId), nil
	}

	created, err := h.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(name),
		Description:       aws.String(description),
		VpcId:             aws.String(vpcID),
		TagSpecifications: tagSpecification(ec2types.ResourceTypeSecurityGroup, name, stack),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create security group %q: %w", name, err)
	}
	return aws.ToString(created.GroupId), nil
}
