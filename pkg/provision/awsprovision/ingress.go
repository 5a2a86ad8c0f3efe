package awsprovision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

const anywhere = "0.0.0.0/0"

type ingressClient interface {
	DescribeSecurityGroupRules(ctx context.Context, params *ec2.DescribeSecurityGroupRulesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupRulesOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	RevokeSecurityGroupIngress(ctx context.Context, params *ec2.RevokeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error)
}

// permissionKey identifies an ingress permission regardless of its description. Ports don't
// apply to protocol -1.
type permissionKey struct {
	protocol string
	from     int32
	to       int32
	cidr     string
	group    string
}

func newPermissionKey(protocol string, from, to int32, cidr, group string) permissionKey {
	if protocol == "-1" {
		from, to = -1, -1
	}
	return permissionKey{protocol: protocol, from: from, to: to, cidr: cidr, group: group}
}

func permissionKeyOf(p ec2types.IpPermission) permissionKey {
	var cidr, group string
	if len(p.IpRanges) > 0 {
		cidr = aws.ToString(p.IpRanges[0].CidrIp)
	}
	if len(p.UserIdGroupPairs) > 0 {
		group = aws.ToString(p.UserIdGroupPairs[0].GroupId)
	}
	return newPermissionKey(aws.ToString(p.IpProtocol), aws.ToInt32(p.FromPort), aws.ToInt32(p.ToPort), cidr, group)
}

func ruleKeyOf(r ec2types.SecurityGroupRule) permissionKey {
	var group string
	if r.ReferencedGroupInfo != nil {
		group = aws.ToString(r.ReferencedGroupInfo.GroupId)
	}
	cidr := aws.ToString(r.CidrIpv4)
	if cidr == "" {
		cidr = aws.ToString(r.CidrIpv6)
	}
	if cidr == "" {
		cidr = aws.ToString(r.PrefixListId)
	}
	return newPermissionKey(aws.ToString(r.IpProtocol), aws.ToInt32(r.FromPort), aws.ToInt32(r.ToPort), cidr, group)
}

// ipPermissions renders ingress rules. Rule sources are resolved to security group IDs.
func ipPermissions(rules []model.IngressRule, resolver *provision.Resolver) ([]ec2types.IpPermission, error) {
	permissions := make([]ec2types.IpPermission, 0, len(rules))
	for _, rule := range rules {
		permission := ec2types.IpPermission{
			IpProtocol: aws.String(rule.Protocol),
			FromPort:   aws.Int32(rule.FromPort),
			ToPort:     aws.Int32(rule.ToPort),
		}
		if rule.Source != nil {
			groupID, err := resolver.Value(*rule.Source)
			if err != nil {
				return nil, err
			}
			permission.UserIdGroupPairs = []ec2types.UserIdGroupPair{
				{GroupId: aws.String(groupID), Description: aws.String(rule.Description)},
			}
		} else {
			permission.IpRanges = []ec2types.IpRange{
				{CidrIp: aws.String(rule.CIDR), Description: aws.String(rule.Description)},
			}
		}
		permissions = append(permissions, permission)
	}
	return permissions, nil
}

// reconcileIngress makes the ingress rules of the security group equal the declared rules. Rules
// not declared are revoked, declared rules missing from the group are authorized.
func reconcileIngress(ctx context.Context, logger *slog.Logger, client ingressClient, groupID string, rules []model.IngressRule, resolver *provision.Resolver) error {
	permissions, err := ipPermissions(rules, resolver)
	if err != nil {
		return err
	}
	declared := make(map[permissionKey]bool, len(permissions))
	for _, permission := range permissions {
		declared[permissionKeyOf(permission)] = true
	}

	existing, err := ingressRules(ctx, client, groupID)
	if err != nil {
		return err
	}

	var revoke []string
	for key, ruleID := range existing {
		if !declared[key] {
			revoke = append(revoke, ruleID)
		}
	}
	if len(revoke) > 0 {
		slices.Sort(revoke)
		_, err := client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:              aws.String(groupID),
			SecurityGroupRuleIds: revoke,
		})
		if err != nil {
			return fmt.Errorf("failed to revoke ingress into security group %q: %w", groupID, err)
		}
		logger.InfoContext(ctx, "Revoked undeclared ingress rules", "groupId", groupID, "ruleIds", revoke)
	}

	for _, permission := range permissions {
		if _, ok := existing[permissionKeyOf(permission)]; ok {
			continue
		}
		_, err := client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: []ec2types.IpPermission{permission},
		})
		if err != nil && !isDuplicatePermission(err) {
			return fmt.Errorf("failed to authorize ingress into security group %q: %w", groupID, err)
		}
	}
	return nil
}

// ingressRules returns the IDs of the ingress rules of the security group by permission.
func ingressRules(ctx context.Context, client ingressClient, groupID string) (map[permissionKey]string, error) {
	rules := make(map[permissionKey]string)
	paginator := ec2.NewDescribeSecurityGroupRulesPaginator(client, &ec2.DescribeSecurityGroupRulesInput{
		Filters: []ec2types.Filter{{Name: aws.String("group-id"), Values: []string{groupID}}},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe rules of security group %q: %w", groupID, err)
		}
		for _, rule := range page.SecurityGroupRules {
			if aws.ToBool(rule.IsEgress) {
				continue
			}
			rules[ruleKeyOf(rule)] = aws.ToString(rule.SecurityGroupRuleId)
		}
	}
	return rules, nil
}

func isDuplicatePermission(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidPermission.Duplicate"
}
