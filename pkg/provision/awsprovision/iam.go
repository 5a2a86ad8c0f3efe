package awsprovision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

const policyVersion = "2012-10-17"

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string            `json:"Sid,omitempty"`
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal,omitempty"`
	Action    []string          `json:"Action"`
	Resource  []string          `json:"Resource,omitempty"`
}

func (p policyDocument) String() string {
	b, err := json.Marshal(p)
	if err != nil {
		// the document only consists of strings
		panic(err)
	}
	return string(b)
}

// assumeRolePolicy allows the given service to assume a role.
func assumeRolePolicy(service string) policyDocument {
	return policyDocument{
		Version: policyVersion,
		Statement: []policyStatement{
			{Effect: "Allow", Principal: map[string]string{"Service": service}, Action: []string{"sts:AssumeRole"}},
		},
	}
}

func toPolicyDocument(statements []model.PolicyStatement) policyDocument {
	doc := policyDocument{Version: policyVersion}
	for _, s := range statements {
		doc.Statement = append(doc.Statement, policyStatement{
			Sid:      s.Sid,
			Effect:   string(s.Effect),
			Action:   s.Actions,
			Resource: s.Resources,
		})
	}
	return doc
}

type roleClient interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	UpdateAssumeRolePolicy(ctx context.Context, params *iam.UpdateAssumeRolePolicyInput, optFns ...func(*iam.Options)) (*iam.UpdateAssumeRolePolicyOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
}

// role describes an IAM role. Managed policies are attached and inline policies are put under
// their name. Inline policies listed in knownInline but not declared are deleted.
type role struct {
	name        string
	path        string
	service     string
	stack       string
	managed     []string
	inline      map[string]policyDocument
	knownInline []string
}

// putRole creates or updates the role and returns its ARN.
func putRole(ctx context.Context, client roleClient, r role) (string, error) {
	assume := assumeRolePolicy(r.service).String()

	var arn string
	existing, err := client.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(r.name)})
	if err != nil && !provision.IsNotFound(err) {
		return "", fmt.Errorf("failed to get role %q: %w", r.name, err)
	}

	if err == nil {
		arn = aws.ToString(existing.Role.Arn)
		_, err = client.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       aws.String(r.name),
			PolicyDocument: aws.String(assume),
		})
		if err != nil {
			return "", fmt.Errorf("failed to update assume role policy of role %q: %w", r.name, err)
		}
	} else {
		created, err := client.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 aws.String(r.name),
			Path:                     aws.String(r.path),
			AssumeRolePolicyDocument: aws.String(assume),
			Tags:                     []iamtypes.Tag{{Key: aws.String(TagStack), Value: aws.String(r.stack)}},
		})
		if err != nil {
			return "", fmt.Errorf("failed to create role %q: %w", r.name, err)
		}
		arn = aws.ToString(created.Role.Arn)
	}

	for _, policyArn := range r.managed {
		_, err := client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{RoleName: aws.String(r.name), PolicyArn: aws.String(policyArn)})
		if err != nil {
			return "", fmt.Errorf("failed to attach policy %q to role %q: %w", policyArn, r.name, err)
		}
	}

	for _, name := range sortedKeys(r.inline) {
		_, err := client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
			RoleName:       aws.String(r.name),
			PolicyName:     aws.String(name),
			PolicyDocument: aws.String(r.inline[name].String()),
		})
		if err != nil {
			return "", fmt.Errorf("failed to put policy %q of role %q: %w", name, r.name, err)
		}
	}

	// policies no longer declared are removed so toggling them off takes effect
	for _, name := range r.knownInline {
		if _, ok := r.inline[name]; ok {
			continue
		}
		_, err := client.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{RoleName: aws.String(r.name), PolicyName: aws.String(name)})
		if err != nil && !provision.IsNotFound(err) {
			return "", fmt.Errorf("failed to delete policy %q of role %q: %w", name, r.name, err)
		}
	}

	return arn, nil
}
