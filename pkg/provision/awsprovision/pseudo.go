package awsprovision

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/monica-infra/deployer/pkg/model"
)

type stsClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// PseudoResolver resolves the region and account of the credentials in use.
type PseudoResolver struct {
	region string
	client stsClient
}

func (p *PseudoResolver) Resolve(ctx context.Context) (map[string]string, error) {
	if p.region == "" {
		return nil, errors.New("no AWS region configured")
	}

	identity, err := p.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get caller identity: %w", err)
	}

	return map[string]string{
		model.PseudoRegion:    p.region,
		model.PseudoAccountID: aws.ToString(identity.Account),
	}, nil
}
