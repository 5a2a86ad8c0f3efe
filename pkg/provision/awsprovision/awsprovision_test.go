package awsprovision

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/descriptor"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func notFound(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "not found"}
}

func buildDescriptor(t *testing.T, options descriptor.Options) *model.Descriptor {
	t.Helper()
	d, err := descriptor.New(config.Descriptor{StackName: "monica"}, options).Build()
	require.NoError(t, err)
	return d
}

// appliedResolver returns a resolver as if every resource of the descriptor was applied. Every
// attribute resolves to "<logical id>.<attribute>" unless overridden.
func appliedResolver(d *model.Descriptor, overrides map[string]map[string]string) *provision.Resolver {
	resolver := provision.NewResolver(map[string]string{model.PseudoRegion: "eu-west-1", model.PseudoAccountID: "123456789012"})
	for _, r := range d.Resources() {
		id := r.LogicalID()
		outputs := make(map[string]string)
		for _, attribute := range model.Attributes(r.Kind()) {
			outputs[attribute] = id + "." + attribute
		}
		var sensitive []string
		if secret, ok := r.(*model.Secret); ok {
			for _, field := range secret.Generate {
				outputs[field.Name] = "generated-" + field.Name
				sensitive = append(sensitive, field.Name)
			}
		}
		for attribute, value := range overrides[id] {
			outputs[attribute] = value
		}
		resolver.Record(id, provision.ResourceState{Kind: r.Kind(), Outputs: outputs, Sensitive: sensitive})
	}
	return resolver
}

func putOptions(d *model.Descriptor, resource model.Resource, resolver *provision.Resolver) *provision.PutOptions {
	return &provision.PutOptions{Descriptor: d, Resource: resource, Resolver: resolver}
}

func decodePolicy(t *testing.T, document string) policyDocument {
	t.Helper()
	var policy policyDocument
	require.NoError(t, json.Unmarshal([]byte(document), &policy))
	return policy
}
