package descriptor_test

import (
	"testing"

	"github.com/monica-infra/deployer/internal/errdef"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/descriptor"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(d *model.Descriptor)
		want   string
	}{
		"FailGivenMissingSubnets": {
			mutate: func(d *model.Descriptor) { d.Network.Subnets = nil },
			want:   "Subnets",
		},
		"FailGivenReferenceToUnknownResource": {
			mutate: func(d *model.Descriptor) {
				d.TaskDefinition.Containers[0].Environment["DB_HOST"] = model.RefTo("Nope", model.AttrEndpointAddress)
			},
			want: `depends on unknown resource "Nope"`,
		},
		"FailGivenReferenceToUnknownAttribute": {
			mutate: func(d *model.Descriptor) {
				d.TaskDefinition.Containers[0].Environment["DB_HOST"] = model.RefTo(descriptor.DatabaseID, "Hostname")
			},
			want: "${AuroraCluster.Hostname} to attribute not produced by Database",
		},
		"FailGivenSensitiveAttributeInEnvironment": {
			mutate: func(d *model.Descriptor) {
				d.TaskDefinition.Containers[0].Environment["LEAK"] = model.RefTo(descriptor.IdentityID, model.AttrSecretAccessKey)
			},
			want: `environment "LEAK" exposes sensitive attribute`,
		},
		"FailGivenUnknownSecretField": {
			mutate: func(d *model.Descriptor) {
				d.Database.MasterPassword.Field = "pin"
			},
			want: "secret reference secret:MonicaDbPassword#pin to unknown field",
		},
		"FailGivenCollidingHostPorts": {
			mutate: func(d *model.Descriptor) {
				proxy := &d.TaskDefinition.Containers[1]
				proxy.PortMappings = append(proxy.PortMappings, model.PortMapping{ContainerPort: 80, HostPort: 80, Protocol: "tcp"})
			},
			want: `host port 80 of container "traefik" already mapped by container "monica"`,
		},
		"FailGivenUnknownVolume": {
			mutate: func(d *model.Descriptor) {
				d.TaskDefinition.Volumes = d.TaskDefinition.Volumes[:1]
			},
			want: `container "traefik" mounts unknown volume "tmp"`,
		},
		"FailGivenLinkToUnknownContainer": {
			mutate: func(d *model.Descriptor) {
				d.TaskDefinition.Containers[1].Links = []string{"mysql"}
			},
			want: `container "traefik" links to unknown container "mysql"`,
		},
		"FailGivenIngressWithoutOrigin": {
			mutate: func(d *model.Descriptor) {
				d.Cluster.Ingress[0].CIDR = ""
			},
			want: `resource "EcsCluster" ingress rule 0: exactly one of cidr and source is required`,
		},
		"FailGivenKeyStoreOfUnknownSecret": {
			mutate: func(d *model.Descriptor) {
				d.Identity.KeyStore.Secret = "elsewhere"
			},
			want: `resource "MonicaUser" key store names unknown secret "elsewhere"`,
		},
		"FailGivenKeyStoreFieldWithoutAccessKey": {
			mutate: func(d *model.Descriptor) {
				d.Identity.KeyStore.Field = descriptor.FieldAppKey
			},
			want: `key store field "appKey"`,
		},
		"FailGivenCycle": {
			mutate: func(d *model.Descriptor) {
				d.Secret.References["family"] = model.RefTo(descriptor.TaskDefinitionID, model.AttrFamily)
			},
			want: "creates a cycle",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			d := build(t, config.Descriptor{}, descriptor.V1)
			test.mutate(d)

			err := descriptor.Validate(d)

			require.Error(t, err)
			assert.True(t, errdef.IsBadRequest(err))
			assert.ErrorContains(t, err, test.want)
		})
	}
}

func TestOrder(t *testing.T) {
	for _, options := range variants {
		t.Run(options.Name, func(t *testing.T) {
			d := build(t, config.Descriptor{}, options)

			order, err := descriptor.Order(d)
			require.NoError(t, err)

			require.Len(t, order, 8)
			position := make(map[string]int)
			for i, id := range order {
				position[id] = i
			}
			for _, r := range d.Resources() {
				for _, dependency := range r.DependsOn() {
					assert.Less(t, position[dependency], position[r.LogicalID()], "%s before %s", dependency, r.LogicalID())
				}
			}
		})
	}
}

func TestLayers(t *testing.T) {
	d := build(t, config.Descriptor{}, descriptor.V1)

	layers, err := descriptor.Layers(d)

	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{descriptor.NetworkID, descriptor.IdentityID},
		{descriptor.StorageID, descriptor.SecretID, descriptor.ClusterID},
		{descriptor.DatabaseID},
		{descriptor.TaskDefinitionID},
		{descriptor.ServiceID},
	}, layers)
}
