package provision_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/monica-infra/deployer/internal/errdef"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/descriptor"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

var pseudo = provision.PseudoValues{model.PseudoRegion: "eu-west-1", model.PseudoAccountID: "123456789012"}

// recorder is a handler producing every attribute a resource of its kind can be referenced by.
type recorder struct {
	mu      sync.Mutex
	applied []string
	// failOn makes applying the resource with the given logical ID fail.
	failOn string
	err    error
}

func (r *recorder) handlers() map[model.Kind]provision.Handler {
	handlers := make(map[model.Kind]provision.Handler)
	for _, kind := range []model.Kind{
		model.KindNetwork,
		model.KindIdentity,
		model.KindObjectStorage,
		model.KindSecret,
		model.KindDatabase,
		model.KindComputeCluster,
		model.KindTaskDefinition,
		model.KindService,
	} {
		handlers[kind] = provision.HandlerFunc(r.put)
	}
	return handlers
}

func (r *recorder) put(ctx context.Context, options *provision.PutOptions) (provision.Result, error) {
	id := options.Resource.LogicalID()
	for _, dependency := range options.Resource.DependsOn() {
		if _, ok := options.Resolver.Outputs(dependency); !ok {
			return provision.Result{}, errors.New("dependency " + dependency + " not applied before " + id)
		}
	}
	if id == r.failOn {
		return provision.Result{}, r.err
	}

	r.mu.Lock()
	r.applied = append(r.applied, id)
	r.mu.Unlock()

	outputs := make(map[string]string)
	for _, attribute := range model.Attributes(options.Resource.Kind()) {
		outputs[attribute] = id + "." + attribute
	}
	var sensitive []string
	if secret, ok := options.Resource.(*model.Secret); ok {
		for _, field := range secret.Generate {
			outputs[field.Name] = "generated-" + field.Name
			sensitive = append(sensitive, field.Name)
		}
		for field := range secret.References {
			outputs[field] = "referenced-" + field
			sensitive = append(sensitive, field)
		}
	}
	if options.Resource.Kind() == model.KindIdentity {
		sensitive = append(sensitive, model.AttrSecretAccessKey)
	}
	return provision.Result{PhysicalID: "physical-" + id, Outputs: outputs, Sensitive: sensitive}, nil
}

func newDescriptor(t *testing.T) *model.Descriptor {
	d, err := descriptor.New(config.Descriptor{DomainName: "example.com"}, descriptor.V1).Build()
	require.NoError(t, err)
	return d
}

func TestEngine(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		d := newDescriptor(t)
		r := &recorder{}
		spans := tracetest.NewSpanRecorder()
		engine := provision.NewEngine(logger, pseudo, r.handlers(), provision.WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))))

		state, err := engine.Apply(context.Background(), d)

		require.NoError(t, err)
		assert.Equal(t, provision.StatusSucceeded, state.Status)
		assert.Equal(t, descriptor.DefaultStackName, state.StackName)
		assert.Len(t, state.Resources, 8)
		assert.ElementsMatch(t, []string{
			descriptor.NetworkID,
			descriptor.IdentityID,
			descriptor.StorageID,
			descriptor.SecretID,
			descriptor.DatabaseID,
			descriptor.ClusterID,
			descriptor.TaskDefinitionID,
			descriptor.ServiceID,
		}, r.applied)
		assert.Equal(t, "physical-AuroraCluster", state.Resources[descriptor.DatabaseID].PhysicalID)
		assert.Equal(t, descriptor.ServiceID, r.applied[len(r.applied)-1])
		assert.Len(t, spans.Ended(), 9, "want a span per resource and one for the descriptor")
	})

	t.Run("StopsAtFirstFailure", func(t *testing.T) {
		d := newDescriptor(t)
		r := &recorder{failOn: descriptor.DatabaseID, err: errors.New("database subnet group is full")}
		engine := provision.NewEngine(logger, pseudo, r.handlers())

		state, err := engine.Apply(context.Background(), d)

		require.ErrorContains(t, err, `failed to apply Database "AuroraCluster": database subnet group is full`)
		require.NotNil(t, state)
		assert.Equal(t, provision.StatusFailed, state.Status)
		assert.Contains(t, state.Error, "database subnet group is full")
		assert.NotContains(t, r.applied, descriptor.TaskDefinitionID)
		assert.NotContains(t, r.applied, descriptor.ServiceID)
		assert.Contains(t, state.Resources, descriptor.SecretID)
	})

	t.Run("ClassifiesAPIErrors", func(t *testing.T) {
		d := newDescriptor(t)
		r := &recorder{failOn: descriptor.StorageID, err: &smithy.GenericAPIError{Code: "BucketAlreadyExists", Message: "taken"}}
		engine := provision.NewEngine(logger, pseudo, r.handlers())

		_, err := engine.Apply(context.Background(), d)

		require.Error(t, err)
		assert.True(t, errdef.IsDuplicated(err))
	})

	t.Run("FailGivenMissingHandler", func(t *testing.T) {
		d := newDescriptor(t)
		r := &recorder{}
		handlers := r.handlers()
		delete(handlers, model.KindService)
		engine := provision.NewEngine(logger, pseudo, handlers)

		state, err := engine.Apply(context.Background(), d)

		require.ErrorContains(t, err, `no handler for resource "MonicaService"`)
		assert.Nil(t, state)
		assert.Empty(t, r.applied)
	})

	t.Run("FailGivenInvalidDescriptor", func(t *testing.T) {
		d := newDescriptor(t)
		d.Service.Cluster = "Missing"
		engine := provision.NewEngine(logger, pseudo, (&recorder{}).handlers())

		_, err := engine.Apply(context.Background(), d)

		require.Error(t, err)
		assert.True(t, errdef.IsBadRequest(err))
	})
}

func TestResolver(t *testing.T) {
	d := newDescriptor(t)
	r := &recorder{}
	var resolved map[string]string
	handlers := r.handlers()
	handlers[model.KindTaskDefinition] = provision.HandlerFunc(func(ctx context.Context, options *provision.PutOptions) (provision.Result, error) {
		app, _ := d.TaskDefinition.Container(descriptor.AppContainer)
		resolved = make(map[string]string)
		for name, value := range app.Environment {
			v, err := options.Resolver.Value(value)
			if err != nil {
				return provision.Result{}, err
			}
			resolved[name] = v
		}
		for name, ref := range app.Secrets {
			v, err := options.Resolver.SecretField(ref)
			if err != nil {
				return provision.Result{}, err
			}
			resolved[name] = v
		}
		return provision.Result{Outputs: map[string]string{model.AttrArn: "td", model.AttrFamily: "monica"}}, nil
	})
	engine := provision.NewEngine(logger, pseudo, handlers)

	_, err := engine.Apply(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, "AuroraCluster.EndpointAddress", resolved["DB_HOST"])
	assert.Equal(t, "eu-west-1", resolved["AWS_REGION"])
	assert.Equal(t, "MonicaUser.AccessKeyId", resolved["AWS_KEY"])
	assert.Equal(t, "generated-password", resolved["DB_PASSWORD"])
	assert.Equal(t, "referenced-awsSecretAccessKey", resolved["AWS_SECRET"])

	t.Run("FailGivenUnappliedResource", func(t *testing.T) {
		resolver := provision.NewResolver(pseudo)

		_, err := resolver.Value(model.RefTo(descriptor.DatabaseID, model.AttrEndpointAddress))

		require.ErrorContains(t, err, "${AuroraCluster.EndpointAddress}: resource has not been applied")
	})

	t.Run("FailGivenUnknownPseudoAttribute", func(t *testing.T) {
		resolver := provision.NewResolver(pseudo)

		_, err := resolver.Value(model.RefTo(model.PseudoResource, "Partition"))

		require.ErrorContains(t, err, "unknown attribute")
	})
}

func TestStateRedacted(t *testing.T) {
	d := newDescriptor(t)
	engine := provision.NewEngine(logger, pseudo, (&recorder{}).handlers())
	state, err := engine.Apply(context.Background(), d)
	require.NoError(t, err)
	require.False(t, state.IsRedacted())

	redacted := state.Redacted()

	assert.True(t, redacted.IsRedacted())
	assert.Equal(t, provision.Redacted, redacted.Resources[descriptor.IdentityID].Outputs[model.AttrSecretAccessKey])
	assert.Equal(t, provision.Redacted, redacted.Resources[descriptor.SecretID].Outputs["password"])
	assert.Equal(t, "MonicaUser.AccessKeyId", redacted.Resources[descriptor.IdentityID].Outputs[model.AttrAccessKeyID])
	assert.Equal(t, "generated-password", state.Resources[descriptor.SecretID].Outputs["password"], "want the original state untouched")
}

func TestClassify(t *testing.T) {
	tests := map[string]struct {
		code string
		is   func(error) bool
	}{
		"AccessDenied":          {code: "AccessDeniedException", is: errdef.IsForbidden},
		"UnauthorizedOperation": {code: "UnauthorizedOperation", is: errdef.IsForbidden},
		"EntityAlreadyExists":   {code: "EntityAlreadyExists", is: errdef.IsDuplicated},
		"LimitExceeded":         {code: "LimitExceeded", is: errdef.IsConflict},
		"VcpuQuotaExceeded":     {code: "VcpuLimitExceeded", is: errdef.IsConflict},
		"InvalidSubnet":         {code: "InvalidSubnetID.NotFound", is: errdef.IsBadRequest},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := provision.Classify(&smithy.GenericAPIError{Code: test.code})

			assert.True(t, test.is(err))
		})
	}

	t.Run("PassesThroughOtherErrors", func(t *testing.T) {
		err := errors.New("connection reset")

		assert.Same(t, err, provision.Classify(err))
	})
}
