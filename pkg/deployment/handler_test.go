package deployment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/monica-infra/deployer/internal/errdef"
	"github.com/monica-infra/deployer/internal/middleware"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/deployment"
	"github.com/monica-infra/deployer/pkg/descriptor"
	"github.com/monica-infra/deployer/pkg/inttest"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "secret-token"

type serviceStub struct {
	variants []string
	state    *provision.State
	err      error
}

func (s *serviceStub) Descriptor(variant string) (*model.Descriptor, error) {
	options, err := descriptor.Variant(variant)
	if err != nil {
		return nil, err
	}
	return descriptor.New(config.Descriptor{StackName: "monica"}, options).Build()
}

func (s *serviceStub) Deploy(_ context.Context, variant string) (*provision.State, error) {
	s.variants = append(s.variants, variant)
	return s.state, s.err
}

func (s *serviceStub) Latest(_ context.Context) (*provision.State, error) {
	if s.state == nil {
		return nil, errdef.NewNotFound("no deployment")
	}
	return s.state, nil
}

func setup(t *testing.T, service deployment.Service) *inttest.HTTPClient {
	t.Helper()
	return inttest.SetupHTTPServer(t, func(engine *gin.Engine) {
		deployment.Routes(engine.Group(""), middleware.NewAuthentication(token), deployment.NewHandler(service))
	})
}

func state() *provision.State {
	return &provision.State{
		ID:        uuid.New(),
		StackName: "monica",
		Status:    provision.StatusSucceeded,
		Resources: map[string]provision.ResourceState{
			descriptor.IdentityID: {
				Kind:      model.KindIdentity,
				Outputs:   map[string]string{model.AttrAccessKeyID: "AKIA", model.AttrSecretAccessKey: "secret"},
				Sensitive: []string{model.AttrSecretAccessKey},
			},
		},
	}
}

func TestHandler(t *testing.T) {
	t.Run("Unauthorized", func(t *testing.T) {
		client := setup(t, &serviceStub{})

		client.Do(t, http.MethodGet, "/descriptor", nil, http.StatusUnauthorized)
		client.Do(t, http.MethodPost, "/deployments", nil, http.StatusUnauthorized, inttest.WithAuthToken("wrong"))
	})

	t.Run("DescriptorYAML", func(t *testing.T) {
		client := setup(t, &serviceStub{})

		body := client.Get(t, "/descriptor?variant=v2", inttest.WithAuthToken(token))

		assert.Contains(t, string(body), "variant: v2")
		assert.Contains(t, string(body), "resource: "+descriptor.DatabaseID)
	})

	t.Run("DescriptorJSON", func(t *testing.T) {
		client := setup(t, &serviceStub{})
		var d map[string]any

		client.GetJSON(t, "/descriptor?format=json", &d, inttest.WithAuthToken(token))

		assert.Equal(t, "monica", d["name"])
		assert.Equal(t, "v1", d["variant"])
	})

	t.Run("DescriptorUnknownFormat", func(t *testing.T) {
		client := setup(t, &serviceStub{})

		body := client.Do(t, http.MethodGet, "/descriptor?format=toml", nil, http.StatusBadRequest, inttest.WithAuthToken(token))

		assert.Contains(t, string(body), "unknown format")
	})

	t.Run("Deploy", func(t *testing.T) {
		service := &serviceStub{state: state()}
		client := setup(t, service)
		var got provision.State

		client.PostJSON(t, "/deployments", strings.NewReader(`{"variant":"v3"}`), &got, inttest.WithAuthToken(token))

		assert.Equal(t, []string{"v3"}, service.variants)
		assert.Equal(t, service.state.ID, got.ID)
		assert.Equal(t, "AKIA", got.Resources[descriptor.IdentityID].Outputs[model.AttrAccessKeyID])
		assert.Equal(t, provision.Redacted, got.Resources[descriptor.IdentityID].Outputs[model.AttrSecretAccessKey])
	})

	t.Run("DeployWithoutBody", func(t *testing.T) {
		service := &serviceStub{state: state()}
		client := setup(t, service)

		client.Post(t, "/deployments", nil, inttest.WithAuthToken(token))

		assert.Equal(t, []string{""}, service.variants)
	})

	t.Run("DeployFailure", func(t *testing.T) {
		service := &serviceStub{state: state(), err: errdef.NewForbidden("insufficient permissions")}
		client := setup(t, service)

		body := client.Do(t, http.MethodPost, "/deployments", nil, http.StatusForbidden, inttest.WithAuthToken(token))

		assert.Contains(t, string(body), "insufficient permissions")
	})

	t.Run("DeployInProgress", func(t *testing.T) {
		service := &serviceStub{err: errdef.NewConflict("%w", &deployment.InProgressError{Stack: "monica"})}
		client := setup(t, service)

		var got middleware.StackErrorResponse
		client.DoJSON(t, http.MethodPost, "/deployments", nil, http.StatusConflict, &got, inttest.WithAuthToken(token))

		assert.Equal(t, "monica", got.Stack)
		assert.Equal(t, `a deployment of stack "monica" is already in progress`, got.Message)
	})

	t.Run("Latest", func(t *testing.T) {
		service := &serviceStub{state: state()}
		client := setup(t, service)

		body := client.Get(t, "/deployments/latest", inttest.WithAuthToken(token))

		var got provision.State
		require.NoError(t, json.Unmarshal(body, &got))
		assert.True(t, got.IsRedacted())
		assert.NotContains(t, string(body), `"secret"`)
	})

	t.Run("LatestNotFound", func(t *testing.T) {
		client := setup(t, &serviceStub{})

		client.Do(t, http.MethodGet, "/deployments/latest", nil, http.StatusNotFound, inttest.WithAuthToken(token))
	})
}
