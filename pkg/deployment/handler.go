package deployment

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/monica-infra/deployer/internal/errdef"
	"github.com/monica-infra/deployer/pkg/descriptor"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

func NewHandler(service Service) Handler {
	return Handler{
		service,
	}
}

type Service interface {
	Descriptor(variant string) (*model.Descriptor, error)
	Deploy(ctx context.Context, variant string) (*provision.State, error)
	Latest(ctx context.Context) (*provision.State, error)
}

type Handler struct {
	service Service
}

var contentTypes = map[descriptor.Format]string{
	descriptor.FormatYAML: "application/yaml",
	descriptor.FormatJSON: "application/json",
}

// Descriptor returns the synthesized descriptor
func (h Handler) Descriptor(c *gin.Context) {
	// swagger:route GET /descriptor descriptor
	//
	// Synthesize descriptor
	//
	// Synthesize the descriptor of a variant as YAML or JSON
	//
	// Security:
	//  apiToken:
	//
	// Responses:
	//   200: DescriptorResponse
	//   400: Error
	//   401: Error
	format, err := descriptor.ParseFormat(c.Query("format"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	d, err := h.service.Descriptor(c.Query("variant"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	data, err := descriptor.Synth(d, format)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Data(http.StatusOK, contentTypes[format], data)
}

type DeployRequest struct {
	Variant string `json:"variant"`
}

// Deploy applies the descriptor
func (h Handler) Deploy(c *gin.Context) {
	// swagger:route POST /deployments deploy
	//
	// Deploy
	//
	// Build the descriptor and apply it. The state is returned with sensitive outputs redacted
	//
	// Security:
	//  apiToken:
	//
	// Responses:
	//   201: StateResponse
	//   400: Error
	//   401: Error
	//   403: Error
	//   409: StackError
	var request DeployRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			_ = c.Error(errdef.NewBadRequest("invalid request body: %v", err))
			return
		}
	}

	// a client hanging up must not abort a deployment half way
	state, err := h.service.Deploy(context.WithoutCancel(c.Request.Context()), request.Variant)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, state.Redacted())
}

// Latest returns the state of the latest deployment
func (h Handler) Latest(c *gin.Context) {
	// swagger:route GET /deployments/latest latestDeployment
	//
	// Find latest deployment
	//
	// Find the state of the latest deployment with sensitive outputs redacted
	//
	// Security:
	//  apiToken:
	//
	// Responses:
	//   200: StateResponse
	//   401: Error
	//   404: Error
	state, err := h.service.Latest(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, state.Redacted())
}
