package deployment

import (
	"github.com/monica-infra/deployer/internal/middleware"
	"github.com/monica-infra/deployer/pkg/provision"
)

// swagger:parameters descriptor
type _ struct {
	// Variant of the descriptor, the configured variant is used if omitted
	// in: query
	// enum: v1,v2,v3
	Variant string `json:"variant"`

	// in: query
	// enum: yaml,json
	Format string `json:"format"`
}

// swagger:parameters deploy
type _ struct {
	// in: body
	Body DeployRequest
}

// swagger:response DescriptorResponse
type _ struct {
	//in: body
	_ string
}

// swagger:response StateResponse
type _ struct {
	//in: body
	_ provision.State
}

// A deployment of the stack is already in progress
// swagger:response StackError
type _ struct {
	//in: body
	_ middleware.StackErrorResponse
}

// swagger:response
type Error struct {
	// The error message
	//in: body
	Message string
}
