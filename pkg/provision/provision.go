// Package provision applies a descriptor to a cloud account. Resources are handed to a [Handler]
// per resource kind in dependency order. References between resources are resolved from the
// outputs of the resources applied before.
//
// An apply attempt is not transactional. The first failure ends the attempt, resources applied
// until then are kept and a corrected descriptor can simply be applied again since handlers
// create or update.
package provision

import (
	"context"

	"github.com/monica-infra/deployer/pkg/model"
)

// Applier applies a descriptor.
type Applier interface {
	Apply(ctx context.Context, d *model.Descriptor) (*State, error)
}

// Handler creates or updates resources of one kind.
type Handler interface {
	Put(ctx context.Context, options *PutOptions) (Result, error)
}

// HandlerFunc adapts a function to a [Handler].
type HandlerFunc func(ctx context.Context, options *PutOptions) (Result, error)

func (f HandlerFunc) Put(ctx context.Context, options *PutOptions) (Result, error) {
	return f(ctx, options)
}

// PutOptions are passed to a [Handler] applying a resource.
type PutOptions struct {
	Descriptor *model.Descriptor
	Resource   model.Resource
	// Resolver resolves references to resources applied before. All dependencies of the resource
	// have been applied.
	Resolver *Resolver
}

// Result of applying a resource.
type Result struct {
	// PhysicalID identifies the resource in the cloud account.
	PhysicalID string
	Outputs    map[string]string
	// Sensitive lists the outputs which must never be logged or persisted unencrypted.
	Sensitive []string
}

// PseudoResolver resolves the attributes of the [model.PseudoResource] like the region.
type PseudoResolver interface {
	Resolve(ctx context.Context) (map[string]string, error)
}

// PseudoValues resolves to fixed attributes.
type PseudoValues map[string]string

func (p PseudoValues) Resolve(context.Context) (map[string]string, error) {
	return p, nil
}
