package provision

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/monica-infra/deployer/pkg/model"
)

// Resolver resolves references against the outputs of applied resources. It is safe for
// concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	pseudo    map[string]string
	resources map[string]ResourceState
}

func NewResolver(pseudo map[string]string) *Resolver {
	return &Resolver{
		pseudo:    pseudo,
		resources: make(map[string]ResourceState),
	}
}

// Record makes the outputs of an applied resource available to resources depending on it.
func (r *Resolver) Record(id string, state ResourceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[id] = state
}

// Attribute returns the value of the attribute of the applied resource.
func (r *Resolver) Attribute(resource, attribute string) (string, error) {
	if resource == model.PseudoResource {
		value, ok := r.pseudo[attribute]
		if !ok {
			return "", fmt.Errorf("failed to resolve %s: unknown attribute", model.Ref{Resource: resource, Attribute: attribute})
		}
		return value, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.resources[resource]
	if !ok {
		return "", fmt.Errorf("failed to resolve %s: resource has not been applied", model.Ref{Resource: resource, Attribute: attribute})
	}
	value, ok := state.Outputs[attribute]
	if !ok {
		return "", fmt.Errorf("failed to resolve %s: resource has no such output", model.Ref{Resource: resource, Attribute: attribute})
	}
	return value, nil
}

// Value returns the literal or the value of the referenced attribute.
func (r *Resolver) Value(v model.Value) (string, error) {
	if !v.IsRef() {
		return v.Literal, nil
	}
	return r.Attribute(v.Ref.Resource, v.Ref.Attribute)
}

// List resolves a value holding a comma separated list.
func (r *Resolver) List(v model.Value) ([]string, error) {
	value, err := r.Value(v)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	return strings.Split(value, ","), nil
}

// SecretField returns the value of a field of an applied secret.
func (r *Resolver) SecretField(ref model.SecretRef) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.resources[ref.Secret]
	if !ok {
		return "", fmt.Errorf("failed to resolve %s: secret has not been applied", ref)
	}
	value, ok := state.Outputs[ref.Field]
	if !ok || !slices.Contains(state.Sensitive, ref.Field) {
		return "", fmt.Errorf("failed to resolve %s: secret has no such field", ref)
	}
	return value, nil
}

// Outputs returns a copy of the outputs of an applied resource.
func (r *Resolver) Outputs(resource string) (map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.resources[resource]
	if !ok {
		return nil, false
	}
	return maps.Clone(state.Outputs), true
}

// JoinList encodes a list output.
func JoinList(values []string) string {
	return strings.Join(values, ",")
}
