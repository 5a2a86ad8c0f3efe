// Package model contains the entities of a deployment descriptor. A descriptor is a static,
// acyclic graph of named resources. Resources reference each other by logical ID, either as an
// explicit dependency or implicitly through a [Ref] or [SecretRef].
package model

import "sort"

// Kind identifies the type of resource and thereby the handler applying it.
type Kind string

const (
	KindNetwork        Kind = "Network"
	KindIdentity       Kind = "Identity"
	KindObjectStorage  Kind = "ObjectStorage"
	KindSecret         Kind = "Secret"
	KindDatabase       Kind = "Database"
	KindComputeCluster Kind = "ComputeCluster"
	KindTaskDefinition Kind = "TaskDefinition"
	KindService        Kind = "Service"
)

// Resource is a node in the descriptor graph.
type Resource interface {
	// LogicalID is the name of the resource within the descriptor.
	LogicalID() string
	Kind() Kind
	// DependsOn returns the logical IDs of the resources that need to exist before this one can be
	// applied. References made through values are included.
	DependsOn() []string
}

// Descriptor is the complete resource graph of a deployment.
type Descriptor struct {
	// Name of the deployment, used to derive physical resource names.
	Name           string          `json:"name" yaml:"name" validate:"required"`
	Variant        string          `json:"variant" yaml:"variant"`
	Network        *Network        `json:"network" yaml:"network" validate:"required"`
	Identity       *Identity       `json:"identity" yaml:"identity" validate:"required"`
	Storage        *ObjectStorage  `json:"storage" yaml:"storage" validate:"required"`
	Secret         *Secret         `json:"secret" yaml:"secret" validate:"required"`
	Database       *Database       `json:"database" yaml:"database" validate:"required"`
	Cluster        *ComputeCluster `json:"cluster" yaml:"cluster" validate:"required"`
	TaskDefinition *TaskDefinition `json:"taskDefinition" yaml:"taskDefinition" validate:"required"`
	Service        *Service        `json:"service" yaml:"service" validate:"required"`
}

// Resources returns all resources of the descriptor in declaration order.
func (d *Descriptor) Resources() []Resource {
	var resources []Resource
	for _, r := range []Resource{d.Network, d.Identity, d.Storage, d.Secret, d.Database, d.Cluster, d.TaskDefinition, d.Service} {
		if isNil(r) {
			continue
		}
		resources = append(resources, r)
	}
	return resources
}

// Resource returns the resource with the given logical ID.
func (d *Descriptor) Resource(logicalID string) (Resource, bool) {
	for _, r := range d.Resources() {
		if r.LogicalID() == logicalID {
			return r, true
		}
	}
	return nil, false
}

func isNil(r Resource) bool {
	switch v := r.(type) {
	case *Network:
		return v == nil
	case *Identity:
		return v == nil
	case *ObjectStorage:
		return v == nil
	case *Secret:
		return v == nil
	case *Database:
		return v == nil
	case *ComputeCluster:
		return v == nil
	case *TaskDefinition:
		return v == nil
	case *Service:
		return v == nil
	}
	return r == nil
}

// dependencies merges explicit dependencies with the resources referenced by values. The pseudo
// resource is not a dependency.
func dependencies(explicit []string, values ...Value) []string {
	seen := make(map[string]struct{}, len(explicit)+len(values))
	for _, id := range explicit {
		seen[id] = struct{}{}
	}
	for _, v := range values {
		if v.Ref == nil || v.Ref.Resource == PseudoResource {
			continue
		}
		seen[v.Ref.Resource] = struct{}{}
	}

	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}
