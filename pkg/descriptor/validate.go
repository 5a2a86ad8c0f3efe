package descriptor

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/go-playground/validator/v10"
	"github.com/monica-infra/deployer/internal/errdef"
	"github.com/monica-infra/deployer/pkg/model"
)

var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

func bucketName(fl validator.FieldLevel) bool {
	return bucketNamePattern.MatchString(fl.Field().String())
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("bucketname", bucketName); err != nil {
		panic(err)
	}
	return v
}

var validate = newValidator()

// Validate validates the descriptor. The structure of every resource is validated first, followed
// by the references between resources and finally the graph they form. All problems found are
// returned together as a bad request.
func Validate(d *model.Descriptor) error {
	if err := validate.Struct(d); err != nil {
		return errdef.NewBadRequest("invalid descriptor: %w", err)
	}

	var errs []error
	for _, r := range d.Resources() {
		errs = append(errs, validateReferences(d, r)...)
	}
	errs = append(errs, validateIngress(d.Database.ID, d.Database.Ingress)...)
	errs = append(errs, validateIngress(d.Cluster.ID, d.Cluster.Ingress)...)
	errs = append(errs, validateKeyStore(d, d.Identity)...)
	errs = append(errs, validateTaskDefinition(d, d.TaskDefinition)...)
	errs = append(errs, validateService(d, d.Service)...)
	if err := errors.Join(errs...); err != nil {
		return errdef.NewBadRequest("invalid descriptor: %w", err)
	}

	if _, err := Graph(d); err != nil {
		return errdef.NewBadRequest("invalid descriptor: %w", err)
	}
	return nil
}

func validateReferences(d *model.Descriptor, r model.Resource) []error {
	var errs []error
	for _, id := range r.DependsOn() {
		if _, ok := d.Resource(id); !ok {
			errs = append(errs, fmt.Errorf("resource %q depends on unknown resource %q", r.LogicalID(), id))
		}
	}

	for _, v := range values(r) {
		if err := validateRef(d, *v.Ref); err != nil {
			errs = append(errs, fmt.Errorf("resource %q: %v", r.LogicalID(), err))
		}
	}

	for _, s := range secretRefs(r) {
		if err := validateSecretRef(d, s); err != nil {
			errs = append(errs, fmt.Errorf("resource %q: %v", r.LogicalID(), err))
		}
	}
	return errs
}

func validateRef(d *model.Descriptor, ref model.Ref) error {
	if ref.Resource == model.PseudoResource {
		if ref.Attribute != model.PseudoRegion && ref.Attribute != model.PseudoAccountID {
			return fmt.Errorf("reference %s to unknown attribute", ref)
		}
		return nil
	}

	target, ok := d.Resource(ref.Resource)
	if !ok {
		return fmt.Errorf("reference %s to unknown resource", ref)
	}
	if !slices.Contains(model.Attributes(target.Kind()), ref.Attribute) {
		return fmt.Errorf("reference %s to attribute not produced by %s", ref, target.Kind())
	}
	return nil
}

func validateSecretRef(d *model.Descriptor, ref model.SecretRef) error {
	target, ok := d.Resource(ref.Secret)
	if !ok {
		return fmt.Errorf("secret reference %s to unknown resource", ref)
	}
	secret, ok := target.(*model.Secret)
	if !ok {
		return fmt.Errorf("secret reference %s to %s", ref, target.Kind())
	}
	if !secret.HasField(ref.Field) {
		return fmt.Errorf("secret reference %s to unknown field", ref)
	}
	return nil
}

func validateIngress(owner string, rules []model.IngressRule) []error {
	var errs []error
	for i, rule := range rules {
		if (rule.CIDR == "") == (rule.Source == nil) {
			errs = append(errs, fmt.Errorf("resource %q ingress rule %d: exactly one of cidr and source is required", owner, i))
		}
	}
	return errs
}

// validateKeyStore ensures the secret access key of an identity is stored where the identity
// expects to find it on later applies.
func validateKeyStore(d *model.Descriptor, i *model.Identity) []error {
	if i.KeyStore == nil {
		return nil
	}
	if d.Secret.Name != i.KeyStore.Secret {
		return []error{fmt.Errorf("resource %q key store names unknown secret %q", i.ID, i.KeyStore.Secret)}
	}
	v, ok := d.Secret.References[i.KeyStore.Field]
	want := model.Ref{Resource: i.ID, Attribute: model.AttrSecretAccessKey}
	if !ok || !v.IsRef() || *v.Ref != want {
		return []error{fmt.Errorf("resource %q key store field %q of secret %q doesn't reference %s", i.ID, i.KeyStore.Field, i.KeyStore.Secret, want)}
	}
	return nil
}

func validateTaskDefinition(d *model.Descriptor, td *model.TaskDefinition) []error {
	var errs []error

	volumes := make(map[string]struct{}, len(td.Volumes))
	for _, v := range td.Volumes {
		volumes[v.Name] = struct{}{}
	}

	hostPorts := make(map[int32]string)
	for _, c := range td.Containers {
		for name, v := range c.Environment {
			if !v.IsRef() || v.Ref.Resource == model.PseudoResource {
				continue
			}
			target, ok := d.Resource(v.Ref.Resource)
			if ok && model.Sensitive(target.Kind(), v.Ref.Attribute) {
				errs = append(errs, fmt.Errorf("container %q environment %q exposes sensitive attribute %s, inject it as a secret", c.Name, name, v.Ref))
			}
		}
		for name := range c.Secrets {
			if _, ok := c.Environment[name]; ok {
				errs = append(errs, fmt.Errorf("container %q declares %q both as environment and secret", c.Name, name))
			}
		}

		for _, link := range c.Links {
			if link == c.Name {
				errs = append(errs, fmt.Errorf("container %q links to itself", c.Name))
			} else if _, ok := td.Container(link); !ok {
				errs = append(errs, fmt.Errorf("container %q links to unknown container %q", c.Name, link))
			}
		}
		for _, dep := range c.DependsOn {
			if dep.Container == c.Name {
				errs = append(errs, fmt.Errorf("container %q depends on itself", c.Name))
			} else if _, ok := td.Container(dep.Container); !ok {
				errs = append(errs, fmt.Errorf("container %q depends on unknown container %q", c.Name, dep.Container))
			}
		}
		for _, m := range c.MountPoints {
			if _, ok := volumes[m.SourceVolume]; !ok {
				errs = append(errs, fmt.Errorf("container %q mounts unknown volume %q", c.Name, m.SourceVolume))
			}
		}

		for _, p := range c.PortMappings {
			if p.HostPort == 0 {
				continue
			}
			if other, ok := hostPorts[p.HostPort]; ok {
				errs = append(errs, fmt.Errorf("host port %d of container %q already mapped by container %q", p.HostPort, c.Name, other))
				continue
			}
			hostPorts[p.HostPort] = c.Name
		}
	}
	return errs
}

func validateService(d *model.Descriptor, s *model.Service) []error {
	var errs []error
	if r, ok := d.Resource(s.Cluster); ok && r.Kind() != model.KindComputeCluster {
		errs = append(errs, fmt.Errorf("service %q cluster %q is a %s", s.ID, s.Cluster, r.Kind()))
	}
	if r, ok := d.Resource(s.TaskDefinition); ok && r.Kind() != model.KindTaskDefinition {
		errs = append(errs, fmt.Errorf("service %q task definition %q is a %s", s.ID, s.TaskDefinition, r.Kind()))
	}
	return errs
}

// values returns the references a resource makes through values.
func values(r model.Resource) []model.Value {
	var vs []model.Value
	add := func(candidates ...model.Value) {
		for _, v := range candidates {
			if v.IsRef() {
				vs = append(vs, v)
			}
		}
	}
	addRules := func(rules []model.IngressRule) {
		for _, rule := range rules {
			if rule.Source != nil {
				add(*rule.Source)
			}
		}
	}

	switch r := r.(type) {
	case *model.Secret:
		for _, name := range sortedKeys(r.References) {
			add(r.References[name])
		}
	case *model.Database:
		add(r.Subnets, r.SecurityGroup)
		addRules(r.Ingress)
	case *model.ComputeCluster:
		add(r.Subnets, r.SecurityGroup)
		addRules(r.Ingress)
	case *model.TaskDefinition:
		for _, c := range r.Containers {
			for _, name := range sortedKeys(c.Environment) {
				add(c.Environment[name])
			}
		}
	}
	return vs
}

func secretRefs(r model.Resource) []model.SecretRef {
	switch r := r.(type) {
	case *model.Database:
		return []model.SecretRef{r.MasterPassword}
	case *model.TaskDefinition:
		var refs []model.SecretRef
		for _, c := range r.Containers {
			for _, name := range sortedKeys(c.Secrets) {
				refs = append(refs, c.Secrets[name])
			}
		}
		return refs
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Graph returns the dependency graph of the descriptor. Edges point from a resource to the
// resources depending on it so a topological order is the order resources need to be applied in.
func Graph(d *model.Descriptor) (graph.Graph[string, model.Resource], error) {
	g := graph.New(func(r model.Resource) string {
		return r.LogicalID()
	}, graph.Directed(), graph.Acyclic(), graph.PreventCycles())

	resources := d.Resources()
	for _, r := range resources {
		err := g.AddVertex(r)
		if err != nil {
			return nil, fmt.Errorf("failed adding vertex for resource %q: %v", r.LogicalID(), err)
		}
	}

	for _, r := range resources {
		for _, dependency := range r.DependsOn() {
			err := g.AddEdge(dependency, r.LogicalID())
			if err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, fmt.Errorf("dependency of resource %q on %q creates a cycle", r.LogicalID(), dependency)
				}
				if errors.Is(err, graph.ErrVertexNotFound) {
					return nil, fmt.Errorf("resource %q depends on unknown resource %q", r.LogicalID(), dependency)
				}
				return nil, fmt.Errorf("failed adding edge from resource %q to %q: %v", dependency, r.LogicalID(), err)
			}
		}
	}

	return g, nil
}

// Order returns the logical IDs of all resources such that every resource comes after the
// resources it depends on. Ties are broken by declaration order.
func Order(d *model.Descriptor) ([]string, error) {
	g, err := Graph(d)
	if err != nil {
		return nil, err
	}

	index := declarationIndex(d)
	return graph.StableTopologicalSort(g, func(a, b string) bool {
		return index[a] < index[b]
	})
}

// Layers groups the resources into layers. Resources of a layer only depend on resources of
// earlier layers and can therefore be applied concurrently.
func Layers(d *model.Descriptor) ([][]string, error) {
	order, err := Order(d)
	if err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(order))
	var layers [][]string
	for _, id := range order {
		r, _ := d.Resource(id)
		level := 0
		for _, dependency := range r.DependsOn() {
			level = max(level, depth[dependency]+1)
		}
		depth[id] = level
		if level == len(layers) {
			layers = append(layers, nil)
		}
		layers[level] = append(layers[level], id)
	}

	index := declarationIndex(d)
	for _, layer := range layers {
		sort.Slice(layer, func(i, j int) bool {
			return index[layer[i]] < index[layer[j]]
		})
	}
	return layers, nil
}

func declarationIndex(d *model.Descriptor) map[string]int {
	index := make(map[string]int)
	for i, r := range d.Resources() {
		index[r.LogicalID()] = i
	}
	return index
}
