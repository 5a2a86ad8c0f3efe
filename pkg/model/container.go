package model

import "sort"

// ContainerCondition is the state a container has to reach before a dependent container is
// started.
type ContainerCondition string

const (
	ConditionStart    ContainerCondition = "START"
	ConditionComplete ContainerCondition = "COMPLETE"
	ConditionSuccess  ContainerCondition = "SUCCESS"
	ConditionHealthy  ContainerCondition = "HEALTHY"
)

type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

type PolicyStatement struct {
	Sid       string   `json:"sid" yaml:"sid" validate:"omitempty,alphanum"`
	Effect    Effect   `json:"effect" yaml:"effect" validate:"oneof=Allow Deny"`
	Actions   []string `json:"actions" yaml:"actions" validate:"min=1,dive,required"`
	Resources []string `json:"resources" yaml:"resources" validate:"min=1,dive,required"`
}

// Volume is a host path mounted into containers of a task definition.
type Volume struct {
	Name       string `json:"name" yaml:"name" validate:"required"`
	SourcePath string `json:"sourcePath" yaml:"sourcePath" validate:"required,startswith=/"`
}

type PortMapping struct {
	ContainerPort int32  `json:"containerPort" yaml:"containerPort" validate:"gte=1,lte=65535"`
	HostPort      int32  `json:"hostPort" yaml:"hostPort" validate:"gte=0,lte=65535"`
	Protocol      string `json:"protocol" yaml:"protocol" validate:"oneof=tcp udp"`
}

type MountPoint struct {
	SourceVolume  string `json:"sourceVolume" yaml:"sourceVolume" validate:"required"`
	ContainerPath string `json:"containerPath" yaml:"containerPath" validate:"required,startswith=/"`
	ReadOnly      bool   `json:"readOnly" yaml:"readOnly"`
}

type ContainerDependency struct {
	Container string             `json:"container" yaml:"container" validate:"required"`
	Condition ContainerCondition `json:"condition" yaml:"condition" validate:"oneof=START COMPLETE SUCCESS HEALTHY"`
}

type Logging struct {
	StreamPrefix string `json:"streamPrefix" yaml:"streamPrefix" validate:"required"`
}

// Container is a single process specification within a task definition.
type Container struct {
	Name                 string `json:"name" yaml:"name" validate:"required"`
	Image                string `json:"image" yaml:"image" validate:"required"`
	MemoryReservationMiB int32  `json:"memoryReservationMiB" yaml:"memoryReservationMiB" validate:"gt=0"`
	Essential            bool   `json:"essential" yaml:"essential"`
	// Environment is handed to the container as plain environment variables.
	Environment map[string]Value `json:"environment" yaml:"environment" validate:"dive"`
	// Secrets are injected by the orchestrator from the referenced secret when the container
	// starts.
	Secrets      map[string]SecretRef  `json:"secrets" yaml:"secrets" validate:"dive"`
	DockerLabels map[string]string     `json:"dockerLabels" yaml:"dockerLabels"`
	PortMappings []PortMapping         `json:"portMappings" yaml:"portMappings" validate:"dive"`
	MountPoints  []MountPoint          `json:"mountPoints" yaml:"mountPoints" validate:"dive"`
	Links        []string              `json:"links" yaml:"links"`
	DependsOn    []ContainerDependency `json:"dependsOn" yaml:"dependsOn" validate:"dive"`
	Logging      *Logging              `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// EnvironmentNames returns the sorted names of the plain environment and the secret injections.
func (c Container) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environment)+len(c.Secrets))
	for name := range c.Environment {
		names = append(names, name)
	}
	for name := range c.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskDefinition is a template for a set of co-scheduled containers.
type TaskDefinition struct {
	ID                  string            `json:"id" yaml:"id" validate:"required"`
	Family              string            `json:"family" yaml:"family" validate:"required,max=255"`
	NetworkMode         string            `json:"networkMode" yaml:"networkMode" validate:"oneof=bridge host awsvpc none"`
	Volumes             []Volume          `json:"volumes" yaml:"volumes" validate:"unique=Name,dive"`
	TaskRolePolicy      []PolicyStatement `json:"taskRolePolicy" yaml:"taskRolePolicy" validate:"dive"`
	ExecutionRolePolicy []PolicyStatement `json:"executionRolePolicy" yaml:"executionRolePolicy" validate:"dive"`
	Containers          []Container       `json:"containers" yaml:"containers" validate:"min=1,unique=Name,dive"`
}

func (t *TaskDefinition) LogicalID() string { return t.ID }
func (t *TaskDefinition) Kind() Kind        { return KindTaskDefinition }

// DependsOn returns the resources referenced by the containers, including the secrets injected
// into them.
func (t *TaskDefinition) DependsOn() []string {
	var explicit []string
	var values []Value
	for _, c := range t.Containers {
		for _, v := range c.Environment {
			values = append(values, v)
		}
		for _, s := range c.Secrets {
			explicit = append(explicit, s.Secret)
		}
	}
	return dependencies(explicit, values...)
}

// Container returns the container with the given name.
func (t *TaskDefinition) Container(name string) (Container, bool) {
	for _, c := range t.Containers {
		if c.Name == name {
			return c, true
		}
	}
	return Container{}, false
}

// Secrets returns the logical IDs of the secrets injected into any container.
func (t *TaskDefinition) Secrets() []string {
	var ids []string
	for _, c := range t.Containers {
		for _, s := range c.Secrets {
			ids = append(ids, s.Secret)
		}
	}
	return dependencies(ids)
}
