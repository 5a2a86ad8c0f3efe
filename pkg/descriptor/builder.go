// Package descriptor builds the deployment descriptor: the resource graph of a Monica CRM
// deployment on AWS. The graph is built once from the configuration and the variant options. It
// is a pure data structure until it is handed to a provisioning engine.
//
// Resources reference attributes of each other (like the database endpoint used as DB_HOST of the
// application container). These references are resolved by the engine right before the
// resource consuming them is applied, which also defines the order resources are applied in.
package descriptor

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/model"
)

// DefaultStackName is used if no stack name is configured.
const DefaultStackName = "MonicaCrmStack"

// Logical IDs of the resources in the descriptor.
const (
	NetworkID        = "VpcInstance"
	IdentityID       = "MonicaUser"
	StorageID        = "StorageBucket"
	SecretID         = "MonicaDbPassword"
	DatabaseID       = "AuroraCluster"
	ClusterID        = "EcsCluster"
	TaskDefinitionID = "TaskDefinition"
	ServiceID        = "MonicaService"
)

// Container names within the task definition.
const (
	AppContainer   = "monica"
	ProxyContainer = "traefik"
)

// Fields of the secret.
const (
	FieldDBPassword         = "password"
	FieldAppKey             = "appKey"
	FieldAWSSecretAccessKey = "awsSecretAccessKey"
)

// ExcludedSecretCharacters would break shell or URI encoding of generated values.
const ExcludedSecretCharacters = `/@" `

const (
	dbUsername = "admin"
	dbName     = "monica"
	dbPort     = 3306
)

// bucketNamespace is the namespace of the name based UUIDs used to make bucket names unique.
var bucketNamespace = uuid.MustParse("6f1d2c9e-5b8a-4f0e-9a53-2c7d8e4b1a60")

// Builder builds a descriptor from configuration.
type Builder struct {
	cfg     config.Descriptor
	options Options
}

func New(cfg config.Descriptor, options Options) *Builder {
	if cfg.StackName == "" {
		cfg.StackName = DefaultStackName
	}
	return &Builder{cfg: cfg, options: options}
}

// Build returns the complete and validated descriptor. No partial descriptor is ever returned.
func (b *Builder) Build() (*model.Descriptor, error) {
	if err := b.options.validate(); err != nil {
		return nil, err
	}

	d := &model.Descriptor{
		Name:           b.cfg.StackName,
		Variant:        b.options.Name,
		Network:        b.network(),
		Identity:       b.identity(),
		Storage:        b.storage(),
		Secret:         b.secret(),
		Database:       b.database(),
		Cluster:        b.cluster(),
		TaskDefinition: b.taskDefinition(),
		Service:        b.service(),
	}

	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// prefix is the prefix of all physical names. A stack name without any character that survives
// slugification falls back to the default stack name.
func (b *Builder) prefix() string {
	if p := slug.Make(b.cfg.StackName); p != "" {
		return p
	}
	return slug.Make(DefaultStackName)
}

func (b *Builder) name(suffix string) string {
	return b.prefix() + "-" + suffix
}

func (b *Builder) network() *model.Network {
	return &model.Network{
		ID:   NetworkID,
		Name: b.name("vpc"),
		CIDR: "10.0.0.0/16",
		Subnets: []model.Subnet{
			{Name: "Public0", Type: model.SubnetPublic, CIDR: "10.0.0.0/18", AvailabilityZone: 0},
			{Name: "Public1", Type: model.SubnetPublic, CIDR: "10.0.64.0/18", AvailabilityZone: 1},
			{Name: "Isolated0", Type: model.SubnetIsolated, CIDR: "10.0.128.0/18", AvailabilityZone: 0},
			{Name: "Isolated1", Type: model.SubnetIsolated, CIDR: "10.0.192.0/18", AvailabilityZone: 1},
		},
	}
}

func (b *Builder) identity() *model.Identity {
	return &model.Identity{
		ID:       IdentityID,
		UserName: truncate(b.name("monica-user"), 64),
		Path:     "/" + b.prefix() + "/",
		KeyStore: &model.KeyStore{Secret: b.secretName(), Field: FieldAWSSecretAccessKey},
	}
}

// storage names the bucket after the stack and appends a suffix derived from the stack name so
// the name is stable across evaluations but unlikely to collide with buckets of others.
func (b *Builder) storage() *model.ObjectStorage {
	suffix := uuid.NewSHA1(bucketNamespace, []byte(b.cfg.StackName)).String()[:8]
	prefix := truncate(b.prefix(), 63-len("-storage-")-len(suffix))
	return &model.ObjectStorage{
		ID:             StorageID,
		BucketName:     strings.Trim(prefix, "-") + "-storage-" + suffix,
		GrantReadWrite: []string{IdentityID},
	}
}

func (b *Builder) secretName() string {
	return b.name("db-password")
}

func (b *Builder) secret() *model.Secret {
	return &model.Secret{
		ID:   SecretID,
		Name: b.secretName(),
		Generate: []model.GeneratedField{
			{Name: FieldDBPassword, Length: 32, ExcludeCharacters: ExcludedSecretCharacters},
			{Name: FieldAppKey, Length: 32, ExcludeCharacters: ExcludedSecretCharacters, ExcludePunctuation: true},
		},
		References: map[string]model.Value{
			FieldAWSSecretAccessKey: model.RefTo(IdentityID, model.AttrSecretAccessKey),
		},
	}
}

func (b *Builder) database() *model.Database {
	return &model.Database{
		ID:                  DatabaseID,
		ClusterIdentifier:   truncate(b.name("aurora"), 63),
		Engine:              "aurora-mysql",
		DefaultDatabaseName: dbName,
		MasterUsername:      dbUsername,
		MasterPassword:      model.SecretRef{Secret: SecretID, Field: FieldDBPassword},
		Scaling: model.Scaling{
			MinCapacity: 1,
			MaxCapacity: 1,
			AutoPause:   model.Duration(45 * time.Minute),
		},
		Subnets:       model.RefTo(NetworkID, model.AttrIsolatedSubnetIDs),
		SecurityGroup: model.RefTo(NetworkID, model.AttrDatabaseSecurityGroupID),
		Ingress:       b.databaseIngress(),
	}
}

func (b *Builder) databaseIngress() []model.IngressRule {
	if !b.options.ExplicitIngress {
		return []model.IngressRule{allTCPFromAnywhere()}
	}

	source := model.RefTo(NetworkID, model.AttrClusterSecurityGroupID)
	return []model.IngressRule{
		{Description: "database access from the compute cluster", Protocol: "tcp", FromPort: dbPort, ToPort: dbPort, Source: &source},
	}
}

func (b *Builder) cluster() *model.ComputeCluster {
	return &model.ComputeCluster{
		ID:          ClusterID,
		ClusterName: b.name("cluster"),
		Capacity: model.Capacity{
			InstanceType:    "t3a.nano",
			DesiredCapacity: 1,
			MaxCapacity:     1,
			SubnetType:      model.SubnetPublic,
		},
		Subnets:       model.RefTo(NetworkID, model.AttrPublicSubnetIDs),
		SecurityGroup: model.RefTo(NetworkID, model.AttrClusterSecurityGroupID),
		Ingress:       b.clusterIngress(),
	}
}

func (b *Builder) clusterIngress() []model.IngressRule {
	if !b.options.ExplicitIngress {
		return []model.IngressRule{allTCPFromAnywhere()}
	}

	return []model.IngressRule{
		{Description: "https entrypoint of the reverse proxy", Protocol: "tcp", FromPort: proxyHTTPSPort, ToPort: proxyHTTPSPort, CIDR: "0.0.0.0/0"},
		{Description: "dashboard of the reverse proxy", Protocol: "tcp", FromPort: proxyDashboardPort, ToPort: proxyDashboardPort, CIDR: "0.0.0.0/0"},
	}
}

func allTCPFromAnywhere() model.IngressRule {
	return model.IngressRule{Description: "any tcp traffic", Protocol: "tcp", FromPort: 0, ToPort: 65535, CIDR: "0.0.0.0/0"}
}

const (
	volumeDockerSocket = "dockersock"
	volumeTmp          = "tmp"
)

func (b *Builder) taskDefinition() *model.TaskDefinition {
	td := &model.TaskDefinition{
		ID:          TaskDefinitionID,
		Family:      b.name("monica"),
		NetworkMode: "bridge",
		Volumes: []model.Volume{
			{Name: volumeDockerSocket, SourcePath: "/var/run/docker.sock"},
			{Name: volumeTmp, SourcePath: "/tmp/"},
		},
		Containers: []model.Container{
			b.appContainer(),
			b.proxyContainer(),
		},
	}

	if b.options.ClusterIntrospection {
		statement := clusterIntrospectionStatement()
		td.TaskRolePolicy = append(td.TaskRolePolicy, statement)
		td.ExecutionRolePolicy = append(td.ExecutionRolePolicy, statement)
	}

	return td
}

// clusterIntrospectionStatement allows the reverse proxy to discover containers through the ECS
// API.
func clusterIntrospectionStatement() model.PolicyStatement {
	return model.PolicyStatement{
		Sid:    "TraefikECSReadAccess",
		Effect: model.EffectAllow,
		Actions: []string{
			"ecs:ListClusters",
			"ecs:DescribeClusters",
			"ecs:ListTasks",
			"ecs:DescribeTasks",
			"ecs:DescribeContainerInstances",
			"ecs:DescribeTaskDefinition",
			"ec2:DescribeInstances",
		},
		Resources: []string{"*"},
	}
}

func (b *Builder) service() *model.Service {
	return &model.Service{
		ID:             ServiceID,
		ServiceName:    b.name("monica"),
		Cluster:        ClusterID,
		TaskDefinition: TaskDefinitionID,
		DesiredCount:   1,
	}
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return strings.TrimRight(s[:length], "-")
}
