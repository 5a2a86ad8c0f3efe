package model

// Attributes produced by resources when applied. They are the targets of [Ref].
const (
	AttrArn = "Arn"

	AttrVpcID                   = "VpcId"
	AttrPublicSubnetIDs         = "PublicSubnetIds"
	AttrIsolatedSubnetIDs       = "IsolatedSubnetIds"
	AttrDatabaseSecurityGroupID = "DatabaseSecurityGroupId"
	AttrClusterSecurityGroupID  = "ClusterSecurityGroupId"

	AttrUserName        = "UserName"
	AttrAccessKeyID     = "AccessKeyId"
	AttrSecretAccessKey = "SecretAccessKey"

	AttrBucketName = "BucketName"

	AttrEndpointAddress   = "EndpointAddress"
	AttrPort              = "Port"
	AttrClusterIdentifier = "ClusterIdentifier"

	AttrClusterName = "ClusterName"

	AttrFamily = "Family"
)

// Attributes returns the attributes a resource of the given kind produces and which can be
// referenced. Fields of a [Secret] are deliberately not part of it, they can only be referenced
// through a [SecretRef].
func Attributes(kind Kind) []string {
	switch kind {
	case KindNetwork:
		return []string{AttrVpcID, AttrPublicSubnetIDs, AttrIsolatedSubnetIDs, AttrDatabaseSecurityGroupID, AttrClusterSecurityGroupID}
	case KindIdentity:
		return []string{AttrUserName, AttrArn, AttrAccessKeyID, AttrSecretAccessKey}
	case KindObjectStorage:
		return []string{AttrBucketName, AttrArn}
	case KindSecret:
		return []string{AttrArn}
	case KindDatabase:
		return []string{AttrEndpointAddress, AttrPort, AttrClusterIdentifier}
	case KindComputeCluster:
		return []string{AttrClusterName, AttrArn}
	case KindTaskDefinition:
		return []string{AttrArn, AttrFamily}
	case KindService:
		return []string{AttrArn}
	}
	return nil
}

// Sensitive returns true if the attribute holds a credential.
func Sensitive(kind Kind, attribute string) bool {
	return kind == KindIdentity && attribute == AttrSecretAccessKey
}

type SubnetType string

const (
	SubnetPublic   SubnetType = "Public"
	SubnetIsolated SubnetType = "Isolated"
)

type Subnet struct {
	Name string     `json:"name" yaml:"name" validate:"required"`
	Type SubnetType `json:"type" yaml:"type" validate:"oneof=Public Isolated"`
	CIDR string     `json:"cidr" yaml:"cidr" validate:"required,cidrv4"`
	// AvailabilityZone is the index into the availability zones of the region.
	AvailabilityZone int `json:"availabilityZone" yaml:"availabilityZone" validate:"gte=0"`
}

// Network is an isolated virtual network partitioned into subnets. It also owns the security
// groups of the database and the compute cluster. Their rules are declared by their owners.
type Network struct {
	ID      string   `json:"id" yaml:"id" validate:"required"`
	Name    string   `json:"name" yaml:"name" validate:"required"`
	CIDR    string   `json:"cidr" yaml:"cidr" validate:"required,cidrv4"`
	Subnets []Subnet `json:"subnets" yaml:"subnets" validate:"required,min=1,unique=Name,dive"`
}

func (n *Network) LogicalID() string   { return n.ID }
func (n *Network) Kind() Kind          { return KindNetwork }
func (n *Network) DependsOn() []string { return nil }

// SubnetsOfType returns the subnets of the given type in declaration order.
func (n *Network) SubnetsOfType(t SubnetType) []Subnet {
	var subnets []Subnet
	for _, s := range n.Subnets {
		if s.Type == t {
			subnets = append(subnets, s)
		}
	}
	return subnets
}

// IngressRule allows traffic into a security group either from a CIDR range or from another
// security group.
type IngressRule struct {
	Description string `json:"description" yaml:"description"`
	Protocol    string `json:"protocol" yaml:"protocol" validate:"oneof=tcp udp -1"`
	FromPort    int32  `json:"fromPort" yaml:"fromPort" validate:"gte=-1,lte=65535"`
	ToPort      int32  `json:"toPort" yaml:"toPort" validate:"gtefield=FromPort,lte=65535"`
	CIDR        string `json:"cidr,omitempty" yaml:"cidr,omitempty" validate:"omitempty,cidrv4"`
	Source      *Value `json:"source,omitempty" yaml:"source,omitempty"`
}

// Identity is a named principal with a long-lived access credential. The credential is created
// together with the principal. The secret access key is only returned on creation, so an existing
// credential whose key can't be found in KeyStore is replaced.
type Identity struct {
	ID       string    `json:"id" yaml:"id" validate:"required"`
	UserName string    `json:"userName" yaml:"userName" validate:"required,max=64"`
	Path     string    `json:"path" yaml:"path" validate:"required,startswith=/,endswith=/"`
	KeyStore *KeyStore `json:"keyStore,omitempty" yaml:"keyStore,omitempty"`
}

// KeyStore names the field of a secret the secret access key of an identity is stored in.
type KeyStore struct {
	Secret string `json:"secret" yaml:"secret" validate:"required"`
	Field  string `json:"field" yaml:"field" validate:"required"`
}

func (i *Identity) LogicalID() string   { return i.ID }
func (i *Identity) Kind() Kind          { return KindIdentity }
func (i *Identity) DependsOn() []string { return nil }

// ObjectStorage is a bucket. Identities listed in GrantReadWrite are allowed to read and write
// its objects.
type ObjectStorage struct {
	ID             string   `json:"id" yaml:"id" validate:"required"`
	BucketName     string   `json:"bucketName" yaml:"bucketName" validate:"required,min=3,max=63,bucketname"`
	GrantReadWrite []string `json:"grantReadWrite" yaml:"grantReadWrite" validate:"dive,required"`
}

func (o *ObjectStorage) LogicalID() string { return o.ID }
func (o *ObjectStorage) Kind() Kind        { return KindObjectStorage }
func (o *ObjectStorage) DependsOn() []string {
	return dependencies(o.GrantReadWrite)
}

// GeneratedField is a secret field whose value is generated when the secret is first created.
type GeneratedField struct {
	Name               string `json:"name" yaml:"name" validate:"required"`
	Length             int    `json:"length" yaml:"length" validate:"gte=8,lte=4096"`
	ExcludeCharacters  string `json:"excludeCharacters" yaml:"excludeCharacters"`
	ExcludePunctuation bool   `json:"excludePunctuation" yaml:"excludePunctuation"`
}

// Secret is a credential document. Its values never appear in the descriptor: generated fields
// are produced when the secret is applied and referenced fields are resolved from other
// resources.
type Secret struct {
	ID         string           `json:"id" yaml:"id" validate:"required"`
	Name       string           `json:"name" yaml:"name" validate:"required"`
	Generate   []GeneratedField `json:"generate" yaml:"generate" validate:"unique=Name,dive"`
	References map[string]Value `json:"references,omitempty" yaml:"references,omitempty" validate:"dive"`
}

func (s *Secret) LogicalID() string { return s.ID }
func (s *Secret) Kind() Kind        { return KindSecret }
func (s *Secret) DependsOn() []string {
	values := make([]Value, 0, len(s.References))
	for _, v := range s.References {
		values = append(values, v)
	}
	return dependencies(nil, values...)
}

// HasField returns true if the secret generates or references a field with the given name.
func (s *Secret) HasField(name string) bool {
	for _, g := range s.Generate {
		if g.Name == name {
			return true
		}
	}
	_, ok := s.References[name]
	return ok
}

// Scaling of a serverless database cluster in capacity units.
type Scaling struct {
	MinCapacity int32    `json:"minCapacity" yaml:"minCapacity" validate:"oneof=1 2 4 8 16 32 64 128 256"`
	MaxCapacity int32    `json:"maxCapacity" yaml:"maxCapacity" validate:"oneof=1 2 4 8 16 32 64 128 256,gtefield=MinCapacity"`
	AutoPause   Duration `json:"autoPause" yaml:"autoPause" validate:"gt=0"`
}

// Database is a managed, serverless and autoscaling SQL cluster placed in the isolated subnets of
// the network.
type Database struct {
	ID                  string        `json:"id" yaml:"id" validate:"required"`
	ClusterIdentifier   string        `json:"clusterIdentifier" yaml:"clusterIdentifier" validate:"required,max=63"`
	Engine              string        `json:"engine" yaml:"engine" validate:"oneof=aurora-mysql aurora-postgresql"`
	DefaultDatabaseName string        `json:"defaultDatabaseName" yaml:"defaultDatabaseName" validate:"required,alphanum"`
	MasterUsername      string        `json:"masterUsername" yaml:"masterUsername" validate:"required,alphanum"`
	MasterPassword      SecretRef     `json:"masterPassword" yaml:"masterPassword"`
	Scaling             Scaling       `json:"scaling" yaml:"scaling"`
	Subnets             Value         `json:"subnets" yaml:"subnets"`
	SecurityGroup       Value         `json:"securityGroup" yaml:"securityGroup"`
	Ingress             []IngressRule `json:"ingress" yaml:"ingress" validate:"dive"`
}

func (d *Database) LogicalID() string { return d.ID }
func (d *Database) Kind() Kind        { return KindDatabase }
func (d *Database) DependsOn() []string {
	return dependencies([]string{d.MasterPassword.Secret}, append([]Value{d.Subnets, d.SecurityGroup}, ruleSources(d.Ingress)...)...)
}

// Capacity is the virtual machine capacity attached to a compute cluster.
type Capacity struct {
	InstanceType    string     `json:"instanceType" yaml:"instanceType" validate:"required"`
	DesiredCapacity int32      `json:"desiredCapacity" yaml:"desiredCapacity" validate:"gte=1"`
	MaxCapacity     int32      `json:"maxCapacity" yaml:"maxCapacity" validate:"gtefield=DesiredCapacity"`
	SubnetType      SubnetType `json:"subnetType" yaml:"subnetType" validate:"oneof=Public Isolated"`
}

// ComputeCluster is a container orchestration cluster backed by autoscaled virtual machines.
type ComputeCluster struct {
	ID            string        `json:"id" yaml:"id" validate:"required"`
	ClusterName   string        `json:"clusterName" yaml:"clusterName" validate:"required,max=255"`
	Capacity      Capacity      `json:"capacity" yaml:"capacity"`
	Subnets       Value         `json:"subnets" yaml:"subnets"`
	SecurityGroup Value         `json:"securityGroup" yaml:"securityGroup"`
	Ingress       []IngressRule `json:"ingress" yaml:"ingress" validate:"dive"`
}

func (c *ComputeCluster) LogicalID() string { return c.ID }
func (c *ComputeCluster) Kind() Kind        { return KindComputeCluster }
func (c *ComputeCluster) DependsOn() []string {
	return dependencies(nil, append([]Value{c.Subnets, c.SecurityGroup}, ruleSources(c.Ingress)...)...)
}

// Service requests the compute cluster to keep the containers of a task definition running.
type Service struct {
	ID             string `json:"id" yaml:"id" validate:"required"`
	ServiceName    string `json:"serviceName" yaml:"serviceName" validate:"required"`
	Cluster        string `json:"cluster" yaml:"cluster" validate:"required"`
	TaskDefinition string `json:"taskDefinition" yaml:"taskDefinition" validate:"required"`
	DesiredCount   int32  `json:"desiredCount" yaml:"desiredCount" validate:"gte=0"`
}

func (s *Service) LogicalID() string { return s.ID }
func (s *Service) Kind() Kind        { return KindService }
func (s *Service) DependsOn() []string {
	return dependencies([]string{s.Cluster, s.TaskDefinition})
}

func ruleSources(rules []IngressRule) []Value {
	var values []Value
	for _, r := range rules {
		if r.Source != nil {
			values = append(values, *r.Source)
		}
	}
	return values
}
