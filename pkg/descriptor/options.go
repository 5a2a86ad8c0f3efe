package descriptor

import (
	"fmt"
	"strings"

	"github.com/monica-infra/deployer/internal/errdef"
)

// RoutingHostSource decides where the host of the routing rule comes from.
type RoutingHostSource string

const (
	// RoutingHostDomain uses the configured domain name.
	RoutingHostDomain RoutingHostSource = "domain"
	// RoutingHostStackName uses the slugified stack name. It is suffixed with the domain name if
	// one is configured.
	RoutingHostStackName RoutingHostSource = "stack"
)

// ProxyProvider is the mechanism the reverse proxy uses to discover the containers it routes to.
type ProxyProvider string

const (
	ProxyProviderECS    ProxyProvider = "ecs"
	ProxyProviderDocker ProxyProvider = "docker"
)

const (
	ImageMonicaHQ       = "monicahq/monicahq"
	ImageMonicaOfficial = "monica"
	ImageTraefik        = "traefik:v2.3"
)

// Options are the toggles distinguishing variants of the descriptor.
type Options struct {
	Name string
	// ClusterIntrospection grants the reverse proxy read access to the compute cluster so it
	// can discover the containers it routes to.
	ClusterIntrospection bool
	// ExplicitIngress restricts network access to the database and cluster to explicit rules.
	// Without it both accept any TCP traffic.
	ExplicitIngress bool
	RoutingHost     RoutingHostSource
	// ExplicitLinking links the reverse proxy to the application container. The start order
	// dependency is declared regardless.
	ExplicitLinking bool
	ProxyProvider   ProxyProvider
	AppImage        string
	ProxyImage      string
	// RedirectHTTPS adds the labels of a middleware redirecting HTTP to HTTPS.
	RedirectHTTPS bool
}

// V1 is the most complete variant and the default.
var V1 = Options{
	Name:                 "v1",
	ClusterIntrospection: true,
	ExplicitIngress:      true,
	RoutingHost:          RoutingHostDomain,
	ExplicitLinking:      true,
	ProxyProvider:        ProxyProviderECS,
	AppImage:             ImageMonicaHQ,
	ProxyImage:           ImageTraefik,
	RedirectHTTPS:        true,
}

// V2 is V1 without the cluster introspection grant and with open network ingress.
var V2 = Options{
	Name:                 "v2",
	ClusterIntrospection: false,
	ExplicitIngress:      false,
	RoutingHost:          RoutingHostDomain,
	ExplicitLinking:      true,
	ProxyProvider:        ProxyProviderECS,
	AppImage:             ImageMonicaHQ,
	ProxyImage:           ImageTraefik,
	RedirectHTTPS:        true,
}

// V3 uses the official application image, routes by stack name and lets the reverse proxy discover
// containers through the docker daemon of the cluster instance.
var V3 = Options{
	Name:                 "v3",
	ClusterIntrospection: false,
	ExplicitIngress:      false,
	RoutingHost:          RoutingHostStackName,
	ExplicitLinking:      false,
	ProxyProvider:        ProxyProviderDocker,
	AppImage:             ImageMonicaOfficial,
	ProxyImage:           ImageTraefik,
	RedirectHTTPS:        false,
}

// Variant returns the options of the variant with the given name.
func Variant(name string) (Options, error) {
	switch strings.ToLower(name) {
	case "", "v1":
		return V1, nil
	case "v2":
		return V2, nil
	case "v3":
		return V3, nil
	}
	return Options{}, errdef.NewBadRequest("unknown descriptor variant %q, want one of v1, v2, v3", name)
}

func (o Options) validate() error {
	var problems []string
	if o.RoutingHost != RoutingHostDomain && o.RoutingHost != RoutingHostStackName {
		problems = append(problems, fmt.Sprintf("unknown routing host source %q", o.RoutingHost))
	}
	if o.ProxyProvider != ProxyProviderECS && o.ProxyProvider != ProxyProviderDocker {
		problems = append(problems, fmt.Sprintf("unknown proxy provider %q", o.ProxyProvider))
	}
	if o.AppImage == "" {
		problems = append(problems, "application image missing")
	}
	if o.ProxyImage == "" {
		problems = append(problems, "proxy image missing")
	}
	if len(problems) > 0 {
		return errdef.NewBadRequest("invalid descriptor options: %s", strings.Join(problems, ", "))
	}
	return nil
}
