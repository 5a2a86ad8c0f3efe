package descriptor

import (
	"fmt"
	"strconv"
)

// Routing labels are read by the reverse proxy to build its routing table.
const (
	LabelEnable           = "traefik.enable"
	LabelAppRule          = "traefik.http.routers.app.rule"
	LabelAppEntrypoints   = "traefik.http.routers.app.entrypoints"
	LabelAppCertResolver  = "traefik.http.routers.app.tls.certresolver"
	LabelAppServerPort    = "traefik.http.services.app.loadbalancer.server.port"
	LabelRedirectScheme   = "traefik.http.middlewares.redirect.redirectscheme.scheme"
	LabelRedirectPermanet = "traefik.http.middlewares.redirect.redirectscheme.permanent"
	LabelAPIRule          = "traefik.http.routers.api.rule"
	LabelAPIService       = "traefik.http.routers.api.service"
)

// routingHost returns the host the application is served on.
func (b *Builder) routingHost() string {
	if b.options.RoutingHost == RoutingHostStackName {
		host := b.prefix()
		if b.cfg.DomainName != "" {
			host += "." + b.cfg.DomainName
		}
		return host
	}
	return b.cfg.DomainName
}

// HostRule renders a host matching rule of the reverse proxy.
func HostRule(host string) string {
	return fmt.Sprintf("Host(`%s`)", host)
}

func appLabels(host string, redirect bool) map[string]string {
	labels := map[string]string{
		LabelEnable:          "true",
		LabelAppEntrypoints:  "app",
		LabelAppRule:         HostRule(host),
		LabelAppServerPort:   strconv.Itoa(appPort),
		LabelAppCertResolver: "mytls",
	}
	if redirect {
		labels[LabelRedirectScheme] = "https"
		labels[LabelRedirectPermanet] = "true"
	}
	return labels
}

// proxyLabels expose the dashboard of the reverse proxy on the traefik subdomain.
func proxyLabels(host string) map[string]string {
	return map[string]string{
		LabelEnable:     "true",
		LabelAPIRule:    HostRule("traefik." + host),
		LabelAPIService: "api@internal",
	}
}
