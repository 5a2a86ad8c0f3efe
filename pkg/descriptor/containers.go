package descriptor

import (
	"strconv"

	"github.com/monica-infra/deployer/pkg/model"
)

const (
	appPort            = 80
	proxyHTTPSPort     = 443
	proxyDashboardPort = 8080
)

// appContainer is the Monica CRM container. Credentials are injected from the secret, everything
// else is plain environment.
func (b *Builder) appContainer() model.Container {
	mail := b.cfg.Mail
	app := b.cfg.App
	return model.Container{
		Name:                 AppContainer,
		Image:                b.options.AppImage,
		MemoryReservationMiB: 250,
		Essential:            true,
		Logging:              &model.Logging{StreamPrefix: "MonicaContainer"},
		Environment: map[string]model.Value{
			"APP_DEBUG":           model.Literal(strconv.FormatBool(app.Debug)),
			"APP_TRUSTED_PROXIES": model.Literal("*"),
			"APP_DISABLE_SIGNUP":  model.Literal(strconv.FormatBool(app.DisableSignup)),
			"AWS_REGION":          model.RefTo(model.PseudoResource, model.PseudoRegion),
			"AWS_BUCKET":          model.RefTo(StorageID, model.AttrBucketName),
			"AWS_KEY":             model.RefTo(IdentityID, model.AttrAccessKeyID),
			"AWS_SERVER":          model.Literal(""),
			"DAV_ENABLED":         model.Literal(strconv.FormatBool(app.DAVEnabled)),
			"DB_HOST":             model.RefTo(DatabaseID, model.AttrEndpointAddress),
			"DB_USERNAME":         model.Literal(dbUsername),
			"DEFAULT_FILESYSTEM":  model.Literal("s3"),
			"MAIL_ENCRYPTION":     model.Literal("tls"),
			"MAIL_MAILER":         model.Literal("smtp"),
			"MAIL_PORT":           model.Literal("587"),
			"MAIL_FROM_ADDRESS":   model.Literal(mail.FromAddress),
			"MAIL_FROM_NAME":      model.Literal(mail.FromName),
			"MAIL_HOST":           model.Literal(mail.Host),
			"MAIL_USERNAME":       model.Literal(mail.Username),
			"MAIL_PASSWORD":       model.Literal(mail.Password),
			"MFA_ENABLED":         model.Literal(strconv.FormatBool(app.MFAEnabled)),
		},
		Secrets: map[string]model.SecretRef{
			"APP_KEY":     {Secret: SecretID, Field: FieldAppKey},
			"AWS_SECRET":  {Secret: SecretID, Field: FieldAWSSecretAccessKey},
			"DB_PASSWORD": {Secret: SecretID, Field: FieldDBPassword},
		},
		DockerLabels: appLabels(b.routingHost(), b.options.RedirectHTTPS),
		PortMappings: []model.PortMapping{
			{ContainerPort: appPort, HostPort: appPort, Protocol: "tcp"},
		},
	}
}

// proxyContainer is the Traefik reverse proxy terminating TLS and routing to the application
// container. It must not be started before the application container.
func (b *Builder) proxyContainer() model.Container {
	debug := b.cfg.App.Debug
	logLevel := "INFO"
	if debug {
		logLevel = "DEBUG"
	}

	env := map[string]model.Value{
		"TRAEFIK_API_INSECURE":            model.Literal("true"),
		"TRAEFIK_API_DASHBOARD":           model.Literal("true"),
		"TRAEFIK_API_DEBUG":               model.Literal(strconv.FormatBool(debug)),
		"TRAEFIK_LOG_LEVEL":               model.Literal(logLevel),
		"TRAEFIK_ENTRYPOINTS_APP_ADDRESS": model.Literal(":" + strconv.Itoa(proxyHTTPSPort)),

		"TRAEFIK_CERTIFICATESRESOLVERS_MYTLS_ACME_EMAIL":        model.Literal(b.cfg.SSLEmail),
		"TRAEFIK_CERTIFICATESRESOLVERS_MYTLS_ACME_TLSCHALLENGE": model.Literal("true"),
		"TRAEFIK_CERTIFICATESRESOLVERS_MYTLS_ACME_STORAGE":      model.Literal("/letsencrypt/acme.json"),
	}
	for name, value := range b.providerEnvironment() {
		env[name] = value
	}

	c := model.Container{
		Name:                 ProxyContainer,
		Image:                b.options.ProxyImage,
		MemoryReservationMiB: 200,
		Essential:            true,
		Logging:              &model.Logging{StreamPrefix: "TraefikContainer"},
		Environment:          env,
		DockerLabels:         proxyLabels(b.routingHost()),
		PortMappings: []model.PortMapping{
			{ContainerPort: proxyHTTPSPort, HostPort: proxyHTTPSPort, Protocol: "tcp"},
			{ContainerPort: proxyDashboardPort, HostPort: proxyDashboardPort, Protocol: "tcp"},
		},
		MountPoints: []model.MountPoint{
			{SourceVolume: volumeDockerSocket, ContainerPath: "/var/run/docker.sock", ReadOnly: true},
			{SourceVolume: volumeTmp, ContainerPath: "/letsencrypt", ReadOnly: false},
		},
		DependsOn: []model.ContainerDependency{
			{Container: AppContainer, Condition: model.ConditionStart},
		},
	}
	if b.options.ExplicitLinking {
		c.Links = []string{AppContainer}
	}
	return c
}

func (b *Builder) providerEnvironment() map[string]model.Value {
	if b.options.ProxyProvider == ProxyProviderDocker {
		return map[string]model.Value{
			"TRAEFIK_PROVIDERS_DOCKER":                  model.Literal("true"),
			"TRAEFIK_PROVIDERS_DOCKER_EXPOSEDBYDEFAULT": model.Literal("false"),
		}
	}

	return map[string]model.Value{
		"TRAEFIK_PROVIDERS_ECS":                  model.Literal("true"),
		"TRAEFIK_PROVIDERS_ECS_EXPOSEDBYDEFAULT": model.Literal("false"),
		"TRAEFIK_PROVIDERS_ECS_CLUSTERS":         model.RefTo(ClusterID, model.AttrClusterName),
		"TRAEFIK_PROVIDERS_ECS_REGION":           model.RefTo(model.PseudoResource, model.PseudoRegion),
	}
}
