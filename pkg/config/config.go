// Package config reads the configuration from the process environment. Every recognized option is
// enumerated here and defaulted so a descriptor can always be built even without configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// New returns the configuration found in the environment.
func New() (Config, error) {
	var errs []string
	parseBool := func(key string, fallback bool) bool {
		value, err := optionalEnvAsBool(key, fallback)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return value
	}
	parseInt := func(key string, fallback int) int {
		value, err := optionalEnvAsInt(key, fallback)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return value
	}

	c := Config{
		Descriptor: Descriptor{
			StackName:  optionalEnv("STACK_NAME", "MonicaCrmStack"),
			Variant:    optionalEnv("DESCRIPTOR_VARIANT", "v1"),
			DomainName: optionalEnv("DOMAIN_NAME", ""),
			SSLEmail:   optionalEnv("SSL_EMAIL", ""),
			Mail: Mail{
				Host:        optionalEnv("MAIL_HOST", ""),
				Username:    optionalEnv("MAIL_USERNAME", ""),
				Password:    optionalEnv("MAIL_PASSWORD", ""),
				FromAddress: optionalEnv("MAIL_FROM_ADDRESS", ""),
				FromName:    optionalEnv("MAIL_FROM_NAME", ""),
			},
			App: App{
				Debug:         parseBool("APP_DEBUG", false),
				MFAEnabled:    parseBool("MFA_ENABLED", true),
				DAVEnabled:    parseBool("DAV_ENABLED", true),
				DisableSignup: parseBool("APP_DISABLE_SIGNUP", false),
			},
		},
		AWS: AWS{
			Region: optionalEnv("AWS_REGION", ""),
		},
		State: State{
			Bucket:       optionalEnv("STATE_BUCKET", ""),
			Prefix:       optionalEnv("STATE_PREFIX", "deployments"),
			AgeRecipient: optionalEnv("STATE_AGE_RECIPIENT", ""),
			AgeIdentity:  optionalEnv("STATE_AGE_IDENTITY", ""),
		},
		Server: Server{
			BasePath: optionalEnv("BASE_PATH", ""),
			Port:     parseInt("PORT", 8080),
			APIToken: optionalEnv("API_TOKEN", ""),
		},
		Logging: Logging{
			Level:  optionalEnv("LOG_LEVEL", "info"),
			Pretty: parseBool("LOG_PRETTY", false),
		},
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return c, nil
}

type Config struct {
	Descriptor Descriptor
	AWS        AWS
	State      State
	Server     Server
	Logging    Logging
}

// Descriptor holds the inputs of the resource graph builder.
type Descriptor struct {
	StackName  string
	Variant    string
	DomainName string
	// SSLEmail is the contact address used when requesting ACME certificates.
	SSLEmail string
	Mail     Mail
	App      App
}

// Mail is the mail relay the application sends mails through.
type Mail struct {
	Host        string
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

// App holds application toggles.
type App struct {
	Debug         bool
	MFAEnabled    bool
	DAVEnabled    bool
	DisableSignup bool
}

type AWS struct {
	// Region overrides the region found by the AWS SDK default configuration chain.
	Region string
}

// State configures where deployment state is persisted. Persistence is disabled if no bucket is
// configured.
type State struct {
	Bucket       string
	Prefix       string
	AgeRecipient string
	AgeIdentity  string
}

func (s State) Enabled() bool {
	return s.Bucket != ""
}

type Server struct {
	BasePath string
	Port     int
	APIToken string
}

type Logging struct {
	Level  string
	Pretty bool
}

// SlogLevel returns the configured level. Unknown levels fall back to info.
func (l Logging) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func optionalEnv(key, fallback string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	return value
}

func optionalEnvAsBool(key string, fallback bool) (bool, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return fallback, fmt.Errorf("can't parse %s as boolean: %q", key, valueStr)
	}
	return value, nil
}

func optionalEnvAsInt(key string, fallback int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback, fmt.Errorf("can't parse %s as integer: %q", key, valueStr)
	}
	return value, nil
}
