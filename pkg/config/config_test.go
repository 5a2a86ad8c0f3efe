package config_test

import (
	"log/slog"
	"testing"

	"github.com/monica-infra/deployer/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("DefaultsWithoutEnvironment", func(t *testing.T) {
		for _, key := range []string{"DOMAIN_NAME", "SSL_EMAIL", "MAIL_HOST", "MAIL_USERNAME", "MAIL_PASSWORD", "MAIL_FROM_ADDRESS", "MAIL_FROM_NAME", "STACK_NAME", "DESCRIPTOR_VARIANT", "APP_DEBUG", "MFA_ENABLED", "PORT", "STATE_BUCKET"} {
			t.Setenv(key, "")
		}
		// t.Setenv with an empty value still sets the variable, unset the ones with non empty
		// defaults
		unsetenv(t, "STACK_NAME", "DESCRIPTOR_VARIANT")

		c, err := config.New()

		require.NoError(t, err)
		assert.Equal(t, "MonicaCrmStack", c.Descriptor.StackName)
		assert.Equal(t, "v1", c.Descriptor.Variant)
		assert.Empty(t, c.Descriptor.DomainName)
		assert.Empty(t, c.Descriptor.SSLEmail)
		assert.Equal(t, config.Mail{}, c.Descriptor.Mail)
		assert.Equal(t, config.App{MFAEnabled: true, DAVEnabled: true}, c.Descriptor.App)
		assert.Equal(t, 8080, c.Server.Port)
		assert.False(t, c.State.Enabled())
	})

	t.Run("ReadsEnvironment", func(t *testing.T) {
		t.Setenv("DOMAIN_NAME", "example.com")
		t.Setenv("MAIL_HOST", "smtp.example.com")
		t.Setenv("SSL_EMAIL", "ops@example.com")
		t.Setenv("APP_DEBUG", "true")
		t.Setenv("STATE_BUCKET", "state")
		t.Setenv("PORT", "9090")

		c, err := config.New()

		require.NoError(t, err)
		assert.Equal(t, "example.com", c.Descriptor.DomainName)
		assert.Equal(t, "smtp.example.com", c.Descriptor.Mail.Host)
		assert.Equal(t, "ops@example.com", c.Descriptor.SSLEmail)
		assert.True(t, c.Descriptor.App.Debug)
		assert.True(t, c.State.Enabled())
		assert.Equal(t, 9090, c.Server.Port)
	})

	t.Run("FailGivenInvalidValues", func(t *testing.T) {
		t.Setenv("APP_DEBUG", "maybe")
		t.Setenv("PORT", "eighty")

		_, err := config.New()

		require.ErrorContains(t, err, `can't parse APP_DEBUG as boolean: "maybe"`)
		require.ErrorContains(t, err, `can't parse PORT as integer: "eighty"`)
	})
}

func TestLoggingSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, config.Logging{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, config.Logging{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, config.Logging{Level: "verbose"}.SlogLevel())
}
