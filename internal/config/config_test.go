package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carbondb/carbon/internal/config"
)

func clearEnv(t *testing.T) {
	for _, e := range os.Environ() {
		if len(e) > len(config.EnvPrefix) && e[:len(config.EnvPrefix)] == config.EnvPrefix {
			key := e[:indexOf(e, '=')]
			os.Unsetenv(key)
		}
	}
	t.Cleanup(func() {
		for _, e := range os.Environ() {
			if len(e) > len(config.EnvPrefix) && e[:len(config.EnvPrefix)] == config.EnvPrefix {
				key := e[:indexOf(e, '=')]
				os.Unsetenv(key)
			}
		}
	})
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func TestLoadFailsWithoutServerSecret(t *testing.T) {
	clearEnv(t)
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaultsAndEnvOverride(t *testing.T) {
	clearEnv(t)
	os.Setenv("CARBON_SERVER_SECRET", "s3cr3t")
	os.Setenv("CARBON_HTTP_PORT", "9090")
	os.Setenv("CARBON_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.HTTPPort)
	require.Equal(t, 11311, cfg.TCPPort)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadRequiresAdminPasswordWithAdminUser(t *testing.T) {
	clearEnv(t)
	os.Setenv("CARBON_SERVER_SECRET", "s3cr3t")
	os.Setenv("CARBON_ADMIN_USER", "admin")

	_, err := config.Load()
	require.Error(t, err)
}
