// Package config loads Carbon's runtime configuration (spec §6): listener
// ports, the admin principal, the server secret, CORS origins, and session
// TTLs, layered env-over-file-over-defaults.
//
// The teacher hand-rolls this with flag+encoding/json and a reflection-based
// Merge (cmd/memcached/config/config.go), a shape its own RotateSizeCoef
// comment flags as a stopgap ("some third party high level reflection
// package should be used here"). This package takes that cue and replaces
// the merge with github.com/knadh/koanf/v2's layered providers, grounded on
// tomtom215-cartographus's env+file/yaml koanf setup
// (internal/config/koanf.go).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/carbondb/carbon/internal/carbonerr"
)

// Config is Carbon's process-wide configuration (spec §6).
type Config struct {
	HTTPPort       int           `koanf:"http_port"`
	TCPPort        int           `koanf:"tcp_port"`
	TCPRequireLoop bool          `koanf:"tcp_require_loopback"`
	AdminUser      string        `koanf:"admin_user"`
	AdminPassword  string        `koanf:"admin_password"`
	ServerSecret   string        `koanf:"server_secret"`
	OverflowDir    string        `koanf:"overflow_dir"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	SessionIdleTTL time.Duration `koanf:"session_idle_ttl"`
	SessionAbsTTL  time.Duration `koanf:"session_abs_ttl"`
	LogLevel       string        `koanf:"log_level"`
	DrainTimeout   time.Duration `koanf:"drain_timeout"`
}

// EnvPrefix namespaces every environment variable this process reads, per
// spec §6's CARBON_* naming.
const EnvPrefix = "CARBON_"

// ConfigPathEnvVar overrides the YAML file search, the same override idiom
// as tomtom215-cartographus's ConfigPathEnvVar.
const ConfigPathEnvVar = "CARBON_CONFIG_PATH"

func defaults() *Config {
	return &Config{
		HTTPPort:       8080,
		TCPPort:        11311,
		TCPRequireLoop: true,
		OverflowDir:    "",
		AllowedOrigins: nil,
		SessionIdleTTL: 30 * time.Minute,
		SessionAbsTTL:  24 * time.Hour,
		LogLevel:       "info",
		DrainTimeout:   10 * time.Second,
	}
}

// Load builds a Config from built-in defaults, an optional YAML file, and
// CARBON_* environment variables, in that order of increasing precedence
// (spec §6).
func Load() (*Config, error) {
	k := koanf.New(".")

	def := defaults()
	if err := k.Load(structs.Provider(def, "koanf"), nil); err != nil {
		return nil, carbonerr.Wrap(carbonerr.Internal, err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, carbonerr.Wrap(carbonerr.Internal, fmt.Errorf("config file %s: %w", path, err))
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, carbonerr.Wrap(carbonerr.Internal, err)
	}

	if v := k.String("allowed_origins"); v != "" {
		if err := k.Set("allowed_origins", splitAndTrim(v)); err != nil {
			return nil, carbonerr.Wrap(carbonerr.Internal, err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, carbonerr.Wrap(carbonerr.Internal, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return carbonerr.New(carbonerr.InvalidArgument, "http_port out of range")
	}
	if c.TCPPort <= 0 || c.TCPPort > 65535 {
		return carbonerr.New(carbonerr.InvalidArgument, "tcp_port out of range")
	}
	if c.AdminUser != "" && c.AdminPassword == "" {
		return carbonerr.New(carbonerr.InvalidArgument, "admin_password required when admin_user is set")
	}
	if c.ServerSecret == "" {
		return carbonerr.New(carbonerr.InvalidArgument, "server_secret must be set")
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range []string{"carbon.yaml", "carbon.yml", "/etc/carbon/carbon.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps CARBON_HTTP_PORT -> http_port, CARBON_ALLOWED_ORIGINS
// -> allowed_origins, matching the struct tags above.
func envTransform(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ToLower(key)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
