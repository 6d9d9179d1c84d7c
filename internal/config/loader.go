package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const configName = "securflow"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for securflow.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself is
// never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers
		// treat as "environment only".
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SECURFLOW_UPSTREAM_API_KEY
	viper.SetEnvPrefix("SECURFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".securflow"),
		"/etc/securflow",
	})
}

// findConfigFileInPaths searches the given directories for securflow.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys lists every scalar key that may be overridden from the
// environment. Lists (operators, kafka brokers, trusted proxies) come from
// the file.
var envKeys = []string{
	"server.http_addr", "server.log_level", "server.tls_cert_file", "server.tls_key_file",
	"server.read_timeout", "server.write_timeout", "server.shutdown_timeout",
	"upstream.base_url", "upstream.api_key", "upstream.timeout",
	"redis.url", "redis.pool_size", "redis.dial_timeout",
	"session.expiry_margin", "session.refresh_ttl",
	"cache.hubs", "cache.hub", "cache.devices", "cache.device", "cache.rooms", "cache.groups",
	"admission.limit", "admission.window", "admission.max_wait", "admission.retry_interval", "admission.max_retry_after",
	"identity.secret", "identity.issuer", "identity.access_ttl", "identity.refresh_ttl",
	"lockout.max_failures", "lockout.failure_window", "lockout.duration",
	"audit.output", "audit.channel_size", "audit.batch_size", "audit.flush_interval",
	"audit.send_timeout", "audit.warning_threshold", "audit.buffer_size",
	"audit.dir", "audit.retention_days", "audit.max_file_size_mb",
	"notify.driver", "notify.kafka.topic", "notify.kafka.write_timeout",
	"database.driver", "database.dsn", "database.max_open_conns", "database.max_idle_conns",
	"database.conn_max_lifetime", "database.log_queries",
	"telemetry.tracing", "telemetry.sample_ratio", "telemetry.pretty_print",
	"dev_mode",
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: SECURFLOW_REDIS_URL overrides redis.url
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
