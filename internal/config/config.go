// Package config provides configuration types for the SecurFlow gateway.
//
// Configuration is file based (securflow.yaml) with SECURFLOW_* environment
// overrides. Durations are Go duration strings ("30s", "15m").
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level gateway configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstream configures the security-hub cloud API.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Redis configures the shared store. When URL is empty every piece of
	// shared state is kept in process memory, which is only correct for a
	// single instance.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	Session   SessionConfig   `yaml:"session" mapstructure:"session"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Admission AdmissionConfig `yaml:"admission" mapstructure:"admission"`
	Identity  IdentityConfig  `yaml:"identity" mapstructure:"identity"`
	Lockout   LockoutConfig   `yaml:"lockout" mapstructure:"lockout"`

	// Audit configures where security events are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Notify configures where user notifications go.
	Notify NotifyConfig `yaml:"notify" mapstructure:"notify"`

	// Database configures the relational store used by the database audit
	// output and the database notification driver.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// Operators lists the keys accepted on the /admin endpoints.
	Operators []OperatorConfig `yaml:"operators" mapstructure:"operators" validate:"omitempty,dive"`

	// DevMode fills in a development signing secret and operator key.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// HTTPAddr is the listen address. Default: "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required"`
	// LogLevel is one of debug, info, warn, error. Default: "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile     string `yaml:"tls_cert_file" mapstructure:"tls_cert_file"`
	TLSKeyFile      string `yaml:"tls_key_file" mapstructure:"tls_key_file"`
	ReadTimeout     string `yaml:"read_timeout" mapstructure:"read_timeout" validate:"duration"`
	WriteTimeout    string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"duration"`
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"duration"`
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For
	// and X-Real-IP headers are honoured. Default: loopback only.
	TrustedProxies []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies" validate:"dive,cidr|ip"`
}

// UpstreamConfig configures the cloud API.
type UpstreamConfig struct {
	// BaseURL is the API root, e.g. "https://api.ajax.systems/api".
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	// APIKey is the shared key sent as X-Api-Key on every call.
	APIKey string `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	// Timeout bounds every upstream call. Default: "15s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"duration"`
}

// RedisConfig configures the shared store.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Empty selects the in-memory store.
	URL         string `yaml:"url" mapstructure:"url" validate:"omitempty,redis_url"`
	PoolSize    int    `yaml:"pool_size" mapstructure:"pool_size" validate:"gte=0"`
	DialTimeout string `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"duration"`
}

// SessionConfig configures cached tenant sessions.
type SessionConfig struct {
	// ExpiryMargin is subtracted from the upstream token lifetime.
	ExpiryMargin string `yaml:"expiry_margin" mapstructure:"expiry_margin" validate:"duration"`
	// RefreshTTL is how long upstream refresh tokens are kept.
	RefreshTTL string `yaml:"refresh_ttl" mapstructure:"refresh_ttl" validate:"duration"`
}

// CacheConfig holds the per-resource response cache TTLs.
type CacheConfig struct {
	Hubs    string `yaml:"hubs" mapstructure:"hubs" validate:"duration"`
	Hub     string `yaml:"hub" mapstructure:"hub" validate:"duration"`
	Devices string `yaml:"devices" mapstructure:"devices" validate:"duration"`
	Device  string `yaml:"device" mapstructure:"device" validate:"duration"`
	Rooms   string `yaml:"rooms" mapstructure:"rooms" validate:"duration"`
	Groups  string `yaml:"groups" mapstructure:"groups" validate:"duration"`
}

// AdmissionConfig configures the shared outbound call window.
type AdmissionConfig struct {
	// Limit is the number of upstream calls per window across all instances.
	Limit         int    `yaml:"limit" mapstructure:"limit" validate:"gte=1"`
	Window        string `yaml:"window" mapstructure:"window" validate:"duration"`
	MaxWait       string `yaml:"max_wait" mapstructure:"max_wait" validate:"duration"`
	RetryInterval string `yaml:"retry_interval" mapstructure:"retry_interval" validate:"duration"`
	MaxRetryAfter string `yaml:"max_retry_after" mapstructure:"max_retry_after" validate:"duration"`
}

// IdentityConfig configures the gateway's own client tokens.
type IdentityConfig struct {
	// Secret signs tokens (HS256). At least 32 bytes.
	Secret     string `yaml:"secret" mapstructure:"secret" validate:"required,min=32"`
	Issuer     string `yaml:"issuer" mapstructure:"issuer"`
	AccessTTL  string `yaml:"access_ttl" mapstructure:"access_ttl" validate:"duration"`
	RefreshTTL string `yaml:"refresh_ttl" mapstructure:"refresh_ttl" validate:"duration"`
}

// LockoutConfig configures the login lockout per client IP.
type LockoutConfig struct {
	MaxFailures   int    `yaml:"max_failures" mapstructure:"max_failures" validate:"gte=1"`
	FailureWindow string `yaml:"failure_window" mapstructure:"failure_window" validate:"duration"`
	Duration      string `yaml:"duration" mapstructure:"duration" validate:"duration"`
}

// AuditConfig configures security event persistence.
type AuditConfig struct {
	// Output is "stdout" (JSON lines, queryable in memory), "file" (daily
	// rotated JSON lines under Dir) or "database".
	Output           string `yaml:"output" mapstructure:"output" validate:"oneof=stdout file database"`
	ChannelSize      int    `yaml:"channel_size" mapstructure:"channel_size" validate:"gte=1"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size" validate:"gte=1"`
	FlushInterval    string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"duration"`
	SendTimeout      string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"duration"`
	WarningThreshold int    `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"gte=1,lte=100"`
	// BufferSize is how many records the stdout and file outputs keep for queries.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"gte=1"`
	// Dir, RetentionDays and MaxFileSizeMB apply to the file output.
	Dir           string `yaml:"dir" mapstructure:"dir"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days" validate:"gte=0"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"gte=0"`
}

// NotifyConfig configures user notifications.
type NotifyConfig struct {
	// Driver is "log", "database" or "kafka". Default: "log".
	Driver string      `yaml:"driver" mapstructure:"driver" validate:"oneof=log database kafka"`
	Kafka  KafkaConfig `yaml:"kafka" mapstructure:"kafka"`
}

// KafkaConfig configures the Kafka notification driver.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers" mapstructure:"brokers" validate:"omitempty,dive,hostname_port"`
	Topic        string   `yaml:"topic" mapstructure:"topic"`
	WriteTimeout string   `yaml:"write_timeout" mapstructure:"write_timeout" validate:"duration"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite". Empty disables the database.
	Driver          string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=postgres sqlite"`
	DSN             string `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns" mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime" validate:"duration"`
	LogQueries      bool   `yaml:"log_queries" mapstructure:"log_queries"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Tracing exports upstream call spans to stderr.
	Tracing     bool    `yaml:"tracing" mapstructure:"tracing"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	PrettyPrint bool    `yaml:"pretty_print" mapstructure:"pretty_print"`
}

// OperatorConfig is one operator key.
type OperatorConfig struct {
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	// KeyHash is "sha256:<hex>" or an Argon2id PHC string (see hash-key).
	KeyHash string   `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`
	Roles   []string `yaml:"roles" mapstructure:"roles" validate:"required,min=1,dive,oneof=admin viewer"`
	// ExpiresAt is an optional RFC 3339 timestamp.
	ExpiresAt string `yaml:"expires_at" mapstructure:"expires_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// devSecret signs tokens in dev mode only.
const devSecret = "securflow-dev-secret-do-not-use-in-production"

// SetDevDefaults fills in what dev mode needs to start with only an
// upstream configured. Applied before validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Identity.Secret == "" {
		c.Identity.Secret = devSecret
	}
	// SHA-256 of "dev-operator-key"
	if len(c.Operators) == 0 {
		c.Operators = []OperatorConfig{{
			Name:    "dev-operator",
			KeyHash: "sha256:7eee78659ab50d4dd820f4242709d188809ca0249506edf83d70022973d5e2ca",
			Roles:   []string{"admin"},
		}}
	}
	if c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless an address is configured.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.TrustedProxies == nil {
		c.Server.TrustedProxies = []string{"127.0.0.1/32", "::1/128"}
	}
	setDuration(&c.Server.ReadTimeout, "30s")
	setDuration(&c.Server.WriteTimeout, "60s")
	setDuration(&c.Server.ShutdownTimeout, "10s")

	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://api.ajax.systems/api"
	}
	setDuration(&c.Upstream.Timeout, "15s")

	setDuration(&c.Redis.DialTimeout, "5s")

	setDuration(&c.Session.ExpiryMargin, "60s")
	setDuration(&c.Session.RefreshTTL, "168h")

	setDuration(&c.Cache.Hubs, "300s")
	setDuration(&c.Cache.Hub, "60s")
	setDuration(&c.Cache.Devices, "120s")
	setDuration(&c.Cache.Device, "10s")
	setDuration(&c.Cache.Rooms, "600s")
	setDuration(&c.Cache.Groups, "300s")

	if c.Admission.Limit == 0 {
		c.Admission.Limit = 100
	}
	setDuration(&c.Admission.Window, "60s")
	setDuration(&c.Admission.MaxWait, "30s")
	setDuration(&c.Admission.RetryInterval, "500ms")
	setDuration(&c.Admission.MaxRetryAfter, "10s")

	if c.Identity.Issuer == "" {
		c.Identity.Issuer = "securflow"
	}
	setDuration(&c.Identity.AccessTTL, "30m")
	setDuration(&c.Identity.RefreshTTL, "168h")

	if c.Lockout.MaxFailures == 0 {
		c.Lockout.MaxFailures = 5
	}
	setDuration(&c.Lockout.FailureWindow, "24h")
	setDuration(&c.Lockout.Duration, "15m")

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	setDuration(&c.Audit.FlushInterval, "1s")
	setDuration(&c.Audit.SendTimeout, "100ms")
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Audit.Output == "file" && c.Audit.Dir == "" {
		c.Audit.Dir = "./audit"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}

	if c.Notify.Driver == "" {
		c.Notify.Driver = "log"
	}
	if c.Notify.Kafka.Topic == "" {
		c.Notify.Kafka.Topic = "securflow.notifications"
	}
	setDuration(&c.Notify.Kafka.WriteTimeout, "5s")

	setDuration(&c.Database.ConnMaxLifetime, "30m")

	// Only default the ratio when it was not explicitly set to 0.
	if !viper.IsSet("telemetry.sample_ratio") && c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
}

func setDuration(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

// Duration parses a validated duration field. Invalid or empty values
// return zero.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// UsesDatabase reports whether any component needs the relational store.
func (c *Config) UsesDatabase() bool {
	return c.Audit.Output == "database" || c.Notify.Driver == "database"
}

// UsesRedis reports whether shared state lives in Redis.
func (c *Config) UsesRedis() bool {
	return c.Redis.URL != ""
}
