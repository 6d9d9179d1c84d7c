package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/virapa/AjaxSecurFlow/internal/domain/auth"
)

// RegisterCustomValidators registers the gateway's validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"duration":  validateDuration,
		"redis_url": validateRedisURL,
		"key_hash":  validateKeyHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateDuration accepts empty strings and positive Go durations.
func validateDuration(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	d, err := time.ParseDuration(s)
	return err == nil && d > 0
}

func validateRedisURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "redis" || u.Scheme == "rediss") && u.Host != ""
}

func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != auth.HashUnknown
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	checks := []func() error{
		c.validateTLS,
		c.validateDatabase,
		c.validateKafka,
		c.validateSession,
		c.validateOperatorNames,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateTLS() error {
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return errors.New("server: tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.UsesDatabase() && c.Database.Driver == "" {
		return errors.New("database: driver is required when audit.output or notify.driver is \"database\"")
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return errors.New("database: dsn is required for postgres")
	}
	return nil
}

func (c *Config) validateKafka() error {
	if c.Notify.Driver != "kafka" {
		return nil
	}
	if len(c.Notify.Kafka.Brokers) == 0 {
		return errors.New("notify.kafka: at least one broker is required")
	}
	if c.Notify.Kafka.Topic == "" {
		return errors.New("notify.kafka: topic is required")
	}
	return nil
}

// validateSession keeps cached upstream sessions inside their refresh window.
func (c *Config) validateSession() error {
	if Duration(c.Session.ExpiryMargin) >= Duration(c.Session.RefreshTTL) {
		return errors.New("session: expiry_margin must be shorter than refresh_ttl")
	}
	if Duration(c.Identity.AccessTTL) > Duration(c.Identity.RefreshTTL) {
		return errors.New("identity: access_ttl must not exceed refresh_ttl")
	}
	return nil
}

func (c *Config) validateOperatorNames() error {
	seen := make(map[string]struct{}, len(c.Operators))
	for i, op := range c.Operators {
		if _, dup := seen[op.Name]; dup {
			return fmt.Errorf("operators[%d]: duplicate name %q", i, op.Name)
		}
		seen[op.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if e.Kind().String() == "string" {
			return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
		}
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range (%s %s)", field, e.Tag(), e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration such as \"30s\"", field)
	case "redis_url":
		return fmt.Sprintf("%s must be a redis:// or rediss:// URL", field)
	case "key_hash":
		return fmt.Sprintf("%s must be \"sha256:<hex>\" or an argon2id hash", field)
	case "cidr|ip":
		return fmt.Sprintf("%s must be an IP address or CIDR block", field)
	case "datetime":
		return fmt.Sprintf("%s must be an RFC 3339 timestamp", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
