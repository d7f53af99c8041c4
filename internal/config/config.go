// Package config loads the spectreimport configuration from YAML and the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SPECTREIMPORT_PROVIDER_SECRET.
const EnvPrefix = "SPECTREIMPORT"

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Config is the root configuration object.
type Config struct {
	Provider Provider `mapstructure:"provider" validate:"required"`
	Store    Store    `mapstructure:"store" validate:"required"`
	Log      Log      `mapstructure:"log"`
}

// Provider configures the account aggregation API client.
type Provider struct {
	BaseURL  string        `mapstructure:"base_url" validate:"required,url"`
	AppID    string        `mapstructure:"app_id" validate:"required"`
	Secret   string        `mapstructure:"secret" validate:"required"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"min=1s"`
	RetryMax int           `mapstructure:"retry_max" validate:"gte=0,lte=10"`
}

// Store configures the job database.
type Store struct {
	Path string `mapstructure:"path" validate:"required"`
}

// Log configures console logging.
type Log struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// Defaults returns the values used for any setting left empty.
func Defaults() Config {
	return Config{
		Provider: Provider{
			BaseURL: "https://www.saltedge.com/api/v5",
			Timeout: 30 * time.Second,
		},
		Store: Store{Path: "spectreimport.db"},
		Log:   Log{Level: "info"},
	}
}

var envKeys = []string{
	"provider.base_url",
	"provider.app_id",
	"provider.secret",
	"provider.timeout",
	"provider.retry_max",
	"store.path",
	"log.level",
}

// Load reads the YAML file at filePath (skipped when empty), applies
// environment overrides and defaults, and validates the result.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	if filePath != "" {
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", filePath)
		}

		v.SetConfigFile(filePath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				return nil, fmt.Errorf("config file not found: %s", filePath)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file - malformed YAML: %w", err)
	}

	if err := mergo.Merge(&cfg, Defaults()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, formatValidationError(err)
	}

	return &cfg, nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errorMessages []string
		for _, e := range validationErrors {
			errorMessages = append(errorMessages, formatFieldError(e))
		}

		if len(errorMessages) == 1 {
			return fmt.Errorf("validation error: %s", errorMessages[0])
		}

		var b strings.Builder
		b.WriteString("validation errors:\n")
		for _, msg := range errorMessages {
			fmt.Fprintf(&b, "  - %s\n", msg)
		}
		return fmt.Errorf("%s", b.String())
	}
	return fmt.Errorf("validation failed: %w", err)
}

// formatFieldError formats a single validation error into a user-friendly message.
func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required but missing", field)
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", field)
	case "min", "gte":
		return fmt.Sprintf("field '%s' must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("field '%s' must be at most %s", field, e.Param())
	default:
		return fmt.Sprintf("field '%s' failed validation (%s)", field, e.Tag())
	}
}
