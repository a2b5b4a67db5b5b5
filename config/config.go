package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/secura/anonymizer/pii"
	"github.com/secura/anonymizer/pii/detectors"
)

// Short detector names accepted in RECOGNITION_DETECTORS.
var detectorAliases = map[string]string{
	"regex":      detectors.DetectorNameRegex,
	"onnx_model": detectors.DetectorNameONNXModel,
	"onnx":       detectors.DetectorNameONNXModel,
	"model":      detectors.DetectorNameModel,
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled      bool   // Whether to persist audit events in PostgreSQL
	Host         string // Database host
	Port         int    // Database port
	Database     string // Database name
	Username     string // Database username
	Password     string // Database password
	SSLMode      string // SSL mode (disable, require, etc.)
	MaxOpenConns int    // Maximum open connections
	MaxIdleConns int    // Maximum idle connections
	MaxLifetime  int    // Connection max lifetime in seconds
	CleanupHours int    // Hours after which to cleanup old audit events
}

// StoreConfig converts the settings to what the audit store expects.
func (d DatabaseConfig) StoreConfig() pii.DatabaseConfig {
	return pii.DatabaseConfig{
		Host:         d.Host,
		Port:         d.Port,
		Database:     d.Database,
		Username:     d.Username,
		Password:     d.Password,
		SSLMode:      d.SSLMode,
		MaxOpenConns: d.MaxOpenConns,
		MaxIdleConns: d.MaxIdleConns,
		MaxLifetime:  time.Duration(d.MaxLifetime) * time.Second,
	}
}

// Config holds all configuration for the anonymization service
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Debug          bool
	Port           string
	LogLevel       string

	ModelDirectory  string
	Detectors       []string
	ModelBaseURL    string
	ModelTimeout    time.Duration
	Language        string
	ScoreThreshold  float64
	Entities        []string
	Operator        string
	MaxTextLength   int
	RateLimitRPS    float64
	RateLimitBurst  int
	SentryDSN       string
	TracingEndpoint string
	AuditMaxEvents  int
	Database        DatabaseConfig
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "Secura Anonymization Service",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		Debug:          true,
		Port:           ":8000",
		LogLevel:       "info",
		ModelDirectory: "model/quantized",
		Detectors:      []string{detectors.DetectorNameRegex, detectors.DetectorNameONNXModel},
		ModelBaseURL:   "http://localhost:8001",
		ModelTimeout:   30 * time.Second,
		Language:       pii.DefaultLanguage,
		ScoreThreshold: pii.DefaultScoreThreshold,
		Entities:       append([]string(nil), detectors.DefaultEntities...),
		Operator:       pii.OperatorReplace,
		RateLimitRPS:   0,
		RateLimitBurst: 20,
		AuditMaxEvents: pii.DefaultMaxAuditEvents,
		Database: DatabaseConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "secura",
			Username:     "postgres",
			Password:     "",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 25,
			MaxLifetime:  300,
			CleanupHours: 24,
		},
	}
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Load reads .env, an optional config.yaml and the environment, in increasing
// order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("SERVICE_NAME", d.ServiceName)
	v.SetDefault("SERVICE_VERSION", d.ServiceVersion)
	v.SetDefault("ENVIRONMENT", d.Environment)
	v.SetDefault("PORT", d.Port)
	v.SetDefault("LOG_LEVEL", d.LogLevel)
	v.SetDefault("RECOGNITION_MODEL", d.ModelDirectory)
	v.SetDefault("RECOGNITION_DETECTORS", "regex,onnx_model")
	v.SetDefault("MODEL_BASE_URL", d.ModelBaseURL)
	v.SetDefault("MODEL_TIMEOUT", d.ModelTimeout)
	v.SetDefault("RECOGNITION_LANGUAGE", d.Language)
	v.SetDefault("SCORE_THRESHOLD", d.ScoreThreshold)
	v.SetDefault("RECOGNITION_ENTITIES", strings.Join(d.Entities, ","))
	v.SetDefault("ANONYMIZE_OPERATOR", d.Operator)
	v.SetDefault("MAX_TEXT_LENGTH", d.MaxTextLength)
	v.SetDefault("RATE_LIMIT_RPS", d.RateLimitRPS)
	v.SetDefault("RATE_LIMIT_BURST", d.RateLimitBurst)
	v.SetDefault("SENTRY_DSN", "")
	v.SetDefault("TRACING_ENDPOINT", "")
	v.SetDefault("AUDIT_MAX_EVENTS", d.AuditMaxEvents)
	v.SetDefault("DB_ENABLED", d.Database.Enabled)
	v.SetDefault("DB_HOST", d.Database.Host)
	v.SetDefault("DB_PORT", d.Database.Port)
	v.SetDefault("DB_NAME", d.Database.Database)
	v.SetDefault("DB_USER", d.Database.Username)
	v.SetDefault("DB_PASSWORD", d.Database.Password)
	v.SetDefault("DB_SSL_MODE", d.Database.SSLMode)
	v.SetDefault("DB_MAX_OPEN_CONNS", d.Database.MaxOpenConns)
	v.SetDefault("DB_MAX_IDLE_CONNS", d.Database.MaxIdleConns)
	v.SetDefault("DB_MAX_LIFETIME", d.Database.MaxLifetime)
	v.SetDefault("DB_CLEANUP_HOURS", d.Database.CleanupHours)
}

func fromViper(v *viper.Viper) (*Config, error) {
	detectorNames, err := ResolveDetectorNames(splitList(v.GetString("RECOGNITION_DETECTORS")))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServiceName:     v.GetString("SERVICE_NAME"),
		ServiceVersion:  v.GetString("SERVICE_VERSION"),
		Environment:     v.GetString("ENVIRONMENT"),
		Port:            normalizePort(v.GetString("PORT")),
		LogLevel:        strings.ToLower(v.GetString("LOG_LEVEL")),
		ModelDirectory:  v.GetString("RECOGNITION_MODEL"),
		Detectors:       detectorNames,
		ModelBaseURL:    v.GetString("MODEL_BASE_URL"),
		ModelTimeout:    v.GetDuration("MODEL_TIMEOUT"),
		Language:        v.GetString("RECOGNITION_LANGUAGE"),
		ScoreThreshold:  v.GetFloat64("SCORE_THRESHOLD"),
		Entities:        splitList(v.GetString("RECOGNITION_ENTITIES")),
		Operator:        strings.ToLower(v.GetString("ANONYMIZE_OPERATOR")),
		MaxTextLength:   v.GetInt("MAX_TEXT_LENGTH"),
		RateLimitRPS:    v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:  v.GetInt("RATE_LIMIT_BURST"),
		SentryDSN:       v.GetString("SENTRY_DSN"),
		TracingEndpoint: v.GetString("TRACING_ENDPOINT"),
		AuditMaxEvents:  v.GetInt("AUDIT_MAX_EVENTS"),
		Database: DatabaseConfig{
			Enabled:      v.GetBool("DB_ENABLED"),
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetInt("DB_PORT"),
			Database:     v.GetString("DB_NAME"),
			Username:     v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			SSLMode:      v.GetString("DB_SSL_MODE"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
			MaxLifetime:  v.GetInt("DB_MAX_LIFETIME"),
			CleanupHours: v.GetInt("DB_CLEANUP_HOURS"),
		},
	}

	// DEBUG follows the environment unless set explicitly
	cfg.Debug = cfg.IsDevelopment()
	if v.IsSet("DEBUG") {
		cfg.Debug = v.GetBool("DEBUG")
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if err := validatePort(c.Port, "PORT"); err != nil {
		return err
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("SCORE_THRESHOLD: must be between 0 and 1 (current value: %g)", c.ScoreThreshold)
	}
	if !lo.Contains(pii.OperatorNames, c.Operator) {
		return fmt.Errorf("ANONYMIZE_OPERATOR: unknown operator %q (supported: %s)", c.Operator, strings.Join(pii.OperatorNames, ", "))
	}
	if c.MaxTextLength < 0 {
		return fmt.Errorf("MAX_TEXT_LENGTH: cannot be negative (current value: %d)", c.MaxTextLength)
	}
	if len(c.Detectors) == 0 {
		return fmt.Errorf("RECOGNITION_DETECTORS: at least one detector is required")
	}
	if _, err := ResolveDetectorNames(c.Detectors); err != nil {
		return err
	}
	if lo.Contains(c.Detectors, detectors.DetectorNameModel) && c.ModelBaseURL == "" {
		return fmt.Errorf("MODEL_BASE_URL: required when the model detector is enabled")
	}
	if c.ModelTimeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT: must be positive (current value: %s)", c.ModelTimeout)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS: cannot be negative (current value: %g)", c.RateLimitRPS)
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST: cannot be empty when DB_ENABLED is set")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("DB_PORT: port must be between 1 and 65535 (current value: %d)", c.Database.Port)
		}
	}
	return nil
}

// ResolveDetectorNames maps short names to registered detector names and
// drops duplicates, keeping the first occurrence.
func ResolveDetectorNames(names []string) ([]string, error) {
	known := detectors.RegisteredDetectors()
	resolved := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if alias, ok := detectorAliases[name]; ok {
			name = alias
		}
		if !lo.Contains(known, name) {
			return nil, fmt.Errorf("RECOGNITION_DETECTORS: unknown detector %q (supported: %s)", name, strings.Join(known, ", "))
		}
		resolved = append(resolved, name)
	}
	return lo.Uniq(resolved), nil
}

// validatePort validates that the port is in the format ":PORT"
func validatePort(port, fieldName string) error {
	if port == "" {
		return fmt.Errorf("%s: port cannot be empty", fieldName)
	}

	if !strings.HasPrefix(port, ":") {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}

	portNum, err := strconv.Atoi(port[1:])
	if err != nil {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("%s: port must be between 1 and 65535 (current value: %d)", fieldName, portNum)
	}

	return nil
}

// normalizePort accepts both "8000" and ":8000".
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" || strings.HasPrefix(port, ":") {
		return port
	}
	if _, err := strconv.Atoi(port); err == nil {
		return ":" + port
	}
	return port
}

func splitList(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	})
	return lo.Compact(parts)
}
