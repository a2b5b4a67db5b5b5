package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/secura/anonymizer/pii"
	"github.com/secura/anonymizer/pii/detectors"
)

func TestValidatePort(t *testing.T) {
	testCases := []struct {
		name      string
		port      string
		fieldName string
		expectErr bool
		errString string
	}{
		{
			name:      "valid port",
			port:      ":8000",
			fieldName: "PORT",
			expectErr: false,
		},
		{
			name:      "empty port",
			port:      "",
			fieldName: "PORT",
			expectErr: true,
			errString: "PORT: port cannot be empty",
		},
		{
			name:      "no colon",
			port:      "8080",
			fieldName: "PORT",
			expectErr: true,
			errString: "PORT: port must be in format ':PORT' where PORT is numeric (current value: 8080)",
		},
		{
			name:      "non-numeric",
			port:      ":abcd",
			fieldName: "PORT",
			expectErr: true,
			errString: "PORT: port must be in format ':PORT' where PORT is numeric (current value: :abcd)",
		},
		{
			name:      "port out of range (low)",
			port:      ":0",
			fieldName: "PORT",
			expectErr: true,
			errString: "PORT: port must be between 1 and 65535 (current value: 0)",
		},
		{
			name:      "port out of range (high)",
			port:      ":65536",
			fieldName: "PORT",
			expectErr: true,
			errString: "PORT: port must be between 1 and 65535 (current value: 65536)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePort(tc.port, tc.fieldName)
			if tc.expectErr {
				require.Error(t, err)
				assert.Equal(t, tc.errString, err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8000", cfg.Port)
	assert.Equal(t, 0.5, cfg.ScoreThreshold)
	assert.Equal(t, detectors.DefaultEntities, cfg.Entities)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"threshold above one", func(c *Config) { c.ScoreThreshold = 1.5 }, "SCORE_THRESHOLD"},
		{"negative threshold", func(c *Config) { c.ScoreThreshold = -0.1 }, "SCORE_THRESHOLD"},
		{"unknown operator", func(c *Config) { c.Operator = "shred" }, "ANONYMIZE_OPERATOR"},
		{"no detectors", func(c *Config) { c.Detectors = nil }, "RECOGNITION_DETECTORS"},
		{"unknown detector", func(c *Config) { c.Detectors = []string{"spacy"} }, "unknown detector"},
		{"model without url", func(c *Config) {
			c.Detectors = []string{detectors.DetectorNameModel}
			c.ModelBaseURL = ""
		}, "MODEL_BASE_URL"},
		{"zero model timeout", func(c *Config) { c.ModelTimeout = 0 }, "MODEL_TIMEOUT"},
		{"database without host", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Host = ""
		}, "DB_HOST"},
		{"bad port", func(c *Config) { c.Port = "http" }, "PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("RECOGNITION_DETECTORS", "regex, model ,regex")
	t.Setenv("MODEL_BASE_URL", "http://recognizer:8001")
	t.Setenv("MODEL_TIMEOUT", "5s")
	t.Setenv("SCORE_THRESHOLD", "0.7")
	t.Setenv("RECOGNITION_ENTITIES", "PERSON,EMAIL_ADDRESS")
	t.Setenv("ANONYMIZE_OPERATOR", "MASK")
	t.Setenv("DB_PORT", "6543")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Port)
	assert.False(t, cfg.Debug)
	assert.Equal(t, []string{detectors.DetectorNameRegex, detectors.DetectorNameModel}, cfg.Detectors)
	assert.Equal(t, 0.7, cfg.ScoreThreshold)
	assert.Equal(t, []string{"PERSON", "EMAIL_ADDRESS"}, cfg.Entities)
	assert.Equal(t, pii.OperatorMask, cfg.Operator)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 5*time.Second, cfg.ModelTimeout)
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Secura Anonymization Service", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{detectors.DetectorNameRegex, detectors.DetectorNameONNXModel}, cfg.Detectors)
	assert.Equal(t, pii.OperatorReplace, cfg.Operator)
	assert.False(t, cfg.Database.Enabled)
	assert.Zero(t, cfg.MaxTextLength, "length cap is opt-in")
}

func TestLoad_ConfigFileAndDebugOverride(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile("config.yaml", []byte("SERVICE_NAME: from-file\nLOG_LEVEL: DEBUG\n"), 0o600))
	t.Setenv("DEBUG", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.ServiceName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Debug)
}

func TestLoad_InvalidDetector(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RECOGNITION_DETECTORS", "spacy")

	_, err := Load()
	assert.ErrorContains(t, err, "unknown detector")
}

func TestStoreConfig(t *testing.T) {
	store := DefaultConfig().Database.StoreConfig()

	assert.Equal(t, 5432, store.Port)
	assert.Equal(t, "disable", store.SSLMode)
	assert.Equal(t, 300.0, store.MaxLifetime.Seconds())
}

func TestSetupLogger(t *testing.T) {
	logger, err := SetupLogger("warn", "production")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	logger, err = SetupLogger("DEBUG", "development")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = SetupLogger("loud", "production")
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
