package authorizer

import (
	"strings"
	"testing"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validKey = "0123456789abcdef0123456789abcdef"

// withConfig swaps the global Config for one holding only values.
func withConfig(t *testing.T, values map[string]interface{}) {
	t.Helper()
	original := Config
	t.Cleanup(func() { Config = original })

	Config = koanf.New(".")
	require.NoError(t, Config.Load(confmap.Provider(values, "."), nil))
}

func TestValidateIntRange(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		wantErr bool
	}{
		{"value at min", 1, false},
		{"value at max", 65535, false},
		{"value below min", 0, true},
		{"value above max", 65536, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIntRange(tt.value, 1, 65535)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDurations(t *testing.T) {
	assert.NoError(t, ValidatePositiveDuration(time.Second))
	assert.Error(t, ValidatePositiveDuration(0))
	assert.NoError(t, ValidateNonNegativeDuration(0))
	assert.EqualError(t, ValidateNonNegativeDuration(-time.Minute), "must be non-negative, got: -1m0s")
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr string
	}{
		{"https://auth.example.com", ""},
		{"http://localhost:8000", ""},
		{"", "URL cannot be empty"},
		{"auth.example.com", "URL must have a scheme (http:// or https://)"},
		{"https://", "URL must have a host"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	t.Run("returns no errors for valid config", func(t *testing.T) {
		withConfig(t, map[string]interface{}{
			"address":                        "https://auth.example.com",
			"server.port":                    8080,
			"server.host":                    "localhost",
			"server.readTimeout":             "10s",
			"server.security.hstsExpiration": "720h",
			"server.security.corsMaxAge":     "1h",
			"session.signingKey":             validKey,
			"session.expiration":             "24h",
			"storage.driver":                 "postgres",
			"storage.postgres.dsn":           "postgres://localhost/authorizer",
		})
		assert.Empty(t, ValidateConfig())
	})

	t.Run("requires a signing key", func(t *testing.T) {
		withConfig(t, map[string]interface{}{})
		errs := ValidateConfig()
		require.Len(t, errs, 1)
		assert.Equal(t, "session.signingKey", errs[0].Key)
		assert.Equal(t, "required", errs[0].Message)
	})

	t.Run("rejects short signing keys", func(t *testing.T) {
		withConfig(t, map[string]interface{}{"session.signingKey": "short"})
		errs := ValidateConfig()
		require.Len(t, errs, 1)
		assert.Equal(t, "must be at least 32 bytes, got: 5", errs[0].Message)
	})

	t.Run("returns errors for invalid port", func(t *testing.T) {
		withConfig(t, map[string]interface{}{"server.port": 70000, "session.signingKey": validKey})
		errs := ValidateConfig()
		require.Len(t, errs, 1)
		assert.Equal(t, "server.port", errs[0].Key)
		assert.Contains(t, errs[0].Message, "must be between 1 and 65535")
	})

	t.Run("postgres needs a dsn", func(t *testing.T) {
		withConfig(t, map[string]interface{}{
			"session.signingKey":   validKey,
			"storage.driver":       "postgres",
			"storage.postgres.dsn": "",
		})
		errs := ValidateConfig()
		require.Len(t, errs, 1)
		assert.Equal(t, "storage.postgres.dsn", errs[0].Key)
	})

	t.Run("aggregates multiple errors", func(t *testing.T) {
		withConfig(t, map[string]interface{}{
			"address":            "auth.example.com",
			"server.port":        0,
			"server.host":        "",
			"session.expiration": "-1h",
			"storage.driver":     "mongo",
		})
		errs := ValidateConfig()
		keys := make([]string, 0, len(errs))
		for _, e := range errs {
			keys = append(keys, e.Key)
		}
		assert.ElementsMatch(t, []string{"address", "server.port", "server.host", "session.expiration", "session.signingKey", "storage.driver"}, keys)
	})
}

func TestFormatValidationErrors(t *testing.T) {
	assert.Empty(t, FormatValidationErrors(nil))

	result := FormatValidationErrors([]ValidationError{
		{Key: "server.port", Message: "must be between 1 and 65535, got: 70000"},
		{Key: "session.signingKey", Message: "required"},
	})
	assert.True(t, strings.HasPrefix(result, "Configuration validation failed:\n"))
	assert.Contains(t, result, "  - server.port: must be between 1 and 65535, got: 70000\n")
	assert.Contains(t, result, "  - session.signingKey: required\n")
	assert.Contains(t, result, "authorizer.yaml")
}
