package authorizer

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dpup/authorizer/errors"
)

// MinSigningKeyLength is the shortest accepted session.signingKey, in bytes.
const MinSigningKeyLength = 32

// ValidateIntRange validates that a value is within the given range (inclusive).
func ValidateIntRange(value, minVal, maxVal int) error {
	if value < minVal || value > maxVal {
		return errors.Errorf("must be between %d and %d, got: %d", minVal, maxVal, value)
	}
	return nil
}

// ValidatePositiveDuration validates that a duration is positive (> 0).
func ValidatePositiveDuration(value time.Duration) error {
	if value <= 0 {
		return errors.Errorf("must be positive, got: %s", value)
	}
	return nil
}

// ValidateNonNegativeDuration validates that a duration is non-negative (>= 0).
func ValidateNonNegativeDuration(value time.Duration) error {
	if value < 0 {
		return errors.Errorf("must be non-negative, got: %s", value)
	}
	return nil
}

// ValidateURL validates that a string is an absolute URL.
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return errors.New("URL cannot be empty")
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return errors.WrapPrefix(err, "invalid URL", 0)
	}
	if parsed.Scheme == "" {
		return errors.New("URL must have a scheme (http:// or https://)")
	}
	if parsed.Host == "" {
		return errors.New("URL must have a host")
	}
	return nil
}

// ValidateNonEmpty validates that a string is not empty.
func ValidateNonEmpty(value string) error {
	if value == "" {
		return errors.New("cannot be empty")
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Key     string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

type configCheck struct {
	key      string
	required bool
	check    func(key string) error
}

var configChecks = []configCheck{
	{key: "server.port", check: func(k string) error { return ValidateIntRange(Config.Int(k), 1, 65535) }},
	{key: "server.host", check: func(k string) error { return ValidateNonEmpty(Config.String(k)) }},
	{key: "server.readTimeout", check: func(k string) error { return ValidateNonNegativeDuration(Config.Duration(k)) }},
	{key: "server.writeTimeout", check: func(k string) error { return ValidateNonNegativeDuration(Config.Duration(k)) }},
	{key: "server.security.hstsExpiration", check: func(k string) error { return ValidateNonNegativeDuration(Config.Duration(k)) }},
	{key: "server.security.corsMaxAge", check: func(k string) error { return ValidateNonNegativeDuration(Config.Duration(k)) }},
	{key: "address", check: func(k string) error { return ValidateURL(Config.String(k)) }},
	{key: "oauth.authenticationEndpoint", check: func(k string) error { return ValidateNonEmpty(Config.String(k)) }},
	{key: "session.expiration", check: func(k string) error { return ValidatePositiveDuration(Config.Duration(k)) }},
	{key: "session.signingKey", required: true, check: func(k string) error {
		if n := len(Config.String(k)); n < MinSigningKeyLength {
			return errors.Errorf("must be at least %d bytes, got: %d", MinSigningKeyLength, n)
		}
		return nil
	}},
	{key: "storage.driver", check: func(k string) error {
		switch d := Config.String(k); d {
		case DriverMemory, DriverSQLite, DriverPostgres, DriverRedis:
			return nil
		default:
			return errors.Errorf("must be one of memory, sqlite, postgres or redis, got: %q", d)
		}
	}},
	{key: "storage.postgres.dsn", check: func(k string) error {
		if Config.String("storage.driver") != DriverPostgres {
			return nil
		}
		return ValidateNonEmpty(Config.String(k))
	}},
}

// ValidateConfig checks the values the server depends on. It returns every
// problem found, or nil if the configuration is usable. Keys are only checked
// when set, except for session.signingKey which has no safe default.
func ValidateConfig() []ValidationError {
	var errs []ValidationError
	for _, c := range configChecks {
		if !Config.Exists(c.key) {
			if c.required {
				errs = append(errs, ValidationError{Key: c.key, Message: "required"})
			}
			continue
		}
		if err := c.check(c.key); err != nil {
			errs = append(errs, ValidationError{Key: c.key, Message: err.Error()})
		}
	}
	return errs
}

// FormatValidationErrors formats a slice of validation errors into a readable error message.
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range errs {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	sb.WriteString("\nFix these errors in " + ConfigFile + " or AZ__ environment variables and try again.")
	return sb.String()
}
