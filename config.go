package authorizer

import (
	"net"
	"time"

	"github.com/dpup/authorizer/internal/config"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Filename of the standard configuration file.
const ConfigFile = "authorizer.yaml"

// ConfigKeyInfo contains metadata about a known configuration key.
type ConfigKeyInfo = config.KeyInfo

// Config is a global koanf instance used to access configuration options.
//
// Config is loaded in the following order (later sources override earlier):
// 1. Registered defaults (applied lazily, see ConfigDefaults)
// 2. Auto-discovered authorizer.yaml (in init())
// 3. Environment variables with AZ__ prefix (in init())
// 4. Additional sources loaded via LoadConfigFile() or LoadConfigDefaults()
//
// Environment variable transformation:
//   - AZ__SERVER__PORT → server.port
//   - AZ__SESSION__SIGNING_KEY → session.signingKey
var Config = koanf.New(".")

const (
	defaultPort = "8000"
	defaultHost = "localhost"
)

func init() {
	registerCoreConfigKeys()

	if cfg := config.SearchForConfig(ConfigFile, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}

	if err := Config.Load(env.Provider(config.EnvPrefix, ".", config.TransformEnv), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}
}

// RegisterConfigKeys documents configuration keys so they get defaults and are
// not reported as unknown by ValidateConfigKeys.
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.Register(infos...)
}

// LoadConfigFile loads additional configuration from a YAML file into the
// global Config instance.
func LoadConfigFile(path string) error {
	if err := Config.Load(file.Provider(path), yaml.Parser()); err != nil {
		return err
	}
	return nil
}

// LoadConfigDefaults loads values into the global Config instance. Values
// loaded this way override anything loaded before them.
//
//	authorizer.LoadConfigDefaults(map[string]interface{}{
//	    "storage.driver": "sqlite",
//	})
func LoadConfigDefaults(defaults map[string]interface{}) {
	if err := Config.Load(confmap.Provider(defaults, "."), nil); err != nil {
		panic("error loading config defaults: " + err.Error())
	}
}

// ConfigDefaults fills in registered defaults for keys that were not set by a
// file or the environment. It is called by New.
func ConfigDefaults() {
	config.EnsureDefaultsLoaded(Config)
}

// ValidateConfigKeys returns human readable warnings for unknown or deprecated
// keys present in the loaded configuration.
func ValidateConfigKeys() []string {
	var out []string
	for _, w := range config.Validate(Config) {
		out = append(out, w.String())
	}
	return out
}

// ConfigString returns the string value for the given key.
func ConfigString(key string) string {
	return Config.String(key)
}

// ConfigInt returns the int value for the given key.
func ConfigInt(key string) int {
	return Config.Int(key)
}

// ConfigDuration returns the duration value for the given key.
func ConfigDuration(key string) time.Duration {
	return Config.Duration(key)
}

func registerCoreConfigKeys() {
	config.Register(
		ConfigKeyInfo{Key: "name", Description: "User-facing name of the authorization server", Type: "string", Default: "Authorizer"},
		ConfigKeyInfo{Key: "address", Description: "External address, used as the issuer in metadata", Type: "string", Default: "http://" + net.JoinHostPort(defaultHost, defaultPort)},

		ConfigKeyInfo{Key: "server.host", Description: "Host to bind the server to", Type: "string", Default: defaultHost},
		ConfigKeyInfo{Key: "server.port", Description: "Port to bind the server to", Type: "int", Default: defaultPort},
		ConfigKeyInfo{Key: "server.tls.certFile", Description: "Path to TLS certificate file", Type: "string"},
		ConfigKeyInfo{Key: "server.tls.keyFile", Description: "Path to TLS key file", Type: "string"},
		ConfigKeyInfo{Key: "server.readTimeout", Description: "Maximum duration for reading a request", Type: "duration", Default: "10s"},
		ConfigKeyInfo{Key: "server.writeTimeout", Description: "Maximum duration for writing a response", Type: "duration", Default: "10s"},

		ConfigKeyInfo{Key: "server.security.xFrameOptions", Description: "X-Frame-Options header, DENY or SAMEORIGIN", Type: "string", Default: "DENY"},
		ConfigKeyInfo{Key: "server.security.hstsExpiration", Description: "Strict-Transport-Security max-age, zero to disable", Type: "duration"},
		ConfigKeyInfo{Key: "server.security.hstsIncludeSubdomains", Description: "Add includeSubDomains to the HSTS header", Type: "bool"},
		ConfigKeyInfo{Key: "server.security.hstsPreload", Description: "Add preload to the HSTS header", Type: "bool"},
		ConfigKeyInfo{Key: "server.security.corsOrigins", Description: "Origins allowed to call the token and metadata endpoints", Type: "[]string"},
		ConfigKeyInfo{Key: "server.security.corsAllowHeaders", Description: "Request headers allowed on cross-origin requests", Type: "[]string", Default: []string{"Authorization", "Content-Type"}},
		ConfigKeyInfo{Key: "server.security.corsMaxAge", Description: "How long browsers may cache preflight responses", Type: "duration", Default: "1h"},

		ConfigKeyInfo{Key: "logging.format", Description: "Log format, dev or prod", Type: "string", Default: "dev"},

		ConfigKeyInfo{Key: "oauth.authenticationEndpoint", Description: "Where unauthenticated resource owners are sent", Type: "string", Default: "/login"},

		ConfigKeyInfo{Key: "session.signingKey", Description: "HMAC key used to sign session tokens", Type: "string"},
		ConfigKeyInfo{Key: "session.cookieName", Description: "Name of the session cookie", Type: "string", Default: "az-session"},
		ConfigKeyInfo{Key: "session.expiration", Description: "Lifetime of a login session", Type: "duration", Default: "24h"},

		ConfigKeyInfo{Key: "storage.driver", Description: "Storage backend: memory, sqlite, postgres or redis", Type: "string", Default: "memory"},
		ConfigKeyInfo{Key: "storage.sqlite.dsn", Description: "SQLite data source name", Type: "string", Default: "file:authorizer.db"},
		ConfigKeyInfo{Key: "storage.postgres.dsn", Description: "PostgreSQL connection string", Type: "string"},
		ConfigKeyInfo{Key: "storage.postgres.schema", Description: "PostgreSQL schema", Type: "string", Default: "public"},
		ConfigKeyInfo{Key: "storage.redis.addr", Description: "Redis address", Type: "string", Default: "localhost:6379"},
		ConfigKeyInfo{Key: "storage.redis.password", Description: "Redis password", Type: "string"},
		ConfigKeyInfo{Key: "storage.redis.db", Description: "Redis database number", Type: "int", Default: 0},
		ConfigKeyInfo{Key: "storage.redis.keyPrefix", Description: "Prefix for every Redis key", Type: "string", Default: "az:"},
		ConfigKeyInfo{Key: "storage.purgeSchedule", Description: "Cron spec for purging expired codes and tokens", Type: "string", Default: "@every 10m"},

		ConfigKeyInfo{Key: "clients", Description: "Client registrations to bootstrap at startup", Type: "[]map", Namespace: true},
		ConfigKeyInfo{Key: "accounts", Description: "Resource owner accounts to bootstrap at startup", Type: "[]map", Namespace: true},
	)
}
