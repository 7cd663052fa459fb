package authorizer

import (
	"context"
	"time"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/dpup/authorizer/oauth"
	"github.com/dpup/authorizer/oauth/redisstore"
	"github.com/dpup/authorizer/pwdauth"
	"github.com/dpup/authorizer/storage"
	"github.com/dpup/authorizer/storage/memorystore"
	"github.com/dpup/authorizer/storage/postgres"
	"github.com/dpup/authorizer/storage/sqlite"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/codes"
)

// Storage drivers accepted by the storage.driver key.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

var (
	ErrUnknownDriver    = errors.NewC("unknown storage driver", codes.InvalidArgument)
	ErrCannotRegister   = errors.NewC("storage can not register clients", codes.FailedPrecondition)
	ErrInvalidBootstrap = errors.NewC("invalid bootstrap configuration", codes.InvalidArgument)
)

// Storage is what the configured driver provides. Records backs session
// revocation.
type Storage struct {
	OAuth   oauth.Storage
	Records storage.Store
}

// StorageFromConfig connects to the backend named by storage.driver.
func StorageFromConfig(ctx context.Context) (*Storage, error) {
	driver := Config.String("storage.driver")
	logging.Infow(ctx, "connecting to storage", "storage.driver", driver)

	var records storage.Store
	var err error
	switch driver {
	case DriverMemory, "":
		records = memorystore.New()

	case DriverSQLite:
		records, err = sqlite.SafeNew(Config.String("storage.sqlite.dsn"))

	case DriverPostgres:
		records, err = postgres.SafeNew(ctx, Config.String("storage.postgres.dsn"),
			postgres.WithSchema(Config.String("storage.postgres.schema")))

	case DriverRedis:
		rs, err := redisstore.New(ctx, &redis.Options{
			Addr:     Config.String("storage.redis.addr"),
			Password: Config.String("storage.redis.password"),
			DB:       Config.Int("storage.redis.db"),
		}, redisstore.WithKeyPrefix(Config.String("storage.redis.keyPrefix")))
		if err != nil {
			return nil, err
		}
		// Revoked sessions are kept in memory, they only matter until the
		// session would have expired anyway.
		return &Storage{OAuth: rs, Records: memorystore.New()}, nil

	default:
		return nil, errors.Mark(ErrUnknownDriver, 0).Append(driver)
	}
	if err != nil {
		return nil, err
	}

	s, err := oauth.NewStore(ctx, records)
	if err != nil {
		return nil, err
	}
	return &Storage{OAuth: s, Records: records}, nil
}

// ClientsFromConfig reads client registrations from the clients key.
func ClientsFromConfig() ([]oauth.Client, error) {
	var clients []oauth.Client
	if err := Config.Unmarshal("clients", &clients); err != nil {
		return nil, errors.Mark(ErrInvalidBootstrap, 0).Append("clients").Append(err.Error())
	}
	return clients, nil
}

// AccountsFromConfig reads resource owner accounts from the accounts key.
func AccountsFromConfig() (pwdauth.StaticAccounts, error) {
	var accounts []pwdauth.Account
	if err := Config.Unmarshal("accounts", &accounts); err != nil {
		return nil, errors.Mark(ErrInvalidBootstrap, 0).Append("accounts").Append(err.Error())
	}
	for _, a := range accounts {
		if a.ID == "" || a.Username == "" || a.HashedPassword == "" {
			return nil, errors.Mark(ErrInvalidBootstrap, 0).Append("accounts need an id, username and hashedPassword")
		}
	}
	return pwdauth.NewStaticAccounts(accounts...), nil
}

// BootstrapClients registers clients with s, replacing existing registrations
// with the same id.
func BootstrapClients(ctx context.Context, s oauth.Storage, clients []oauth.Client) error {
	if len(clients) == 0 {
		return nil
	}
	r, ok := s.(oauth.ClientRegistry)
	if !ok {
		return errors.Mark(ErrCannotRegister, 0)
	}
	now := time.Now()
	for _, c := range clients {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if err := r.RegisterClient(ctx, &c); err != nil {
			return err
		}
		logging.Infow(ctx, "registered client", "oauth.client_id", c.ID, "oauth.client_type", c.Type)
	}
	return nil
}

// AccountVerifier verifies password grant credentials against resource owner
// accounts.
type AccountVerifier struct {
	Finder pwdauth.AccountFinder
	Hasher pwdauth.Hasher
}

// VerifyCredentials implements oauth.CredentialVerifier.
func (v *AccountVerifier) VerifyCredentials(ctx context.Context, creds oauth.Credentials) (*oauth.ResourceOwner, error) {
	account, err := pwdauth.Authenticate(ctx, v.Finder, v.Hasher, creds.Username, creds.Password)
	if errors.Is(err, pwdauth.ErrInvalidCredentials) {
		return nil, errors.Mark(oauth.ErrInvalidCredentials, 0)
	} else if err != nil {
		return nil, err
	}
	return &oauth.ResourceOwner{ID: account.ID}, nil
}
