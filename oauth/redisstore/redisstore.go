// Package redisstore stores clients, authorization codes and access tokens in
// Redis. Codes and tokens are written with a TTL matching their remaining
// lifetime, so Redis expires them and no purge job is needed.
//
//	s, err := redisstore.New(ctx, &redis.Options{Addr: "localhost:6379"},
//		redisstore.WithKeyPrefix("az:"))
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/dpup/authorizer/oauth"
	"github.com/redis/go-redis/v9"
)

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key. Defaults to "az:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithConnectAttempts sets how many times the initial ping is attempted.
func WithConnectAttempts(n uint) Option {
	return func(s *Store) {
		s.connectAttempts = n
	}
}

// WithClock overrides time.Now when computing TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store implements oauth.Storage and oauth.ClientRegistry.
type Store struct {
	client          redis.UniversalClient
	prefix          string
	connectAttempts uint
	now             func() time.Time
}

var (
	_ oauth.Storage        = (*Store)(nil)
	_ oauth.ClientRegistry = (*Store)(nil)
)

// New connects to Redis, retrying with exponential backoff until the server
// answers a PING.
func New(ctx context.Context, opts *redis.Options, storeOpts ...Option) (*Store, error) {
	s := NewWithClient(redis.NewClient(opts), storeOpts...)
	if err := s.ping(ctx); err != nil {
		s.client.Close()
		return nil, errors.WrapPrefix(err, "failed to connect to Redis", 0)
	}
	return s, nil
}

// NewWithClient wraps an existing client. No connection is attempted.
func NewWithClient(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:          client,
		prefix:          "az:",
		connectAttempts: 5,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ping(ctx context.Context) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (string, error) {
		return s.client.Ping(ctx).Result()
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(s.connectAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			logging.Warnw(ctx, "Redis not reachable, retrying", "error", err, "backoff", d)
		}),
	)
	return err
}

func (s *Store) key(kind, id string) string {
	return s.prefix + kind + ":" + id
}

func (s *Store) StoreAuthorizationCode(ctx context.Context, code *oauth.AuthorizationCode) error {
	return s.put(ctx, s.key("code", code.Code), code, code.ExpiresAt)
}

func (s *Store) FetchAuthorizationCode(ctx context.Context, value string) (*oauth.AuthorizationCode, error) {
	var code oauth.AuthorizationCode
	if err := s.get(ctx, s.client.Get(ctx, s.key("code", value)), &code); err != nil {
		return nil, err
	}
	return &code, nil
}

// ConsumeAuthorizationCode uses GETDEL, so only one caller gets the code.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, value string) (*oauth.AuthorizationCode, error) {
	var code oauth.AuthorizationCode
	if err := s.get(ctx, s.client.GetDel(ctx, s.key("code", value)), &code); err != nil {
		return nil, err
	}
	return &code, nil
}

func (s *Store) StoreAccessToken(ctx context.Context, token *oauth.AccessToken) error {
	return s.put(ctx, s.key("token", token.Token), token, token.ExpiresAt)
}

func (s *Store) FetchAccessToken(ctx context.Context, value string) (*oauth.AccessToken, error) {
	var token oauth.AccessToken
	if err := s.get(ctx, s.client.Get(ctx, s.key("token", value)), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *Store) FetchClient(ctx context.Context, id string) (*oauth.Client, error) {
	var client oauth.Client
	if err := s.get(ctx, s.client.Get(ctx, s.key("client", id)), &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// RegisterClient validates the client and stores it without expiry.
func (s *Store) RegisterClient(ctx context.Context, client *oauth.Client) error {
	if err := client.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(client)
	if err != nil {
		return errors.Mark(oauth.ErrStorage, 0).Append(err.Error())
	}
	if err := s.client.Set(ctx, s.key("client", client.ID), b, 0).Err(); err != nil {
		return errors.Mark(oauth.ErrStorage, 0).Append(err.Error())
	}
	return nil
}

// put writes v with a TTL lasting until expiresAt. Records that have already
// expired are refused.
func (s *Store) put(ctx context.Context, key string, v any, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		logging.Debugw(ctx, "refusing to store expired record", "redis.key", key)
		return errors.Mark(oauth.ErrStorage, 0).Append("record already expired")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Mark(oauth.ErrStorage, 0).Append(err.Error())
	}
	if err := s.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return errors.Mark(oauth.ErrStorage, 0).Append(err.Error())
	}
	return nil
}

func (s *Store) get(_ context.Context, cmd *redis.StringCmd, v any) error {
	b, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return errors.Mark(oauth.ErrNotFound, 0)
	} else if err != nil {
		return errors.Mark(oauth.ErrStorage, 0).Append(err.Error())
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Mark(oauth.ErrStorage, 0).Append(err.Error())
	}
	return nil
}
