package oauth

import (
	"context"
	"time"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/dpup/authorizer/storage"
)

// Store implements Storage on top of a generic storage.Store, so clients,
// codes and tokens can live in memory, SQLite or PostgreSQL.
type Store struct {
	store storage.Store
}

// NewStore initializes tables for the OAuth models, where the underlying
// store supports it.
func NewStore(ctx context.Context, s storage.Store) (*Store, error) {
	if err := storage.InitModels(ctx, s, Client{}, AuthorizationCode{}, AccessToken{}); err != nil {
		return nil, storageError(err)
	}
	return &Store{store: s}, nil
}

var (
	_ Storage        = (*Store)(nil)
	_ ClientRegistry = (*Store)(nil)
	_ Purger         = (*Store)(nil)
)

func (s *Store) StoreAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	return storageError(s.store.Create(ctx, code))
}

func (s *Store) FetchAuthorizationCode(ctx context.Context, value string) (*AuthorizationCode, error) {
	var code AuthorizationCode
	if err := s.store.Read(ctx, value, &code); err != nil {
		return nil, storageError(err)
	}
	return &code, nil
}

// ConsumeAuthorizationCode reads the code then deletes it. The store lets
// only one delete of a record succeed, the loser of a race sees ErrNotFound.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, value string) (*AuthorizationCode, error) {
	code, err := s.FetchAuthorizationCode(ctx, value)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, AuthorizationCode{Code: value}); err != nil {
		return nil, storageError(err)
	}
	return code, nil
}

func (s *Store) StoreAccessToken(ctx context.Context, token *AccessToken) error {
	return storageError(s.store.Create(ctx, token))
}

func (s *Store) FetchAccessToken(ctx context.Context, value string) (*AccessToken, error) {
	var token AccessToken
	if err := s.store.Read(ctx, value, &token); err != nil {
		return nil, storageError(err)
	}
	return &token, nil
}

func (s *Store) FetchClient(ctx context.Context, id string) (*Client, error) {
	var client Client
	if err := s.store.Read(ctx, id, &client); err != nil {
		return nil, storageError(err)
	}
	return &client, nil
}

// RegisterClient validates the client and creates or replaces its record.
func (s *Store) RegisterClient(ctx context.Context, client *Client) error {
	if err := client.Validate(); err != nil {
		return err
	}
	return storageError(s.store.Upsert(ctx, client))
}

// PurgeExpired deletes codes and tokens that expired before now. Records
// deleted concurrently by someone else are skipped.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	var codes []AuthorizationCode
	if err := s.store.List(ctx, &codes, AuthorizationCode{}); err != nil {
		return 0, storageError(err)
	}
	var tokens []AccessToken
	if err := s.store.List(ctx, &tokens, AccessToken{}); err != nil {
		return 0, storageError(err)
	}

	var expired []storage.Model
	for _, c := range codes {
		if !c.IsValidAt(now) {
			expired = append(expired, AuthorizationCode{Code: c.Code})
		}
	}
	for _, t := range tokens {
		if !t.IsValidAt(now) {
			expired = append(expired, AccessToken{Token: t.Token})
		}
	}

	n := 0
	for _, m := range expired {
		err := s.store.Delete(ctx, m)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		} else if err != nil {
			return n, storageError(err)
		}
		n++
	}
	if n > 0 {
		logging.Infow(ctx, "purged expired grants", "oauth.purged", n)
	}
	return n, nil
}

func storageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return errors.Mark(ErrNotFound, 1)
	default:
		return errors.Mark(ErrStorage, 1).Append(err.Error())
	}
}
