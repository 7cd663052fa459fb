package oauth

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/pwdauth"
	"github.com/dpup/authorizer/storage/memorystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	webClient = &Client{
		ID:           "web",
		Type:         ClientConfidential,
		Profile:      ProfileWeb,
		RedirectURI:  "https://thirdpartyapplication1/oauth/callback/",
		HashedSecret: "s3cret",
	}
	spaClient = &Client{
		ID:          "spa",
		Type:        ClientPublic,
		Profile:     ProfileUserAgent,
		RedirectURI: "https://spa.example.com/app?v=2",
	}
	alice = &ResourceOwner{ID: "alice"}
)

func sequentialTokens() TokenGenerator {
	var n atomic.Int64
	return TokenGeneratorFunc(func() (string, error) {
		return fmt.Sprintf("value-%d", n.Add(1)), nil
	})
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := NewStore(ctx, memorystore.New())
	require.NoError(t, err)
	require.NoError(t, s.RegisterClient(ctx, webClient))
	require.NoError(t, s.RegisterClient(ctx, spaClient))
	return s
}

func newTestServer(t *testing.T, opts ...ServerOption) (*AuthorizationServer, *Store) {
	t.Helper()
	store := newTestStore(t)
	opts = append([]ServerOption{
		WithClock(func() time.Time { return testNow }),
		WithTokenGenerator(sequentialTokens()),
		WithSecretHasher(pwdauth.TestHasher),
	}, opts...)
	return NewAuthorizationServer(store, opts...), store
}

// failingStorage fails, or panics, when asked to persist grants.
type failingStorage struct {
	Storage
	panics bool
}

func (f failingStorage) StoreAuthorizationCode(context.Context, *AuthorizationCode) error {
	if f.panics {
		panic("storage exploded")
	}
	return errors.Mark(ErrStorage, 0).Append("connection refused to 10.0.0.7:5432")
}

func (f failingStorage) StoreAccessToken(context.Context, *AccessToken) error {
	if f.panics {
		panic("storage exploded")
	}
	return errors.Mark(ErrStorage, 0).Append("connection refused to 10.0.0.7:5432")
}

type staticVerifier map[string]string

func (v staticVerifier) VerifyCredentials(_ context.Context, creds Credentials) (*ResourceOwner, error) {
	if pw, ok := v[creds.Username]; ok && pw == creds.Password {
		return &ResourceOwner{ID: creds.Username}, nil
	}
	return nil, errors.Mark(ErrInvalidCredentials, 0)
}

func assertGrantError(t *testing.T, err error, code string) {
	t.Helper()
	var ge *GrantError
	if assert.ErrorAs(t, err, &ge) {
		assert.Equal(t, code, ge.Code)
	}
}
