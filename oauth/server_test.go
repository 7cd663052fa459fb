package oauth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/pwdauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestGrantAuthorizationCode(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics(prometheus.NewRegistry())
	s, store := newTestServer(t, WithMetrics(m))

	code, err := s.GrantAuthorizationCode(ctx, alice, webClient)
	require.NoError(t, err)
	assert.Equal(t, "value-1", code.Code)
	assert.Equal(t, "alice", code.OwnerID)
	assert.Equal(t, "web", code.ClientID)
	assert.Equal(t, testNow, code.IssuedAt)
	assert.Equal(t, 5*time.Minute, code.ExpiresAt.Sub(code.IssuedAt))
	assert.True(t, code.IsValidAt(testNow), "valid right after issuance")
	assert.False(t, code.IsValidAt(code.ExpiresAt), "invalid at the expiration instant")

	stored, err := store.FetchAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, code.OwnerID, stored.OwnerID)

	assert.InDelta(t, 1, testutil.ToFloat64(m.grants.WithLabelValues("code")), 0)
}

func TestGrantImplicitAccessToken(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics(prometheus.NewRegistry())
	s, store := newTestServer(t, WithMetrics(m))

	token, err := s.GrantImplicitAccessToken(ctx, alice, spaClient)
	require.NoError(t, err)
	assert.Equal(t, TokenBearer, token.Type)
	assert.Equal(t, time.Hour, token.ExpiresAt.Sub(token.IssuedAt))
	assert.True(t, token.IsValidAt(testNow))
	assert.False(t, token.IsValidAt(testNow.Add(time.Hour)))

	stored, err := store.FetchAccessToken(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, "spa", stored.ClientID)

	assert.InDelta(t, 1, testutil.ToFloat64(m.grants.WithLabelValues("implicit")), 0)
}

func TestRandomTokensAreUnique(t *testing.T) {
	ctx := context.Background()
	s := NewAuthorizationServer(newTestStore(t))

	seen := map[string]bool{}
	for range 50 {
		code, err := s.GrantAuthorizationCode(ctx, alice, webClient)
		require.NoError(t, err)
		assert.Len(t, code.Code, 43, "256 bits, unpadded base64url")
		assert.False(t, seen[code.Code])
		seen[code.Code] = true
	}
}

func TestExchangeAuthorizationCode(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t)

	code, err := s.GrantAuthorizationCode(ctx, alice, webClient)
	require.NoError(t, err)

	token, err := s.ExchangeAuthorizationCode(ctx, webClient, code.Code)
	require.NoError(t, err)
	assert.Equal(t, "alice", token.OwnerID)
	assert.Equal(t, "web", token.ClientID)
	assert.Equal(t, TokenBearer, token.Type)

	_, err = s.ExchangeAuthorizationCode(ctx, webClient, code.Code)
	assertGrantError(t, err, "invalid_grant")
}

func TestExchangeAuthorizationCodeRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("empty code", func(t *testing.T) {
		s, _ := newTestServer(t)
		_, err := s.ExchangeAuthorizationCode(ctx, webClient, "")
		assertGrantError(t, err, "invalid_request")
	})

	t.Run("unknown code", func(t *testing.T) {
		s, _ := newTestServer(t)
		_, err := s.ExchangeAuthorizationCode(ctx, webClient, "made-up")
		assertGrantError(t, err, "invalid_grant")
	})

	t.Run("expired code", func(t *testing.T) {
		now := testNow
		s, _ := newTestServer(t, WithClock(func() time.Time { return now }))
		code, err := s.GrantAuthorizationCode(ctx, alice, webClient)
		require.NoError(t, err)

		now = now.Add(CodeTTL)
		_, err = s.ExchangeAuthorizationCode(ctx, webClient, code.Code)
		assertGrantError(t, err, "invalid_grant")
	})

	t.Run("other client", func(t *testing.T) {
		s, _ := newTestServer(t)
		code, err := s.GrantAuthorizationCode(ctx, alice, webClient)
		require.NoError(t, err)

		_, err = s.ExchangeAuthorizationCode(ctx, spaClient, code.Code)
		assertGrantError(t, err, "invalid_grant")

		_, err = s.ExchangeAuthorizationCode(ctx, webClient, code.Code)
		assertGrantError(t, err, "invalid_grant")
	})
}

func TestConcurrentExchangeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t)
	code, err := s.GrantAuthorizationCode(ctx, alice, webClient)
	require.NoError(t, err)

	var wins atomic.Int32
	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			_, err := s.ExchangeAuthorizationCode(ctx, webClient, code.Code)
			if err == nil {
				wins.Add(1)
				return nil
			}
			if _, ok := AsGrantError(err); !ok {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
}

func TestGrantByClientCredentials(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t)

	token, err := s.GrantByClientCredentials(ctx, webClient, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "web", token.OwnerID, "the client owns the token")
	assert.Equal(t, "web", token.ClientID)

	_, err = s.GrantByClientCredentials(ctx, webClient, "wrong")
	assertGrantError(t, err, "invalid_client")

	_, err = s.GrantByClientCredentials(ctx, webClient, "")
	assertGrantError(t, err, "invalid_client")

	_, err = s.GrantByClientCredentials(ctx, spaClient, "anything")
	assertGrantError(t, err, "unauthorized_client")
}

func TestGrantByClientCredentialsBcrypt(t *testing.T) {
	ctx := context.Background()
	hash, err := pwdauth.DefaultHasher.Generate([]byte("correct horse"))
	require.NoError(t, err)

	client := *webClient
	client.HashedSecret = string(hash)
	s := NewAuthorizationServer(newTestStore(t))

	_, err = s.GrantByClientCredentials(ctx, &client, "correct horse")
	require.NoError(t, err)

	_, err = s.GrantByClientCredentials(ctx, &client, string(hash))
	assertGrantError(t, err, "invalid_client")
}

func TestGrantByResourceOwnerCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported without verifier", func(t *testing.T) {
		s, _ := newTestServer(t)
		_, err := s.GrantByResourceOwnerCredentials(ctx, Credentials{Username: "alice", Password: "pw"}, webClient)
		assertGrantError(t, err, "unsupported_grant_type")
	})

	s, _ := newTestServer(t, WithCredentialVerifier(staticVerifier{"alice": "wonderland"}))

	token, err := s.GrantByResourceOwnerCredentials(ctx, Credentials{Username: "alice", Password: "wonderland"}, webClient)
	require.NoError(t, err)
	assert.Equal(t, "alice", token.OwnerID)
	assert.Equal(t, "web", token.ClientID)

	_, err = s.GrantByResourceOwnerCredentials(ctx, Credentials{Username: "alice", Password: "nope"}, webClient)
	assertGrantError(t, err, "invalid_grant")

	_, err = s.GrantByResourceOwnerCredentials(ctx, Credentials{Username: "alice"}, webClient)
	assertGrantError(t, err, "invalid_request")
}

func TestAuthenticateClient(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t)

	c, err := s.AuthenticateClient(ctx, "web", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "web", c.ID)

	_, err = s.AuthenticateClient(ctx, "web", "wrong")
	assertGrantError(t, err, "invalid_client")

	c, err = s.AuthenticateClient(ctx, "spa", "")
	require.NoError(t, err, "public clients authenticate by id")
	assert.Equal(t, "spa", c.ID)

	_, err = s.AuthenticateClient(ctx, "nobody", "")
	assertGrantError(t, err, "invalid_client")

	_, err = s.AuthenticateClient(ctx, "", "")
	assertGrantError(t, err, "invalid_client")
}

func TestStorageFailuresPropagate(t *testing.T) {
	ctx := context.Background()
	s := NewAuthorizationServer(failingStorage{Storage: newTestStore(t)})

	_, err := s.GrantAuthorizationCode(ctx, alice, webClient)
	assert.ErrorIs(t, err, ErrStorage)

	_, err = s.GrantImplicitAccessToken(ctx, alice, spaClient)
	assert.ErrorIs(t, err, ErrStorage)
	_, isGrantErr := AsGrantError(err)
	assert.False(t, isGrantErr, "storage failures are not expected rejections")
}

func TestTokenGeneratorFailure(t *testing.T) {
	ctx := context.Background()
	broken := TokenGeneratorFunc(func() (string, error) {
		return "", errors.New("entropy unavailable")
	})
	s, _ := newTestServer(t, WithTokenGenerator(broken))

	_, err := s.GrantAuthorizationCode(ctx, alice, webClient)
	assert.Error(t, err)
}
