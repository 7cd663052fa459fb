// Package oauthtests provides acceptance tests for oauth.Storage
// implementations.
package oauthtests

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Clients registered by Run before each subtest. Stores that do not implement
// oauth.ClientRegistry must already know about them.
var (
	WebClient = &oauth.Client{
		ID:           "web",
		Name:         "Web App",
		Type:         oauth.ClientConfidential,
		Profile:      oauth.ProfileWeb,
		RedirectURI:  "https://web.example.com/callback",
		HashedSecret: "web-secret",
	}
	SPAClient = &oauth.Client{
		ID:          "spa",
		Name:        "Single Page App",
		Type:        oauth.ClientPublic,
		Profile:     oauth.ProfileUserAgent,
		RedirectURI: "https://spa.example.com/",
	}
)

// Run exercises newStorage against the oauth.Storage contract. The clock
// passed in is real time truncated to the second, stores that use TTLs are
// expected to honor ExpiresAt relative to it.
//
//nolint:funlen // This is a test helper.
func Run(t *testing.T, newStorage func(t *testing.T) oauth.Storage) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	setup := func(t *testing.T) oauth.Storage {
		s := newStorage(t)
		if r, ok := s.(oauth.ClientRegistry); ok {
			require.NoError(t, r.RegisterClient(ctx, WebClient))
			require.NoError(t, r.RegisterClient(ctx, SPAClient))
		}
		return s
	}

	code := func(value string) *oauth.AuthorizationCode {
		return &oauth.AuthorizationCode{
			Code:      value,
			OwnerID:   "alice",
			ClientID:  WebClient.ID,
			IssuedAt:  now,
			ExpiresAt: now.Add(oauth.CodeTTL),
		}
	}

	t.Run("FetchClient", func(t *testing.T) {
		s := setup(t)
		c, err := s.FetchClient(ctx, WebClient.ID)
		require.NoError(t, err)
		assert.Equal(t, WebClient.ID, c.ID)
		assert.Equal(t, WebClient.RedirectURI, c.RedirectURI)
		assert.Equal(t, WebClient.Type, c.Type)
		assert.Equal(t, WebClient.HashedSecret, c.HashedSecret)

		_, err = s.FetchClient(ctx, "nobody")
		assert.ErrorIs(t, err, oauth.ErrNotFound)
	})

	t.Run("RegisterClientReplaces", func(t *testing.T) {
		s := setup(t)
		r, ok := s.(oauth.ClientRegistry)
		if !ok {
			t.Skip("storage does not register clients")
		}
		updated := *SPAClient
		updated.RedirectURI = "https://spa.example.com/v2/"
		require.NoError(t, r.RegisterClient(ctx, &updated))

		c, err := s.FetchClient(ctx, SPAClient.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://spa.example.com/v2/", c.RedirectURI)
	})

	t.Run("RegisterClientValidates", func(t *testing.T) {
		s := setup(t)
		r, ok := s.(oauth.ClientRegistry)
		if !ok {
			t.Skip("storage does not register clients")
		}
		bad := *SPAClient
		bad.ID = "bad"
		bad.RedirectURI = "/relative"
		assert.ErrorIs(t, r.RegisterClient(ctx, &bad), oauth.ErrInvalidClientRegistration)

		_, err := s.FetchClient(ctx, "bad")
		assert.ErrorIs(t, err, oauth.ErrNotFound)
	})

	t.Run("AuthorizationCodeRoundTrip", func(t *testing.T) {
		s := setup(t)
		want := code("code-1")
		require.NoError(t, s.StoreAuthorizationCode(ctx, want))

		got, err := s.FetchAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		assert.Equal(t, want.OwnerID, got.OwnerID)
		assert.Equal(t, want.ClientID, got.ClientID)
		assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expiry should survive storage")
		assert.True(t, want.IssuedAt.Equal(got.IssuedAt), "issuance should survive storage")
	})

	t.Run("FetchAuthorizationCodeNotFound", func(t *testing.T) {
		s := setup(t)
		_, err := s.FetchAuthorizationCode(ctx, "missing")
		assert.ErrorIs(t, err, oauth.ErrNotFound)
	})

	t.Run("ConsumeOnce", func(t *testing.T) {
		s := setup(t)
		require.NoError(t, s.StoreAuthorizationCode(ctx, code("code-2")))

		got, err := s.ConsumeAuthorizationCode(ctx, "code-2")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.OwnerID)

		_, err = s.ConsumeAuthorizationCode(ctx, "code-2")
		require.ErrorIs(t, err, oauth.ErrNotFound, "second consume should fail")

		_, err = s.FetchAuthorizationCode(ctx, "code-2")
		assert.ErrorIs(t, err, oauth.ErrNotFound, "consumed code should be gone")
	})

	t.Run("ConcurrentConsumeHasOneWinner", func(t *testing.T) {
		s := setup(t)
		require.NoError(t, s.StoreAuthorizationCode(ctx, code("code-3")))

		var wins, losses atomic.Int32
		var g errgroup.Group
		for range 8 {
			g.Go(func() error {
				_, err := s.ConsumeAuthorizationCode(ctx, "code-3")
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, oauth.ErrNotFound):
					losses.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(7), losses.Load())
	})

	t.Run("AccessTokenRoundTrip", func(t *testing.T) {
		s := setup(t)
		want := &oauth.AccessToken{
			Token:     "token-1",
			OwnerID:   "alice",
			ClientID:  SPAClient.ID,
			IssuedAt:  now,
			ExpiresAt: now.Add(oauth.TokenTTL),
			Type:      oauth.TokenBearer,
		}
		require.NoError(t, s.StoreAccessToken(ctx, want))

		got, err := s.FetchAccessToken(ctx, "token-1")
		require.NoError(t, err)
		assert.Equal(t, want.OwnerID, got.OwnerID)
		assert.Equal(t, want.ClientID, got.ClientID)
		assert.Equal(t, oauth.TokenBearer, got.Type)
		assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

		_, err = s.FetchAccessToken(ctx, "missing")
		assert.ErrorIs(t, err, oauth.ErrNotFound)
	})

	t.Run("PurgeExpired", func(t *testing.T) {
		s := setup(t)
		p, ok := s.(oauth.Purger)
		if !ok {
			t.Skip("storage expires records itself")
		}
		require.NoError(t, s.StoreAuthorizationCode(ctx, code("fresh")))
		require.NoError(t, s.StoreAccessToken(ctx, &oauth.AccessToken{
			Token: "fresh-token", ClientID: WebClient.ID, IssuedAt: now,
			ExpiresAt: now.Add(oauth.TokenTTL), Type: oauth.TokenBearer,
		}))

		n, err := p.PurgeExpired(ctx, now.Add(oauth.CodeTTL))
		require.NoError(t, err)
		assert.Equal(t, 1, n, "only the code has expired")

		_, err = s.FetchAuthorizationCode(ctx, "fresh")
		assert.ErrorIs(t, err, oauth.ErrNotFound)
		_, err = s.FetchAccessToken(ctx, "fresh-token")
		assert.NoError(t, err)

		n, err = p.PurgeExpired(ctx, now.Add(oauth.TokenTTL))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
