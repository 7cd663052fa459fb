package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dpup/authorizer/oauth"
	"github.com/dpup/authorizer/storage/memorystore"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

func TestTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testKey, WithIssuer("https://auth.example.com"))

	token, err := m.Token("alice")
	require.NoError(t, err)

	claims, err := m.Parse(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.NotEmpty(t, claims.ID, "sessions get a unique jti")
	assert.Equal(t, "https://auth.example.com", claims.Issuer)
}

func TestParseRejects(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(testKey, WithClock(func() time.Time { return now }), WithExpiration(time.Hour))
	token, err := m.Token("alice")
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := NewManager(testKey, WithClock(func() time.Time { return now.Add(2 * time.Hour) }))
		_, err := later.Parse(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := NewManager([]byte("another-key"), WithClock(func() time.Time { return now }))
		_, err := other.Parse(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewManager(testKey, WithClock(func() time.Time { return now }), WithIssuer("https://evil.example.com"))
		_, err := other.Parse(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "mallory"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.Parse(ctx, unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Parse(ctx, "not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNoSigningKey(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Token("alice")
	assert.ErrorIs(t, err, ErrNoSigningKey)
	_, err = m.Parse(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

func TestMiddleware(t *testing.T) {
	m := NewManager(testKey)
	var owner *oauth.ResourceOwner
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		owner, err = m.EndUser(r.Context())
		require.NoError(t, err)
	}))

	token, err := m.Token("alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	req.AddCookie(&http.Cookie{Name: "az-session", Value: token})
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, owner)
	assert.Equal(t, "alice", owner.ID)

	owner = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil))
	assert.Nil(t, owner, "no cookie means nobody is signed in")

	req = httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	req.AddCookie(&http.Cookie{Name: "az-session", Value: token + "tampered"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, owner, "bad cookies are ignored")
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connection refused")

type failingBlocklist struct{}

func (failingBlocklist) IsBlocked(context.Context, string) (bool, error) { return false, errConnRefused }
func (failingBlocklist) Block(context.Context, string) error            { return errConnRefused }

func TestMiddleware_BlocklistFailure(t *testing.T) {
	m := NewManager(testKey, WithBlocklist(failingBlocklist{}))
	token, err := m.Token("alice")
	require.NoError(t, err)

	var (
		owner    *oauth.ResourceOwner
		endErr   error
		reachedH bool
	)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reachedH = true
		owner, endErr = m.EndUser(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	req.AddCookie(&http.Cookie{Name: "az-session", Value: token})
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, reachedH)
	assert.Nil(t, owner)
	assert.ErrorIs(t, endErr, errConnRefused, "storage failures are not treated as signed out")

	// Without a cookie the blocklist is never consulted.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil))
	assert.Nil(t, owner)
	assert.NoError(t, endErr)
}

func TestMiddleware_RevokedIsSignedOut(t *testing.T) {
	bl := NewBlocklist(memorystore.New())
	m := NewManager(testKey, WithBlocklist(bl))
	token, err := m.Token("alice")
	require.NoError(t, err)
	claims, err := m.Parse(t.Context(), token)
	require.NoError(t, err)
	require.NoError(t, bl.Block(t.Context(), claims.ID))

	var endErr error
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, endErr = m.EndUser(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	req.AddCookie(&http.Cookie{Name: "az-session", Value: token})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NoError(t, endErr)
}

func TestBlocklist(t *testing.T) {
	ctx := context.Background()
	bl := NewBlocklist(memorystore.New())
	m := NewManager(testKey, WithBlocklist(bl))

	token, err := m.Token("alice")
	require.NoError(t, err)
	claims, err := m.Parse(ctx, token)
	require.NoError(t, err)

	require.NoError(t, bl.Block(ctx, claims.ID))
	require.NoError(t, bl.Block(ctx, claims.ID), "blocking twice is fine")

	_, err = m.Parse(ctx, token)
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestCookies(t *testing.T) {
	m := NewManager(testKey, WithIssuer("https://auth.example.com"), WithCookieName("sid"))

	w := httptest.NewRecorder()
	m.SetCookie(w, "tok")
	c := w.Result().Cookies()[0]
	assert.Equal(t, "sid", c.Name)
	assert.Equal(t, "tok", c.Value)
	assert.True(t, c.Secure)
	assert.True(t, c.HttpOnly)

	w = httptest.NewRecorder()
	m.ClearCookie(w)
	c = w.Result().Cookies()[0]
	assert.Equal(t, "sid", c.Name)
	assert.Equal(t, -1, c.MaxAge)

	w = httptest.NewRecorder()
	NewManager(testKey, WithIssuer("http://localhost:8000")).SetCookie(w, "tok")
	assert.False(t, w.Result().Cookies()[0].Secure)
}
