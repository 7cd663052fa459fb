package oauth

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/dpup/authorizer/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRedirector struct {
	locations []string
}

func (r *recordingRedirector) Redirect(location string) {
	r.locations = append(r.locations, location)
}

func signedIn(owner *ResourceOwner) Session {
	return SessionFunc(func(context.Context) (*ResourceOwner, error) {
		return owner, nil
	})
}

func newTestProvider(t *testing.T, session Session, opts ...ProviderOption) *Provider {
	t.Helper()
	s, _ := newTestServer(t)
	return NewProvider(s, session, opts...)
}

func dispatch(t *testing.T, p *Provider, req AuthorizationRequest) (State, string, error) {
	t.Helper()
	r := &recordingRedirector{}
	state, err := p.Dispatch(context.Background(), req, r)
	require.LessOrEqual(t, len(r.locations), 1, "redirect should be issued at most once")
	if len(r.locations) == 0 {
		return state, "", err
	}
	return state, r.locations[0], err
}

func TestDispatchCodeGrant(t *testing.T) {
	p := newTestProvider(t, signedIn(alice))

	state, location, err := dispatch(t, p, AuthorizationRequest{ClientID: "web", ResponseType: "code", State: "xyz"})
	require.NoError(t, err)
	assert.Equal(t, Redirected, state)
	assert.Equal(t, "https://thirdpartyapplication1/oauth/callback/?code=value-1&state=xyz", location)

	code, err := p.Server().Storage().FetchAuthorizationCode(context.Background(), "value-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", code.OwnerID)
}

func TestDispatchImplicitGrant(t *testing.T) {
	p := newTestProvider(t, signedIn(alice))

	state, location, err := dispatch(t, p, AuthorizationRequest{ClientID: "spa", ResponseType: "token", State: "s"})
	require.NoError(t, err)
	assert.Equal(t, Redirected, state)
	assert.Equal(t, "https://spa.example.com/app?v=2#access_token=value-1&expires_in=3600&state=s&token_type=bearer", location)

	u, err := url.Parse(location)
	require.NoError(t, err)
	assert.Empty(t, u.Query().Get("access_token"), "token must never be in the query")
}

func TestDispatchWithoutState(t *testing.T) {
	p := newTestProvider(t, signedIn(alice))

	_, location, err := dispatch(t, p, AuthorizationRequest{ClientID: "web", ResponseType: "code"})
	require.NoError(t, err)
	assert.Equal(t, "https://thirdpartyapplication1/oauth/callback/?code=value-1", location)
}

func TestDispatchMissingResponseType(t *testing.T) {
	p := newTestProvider(t, signedIn(alice))

	state, location, err := dispatch(t, p, AuthorizationRequest{ClientID: "web"})
	require.NoError(t, err)
	assert.Equal(t, ErrorRedirected, state)
	assert.Equal(t, "https://thirdpartyapplication1/oauth/callback/?error=invalid_request", location)

	_, location, err = dispatch(t, p, AuthorizationRequest{ClientID: "spa", State: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "https://spa.example.com/app?error=invalid_request&state=abc&v=2", location,
		"registered query parameters are preserved")
}

func TestDispatchUnsupportedResponseType(t *testing.T) {
	p := newTestProvider(t, signedIn(alice))

	state, location, err := dispatch(t, p, AuthorizationRequest{ClientID: "web", ResponseType: "id_token", State: "xyz"})
	require.NoError(t, err)
	assert.Equal(t, ErrorRedirected, state)

	u, err := url.Parse(location)
	require.NoError(t, err)
	assert.Equal(t, "thirdpartyapplication1", u.Host)
	assert.Equal(t, "unsupported_response_type", u.Query().Get("error"))
	assert.NotEmpty(t, u.Query().Get("error_description"))
	assert.Equal(t, "xyz", u.Query().Get("state"))
}

func TestDispatchUnauthenticated(t *testing.T) {
	var generated int
	counting := TokenGeneratorFunc(func() (string, error) {
		generated++
		return "never", nil
	})
	s, _ := newTestServer(t, WithTokenGenerator(counting))
	p := NewProvider(s, signedIn(nil))

	req := AuthorizationRequest{
		ClientID:     "web",
		ResponseType: "code",
		ReturnTo:     "/oauth/authorize?client_id=web&response_type=code",
	}
	state, location, err := dispatch(t, p, req)
	require.NoError(t, err)
	assert.Equal(t, AwaitingAuthentication, state)
	assert.Equal(t, "/login?return_to=%2Foauth%2Fauthorize%3Fclient_id%3Dweb%26response_type%3Dcode", location)
	assert.Zero(t, generated, "no grant should be issued")

	p = NewProvider(s, signedIn(nil), WithAuthenticationEndpoint("https://id.example.com/signin?realm=x"))
	_, location, err = dispatch(t, p, AuthorizationRequest{ClientID: "web", ResponseType: "code"})
	require.NoError(t, err)
	assert.Equal(t, "https://id.example.com/signin?realm=x", location)
	assert.Zero(t, generated)
}

func TestDispatchUnknownClient(t *testing.T) {
	p := newTestProvider(t, signedIn(alice))

	state, location, err := dispatch(t, p, AuthorizationRequest{ClientID: "nobody", ResponseType: "code", State: "x"})
	assert.Equal(t, Rejected, state)
	assert.Empty(t, location, "there is nowhere to redirect to")
	require.ErrorIs(t, err, ErrUnknownClient)
	assert.True(t, IsClientResolutionError(err))
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusCode(err))

	state, location, err = dispatch(t, p, AuthorizationRequest{ResponseType: "code"})
	assert.Equal(t, Rejected, state)
	assert.Empty(t, location)
	require.ErrorIs(t, err, ErrMissingClientID)
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusCode(err))
}

type brokenClientStorage struct {
	Storage
}

func (brokenClientStorage) FetchClient(context.Context, string) (*Client, error) {
	return nil, errors.Mark(ErrStorage, 0)
}

func TestDispatchClientLookupFailure(t *testing.T) {
	s := NewAuthorizationServer(brokenClientStorage{Storage: newTestStore(t)})
	p := NewProvider(s, signedIn(alice))

	state, location, err := dispatch(t, p, AuthorizationRequest{ClientID: "web", ResponseType: "code"})
	assert.Equal(t, Rejected, state)
	assert.Empty(t, location)
	require.ErrorIs(t, err, ErrStorage)
	assert.False(t, IsClientResolutionError(err))
	assert.Equal(t, http.StatusInternalServerError, errors.HTTPStatusCode(err))
}

func TestDispatchSessionFailure(t *testing.T) {
	session := SessionFunc(func(context.Context) (*ResourceOwner, error) {
		return nil, errors.New("session store offline")
	})
	p := newTestProvider(t, session)

	state, location, err := dispatch(t, p, AuthorizationRequest{ClientID: "web", ResponseType: "code"})
	assert.Equal(t, Rejected, state)
	assert.Empty(t, location)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, errors.HTTPStatusCode(err))
}

func TestDispatchServerError(t *testing.T) {
	for _, panics := range []bool{false, true} {
		m := NewMetrics(prometheus.NewRegistry())
		s := NewAuthorizationServer(failingStorage{Storage: newTestStore(t), panics: panics})
		p := NewProvider(s, signedIn(alice), WithErrorMetrics(m))

		for _, responseType := range []string{"code", "token"} {
			state, location, err := dispatch(t, p, AuthorizationRequest{ClientID: "web", ResponseType: responseType, State: "st"})
			require.NoError(t, err)
			assert.Equal(t, ErrorRedirected, state)

			u, err := url.Parse(location)
			require.NoError(t, err)
			assert.Equal(t, "/oauth/callback/", u.Path)
			assert.Equal(t, "server_error", u.Query().Get("error"))
			assert.Equal(t, "st", u.Query().Get("state"))
			assert.NotEmpty(t, u.Query().Get("error_description"))
			assert.NotContains(t, location, "10.0.0.7", "internal details must not leak")
			assert.NotContains(t, location, "exploded", "internal details must not leak")
		}
		assert.InDelta(t, 2, testutil.ToFloat64(m.errors.WithLabelValues("server_error")), 0)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_authentication", AwaitingAuthentication.String())
	assert.Equal(t, "error_redirected", ErrorRedirected.String())
	assert.Equal(t, "unknown", State(99).String())
}
