package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/go-oauth2/oauth2/v4"
	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
)

// AuthorizationRequest holds the authorization endpoint parameters the
// Provider needs.
type AuthorizationRequest struct {
	ClientID     string
	ResponseType string
	State        string

	// ReturnTo is the request URI to come back to after authentication.
	// Optional.
	ReturnTo string
}

// Redirector sends the user agent elsewhere.
type Redirector interface {
	Redirect(location string)
}

// RedirectFunc adapts a function to the Redirector interface.
type RedirectFunc func(location string)

// Redirect implements Redirector.
func (f RedirectFunc) Redirect(location string) {
	f(location)
}

// State is where a request ended up after Provider.Dispatch.
type State int

const (
	// Rejected means the request failed before a redirect target was known.
	Rejected State = iota

	// AwaitingAuthentication means the user agent was sent to the
	// authentication endpoint.
	AwaitingAuthentication

	// ClientResolved and GrantDispatched are intermediate states, a finished
	// request never reports them.
	ClientResolved
	GrantDispatched

	// Redirected means the grant was sent to the client.
	Redirected

	// ErrorRedirected means an OAuth error was sent to the client.
	ErrorRedirected
)

var stateNames = map[State]string{
	Rejected:               "rejected",
	AwaitingAuthentication: "awaiting_authentication",
	ClientResolved:         "client_resolved",
	GrantDispatched:        "grant_dispatched",
	Redirected:             "redirected",
	ErrorRedirected:        "error_redirected",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// DefaultAuthenticationEndpoint is where unauthenticated users are sent unless
// WithAuthenticationEndpoint says otherwise.
const DefaultAuthenticationEndpoint = "/login"

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithAuthenticationEndpoint sets where unauthenticated users are sent. It
// may be a path or an absolute URL.
func WithAuthenticationEndpoint(endpoint string) ProviderOption {
	return func(p *Provider) {
		p.authEndpoint = endpoint
	}
}

// WithErrorMetrics counts errors reported to clients.
func WithErrorMetrics(m *Metrics) ProviderOption {
	return func(p *Provider) {
		p.metrics = m
	}
}

// Provider runs the authorization endpoint. It checks the session, resolves
// the client, dispatches on response_type and redirects the user agent back
// to the client's registered redirect URI.
type Provider struct {
	server       *AuthorizationServer
	session      Session
	authEndpoint string
	metrics      *Metrics
}

// NewProvider returns a Provider issuing grants through server, for owners
// identified by session.
func NewProvider(server *AuthorizationServer, session Session, opts ...ProviderOption) *Provider {
	p := &Provider{
		server:       server,
		session:      session,
		authEndpoint: DefaultAuthenticationEndpoint,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Server returns the AuthorizationServer grants are issued by.
func (p *Provider) Server() *AuthorizationServer {
	return p.server
}

// Dispatch handles an authorization request. It calls r.Redirect at most
// once. A non-nil error means the request was rejected without a redirect,
// either because the client could not be resolved (ErrMissingClientID,
// ErrUnknownClient) or because of an internal failure before a redirect
// target was known. Use errors.HTTPStatusCode to pick the response status.
func (p *Provider) Dispatch(ctx context.Context, req AuthorizationRequest, r Redirector) (State, error) {
	owner, err := p.session.EndUser(ctx)
	if err != nil {
		return Rejected, errors.WrapPrefix(err, "session lookup failed", 0).
			WithHTTPStatusCode(http.StatusInternalServerError)
	}
	if owner == nil {
		location, err := p.authenticationURL(req.ReturnTo)
		if err != nil {
			return Rejected, err
		}
		logging.Track(ctx, "oauth.state", AwaitingAuthentication.String())
		r.Redirect(location)
		return AwaitingAuthentication, nil
	}

	client, err := p.resolveClient(ctx, req.ClientID)
	if err != nil {
		return Rejected, err
	}
	logging.Track(ctx, "oauth.client_id", client.ID)

	state := Redirected
	params, component, err := p.dispatchGrant(ctx, req, owner, client)
	if err != nil {
		params, component = p.decide(ctx, err), Query
		state = ErrorRedirected
	}
	if req.State != "" {
		params.Set("state", req.State)
	}

	location, err := MergeURI(client.RedirectURI, params, component)
	if err != nil {
		return Rejected, errors.WrapPrefix(err, "client "+client.ID, 0).
			WithHTTPStatusCode(http.StatusInternalServerError)
	}
	logging.Track(ctx, "oauth.state", state.String())
	r.Redirect(location)
	return state, nil
}

func (p *Provider) authenticationURL(returnTo string) (string, error) {
	u, err := url.Parse(p.authEndpoint)
	if err != nil {
		return "", errors.WrapPrefix(err, "invalid authentication endpoint", 0).
			WithHTTPStatusCode(http.StatusInternalServerError)
	}
	if returnTo != "" {
		q := u.Query()
		q.Set("return_to", returnTo)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (p *Provider) resolveClient(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, errors.Mark(ErrMissingClientID, 0)
	}
	client, err := p.server.storage.FetchClient(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, errors.Mark(ErrUnknownClient, 0).Append(clientID)
	} else if err != nil {
		return nil, errors.WrapPrefix(err, "client lookup failed", 0).
			WithHTTPStatusCode(http.StatusInternalServerError)
	}
	return client, nil
}

// dispatchGrant issues the grant asked for by response_type. Panics are
// turned into errors, which decide reports as server_error.
func (p *Provider) dispatchGrant(ctx context.Context, req AuthorizationRequest, owner *ResourceOwner, client *Client) (params url.Values, component Component, err error) {
	defer func() {
		if r := recover(); r != nil {
			params, err = nil, errors.Wrap(r, 2)
		}
	}()

	switch req.ResponseType {
	case "":
		return nil, Query, &GrantError{Code: oautherrors.ErrInvalidRequest.Error()}

	case oauth2.Code.String():
		code, err := p.server.GrantAuthorizationCode(ctx, owner, client)
		if err != nil {
			return nil, Query, err
		}
		return url.Values{"code": {code.Code}}, Query, nil

	case oauth2.Token.String():
		token, err := p.server.GrantImplicitAccessToken(ctx, owner, client)
		if err != nil {
			return nil, Fragment, err
		}
		return url.Values{
			"access_token": {token.Token},
			"token_type":   {string(token.Type)},
			"expires_in":   {strconv.FormatInt(token.ExpiresIn(token.IssuedAt), 10)},
		}, Fragment, nil
	}

	return nil, Query, newGrantError(oautherrors.ErrUnsupportedResponseType, "")
}

// decide turns a failed grant into the error parameters sent to the client.
// Expected rejections keep their code and description. Everything else is
// logged and reported as server_error.
func (p *Provider) decide(ctx context.Context, err error) url.Values {
	ge, expected := AsGrantError(err)
	if expected {
		logging.Track(ctx, "oauth.error", ge.Code)
	} else {
		logging.TrackError(ctx, err)
		logging.Errorw(ctx, "authorization grant failed", "error", err)
	}
	p.metrics.errorReported(ge.Code)

	params := url.Values{"error": {ge.Code}}
	if ge.Description != "" {
		params.Set("error_description", ge.Description)
	}
	return params
}
