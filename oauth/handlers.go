package oauth

import (
	"net/http"
	"net/url"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/go-oauth2/oauth2/v4"
	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
)

// Endpoint paths.
const (
	AuthorizePath = "/oauth/authorize"
	TokenPath     = "/oauth/token"
	MetadataPath  = "/.well-known/oauth-authorization-server"
)

// AuthorizeHandler serves the authorization endpoint. Requests that can be
// tied to a client always end in a redirect. Requests that can not get a
// plain text error.
func AuthorizeHandler(p *Provider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := AuthorizationRequest{
			ClientID:     q.Get("client_id"),
			ResponseType: q.Get("response_type"),
			State:        q.Get("state"),
			ReturnTo:     r.URL.RequestURI(),
		}

		redirect := RedirectFunc(func(location string) {
			http.Redirect(w, r, location, http.StatusFound)
		})
		if _, err := p.Dispatch(r.Context(), req, redirect); err != nil {
			logging.TrackError(r.Context(), err)
			status := errors.HTTPStatusCode(err)
			http.Error(w, publicMessage(err, status), status)
		}
	})
}

func publicMessage(err error, status int) string {
	var e *errors.Error
	if status < http.StatusInternalServerError && errors.As(err, &e) {
		return e.PublicMessage()
	}
	return http.StatusText(status)
}

// TokenResponse is the successful token endpoint response, RFC 6749 §5.1.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenHandler serves the token endpoint. Clients authenticate with HTTP
// Basic or with client_id and client_secret form fields.
func TokenHandler(s *AuthorizationServer) http.Handler {
	return serveJSON(s.metrics, func(r *http.Request) (any, error) {
		if r.Method != http.MethodPost {
			return nil, newGrantError(oautherrors.ErrInvalidRequest, "token requests must use POST")
		}
		if err := r.ParseForm(); err != nil {
			return nil, newGrantError(oautherrors.ErrInvalidRequest, "malformed request body")
		}
		clientID, secret, err := clientCredentials(r)
		if err != nil {
			return nil, err
		}

		ctx := r.Context()
		form := r.PostForm
		grantType := form.Get("grant_type")
		logging.Track(ctx, "oauth.grant_type", grantType)
		logging.Track(ctx, "oauth.client_id", clientID)

		var token *AccessToken
		switch grantType {
		case oauth2.AuthorizationCode.String():
			client, err := s.AuthenticateClient(ctx, clientID, secret)
			if err != nil {
				return nil, err
			}
			if token, err = s.ExchangeAuthorizationCode(ctx, client, form.Get("code")); err != nil {
				return nil, err
			}

		case oauth2.ClientCredentials.String():
			client, err := s.ResolveClient(ctx, clientID)
			if err != nil {
				return nil, err
			}
			if token, err = s.GrantByClientCredentials(ctx, client, secret); err != nil {
				return nil, err
			}

		case oauth2.PasswordCredentials.String():
			client, err := s.AuthenticateClient(ctx, clientID, secret)
			if err != nil {
				return nil, err
			}
			creds := Credentials{Username: form.Get("username"), Password: form.Get("password")}
			if token, err = s.GrantByResourceOwnerCredentials(ctx, creds, client); err != nil {
				return nil, err
			}

		case "":
			return nil, newGrantError(oautherrors.ErrInvalidRequest, "grant_type is required")

		default:
			return nil, newGrantError(oautherrors.ErrUnsupportedGrantType, "")
		}

		return &TokenResponse{
			AccessToken: token.Token,
			TokenType:   string(token.Type),
			ExpiresIn:   token.ExpiresIn(token.IssuedAt),
		}, nil
	})
}

// clientCredentials reads the client id and secret from the Authorization
// header, falling back to the form. Basic credentials are form encoded,
// RFC 6749 §2.3.1.
func clientCredentials(r *http.Request) (string, string, error) {
	id, secret, ok := r.BasicAuth()
	if !ok {
		return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret"), nil
	}
	id, err := url.QueryUnescape(id)
	if err != nil {
		return "", "", newGrantError(oautherrors.ErrInvalidClient, "malformed client credentials")
	}
	if secret, err = url.QueryUnescape(secret); err != nil {
		return "", "", newGrantError(oautherrors.ErrInvalidClient, "malformed client credentials")
	}
	return id, secret, nil
}

// Metadata is the authorization server metadata document, RFC 8414.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// NewMetadata describes s as served from issuer.
func NewMetadata(issuer string, s *AuthorizationServer) *Metadata {
	grants := []string{
		oauth2.AuthorizationCode.String(),
		"implicit",
		oauth2.ClientCredentials.String(),
	}
	if s.credentials != nil {
		grants = append(grants, oauth2.PasswordCredentials.String())
	}
	return &Metadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + AuthorizePath,
		TokenEndpoint:                     issuer + TokenPath,
		ResponseTypesSupported:            []string{oauth2.Code.String(), oauth2.Token.String()},
		GrantTypesSupported:               grants,
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
	}
}

// MetadataHandler serves the metadata document for s.
func MetadataHandler(issuer string, s *AuthorizationServer) http.Handler {
	md := NewMetadata(issuer, s)
	return serveJSON(nil, func(r *http.Request) (any, error) {
		return md, nil
	})
}
