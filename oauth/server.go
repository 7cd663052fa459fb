package oauth

import (
	"context"
	"time"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/dpup/authorizer/pwdauth"
	"github.com/go-oauth2/oauth2/v4"
	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
)

const (
	// CodeTTL is the lifetime of an authorization code.
	CodeTTL = 5 * time.Minute

	// TokenTTL is the lifetime of an access token.
	TokenTTL = time.Hour
)

// Credentials are a resource owner's username and password, as sent with the
// password grant.
type Credentials struct {
	Username string
	Password string
}

// CredentialVerifier authenticates resource owners for the password grant.
// It returns ErrInvalidCredentials when the credentials do not match.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, creds Credentials) (*ResourceOwner, error)
}

// ServerOption configures an AuthorizationServer.
type ServerOption func(*AuthorizationServer)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ServerOption {
	return func(s *AuthorizationServer) {
		s.now = now
	}
}

// WithTokenGenerator overrides how code and token values are generated.
func WithTokenGenerator(g TokenGenerator) ServerOption {
	return func(s *AuthorizationServer) {
		s.tokens = g
	}
}

// WithSecretHasher sets the hasher used to check client secrets. Defaults to
// bcrypt.
func WithSecretHasher(h pwdauth.Hasher) ServerOption {
	return func(s *AuthorizationServer) {
		s.hasher = h
	}
}

// WithCredentialVerifier enables the resource owner password credentials
// grant.
func WithCredentialVerifier(v CredentialVerifier) ServerOption {
	return func(s *AuthorizationServer) {
		s.credentials = v
	}
}

// WithMetrics records issued grants.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *AuthorizationServer) {
		s.metrics = m
	}
}

// AuthorizationServer implements the grant algorithms. It holds no mutable
// state, everything is persisted through Storage.
type AuthorizationServer struct {
	storage     Storage
	now         func() time.Time
	tokens      TokenGenerator
	hasher      pwdauth.Hasher
	credentials CredentialVerifier
	metrics     *Metrics
}

// NewAuthorizationServer returns a server persisting grants to storage.
func NewAuthorizationServer(storage Storage, opts ...ServerOption) *AuthorizationServer {
	s := &AuthorizationServer{
		storage: storage,
		now:     time.Now,
		tokens:  RandomTokens,
		hasher:  pwdauth.DefaultHasher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Storage returns the storage the server persists grants to.
func (s *AuthorizationServer) Storage() Storage {
	return s.storage
}

// GrantAuthorizationCode issues and persists an authorization code for owner,
// valid for CodeTTL.
func (s *AuthorizationServer) GrantAuthorizationCode(ctx context.Context, owner *ResourceOwner, client *Client) (*AuthorizationCode, error) {
	value, err := s.tokens.Generate()
	if err != nil {
		return nil, err
	}

	now := s.now()
	code := &AuthorizationCode{
		Code:      value,
		OwnerID:   owner.ID,
		ClientID:  client.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(CodeTTL),
	}
	if err := s.storage.StoreAuthorizationCode(ctx, code); err != nil {
		return nil, err
	}

	s.metrics.grantIssued(oauth2.Code.String())
	logging.Debugw(ctx, "issued authorization code", "oauth.client_id", client.ID, "oauth.owner_id", owner.ID)
	return code, nil
}

// GrantImplicitAccessToken issues and persists a bearer token for owner,
// valid for TokenTTL.
func (s *AuthorizationServer) GrantImplicitAccessToken(ctx context.Context, owner *ResourceOwner, client *Client) (*AccessToken, error) {
	return s.issueAccessToken(ctx, owner.ID, client.ID, "implicit")
}

// ExchangeAuthorizationCode consumes code and issues an access token to the
// owner it was granted by. A code can be exchanged once.
func (s *AuthorizationServer) ExchangeAuthorizationCode(ctx context.Context, client *Client, code string) (*AccessToken, error) {
	if code == "" {
		return nil, newGrantError(oautherrors.ErrInvalidRequest, "code is required")
	}

	c, err := s.storage.ConsumeAuthorizationCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, newGrantError(oautherrors.ErrInvalidGrant, "authorization code is invalid or was already used")
	} else if err != nil {
		return nil, err
	}

	if !c.IsValidAt(s.now()) {
		return nil, newGrantError(oautherrors.ErrInvalidGrant, "authorization code has expired")
	}
	if c.ClientID != client.ID {
		logging.Warnw(ctx, "authorization code presented by another client",
			"oauth.client_id", client.ID, "oauth.code_client_id", c.ClientID)
		return nil, newGrantError(oautherrors.ErrInvalidGrant, "authorization code was issued to another client")
	}

	return s.issueAccessToken(ctx, c.OwnerID, client.ID, oauth2.AuthorizationCode.String())
}

// GrantByClientCredentials issues a token owned by the client itself. Only
// confidential clients presenting their secret qualify.
func (s *AuthorizationServer) GrantByClientCredentials(ctx context.Context, client *Client, secret string) (*AccessToken, error) {
	if !client.IsConfidential() {
		return nil, newGrantError(oautherrors.ErrUnauthorizedClient, "client credentials require a confidential client")
	}
	if !s.secretMatches(client, secret) {
		return nil, newGrantError(oautherrors.ErrInvalidClient, "client authentication failed")
	}
	return s.issueAccessToken(ctx, client.ID, client.ID, oauth2.ClientCredentials.String())
}

// GrantByResourceOwnerCredentials verifies the resource owner's username and
// password and issues a token on their behalf. Without a CredentialVerifier
// the grant is unsupported.
func (s *AuthorizationServer) GrantByResourceOwnerCredentials(ctx context.Context, creds Credentials, client *Client) (*AccessToken, error) {
	if s.credentials == nil {
		return nil, newGrantError(oautherrors.ErrUnsupportedGrantType, "")
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, newGrantError(oautherrors.ErrInvalidRequest, "username and password are required")
	}

	owner, err := s.credentials.VerifyCredentials(ctx, creds)
	if errors.Is(err, ErrInvalidCredentials) {
		return nil, newGrantError(oautherrors.ErrInvalidGrant, "invalid resource owner credentials")
	} else if err != nil {
		return nil, err
	}
	return s.issueAccessToken(ctx, owner.ID, client.ID, oauth2.PasswordCredentials.String())
}

// ResolveClient looks up a client for the token endpoint, reporting unknown
// clients as invalid_client.
func (s *AuthorizationServer) ResolveClient(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, newGrantError(oautherrors.ErrInvalidClient, "client_id is required")
	}
	client, err := s.storage.FetchClient(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, newGrantError(oautherrors.ErrInvalidClient, "client authentication failed")
	} else if err != nil {
		return nil, err
	}
	return client, nil
}

// AuthenticateClient resolves the client and, for confidential clients,
// verifies the secret. Public clients are identified by id alone.
func (s *AuthorizationServer) AuthenticateClient(ctx context.Context, clientID, secret string) (*Client, error) {
	client, err := s.ResolveClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.IsConfidential() && !s.secretMatches(client, secret) {
		return nil, newGrantError(oautherrors.ErrInvalidClient, "client authentication failed")
	}
	return client, nil
}

func (s *AuthorizationServer) secretMatches(client *Client, secret string) bool {
	if client.HashedSecret == "" || secret == "" {
		return false
	}
	return s.hasher.Compare([]byte(client.HashedSecret), []byte(secret)) == nil
}

func (s *AuthorizationServer) issueAccessToken(ctx context.Context, ownerID, clientID, grantType string) (*AccessToken, error) {
	value, err := s.tokens.Generate()
	if err != nil {
		return nil, err
	}

	now := s.now()
	token := &AccessToken{
		Token:     value,
		OwnerID:   ownerID,
		ClientID:  clientID,
		IssuedAt:  now,
		ExpiresAt: now.Add(TokenTTL),
		Type:      TokenBearer,
	}
	if err := s.storage.StoreAccessToken(ctx, token); err != nil {
		return nil, err
	}

	s.metrics.grantIssued(grantType)
	logging.Debugw(ctx, "issued access token", "oauth.grant_type", grantType, "oauth.client_id", clientID, "oauth.owner_id", ownerID)
	return token, nil
}
