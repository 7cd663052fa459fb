package oauth

import (
	"net/url"
	"time"

	"github.com/dpup/authorizer/errors"
)

// ClientType is the confidentiality type of a client, RFC 6749 §2.1.
type ClientType string

const (
	ClientConfidential ClientType = "confidential"
	ClientPublic       ClientType = "public"
)

// ClientProfile describes where a client runs.
type ClientProfile string

const (
	ProfileWeb       ClientProfile = "web"
	ProfileUserAgent ClientProfile = "user-agent"
	ProfileNative    ClientProfile = "native"
)

// TokenType is the type of an issued access token.
type TokenType string

const (
	TokenBearer TokenType = "bearer"
	TokenMAC    TokenType = "mac"
)

// Client is a registered third party application.
type Client struct {
	ID          string        `json:"id" koanf:"id"`
	Name        string        `json:"name,omitempty" koanf:"name"`
	Type        ClientType    `json:"type" koanf:"type"`
	Profile     ClientProfile `json:"profile" koanf:"profile"`
	RedirectURI string        `json:"redirectUri" koanf:"redirectUri"`

	// Bcrypt hash of the client secret. Only confidential clients have one.
	HashedSecret string `json:"hashedSecret,omitempty" koanf:"hashedSecret"`

	CreatedAt time.Time `json:"createdAt"`
}

// PK implements storage.Model.
func (c Client) PK() string {
	return c.ID
}

// IsConfidential reports whether the client can keep a secret.
func (c Client) IsConfidential() bool {
	return c.Type == ClientConfidential
}

// Validate checks the client's registration invariants.
func (c Client) Validate() error {
	invalid := func(reason string) error {
		return errors.Mark(ErrInvalidClientRegistration, 1).Append(c.ID).Append(reason)
	}

	if c.ID == "" {
		return invalid("id is required")
	}
	switch c.Type {
	case ClientConfidential:
		if c.HashedSecret == "" {
			return invalid("confidential clients need a hashed secret")
		}
	case ClientPublic:
	default:
		return invalid("unknown client type " + string(c.Type))
	}
	switch c.Profile {
	case ProfileWeb, ProfileUserAgent, ProfileNative:
	default:
		return invalid("unknown client profile " + string(c.Profile))
	}

	u, err := url.Parse(c.RedirectURI)
	switch {
	case err != nil:
		return invalid("redirect uri does not parse: " + err.Error())
	case u.Scheme == "" || u.Host == "":
		return invalid("redirect uri must be absolute")
	case u.User != nil:
		return invalid("redirect uri must not contain userinfo")
	case u.Fragment != "" || u.RawFragment != "":
		return invalid("redirect uri must not contain a fragment")
	}
	if _, err := url.ParseQuery(u.RawQuery); err != nil {
		return invalid("redirect uri query does not parse: " + err.Error())
	}
	return nil
}

// ResourceOwner is the authenticated end-user granting access.
type ResourceOwner struct {
	ID string `json:"id"`
}

// AuthorizationCode is a short-lived, single use credential that a client
// exchanges for an access token.
type AuthorizationCode struct {
	Code      string    `json:"code"`
	OwnerID   string    `json:"ownerId"`
	ClientID  string    `json:"clientId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PK implements storage.Model.
func (c AuthorizationCode) PK() string {
	return c.Code
}

// IsValid reports whether the code has not yet expired.
func (c AuthorizationCode) IsValid() bool {
	return c.IsValidAt(time.Now())
}

// IsValidAt reports whether the code is unexpired at t.
func (c AuthorizationCode) IsValidAt(t time.Time) bool {
	return c.ExpiresAt.After(t)
}

// AccessToken is a credential for accessing protected resources.
type AccessToken struct {
	Token     string    `json:"token"`
	OwnerID   string    `json:"ownerId"`
	ClientID  string    `json:"clientId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Type      TokenType `json:"type"`
}

// PK implements storage.Model.
func (t AccessToken) PK() string {
	return t.Token
}

// IsValid reports whether the token has not yet expired.
func (t AccessToken) IsValid() bool {
	return t.IsValidAt(time.Now())
}

// IsValidAt reports whether the token is unexpired at now.
func (t AccessToken) IsValidAt(now time.Time) bool {
	return t.ExpiresAt.After(now)
}

// ExpiresIn returns the whole seconds remaining at now, as reported in the
// expires_in response parameter.
func (t AccessToken) ExpiresIn(now time.Time) int64 {
	secs := int64(t.ExpiresAt.Sub(now) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
