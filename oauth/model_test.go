package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientValidate(t *testing.T) {
	valid := Client{
		ID:           "web",
		Type:         ClientConfidential,
		Profile:      ProfileWeb,
		RedirectURI:  "https://app.example.com/callback?tenant=1",
		HashedSecret: "hash",
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Client)
	}{
		{"missing id", func(c *Client) { c.ID = "" }},
		{"unknown type", func(c *Client) { c.Type = "secret" }},
		{"unknown profile", func(c *Client) { c.Profile = "desktop" }},
		{"confidential without secret", func(c *Client) { c.HashedSecret = "" }},
		{"relative redirect", func(c *Client) { c.RedirectURI = "/callback" }},
		{"missing scheme", func(c *Client) { c.RedirectURI = "app.example.com/callback" }},
		{"userinfo", func(c *Client) { c.RedirectURI = "https://user:pw@app.example.com/" }},
		{"fragment", func(c *Client) { c.RedirectURI = "https://app.example.com/#frag" }},
		{"unparsable query", func(c *Client) { c.RedirectURI = "https://app.example.com/cb?x=1;y=2" }},
		{"bad query escape", func(c *Client) { c.RedirectURI = "https://app.example.com/cb?x=%zz" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidClientRegistration)
		})
	}

	public := Client{ID: "spa", Type: ClientPublic, Profile: ProfileUserAgent, RedirectURI: "http://localhost:3000"}
	assert.NoError(t, public.Validate(), "public clients do not need a secret")
	assert.False(t, public.IsConfidential())
	assert.True(t, valid.IsConfidential())
}

func TestAuthorizationCodeValidity(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := AuthorizationCode{Code: "abc", IssuedAt: issued, ExpiresAt: issued.Add(CodeTTL)}

	assert.True(t, c.IsValidAt(issued))
	assert.True(t, c.IsValidAt(issued.Add(CodeTTL-time.Nanosecond)))
	assert.False(t, c.IsValidAt(issued.Add(CodeTTL)), "expired at the expiration instant")
	assert.False(t, c.IsValidAt(issued.Add(time.Hour)))
	assert.Equal(t, "abc", c.PK())

	fresh := AuthorizationCode{ExpiresAt: time.Now().Add(time.Minute)}
	assert.True(t, fresh.IsValid())
	stale := AuthorizationCode{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.False(t, stale.IsValid())
}

func TestAccessTokenValidity(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := AccessToken{Token: "t", IssuedAt: issued, ExpiresAt: issued.Add(TokenTTL)}

	assert.True(t, tok.IsValidAt(issued))
	assert.False(t, tok.IsValidAt(issued.Add(TokenTTL)))
	assert.Equal(t, int64(3600), tok.ExpiresIn(issued))
	assert.Equal(t, int64(1800), tok.ExpiresIn(issued.Add(30*time.Minute)))
	assert.Equal(t, int64(0), tok.ExpiresIn(issued.Add(2*time.Hour)))
	assert.Equal(t, "t", tok.PK())
}
