package oauth

import (
	"context"
	"time"
)

// Storage persists clients, authorization codes and access tokens. All
// methods may fail with ErrStorage. Implementations must be safe for
// concurrent use.
type Storage interface {
	StoreAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// FetchAuthorizationCode returns the code or ErrNotFound. Callers still
	// need to check IsValid.
	FetchAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically removes and returns the code. Of any
	// number of consumers of the same code, at most one succeeds and the
	// others get ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	StoreAccessToken(ctx context.Context, token *AccessToken) error

	// FetchAccessToken returns the token or ErrNotFound.
	FetchAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// FetchClient returns the client or ErrNotFound.
	FetchClient(ctx context.Context, id string) (*Client, error)
}

// ClientRegistry is implemented by storage that can register clients, used to
// bootstrap clients from configuration.
type ClientRegistry interface {
	RegisterClient(ctx context.Context, client *Client) error
}

// Purger is implemented by storage that needs expired codes and tokens
// removed periodically. It returns the number of records removed.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
