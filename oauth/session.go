package oauth

import "context"

// Session looks up the resource owner authenticated on the current request.
type Session interface {
	// EndUser returns nil, nil when nobody is signed in.
	EndUser(ctx context.Context) (*ResourceOwner, error)
}

// SessionFunc adapts a function to the Session interface.
type SessionFunc func(ctx context.Context) (*ResourceOwner, error)

// EndUser implements Session.
func (f SessionFunc) EndUser(ctx context.Context) (*ResourceOwner, error) {
	return f(ctx)
}
