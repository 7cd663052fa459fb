package session

import (
	"context"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/storage"
)

// Blocklist records sessions that were ended before their tokens expired.
type Blocklist interface {
	// IsBlocked checks if the session with the given token ID is blocked.
	IsBlocked(ctx context.Context, id string) (bool, error)

	// Block adds a session's token ID to the blocklist.
	Block(ctx context.Context, id string) error
}

// NewBlocklist creates a Blocklist backed by a storage.Store.
func NewBlocklist(store storage.Store) Blocklist {
	return &storeBlocklist{store: store}
}

type storeBlocklist struct {
	store storage.Store
}

func (b *storeBlocklist) IsBlocked(ctx context.Context, id string) (bool, error) {
	return b.store.Exists(ctx, id, &RevokedSession{})
}

func (b *storeBlocklist) Block(ctx context.Context, id string) error {
	err := b.store.Create(ctx, &RevokedSession{ID: id})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil
	}
	return err
}

// RevokedSession is the stored record of a blocked session.
type RevokedSession struct {
	ID string
}

// PK implements storage.Model.
func (r *RevokedSession) PK() string {
	return r.ID
}
