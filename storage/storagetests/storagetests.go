// Package storagetests provides common acceptance tests for storage.Store
// implementations.
package storagetests

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type Kind int

const (
	KindCode    Kind = 1
	KindToken   Kind = 2
	KindRefresh Kind = 3
)

type Grant struct {
	ID       string
	ClientID string
	Kind     Kind
	Uses     *int // Ptr fields allow filtering on zero values.
}

func (g Grant) PK() string {
	return g.ID
}

type Client struct {
	ID   string
	Name string
}

func (c Client) PK() string {
	return c.ID
}

type BadModel struct {
	ID    string
	Cycle *BadModel
}

func (b BadModel) PK() string {
	return b.ID
}

func pint(i int) *int {
	return &i
}

//nolint:funlen // This is a test helper.
func Run(t *testing.T, newStore func() storage.Store) {
	ctx := context.Background()

	t.Run("CreateReadRoundTrip", func(t *testing.T) {
		code := Grant{ID: "g1", ClientID: "web", Kind: KindCode}
		token := Grant{ID: "g2", ClientID: "spa", Kind: KindToken}

		store := newStore()
		require.NoError(t, store.Create(ctx, code, token))

		var got Grant
		require.NoError(t, store.Read(ctx, "g1", &got))
		assert.Equal(t, code, got)

		require.NoError(t, store.Read(ctx, "g2", &got))
		assert.Equal(t, token, got)
	})

	t.Run("ModelsAreNamespaced", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Grant{ID: "same", ClientID: "web"}, Client{ID: "same", Name: "Web"}))

		var c Client
		require.NoError(t, store.Read(ctx, "same", &c))
		assert.Equal(t, "Web", c.Name)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Grant{ID: "g1", Kind: KindCode}))

		err := store.Create(ctx, Grant{ID: "g1", Kind: KindToken})
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		var got Grant
		require.NoError(t, store.Read(ctx, "g1", &got))
		assert.Equal(t, KindCode, got.Kind, "conflicting create should not overwrite")
	})

	t.Run("CreateBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm

		err := newStore().Create(ctx, bm)
		require.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("ReadNotFound", func(t *testing.T) {
		store := newStore()
		require.ErrorIs(t, store.Read(ctx, "g1", &Grant{}), storage.ErrNotFound)

		require.NoError(t, store.Create(ctx, &Grant{ID: "g1"}))
		require.ErrorIs(t, store.Read(ctx, "g2", &Grant{}), storage.ErrNotFound)
	})

	t.Run("ReadWithNilPointer", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Grant{ID: "g1"}))

		var g *Grant
		require.ErrorIs(t, store.Read(ctx, "g1", g), storage.ErrNilModel)
	})

	t.Run("Update", func(t *testing.T) {
		g := Grant{ID: "g1", ClientID: "web", Kind: KindCode}

		store := newStore()
		require.NoError(t, store.Create(ctx, g))

		g.Uses = pint(1)
		require.NoError(t, store.Update(ctx, g))

		var got Grant
		require.NoError(t, store.Read(ctx, "g1", &got))
		assert.Equal(t, g, got)
	})

	t.Run("UpdateNotExists", func(t *testing.T) {
		err := newStore().Update(ctx, Grant{ID: "g1"})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm

		err := newStore().Update(ctx, bm)
		require.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("Upsert", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Grant{ID: "g1", Kind: KindCode}))

		code := Grant{ID: "g1", Kind: KindRefresh}
		token := Grant{ID: "g2", Kind: KindToken}
		require.NoError(t, store.Upsert(ctx, code, token))

		var got Grant
		require.NoError(t, store.Read(ctx, "g1", &got))
		assert.Equal(t, code, got)
		require.NoError(t, store.Read(ctx, "g2", &got))
		assert.Equal(t, token, got)
	})

	t.Run("UpsertBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm

		err := newStore().Upsert(ctx, bm)
		require.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, &Grant{ID: "g4"}))

		exists, err := store.Exists(ctx, "g4", &Grant{})
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, store.Delete(ctx, &Grant{ID: "g4"}))

		exists, err = store.Exists(ctx, "g4", &Grant{})
		require.NoError(t, err)
		assert.False(t, exists)

		require.ErrorIs(t, store.Delete(ctx, &Grant{ID: "g4"}), storage.ErrNotFound)
	})

	t.Run("ConcurrentDeleteHasOneWinner", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Grant{ID: "contested"}))

		var wins atomic.Int32
		var g errgroup.Group
		for range 8 {
			g.Go(func() error {
				err := store.Delete(ctx, Grant{ID: "contested"})
				if err == nil {
					wins.Add(1)
					return nil
				}
				if errors.Is(err, storage.ErrNotFound) {
					return nil
				}
				return err
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("ListErrorCases", func(t *testing.T) {
		store := newStore()
		out := []Grant{}

		tests := []struct {
			name    string
			models  any
			filter  storage.Model
			wantErr error
		}{
			{"Ok", &out, Grant{}, nil},
			{"Not a slice", Grant{}, Grant{}, storage.ErrSliceRequired},
			{"Not a pointer", out, Grant{}, storage.ErrSliceRequired},
			{"Mismatched type", &out, Client{}, storage.ErrTypeMismatch},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := store.List(ctx, tt.models, tt.filter)
				if tt.wantErr == nil {
					require.NoError(t, err)
				} else {
					require.ErrorIs(t, err, tt.wantErr)
				}
			})
		}
	})

	t.Run("List", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Grant{"1", "web", KindCode, nil},
			Grant{"2", "spa", KindToken, nil},
			Grant{"3", "cli", KindRefresh, nil},
		))

		actual := []Grant{}
		require.NoError(t, store.List(ctx, &actual, Grant{}))

		assert.Equal(t, []Grant{
			{"1", "web", KindCode, nil},
			{"2", "spa", KindToken, nil},
			{"3", "cli", KindRefresh, nil},
		}, actual)
	})

	t.Run("ListFilter", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Grant{"1", "web", KindCode, nil},
			Grant{"2", "spa", KindToken, nil},
			Grant{"3", "web", KindToken, nil},
			Grant{"4", "cli", KindCode, nil},
			Grant{"5", "web", KindCode, nil},
		))

		actual := []Grant{}
		require.NoError(t, store.List(ctx, &actual, Grant{ClientID: "web", Kind: KindCode}))

		assert.Equal(t, []Grant{
			{"1", "web", KindCode, nil},
			{"5", "web", KindCode, nil},
		}, actual)
	})

	t.Run("ListFilterZero", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Grant{"1", "web", KindCode, pint(4)},
			Grant{"2", "web", KindCode, pint(3)},
			Grant{"3", "web", KindCode, pint(0)},
			Grant{"4", "spa", KindToken, pint(0)},
			Grant{"5", "spa", KindToken, nil},
		))

		actual := []Grant{}
		require.NoError(t, store.List(ctx, &actual, Grant{Uses: pint(0)}))

		assert.Equal(t, []Grant{
			{"3", "web", KindCode, pint(0)},
			{"4", "spa", KindToken, pint(0)},
		}, actual)
	})

	t.Run("Exists", func(t *testing.T) {
		store := newStore()
		exists, err := store.Exists(ctx, "3", &Grant{})
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, store.Create(ctx, &Grant{ID: "3"}))

		exists, err = store.Exists(ctx, "3", &Grant{})
		require.NoError(t, err)
		assert.True(t, exists)
	})
}
