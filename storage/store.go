// Package storage is a small record store abstraction used to persist clients,
// authorization codes and access tokens.
//
// Records are structs with a `PK() string` method. They are serialized as JSON
// and grouped by a table name derived from the struct name, see Name.
//
//	store := memorystore.New()
//	err := store.Create(ctx, client)
//	err = store.Read(ctx, "client-1", &client)
package storage

import (
	"context"

	"github.com/dpup/authorizer/errors"
	"google.golang.org/grpc/codes"
)

var (
	// Returned when a record does not exist.
	ErrNotFound = errors.NewC("record not found", codes.NotFound)

	// Returned when a record conflicts with an existing key.
	ErrAlreadyExists = errors.NewC("primary key already exists", codes.AlreadyExists)

	// Returned when List is called with a non-slice.
	ErrSliceRequired = errors.NewC("pointer slice required", codes.InvalidArgument)

	// Returned when a store can not marshal/unmarshal a model.
	ErrInvalidModel = errors.NewC("invalid model", codes.InvalidArgument)

	// Returned when List is called with a filter and slice of mismatching types.
	ErrTypeMismatch = errors.NewC("type mismatch", codes.InvalidArgument)

	// Returned when a store is passed an uninitialized pointer.
	ErrNilModel = errors.NewC("uninitialized pointer passed as model", codes.InvalidArgument)
)

// Store offers a basic CRUUDLE (Create Read Update Upsert Delete List Exists)
// interface. Implementations must be safe for concurrent use.
type Store interface {
	// Create multiple entities. Fails with ErrAlreadyExists if any exist.
	Create(ctx context.Context, models ...Model) error

	// Read a record with the given id.
	Read(ctx context.Context, id string, model Model) error

	// Update multiple entities.
	Update(ctx context.Context, models ...Model) error

	// Update or insert multiple entities.
	Upsert(ctx context.Context, models ...Model) error

	// Delete a record. Only the primary key needs to be populated. Exactly one
	// of any number of concurrent deletes of the same record succeeds, the
	// others get ErrNotFound.
	Delete(ctx context.Context, model Model) error

	// List populates the slice of models with records that have fields which
	// match the fields of filter. Zero-value fields will be ignored, unless the
	// field is a pointer.
	List(ctx context.Context, models any, filter Model) error

	// Exists returns true if a record with the given id exists.
	Exists(ctx context.Context, id string, model Model) (bool, error)
}

// ModelInitializer is implemented by stores that support per-model
// configuration, for example a table per model in SQL databases.
type ModelInitializer interface {
	// InitModel is called before a model is used. Stores still work without
	// initialization, however data will be stored in a shared table.
	InitModel(ctx context.Context, model Model) error
}

// InitModels initializes each model if the store supports it.
func InitModels(ctx context.Context, s Store, models ...Model) error {
	i, ok := s.(ModelInitializer)
	if !ok {
		return nil
	}
	for _, m := range models {
		if err := i.InitModel(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
