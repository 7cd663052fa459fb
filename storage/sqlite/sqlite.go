// Package sqlite provides a SQLite implementation of the storage.Store
// interface.
//
// Examples:
//
//	store, err := sqlite.SafeNew("file:authorizer.db", sqlite.WithPrefix("az_"))
//
//	store := sqlite.New(":memory:")
//
//nolint:gosec // Reports on G202. SQL string concat used to parameterize table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/storage"
	"github.com/mattn/go-sqlite3"
)

// Option is a functional option for configuring the store.
type Option func(*store)

// WithPrefix overrides the default prefix for table names.
func WithPrefix(prefix string) Option {
	return func(s *store) {
		s.prefix = prefix
	}
}

// New returns a store that provides sqlite backed storage. It panics if the
// database can not be opened.
func New(dsn string, opts ...Option) storage.Store {
	s, err := SafeNew(dsn, opts...)
	if err != nil {
		panic(err.Error())
	}
	return s
}

// SafeNew is like New but returns errors instead of panicking. The default
// table is created optimistically.
func SafeNew(dsn string, opts ...Option) (storage.Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed to open sqlite connection", 0)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across callers.
	db.SetMaxOpenConns(1)

	s := &store{
		db:     db,
		prefix: "az_",
		tables: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureDefaultTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

type store struct {
	db     *sql.DB
	prefix string
	tables map[string]bool
}

// InitModel creates a dedicated table for the model.
func (s *store) InitModel(ctx context.Context, model storage.Model) error {
	name := storage.Name(model)
	if err := s.ensureTable(ctx, name); err != nil {
		return err
	}
	s.tables[name] = true
	return nil
}

func (s *store) Create(ctx context.Context, models ...storage.Model) error {
	return s.insert(ctx, false, models...)
}

func (s *store) Read(ctx context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	query, args := s.byID(model, "SELECT value FROM %s", id)
	var value []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		return translateError(err)
	}
	if err := json.Unmarshal(value, model); err != nil {
		return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return nil
}

func (s *store) Update(ctx context.Context, models ...storage.Model) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, model := range models {
			value, err := json.Marshal(model)
			if err != nil {
				return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
			}
			query, args := s.byID(model, "UPDATE %s SET value = ?, updated_at = CURRENT_TIMESTAMP", model.PK())
			res, err := prepareAndExec(ctx, tx, query, append([]any{value}, args...)...)
			if err != nil {
				return translateError(err)
			}
			if i, err := res.RowsAffected(); i == 0 || err != nil {
				return errors.Mark(storage.ErrNotFound, 0).Append(model.PK())
			}
		}
		return nil
	})
}

func (s *store) Upsert(ctx context.Context, models ...storage.Model) error {
	return s.insert(ctx, true, models...)
}

// Delete relies on the affected row count, so only one of several racing
// deletes of the same record reports success.
func (s *store) Delete(ctx context.Context, model storage.Model) error {
	query, args := s.byID(model, "DELETE FROM %s", model.PK())
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	if i, err := res.RowsAffected(); i == 0 || err != nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	return nil
}

func (s *store) List(ctx context.Context, models any, filter storage.Model) error {
	sliceVal, err := storage.ValidateList(models, filter)
	if err != nil {
		return err
	}
	elemType := sliceVal.Type().Elem()

	query, args := s.buildListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return translateError(err)
		}
		elem := reflect.New(elemType).Elem()
		if err := json.Unmarshal(value, elem.Addr().Interface()); err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).
				Append(err.Error()).
				Append(fmt.Sprintf("<%s>", value))
		}
		sliceVal.Set(reflect.Append(sliceVal, elem))
	}
	return translateError(rows.Err())
}

func (s *store) Exists(ctx context.Context, id string, model storage.Model) (bool, error) {
	query, args := s.byID(model, "SELECT COUNT(*) FROM %s", id)
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, translateError(err)
	}
	return count > 0, nil
}

func (s *store) tableName(model storage.Model) (string, bool) {
	name := storage.Name(model)
	if !s.tables[name] {
		return s.prefix + "default", true
	}
	return s.prefix + name, false
}

// byID expands a statement template with the model's table and appends a
// WHERE clause selecting a single record.
func (s *store) byID(model storage.Model, tmpl string, id string) (string, []any) {
	tableName, isDefault := s.tableName(model)
	query := fmt.Sprintf(tmpl, tableName)
	if isDefault {
		return query + " WHERE id = ? AND entity_type = ?", []any{id, storage.Name(model)}
	}
	return query + " WHERE id = ?", []any{id}
}

func (s *store) insert(ctx context.Context, upsert bool, models ...storage.Model) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, model := range models {
			value, err := json.Marshal(model)
			if err != nil {
				return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
			}

			var query string
			var args []any
			if tableName, isDefault := s.tableName(model); isDefault {
				query = `INSERT INTO ` + tableName + ` (id, entity_type, value, created_at, updated_at)
					VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
				if upsert {
					query += ` ON CONFLICT(id, entity_type) DO UPDATE SET
						value = excluded.value, updated_at = CURRENT_TIMESTAMP`
				}
				args = []any{model.PK(), storage.Name(model), value}
			} else {
				query = `INSERT INTO ` + tableName + ` (id, value, created_at, updated_at)
					VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
				if upsert {
					query += ` ON CONFLICT(id) DO UPDATE SET
						value = excluded.value, updated_at = CURRENT_TIMESTAMP`
				}
				args = []any{model.PK(), value}
			}
			if _, err := prepareAndExec(ctx, tx, query, args...); err != nil {
				return translateError(err)
			}
		}
		return nil
	})
}

func (s *store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return translateError(err)
	}
	return nil
}

func (s *store) ensureDefaultTable() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ` + s.prefix + `default (
		id TEXT,
		entity_type TEXT,
		value BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, entity_type)
	);`)
	if err != nil {
		return errors.WrapPrefix(err, "failed to create default table", 0)
	}
	return nil
}

func (s *store) ensureTable(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.prefix+name+` (
		id TEXT,
		value BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id)
	);`)
	if err != nil {
		return errors.Errorf("failed to create table [%s]: %w", name, err)
	}
	return nil
}

func (s *store) buildListQuery(filter storage.Model) (string, []any) {
	tableName, isDefault := s.tableName(filter)

	var where []string
	var args []any
	if isDefault {
		where = append(where, "entity_type = ?")
		args = append(args, storage.Name(filter))
	}
	storage.FilterFields(filter, func(name string, value reflect.Value) {
		where = append(where, fmt.Sprintf("json_extract(value, '$.%s') = ?", name))
		args = append(args, value.Interface())
	})

	query := "SELECT value FROM " + tableName
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY id", args
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrNotFound:
			return errors.Mark(storage.ErrNotFound, 0)
		case sqlite3.ErrConstraint:
			return errors.Mark(storage.ErrAlreadyExists, 0)
		}
	}
	return errors.MaybeWrap(err, 0)
}

func prepareAndExec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return stmt.ExecContext(ctx, args...)
}
