// Package memorystore implements storage.Store in a purely in-memory manner.
// Data is lost when the process exits, which makes it a good fit for tests
// and single instance development servers.
package memorystore

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/storage"
)

// New returns a store that provides transient, in-memory storage.
func New() storage.Store {
	return &store{
		data: map[string]map[string][]byte{},
	}
}

type store struct {
	// data[tableName][pk] = JSON
	data map[string]map[string][]byte
	mu   sync.RWMutex
}

func (s *store) Create(_ context.Context, models ...storage.Model) error {
	encoded, err := encode(models)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range models {
		if _, ok := s.data[storage.Name(m)][m.PK()]; ok {
			return errors.Mark(storage.ErrAlreadyExists, 0).Append(m.PK())
		}
		// Catch duplicates within the same batch.
		for _, prev := range models[:i] {
			if prev.PK() == m.PK() && storage.Name(prev) == storage.Name(m) {
				return errors.Mark(storage.ErrAlreadyExists, 0).Append(m.PK())
			}
		}
	}
	s.put(models, encoded)
	return nil
}

func (s *store) Read(_ context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	s.mu.RLock()
	value, ok := s.data[storage.Name(model)][id]
	s.mu.RUnlock()
	if !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	if err := json.Unmarshal(value, model); err != nil {
		return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return nil
}

func (s *store) Update(_ context.Context, models ...storage.Model) error {
	encoded, err := encode(models)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range models {
		if _, ok := s.data[storage.Name(m)][m.PK()]; !ok {
			return errors.Mark(storage.ErrNotFound, 0).Append(m.PK())
		}
	}
	s.put(models, encoded)
	return nil
}

func (s *store) Upsert(_ context.Context, models ...storage.Model) error {
	encoded, err := encode(models)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(models, encoded)
	return nil
}

func (s *store) Delete(_ context.Context, model storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := storage.Name(model)
	if _, ok := s.data[n][model.PK()]; !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	delete(s.data[n], model.PK())
	return nil
}

// List always performs a full scan of all items, returning them sorted by
// primary key.
func (s *store) List(_ context.Context, models any, filter storage.Model) error {
	sliceVal, err := storage.ValidateList(models, filter)
	if err != nil {
		return err
	}
	elemType := sliceVal.Type().Elem()

	s.mu.RLock()
	defer s.mu.RUnlock()

	table := s.data[storage.Name(filter)]
	pks := make([]string, 0, len(table))
	for pk := range table {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	for _, pk := range pks {
		elemPtr := reflect.New(elemType)
		if err := json.Unmarshal(table[pk], elemPtr.Interface()); err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		elem := elemPtr.Elem()

		match := true
		storage.FilterFields(filter, func(name string, want reflect.Value) {
			if !reflect.DeepEqual(elem.FieldByName(name).Interface(), want.Interface()) {
				match = false
			}
		})
		if match {
			sliceVal.Set(reflect.Append(sliceVal, elem))
		}
	}
	return nil
}

func (s *store) Exists(_ context.Context, id string, model storage.Model) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[storage.Name(model)][id]
	return ok, nil
}

// put writes pre-encoded models. Callers must hold the write lock.
func (s *store) put(models []storage.Model, encoded [][]byte) {
	for i, m := range models {
		n := storage.Name(m)
		if s.data[n] == nil {
			s.data[n] = map[string][]byte{}
		}
		s.data[n][m.PK()] = encoded[i]
	}
}

func encode(models []storage.Model) ([][]byte, error) {
	out := make([][]byte, len(models))
	for i, m := range models {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		out[i] = b
	}
	return out, nil
}
