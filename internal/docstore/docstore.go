// Package docstore persists local documents: a single serialized mapping from
// document id to encrypted payload, stored whole under one fixed storage key
// and rewritten wholesale on every mutation.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// storageKey is the one fixed key (or slot, or object name) the serialized
// map lives under, regardless of backend.
const storageKey = "vaultnotes:local-documents"

// Record is a locally persisted document. Content is the text-encoded
// encrypted payload; Name is optional display metadata.
type Record struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

var ErrNotFound = errors.New("document not found in local store")

// Store is the local document store contract. Save inserts-or-overwrites
// unconditionally; Update fails with ErrNotFound when no prior record exists,
// which is what distinguishes "create" call sites from "must already exist"
// ones. Reset is the only way records are ever deleted.
type Store interface {
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, id, content, name string) error
	Update(ctx context.Context, id, content, name string) error
	Reset(ctx context.Context) error
	Close() error
}

// blobReadWriter is the backend seam: one blob in, one blob out. found=false
// means the key has never been written.
type blobReadWriter interface {
	read(ctx context.Context) (data []byte, found bool, err error)
	write(ctx context.Context, data []byte) error
}

type store struct {
	rw blobReadWriter
}

// load deserializes the backing blob. A malformed blob yields an empty store:
// the corruption-tolerance policy prefers an empty but usable store over a
// propagated parse failure.
func (s *store) load(ctx context.Context) (map[string]Record, error) {
	data, found, err := s.rw.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read local store: %w", err)
	}
	if !found || len(data) == 0 {
		return map[string]Record{}, nil
	}
	records := map[string]Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return map[string]Record{}, nil
	}
	return records, nil
}

func (s *store) persist(ctx context.Context, records map[string]Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal local store: %w", err)
	}
	if err := s.rw.write(ctx, data); err != nil {
		return fmt.Errorf("write local store: %w", err)
	}
	return nil
}

func (s *store) Exists(ctx context.Context, id string) (bool, error) {
	records, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := records[id]
	return ok, nil
}

func (s *store) Get(ctx context.Context, id string) (Record, error) {
	records, err := s.load(ctx)
	if err != nil {
		return Record{}, err
	}
	record, ok := records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (s *store) Save(ctx context.Context, id, content, name string) error {
	records, err := s.load(ctx)
	if err != nil {
		return err
	}
	records[id] = Record{ID: id, Content: content, Name: name}
	return s.persist(ctx, records)
}

func (s *store) Update(ctx context.Context, id, content, name string) error {
	records, err := s.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := records[id]; !ok {
		return ErrNotFound
	}
	records[id] = Record{ID: id, Content: content, Name: name}
	return s.persist(ctx, records)
}

func (s *store) Reset(ctx context.Context) error {
	return s.persist(ctx, map[string]Record{})
}
