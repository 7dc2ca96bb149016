// Package credstore serialises access to persisted credentials (OAuth tokens,
// login sessions) so that concurrent requests never interleave a read-modify-write
// on the same key.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Backend stores opaque blobs by key. Read must return an error matching
// os.ErrNotExist when the key is absent. Write must never leave a partial value.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

type Store struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]chan struct{}
}

func New(backend Backend) *Store {
	return &Store{backend: backend, locks: make(map[string]chan struct{})}
}

// Tx is the exclusive scope handed to With. It is only valid inside the callback.
type Tx struct {
	ctx   context.Context
	store *Store
	key   string
}

func (s *Store) lockFor(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[key] = l
	}
	return l
}

// With runs fn while holding the lock for key. Waiting for the lock honours ctx.
func (s *Store) With(ctx context.Context, key string, fn func(tx *Tx) error) error {
	l := s.lockFor(key)
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("credstore lock %s: %w", key, ctx.Err())
	}
	defer func() { <-l }()
	return fn(&Tx{ctx: ctx, store: s, key: key})
}

func (tx *Tx) Key() string { return tx.key }

// Read returns the stored value; ok is false when nothing is stored yet.
func (tx *Tx) Read() ([]byte, bool, error) {
	b, err := tx.store.backend.Read(tx.ctx, tx.key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("credstore read %s: %w", tx.key, err)
	}
	return b, true, nil
}

func (tx *Tx) Write(data []byte) error {
	if err := tx.store.backend.Write(tx.ctx, tx.key, data); err != nil {
		return fmt.Errorf("credstore write %s: %w", tx.key, err)
	}
	return nil
}

func (tx *Tx) ReadJSON(out any) (bool, error) {
	b, ok, err := tx.Read()
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("credstore decode %s: %w", tx.key, err)
	}
	return true, nil
}

func (tx *Tx) WriteJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return tx.Write(b)
}
