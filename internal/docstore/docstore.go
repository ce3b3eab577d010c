// Package docstore persists one JSON document per concern under a single
// directory. Operations are serialized per file name so concurrent
// read-modify-write cycles against the same document cannot interleave, and
// every write lands via temp-file-then-rename so a crash mid-write never
// leaves a truncated document behind.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Store reads and writes JSON documents under one directory.
type Store struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the backing directory if needed and returns a Store.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create docstore dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the full path of a named document.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// ReadJSON loads the named document into out. A missing document returns an
// error satisfying errors.Is(err, os.ErrNotExist).
func (s *Store) ReadJSON(ctx context.Context, name string, out any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	data, err := s.readLocked(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// WriteJSON persists v as the named document atomically.
func (s *Store) WriteJSON(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	return s.writeLocked(name, v)
}

// Update applies fn to the named document and persists the result, all under
// the document's lock so concurrent read-modify-write cycles cannot
// interleave. fn receives nil raw bytes when the document does not exist
// yet, and its returned value replaces the document.
func (s *Store) Update(ctx context.Context, name string, fn func(raw []byte) (any, error)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	raw, err := s.readLocked(name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		raw = nil
	}
	next, err := fn(raw)
	if err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	return s.writeLocked(name, next)
}

func (s *Store) readLocked(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (s *Store) writeLocked(name string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp for %s: %w", name, err)
	}
	return nil
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}
