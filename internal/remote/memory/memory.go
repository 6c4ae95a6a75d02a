// Package memory is an in-process remote.DocumentStore used by tests and by
// single-device setups.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"bilancio/internal/remote"
)

type Store struct {
	mu   sync.RWMutex
	docs map[string][]byte

	// FailPut, when set, is consulted before every Put.
	FailPut func(path string) error
	// FailList, when set, is returned by List.
	FailList error
}

func New() *Store {
	return &Store{docs: make(map[string][]byte)}
}

func (s *Store) Put(ctx context.Context, path string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailPut != nil {
		if err := s.FailPut(path); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = append([]byte(nil), body...)
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]remote.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FailList != nil {
		return nil, s.FailList
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []remote.Document
	for p, body := range s.docs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, remote.Document{Path: p, Body: append([]byte(nil), body...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[path]; !ok {
		return remote.ErrNotFound
	}
	delete(s.docs, path)
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Raw returns the body stored at path.
func (s *Store) Raw(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.docs[path]
	return b, ok
}
