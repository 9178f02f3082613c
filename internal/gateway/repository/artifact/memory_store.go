package artifact

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Object)}
}

func (s *MemoryStore) Put(_ context.Context, obj Object) error {
	obj, err := validate(obj)
	if err != nil {
		return err
	}
	obj.Data = append([]byte(nil), obj.Data...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[obj.Key] = obj
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Object, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return Object{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.data[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, nil
}

// URL is always empty; callers fall back to the gateway download route.
func (s *MemoryStore) URL(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), "/")
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 16)
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}
