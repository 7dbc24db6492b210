/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartauth

import (
	"context"
	"sync"
)

// Storage persists authorization states by key.
// Get returns ErrStateNotFound if there is no state for the key.
type Storage interface {
	Get(ctx context.Context, key string) (*State, error)
	Set(ctx context.Context, key string, state *State) error
	Unset(ctx context.Context, key string) error
}

// InMemoryStorage is a Storage that keeps copies of states in memory.
type InMemoryStorage struct {
	mu    sync.RWMutex
	items map[string]*State
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{items: make(map[string]*State)}
}

func (s *InMemoryStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]string, 0, len(s.items))
	for k := range s.items {
		result = append(result, k)
	}
	return result
}

func (s *InMemoryStorage) Get(_ context.Context, key string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, found := s.items[key]
	if !found {
		return nil, ErrStateNotFound
	}
	return item.clone(), nil
}

func (s *InMemoryStorage) Set(_ context.Context, key string, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = state.clone()
	return nil
}

func (s *InMemoryStorage) Unset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}
