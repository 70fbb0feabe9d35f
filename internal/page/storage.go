package page

import (
	"errors"
	"sync"
)

// ErrStorageDisabled mirrors a browser that refuses storage access.
var ErrStorageDisabled = errors.New("storage disabled")

// Storage is the key/value surface of local and session storage.
type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
}

// MemoryStorage is an in-process Storage. A non-nil Err makes every call fail.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
	Err   error
}

func NewMemoryStorage(items map[string]string) *MemoryStorage {
	s := &MemoryStorage{items: make(map[string]string, len(items))}
	for k, v := range items {
		s.items[k] = v
	}
	return s
}

func (s *MemoryStorage) GetItem(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return "", false, s.Err
	}
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.items == nil {
		s.items = map[string]string{}
	}
	s.items[key] = value
	return nil
}
