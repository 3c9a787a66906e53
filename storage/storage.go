package storage

import "sync"

// Storage persists the small set of strings the client needs across
// sessions (access/refresh tokens). The embedding application supplies it.
type Storage interface {
	GetString(key string) string
	SetString(key string, value string)
	Delete(key string)
}

const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

var (
	mu       sync.RWMutex
	_storage Storage = NewMemory()
)

func Set(s Storage) {
	mu.Lock()
	defer mu.Unlock()
	_storage = s
}

func Get() Storage {
	mu.RLock()
	defer mu.RUnlock()
	return _storage
}

// Memory is the default in-process Storage.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

func (m *Memory) GetString(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

func (m *Memory) SetString(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}
