package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// File keeps values in a JSON object on disk and rewrites it on every change.
type File struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

func NewFile(path string) (*File, error) {
	f := &File{path: path, values: map[string]string{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %v: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.values); err != nil {
			return nil, fmt.Errorf("cannot parse %v: %w", path, err)
		}
	}
	return f, nil
}

func (f *File) GetString(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key]
}

func (f *File) SetString(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.saveLocked()
}

func (f *File) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	f.saveLocked()
}

func (f *File) saveLocked() {
	data, err := json.Marshal(f.values)
	if err != nil {
		log.WithError(err).Error("cannot marshal storage")
		return
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		log.WithError(err).Error("cannot create storage dir")
		return
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		log.WithError(err).Error("cannot write storage")
	}
}
