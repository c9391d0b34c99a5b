package storage

import (
	"errors"
	"fmt"
	"log/slog"
)

var errNotInitialized = errors.New("store is not initialized")

func NewStore(kind, path string) (Store, error) {
	return NewStoreWithLogger(kind, path, nil)
}

// NewStoreWithLogger builds a backend by name. path is the sqlite database
// file or the badger directory; badger with an empty path runs in memory.
func NewStoreWithLogger(kind, path string, logger *slog.Logger) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(path)
	case "badger":
		return NewBadgerStore(BadgerConfig{
			Path:       path,
			InMemory:   path == "",
			SyncWrites: path != "",
			Logger:     logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
