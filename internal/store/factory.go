package store

import "fmt"

// NewBackend builds a persistence backend by kind. An empty kind selects the
// in-memory backend.
func NewBackend(kind, sqlitePath string) (Backend, error) {
	switch kind {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "sqlite":
		return newSQLiteBackend(sqlitePath)
	default:
		return nil, fmt.Errorf("%w: unsupported backend: %s", ErrInvalidArgument, kind)
	}
}

// CloseIfSupported closes backends that hold external resources.
func CloseIfSupported(backend Backend) error {
	closer, ok := backend.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
