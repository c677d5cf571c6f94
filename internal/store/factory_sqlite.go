//go:build sqlite

package store

func newSQLiteBackend(path string) (Backend, error) {
	return NewSQLiteBackend(path), nil
}

// DefaultBackendKind reports the preferred backend for this build.
func DefaultBackendKind() string {
	return "sqlite"
}
