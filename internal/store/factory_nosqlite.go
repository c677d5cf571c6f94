//go:build !sqlite

package store

import "fmt"

func newSQLiteBackend(_ string) (Backend, error) {
	return nil, fmt.Errorf("sqlite backend unavailable in this build; rebuild with -tags sqlite")
}

// DefaultBackendKind reports the preferred backend for this build.
func DefaultBackendKind() string {
	return "memory"
}
