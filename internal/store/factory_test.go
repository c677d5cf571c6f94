package store

import (
	"errors"
	"testing"
)

func TestNewBackendKinds(t *testing.T) {
	for _, kind := range []string{"", "memory"} {
		backend, err := NewBackend(kind, "")
		if err != nil {
			t.Fatalf("kind %q: %v", kind, err)
		}
		if _, ok := backend.(*MemoryBackend); !ok {
			t.Fatalf("kind %q: got %T, want *MemoryBackend", kind, backend)
		}
	}

	if _, err := NewBackend("cassandra", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("unsupported kind: expected ErrInvalidArgument, got %v", err)
	}
}

func TestCloseIfSupportedIgnoresMemory(t *testing.T) {
	if err := CloseIfSupported(NewMemoryBackend()); err != nil {
		t.Fatalf("close: %v", err)
	}
}
