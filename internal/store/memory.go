package store

import (
	"context"
	"errors"
	"sync"

	"alphaevolve/internal/model"
)

// MemoryBackend keeps the population in process memory. Used for tests and
// for throwaway runs; a process restart loses the population.
type MemoryBackend struct {
	mu       sync.RWMutex
	programs map[string]model.Program
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Init(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.programs = make(map[string]model.Program)
	return nil
}

func (b *MemoryBackend) Put(_ context.Context, program model.Program) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.programs == nil {
		return errors.New("backend is not initialized")
	}
	b.programs[program.ID] = program
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, id string) (model.Program, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	program, ok := b.programs[id]
	return program, ok, nil
}

func (b *MemoryBackend) List(_ context.Context) ([]model.Program, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	programs := make([]model.Program, 0, len(b.programs))
	for _, program := range b.programs {
		programs = append(programs, program)
	}
	return programs, nil
}

func (b *MemoryBackend) Delete(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range ids {
		delete(b.programs, id)
	}
	return nil
}
