package store

import (
	"context"

	"alphaevolve/internal/model"
)

// Backend is the raw persistence layer underneath the ProgramStore. It
// stores program records by id and knows nothing about ranking, sampling,
// or population limits; the ProgramStore owns those and serializes all
// writes, so backends only need to be safe for concurrent readers.
type Backend interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, program model.Program) error
	Get(ctx context.Context, id string) (model.Program, bool, error)
	List(ctx context.Context) ([]model.Program, error)
	Delete(ctx context.Context, ids []string) error
}
