package storage

import (
	"context"
	"errors"

	"audiogene/internal/model"
)

var ErrRunNotFound = errors.New("run not found")

// Store persists performance runs and the outcome of every generation.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run, most recently started first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	// AppendGeneration records one generation of an existing run.
	AppendGeneration(ctx context.Context, record model.GenerationRecord) error
	// GetGenerations returns a run's generations in order. A positive limit
	// keeps only the latest limit records.
	GetGenerations(ctx context.Context, runID string, limit int) ([]model.GenerationRecord, error)
}
