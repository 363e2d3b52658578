package store

import (
	"context"

	"github.com/me/rumpsched/pkg/model"
)

// Store defines the persistence layer for recorded scheduler runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	FinishRun(ctx context.Context, run *model.Run) error

	// Switch events
	AppendEvents(ctx context.Context, runID string, events []model.SwitchEvent) error
	ListEvents(ctx context.Context, runID string, opts model.ListOptions) ([]model.SwitchEvent, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
