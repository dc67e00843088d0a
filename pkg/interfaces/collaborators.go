package interfaces

import (
	"context"

	"vibepie/pkg/types"
)

// Generator turns the current code and a natural-language request into new code.
// An error or an empty string is a failed attempt.
type Generator interface {
	Generate(ctx context.Context, currentCode, prompt string) (string, error)
}

// Validator decides whether generated code is safe to run on the displays.
type Validator interface {
	Validate(ctx context.Context, code string) types.ValidationResult
}

// Moderator is the content gate on the submission path.
type Moderator interface {
	Allow(prompt string) bool
}

// HistoryStore keeps the audit log of generation outcomes.
type HistoryStore interface {
	RecordGeneration(ctx context.Context, record *types.GenerationRecord) error
	RecentGenerations(ctx context.Context, limit int) ([]*types.GenerationRecord, error)
	SessionGenerations(ctx context.Context, sessionID string, limit int) ([]*types.GenerationRecord, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
