package contract

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	UpsertBatch(ctx context.Context, contracts []*CachedContract) error
	// FindLatestByGroup prefers active contracts, then the latest period end.
	// It returns (nil, nil) when the group has no contract.
	FindLatestByGroup(ctx context.Context, groupID string) (*CachedContract, error)
	Count(ctx context.Context) (int, error)
}

type SyncStatusRepository interface {
	StartRun(ctx context.Context) (*SyncRun, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, p SyncProgress) error
	FinishRun(ctx context.Context, id uuid.UUID, status string, p SyncProgress, errText *string) error
	// Latest returns (nil, nil) when no run was recorded.
	Latest(ctx context.Context) (*SyncRun, error)
}
