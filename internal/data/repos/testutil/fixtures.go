package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	types "github.com/yungbote/conceptgraph/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func SeedLoadRun(tb testing.TB, ctx context.Context, tx *gorm.DB, status string, startedAt time.Time) *types.LoadRun {
	tb.Helper()
	run := &types.LoadRun{
		ID:         uuid.New(),
		Mode:       "all",
		Formats:    "ReadV2",
		StagingDir: "/tmp/staging",
		Status:     status,
		Stage:      types.LoadRunStageDone,
		Counts:     datatypes.JSON([]byte("{}")),
		StartedAt:  startedAt,
	}
	if err := tx.WithContext(ctx).Create(run).Error; err != nil {
		tb.Fatalf("seed load run: %v", err)
	}
	return run
}
