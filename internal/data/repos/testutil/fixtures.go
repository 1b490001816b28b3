package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/dubbing-backend/internal/domain"
)

func SeedBalance(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, balance int64) *types.CreditBalance {
	tb.Helper()
	now := time.Now().UTC()
	row := &types.CreditBalance{
		ID:        uuid.New(),
		UserID:    userID,
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed balance: %v", err)
	}
	return row
}

func BalanceOf(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID) int64 {
	tb.Helper()
	var row types.CreditBalance
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&row).Error; err != nil {
		tb.Fatalf("load balance: %v", err)
	}
	return row.Balance
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID, externalJobID string, status types.JobStatus) *types.Job {
	tb.Helper()
	now := time.Now().UTC()
	job := &types.Job{
		ID:            uuid.New(),
		OwnerUserID:   ownerUserID,
		ExternalJobID: externalJobID,
		Service:       "dubbing",
		Status:        status,
		Languages:     datatypes.JSONSlice[string]{"spanish"},
		Parameters:    datatypes.NewJSONType(types.JobParameters{SourceURL: "https://example.com/in.mp4", DurationSeconds: 60}),
		Cost:          7,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.WithContext(ctx).Create(job).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return job
}

func LoadJob(tb testing.TB, ctx context.Context, tx *gorm.DB, id uuid.UUID) *types.Job {
	tb.Helper()
	var job types.Job
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		tb.Fatalf("load job: %v", err)
	}
	return &job
}

func Ptr[T any](v T) *T { return &v }
