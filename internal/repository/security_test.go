package repository

import (
	"context"
	"testing"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityRepository_Violations(t *testing.T) {
	repo := NewSecurityRepository(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordViolation(ctx, &models.SecurityViolation{
			IP:        "10.0.0.1",
			Category:  models.ViolationRateLimit,
			Severity:  models.ViolationRateLimit.Severity(),
			CreatedAt: baseTime.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, repo.RecordViolation(ctx, &models.SecurityViolation{
		IP:        "10.0.0.2",
		Category:  models.ViolationDuplicate,
		Severity:  3,
		CreatedAt: baseTime,
	}))

	n, err := repo.CountViolationsSince(ctx, "10.0.0.1", baseTime.Add(30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	list, err := repo.ListViolations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))

	deleted, err := repo.DeleteViolations(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	list, err = repo.ListViolations(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSecurityRepository_Blocks(t *testing.T) {
	repo := NewSecurityRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.CreateBlock(ctx, &models.BlockedIP{
		IP:        "10.0.0.1",
		Reason:    "expired",
		BlockedAt: baseTime.Add(-10 * 24 * time.Hour),
		ExpiresAt: baseTime.Add(-3 * 24 * time.Hour),
	}))

	b, err := repo.ActiveBlock(ctx, "10.0.0.1", baseTime)
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, repo.CreateBlock(ctx, &models.BlockedIP{
		IP:        "10.0.0.1",
		Reason:    "mass mention",
		BlockedAt: baseTime,
		ExpiresAt: baseTime,
		Permanent: true,
	}))

	b, err = repo.ActiveBlock(ctx, "10.0.0.1", baseTime.Add(365*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Permanent)

	require.NoError(t, repo.CreateBlock(ctx, &models.BlockedIP{
		IP:        "10.0.0.2",
		Reason:    "threshold",
		BlockedAt: baseTime,
		ExpiresAt: baseTime.Add(7 * 24 * time.Hour),
	}))

	blocks, err := repo.ListBlocks(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, blocks, 3)

	n, err := repo.DeleteBlocks(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.DeleteAllBlocks(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
