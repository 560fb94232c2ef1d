package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Application{}, &models.SecurityViolation{}, &models.BlockedIP{}))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return gormDB, mock
}

var baseTime = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func newApplication(appType, applicantID, name string, createdAt time.Time) *models.Application {
	return &models.Application{
		ID:            uuid.NewString(),
		Type:          appType,
		ApplicantID:   applicantID,
		ApplicantName: name,
		Fields: models.Fields{
			{Key: "alder", Value: "19"},
			{Key: "karakter_navn", Value: "Test Testsen"},
		},
		Status:    models.ApplicationStatusPending,
		CreatedAt: createdAt,
	}
}

func TestApplicationRepository_CreateAndGet(t *testing.T) {
	repo := NewApplicationRepository(setupTestDB(t))
	ctx := context.Background()

	app := newApplication("whitelist", "123456789012345678", "tester", baseTime)
	require.NoError(t, repo.Create(ctx, app))

	got, err := repo.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusPending, got.Status)
	assert.Equal(t, []string{"alder", "karakter_navn"}, got.Fields.Keys())
	assert.Nil(t, got.UpdatedAt)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestApplicationRepository_UpdateStatusIsConditional(t *testing.T) {
	repo := NewApplicationRepository(setupTestDB(t))
	ctx := context.Background()

	app := newApplication("staff", "123456789012345678", "tester", baseTime)
	require.NoError(t, repo.Create(ctx, app))

	pending := []models.ApplicationStatus{models.ApplicationStatusPending}
	ok, err := repo.UpdateStatus(ctx, app.ID, pending, models.StatusChange{
		Status:          models.ApplicationStatusRejected,
		RejectionReason: "nej",
		DecidedAt:       baseTime.Add(time.Hour),
		DecidedByID:     "223456789012345678",
		DecidedByName:   "admin",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, app.ID, pending, models.StatusChange{
		Status:    models.ApplicationStatusApproved,
		DecidedAt: baseTime.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusRejected, got.Status)
	assert.Equal(t, "nej", got.RejectionReason)
	assert.Equal(t, "admin", got.UpdatedByName)
	require.NotNil(t, got.UpdatedAt)

	ok, err = repo.UpdateStatus(ctx, uuid.NewString(), pending, models.StatusChange{Status: models.ApplicationStatusApproved})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplicationRepository_ConcurrentUpdatesOneWins(t *testing.T) {
	repo := NewApplicationRepository(setupTestDB(t))
	ctx := context.Background()

	app := newApplication("bande", "123456789012345678", "tester", baseTime)
	require.NoError(t, repo.Create(ctx, app))

	statuses := []models.ApplicationStatus{models.ApplicationStatusApproved, models.ApplicationStatusRejected}
	results := make([]bool, len(statuses))
	var wg sync.WaitGroup
	for i, s := range statuses {
		wg.Add(1)
		go func(i int, s models.ApplicationStatus) {
			defer wg.Done()
			ok, err := repo.UpdateStatus(ctx, app.ID, []models.ApplicationStatus{models.ApplicationStatusPending},
				models.StatusChange{Status: s, DecidedAt: baseTime})
			assert.NoError(t, err)
			results[i] = ok
		}(i, s)
	}
	wg.Wait()

	wins := 0
	var winner models.ApplicationStatus
	for i, ok := range results {
		if ok {
			wins++
			winner = statuses[i]
		}
	}
	assert.Equal(t, 1, wins)

	got, err := repo.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, got.Status)
}

func TestApplicationRepository_ListFiltersAndOrders(t *testing.T) {
	repo := NewApplicationRepository(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newApplication("whitelist", fmt.Sprintf("12345678901234567%d", i), "w", baseTime.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, repo.Create(ctx, newApplication("staff", "123456789012345670", "s", baseTime)))

	apps, err := repo.List(ctx, ListFilter{Types: []string{"whitelist"}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "123456789012345672", apps[0].ApplicantID)
	assert.Equal(t, "123456789012345671", apps[1].ApplicantID)

	apps, err = repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, apps)

	apps, err = repo.List(ctx, ListFilter{Types: []string{"whitelist", "staff"}, Status: models.ApplicationStatusPending})
	require.NoError(t, err)
	assert.Len(t, apps, 4)
}

func TestApplicationRepository_Search(t *testing.T) {
	repo := NewApplicationRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newApplication("whitelist", "111111111111111111", "Mads_Hansen", baseTime)))
	require.NoError(t, repo.Create(ctx, newApplication("whitelist", "222222222222222222", "MadsXHansen", baseTime.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newApplication("staff", "333333333333333333", "mads", baseTime)))

	tests := []struct {
		name  string
		query string
		types []string
		want  int
	}{
		{name: "case insensitive name", query: "MADS", types: []string{"whitelist", "staff"}, want: 3},
		{name: "underscore is literal", query: "s_h", types: []string{"whitelist"}, want: 1},
		{name: "percent is literal", query: "%", types: []string{"whitelist"}, want: 0},
		{name: "by id", query: "2222", types: []string{"whitelist"}, want: 1},
		{name: "type scoped", query: "mads", types: []string{"staff"}, want: 1},
		{name: "no types", query: "mads", types: nil, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			apps, err := repo.Search(ctx, tc.query, tc.types, 50)
			require.NoError(t, err)
			assert.Len(t, apps, tc.want)
		})
	}
}

func TestApplicationRepository_LatestForApplicant(t *testing.T) {
	repo := NewApplicationRepository(setupTestDB(t))
	ctx := context.Background()

	got, err := repo.LatestForApplicant(ctx, "123456789012345678", "whitelist")
	require.NoError(t, err)
	assert.Nil(t, got)

	older := newApplication("whitelist", "123456789012345678", "t", baseTime)
	newer := newApplication("whitelist", "123456789012345678", "t", baseTime.Add(time.Hour))
	other := newApplication("staff", "123456789012345678", "t", baseTime.Add(2*time.Hour))
	for _, a := range []*models.Application{older, newer, other} {
		require.NoError(t, repo.Create(ctx, a))
	}

	got, err = repo.LatestForApplicant(ctx, "123456789012345678", "whitelist")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)

	n, err := repo.CountByStatus(ctx, "whitelist", models.ApplicationStatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.CountByStatus(ctx, "", models.ApplicationStatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestApplicationRepository_GetByIDDatabaseError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewApplicationRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "applications"`).WillReturnError(fmt.Errorf("connection reset"))

	_, err := repo.GetByID(context.Background(), uuid.NewString())
	assert.True(t, models.HasCode(err, models.CodeInternal))
	assert.NoError(t, mock.ExpectationsWereMet())
}
