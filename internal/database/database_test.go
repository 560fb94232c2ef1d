package database

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/config"
	"github.com/Grisenxx/divisionwebsite/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func testMigrations(t *testing.T) []Migration {
	t.Helper()
	fsys := fstest.MapFS{
		"m/000001_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
		"m/000001_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
		"m/000002_gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id INTEGER PRIMARY KEY);")},
		"m/000002_gadgets.down.sql": {Data: []byte("DROP TABLE gadgets;")},
	}
	ms, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	return ms
}

func TestConfigurePool(t *testing.T) {
	db := openSQLite(t)

	err := configurePool(db, &config.Config{DBMaxOpenConns: 10, DBMaxIdleConns: 5, DBConnMaxLifetimeMinutes: 15})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestConfigurePool_Defaults(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, configurePool(db, &config.Config{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 25, sqlDB.Stats().MaxOpenConnections)
}

func TestDSN(t *testing.T) {
	dsn := DSN(&config.Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "division"})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=division sslmode=disable", dsn)

	dsn = DSN(&config.Config{DBHost: "db", DBPort: "5432", DBSSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}

func TestPersistentModels(t *testing.T) {
	ms := PersistentModels()
	require.Len(t, ms, 3)
	assert.IsType(t, &models.Application{}, ms[0])
	assert.IsType(t, &models.SecurityViolation{}, ms[1])
	assert.IsType(t, &models.BlockedIP{}, ms[2])

	db := openSQLite(t)
	require.NoError(t, db.AutoMigrate(ms...))
}

func TestEmbeddedMigrations(t *testing.T) {
	ms := GetMigrations()
	require.Len(t, ms, 2)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, 2, ms[1].Version)
	for _, m := range ms {
		assert.NotEmpty(t, m.UpScript, m.String())
		assert.NotEmpty(t, m.DownScript, m.String())
	}

	assert.Equal(t, "000001_create_applications", GetMigrationByVersion(1).String())
	assert.Nil(t, GetMigrationByVersion(99))
}

func TestLoadMigrations_Errors(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
		want string
	}{
		{
			name: "missing down",
			fsys: fstest.MapFS{"m/000001_a.up.sql": {Data: []byte("SELECT 1;")}},
			want: "down migration",
		},
		{
			name: "bad version",
			fsys: fstest.MapFS{
				"m/abc_a.up.sql":   {Data: []byte("SELECT 1;")},
				"m/abc_a.down.sql": {Data: []byte("SELECT 1;")},
			},
			want: "invalid version",
		},
		{
			name: "no name",
			fsys: fstest.MapFS{"m/000001.up.sql": {Data: []byte("SELECT 1;")}},
			want: "expected NNNNNN_name",
		},
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"m/000001_a.up.sql":   {Data: []byte("SELECT 1;")},
				"m/000001_a.down.sql": {Data: []byte("SELECT 1;")},
				"m/1_b.up.sql":        {Data: []byte("SELECT 1;")},
				"m/1_b.down.sql":      {Data: []byte("SELECT 1;")},
			},
			want: "used by",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMigrations(tt.fsys, "m")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMigrator_UpAndRollback(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	m := NewMigrator(db, testMigrations(t))

	applied, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, applied)
	assert.True(t, db.Migrator().HasTable("widgets"))
	assert.True(t, db.Migrator().HasTable("gadgets"))

	again, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, m.Rollback(ctx, 2))
	assert.False(t, db.Migrator().HasTable("gadgets"))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Version)

	err = m.Rollback(ctx, 2)
	assert.ErrorContains(t, err, "has not been applied")
	assert.ErrorContains(t, m.Rollback(ctx, 42), "not found")
}

func TestMigrator_FailedMigrationNotRecorded(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	ms := append(testMigrations(t), Migration{Version: 3, Name: "broken", UpScript: "CREATE TABL nope;", DownScript: "SELECT 1;"})
	m := NewMigrator(db, ms)

	applied, err := m.Up(ctx)
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, applied)

	versions, err := m.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)
}

func TestMigrator_UnknownAppliedVersion(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	m := NewMigrator(db, testMigrations(t))
	_, err := m.Up(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Create(&MigrationLog{Version: 7, Name: "ghost", AppliedAt: time.Now()}).Error)
	_, err = m.Up(ctx)
	assert.ErrorContains(t, err, "000007")
}

func TestValidateAppliedVersions(t *testing.T) {
	registered := []Migration{{Version: 1}, {Version: 2}}
	assert.NoError(t, validateAppliedVersions([]int{1, 2}, registered))
	assert.NoError(t, validateAppliedVersions(nil, registered))

	err := validateAppliedVersions([]int{1, 9, 5}, registered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000005, 000009")
}

func TestPlanSchema(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		want    SchemaPlan
		wantErr bool
	}{
		{"default dev is hybrid", config.Config{Env: "development"}, SchemaPlan{Mode: SchemaModeHybrid, RunSQL: true, RunAuto: true}, false},
		{"hybrid prod skips auto", config.Config{Env: "production", DBSchemaMode: "hybrid"}, SchemaPlan{Mode: SchemaModeHybrid, RunSQL: true}, false},
		{"sql only", config.Config{Env: "development", DBSchemaMode: "SQL"}, SchemaPlan{Mode: SchemaModeSQL, RunSQL: true}, false},
		{"auto dev", config.Config{Env: "development", DBSchemaMode: "auto"}, SchemaPlan{Mode: SchemaModeAuto, RunAuto: true}, false},
		{"auto staging refused", config.Config{Env: "staging", DBSchemaMode: "auto"}, SchemaPlan{}, true},
		{"auto prod allowed", config.Config{Env: "production", DBSchemaMode: "auto", DBAutoMigrateAllowDestructive: true}, SchemaPlan{Mode: SchemaModeAuto, RunAuto: true}, false},
		{"unknown mode", config.Config{DBSchemaMode: "yolo"}, SchemaPlan{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanSchema(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplySchema_AutoMode(t *testing.T) {
	db := openSQLite(t)
	cfg := &config.Config{Env: "test", DBSchemaMode: SchemaModeAuto}

	require.NoError(t, ApplySchema(context.Background(), db, cfg))
	assert.True(t, db.Migrator().HasTable(&models.Application{}))
	assert.False(t, db.Migrator().HasTable(&MigrationLog{}))

	status, err := GetSchemaStatus(context.Background(), db, cfg)
	require.NoError(t, err)
	assert.False(t, status.RunSQL)
	assert.Empty(t, status.PendingMigrations)
}

func TestCustomGormLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	l := NewGormLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	fc := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), fc, nil)
	assert.Empty(t, buf.String())

	l.Trace(context.Background(), time.Now(), fc, gorm.ErrInvalidData)
	assert.Contains(t, buf.String(), "GORM query error")

	buf.Reset()
	l.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	buf.Reset()
	l.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	assert.Contains(t, buf.String(), "GORM slow query")

	buf.Reset()
	l.LogMode(logger.Silent).Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	assert.Empty(t, buf.String())
}
