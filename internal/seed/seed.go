// Package seed fills a development database with plausible applications and
// security history. It is intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/abuse"
	"github.com/Grisenxx/divisionwebsite/internal/catalog"
	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"
	"github.com/Grisenxx/divisionwebsite/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Options controls a seeding run.
type Options struct {
	Applications int
	Violations   int
	Clean        bool
	// MaxAge spreads CreatedAt over this window before now.
	MaxAge time.Duration
}

// Seeder writes generated rows through the regular repositories.
type Seeder struct {
	db       *gorm.DB
	catalog  *catalog.Catalog
	apps     repository.ApplicationRepository
	detector *abuse.Detector
	fake     *gofakeit.Faker
	now      func() time.Time
}

// NewSeeder returns a Seeder. A zero seed draws from a random source.
func NewSeeder(db *gorm.DB, cat *catalog.Catalog, seed int64) *Seeder {
	return &Seeder{
		db:       db,
		catalog:  cat,
		apps:     repository.NewApplicationRepository(db),
		detector: abuse.NewDetector(repository.NewSecurityRepository(db), abuse.Config{}),
		fake:     gofakeit.New(seed),
		now:      time.Now,
	}
}

// Run executes opts.
func (s *Seeder) Run(ctx context.Context, opts Options) error {
	if opts.Clean {
		if err := s.ClearAll(ctx); err != nil {
			return err
		}
	}
	apps, err := s.SeedApplications(ctx, opts.Applications, opts.MaxAge)
	if err != nil {
		return err
	}
	if err := s.SeedViolations(ctx, opts.Violations); err != nil {
		return err
	}
	middleware.Logger.Info("seed complete",
		slog.Int("applications", len(apps)),
		slog.Int("violations", opts.Violations),
	)
	return nil
}

// ClearAll deletes every application, violation and block.
func (s *Seeder) ClearAll(ctx context.Context) error {
	for _, m := range []any{&models.Application{}, &models.SecurityViolation{}, &models.BlockedIP{}} {
		if err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
			return fmt.Errorf("clear %T: %w", m, err)
		}
	}
	return nil
}

// SeedApplications creates n applications spread across the catalog types.
// Roughly half stay pending; the rest are decided by a fake reviewer.
func (s *Seeder) SeedApplications(ctx context.Context, n int, maxAge time.Duration) ([]models.Application, error) {
	if len(s.catalog.Types) == 0 || n <= 0 {
		return nil, nil
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}

	now := s.now()
	out := make([]models.Application, 0, n)
	for i := 0; i < n; i++ {
		t := s.catalog.Types[s.fake.Number(0, len(s.catalog.Types)-1)]
		app := s.BuildApplication(t, s.fake.DateRange(now.Add(-maxAge), now))
		if err := s.apps.Create(ctx, &app); err != nil {
			return out, fmt.Errorf("create application: %w", err)
		}

		if status := s.pickStatus(); status != models.ApplicationStatusPending {
			change := models.StatusChange{
				Status:        status,
				DecidedAt:     app.CreatedAt.Add(time.Duration(s.fake.Number(1, 48)) * time.Hour),
				DecidedByID:   s.snowflake(),
				DecidedByName: s.fake.Username(),
			}
			if status == models.ApplicationStatusRejected {
				change.RejectionReason = s.fake.Sentence(8)
			}
			if _, err := s.apps.UpdateStatus(ctx, app.ID, []models.ApplicationStatus{models.ApplicationStatusPending}, change); err != nil {
				return out, fmt.Errorf("decide application: %w", err)
			}
			app.Status = status
		}
		out = append(out, app)
	}
	return out, nil
}

// BuildApplication returns a pending application of type t whose fields
// satisfy t's form.
func (s *Seeder) BuildApplication(t catalog.Type, createdAt time.Time) models.Application {
	fields := make(models.Fields, 0, len(t.Fields))
	for _, f := range t.Fields {
		fields = append(fields, models.Field{Key: f.ID, Value: s.fieldValue(f)})
	}
	return models.Application{
		ID:            uuid.NewString(),
		Type:          t.ID,
		ApplicantID:   s.snowflake(),
		ApplicantName: s.fake.Username(),
		Fields:        fields,
		Status:        models.ApplicationStatusPending,
		CreatedAt:     createdAt,
	}
}

func (s *Seeder) fieldValue(f catalog.Field) string {
	switch f.Type {
	case "number":
		low := 15
		if f.Min != nil {
			low = *f.Min
		}
		return strconv.Itoa(s.fake.Number(low, low+25))
	case "select":
		if len(f.Options) > 0 {
			return s.fake.RandomString(f.Options)
		}
		return s.fake.Word()
	case "textarea":
		return s.fake.Paragraph(1, 3, 12, " ")
	default:
		return s.fake.Name()
	}
}

func (s *Seeder) pickStatus() models.ApplicationStatus {
	switch r := s.fake.Number(1, 100); {
	case r <= 50:
		return models.ApplicationStatusPending
	case r <= 80:
		return models.ApplicationStatusApproved
	default:
		return models.ApplicationStatusRejected
	}
}

// snowflake returns an 18 digit Discord-style id.
func (s *Seeder) snowflake() string {
	return strconv.Itoa(s.fake.Number(1, 9)) + s.fake.Numerify("#################")
}

var seededCategories = []models.ViolationCategory{
	models.ViolationMalicious,
	models.ViolationRateLimit,
	models.ViolationDuplicate,
}

// SeedViolations records n violations from a small pool of addresses through
// the abuse detector, so repeat offenders get blocked the way live traffic
// would.
func (s *Seeder) SeedViolations(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	pool := make([]string, 0, 4)
	for i := 0; i < cap(pool); i++ {
		pool = append(pool, s.fake.IPv4Address())
	}
	for i := 0; i < n; i++ {
		ip := pool[s.fake.Number(0, len(pool)-1)]
		category := seededCategories[s.fake.Number(0, len(seededCategories)-1)]
		if _, err := s.detector.RecordViolation(ctx, ip, s.snowflake(), category); err != nil {
			return err
		}
	}
	return nil
}
