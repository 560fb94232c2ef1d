// Package abuse records security violations and maintains the IP block list.
package abuse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"
	"github.com/Grisenxx/divisionwebsite/internal/observability"
	"github.com/Grisenxx/divisionwebsite/internal/repository"
)

const (
	// ViolationListLimit bounds the violations returned to admin tooling.
	ViolationListLimit = 200
	// RecentViolationLimit bounds the "recent" slice of the admin report.
	RecentViolationLimit = 50
	// BlockListLimit bounds the block records returned to admin tooling.
	BlockListLimit = 100
)

// Config holds the auto-block policy.
type Config struct {
	Threshold     int
	Window        time.Duration
	BlockDuration time.Duration
}

// DefaultConfig blocks after 5 violations in 24 hours for 7 days.
func DefaultConfig() Config {
	return Config{
		Threshold:     5,
		Window:        24 * time.Hour,
		BlockDuration: 7 * 24 * time.Hour,
	}
}

// BlockStatus is the result of a block check.
type BlockStatus struct {
	Blocked bool
	Reason  string
	Block   *models.BlockedIP
}

// Detector decides when a source crosses the auto-block threshold.
type Detector struct {
	repo repository.SecurityRepository
	cfg  Config
	now  func() time.Time
}

// NewDetector returns a Detector. Zero config fields take their defaults.
func NewDetector(repo repository.SecurityRepository, cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	return &Detector{repo: repo, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// IsBlocked reports whether ip is under an active block. Store errors are
// logged and treated as not blocked.
func (d *Detector) IsBlocked(ctx context.Context, ip string) BlockStatus {
	block, err := d.repo.ActiveBlock(ctx, ip, d.now())
	if err != nil {
		middleware.Logger.WarnContext(ctx, "block check failed, allowing request",
			slog.String("ip", middleware.MaskIP(ip)),
			slog.String("error", err.Error()),
		)
		return BlockStatus{}
	}
	if block == nil {
		return BlockStatus{}
	}
	return BlockStatus{Blocked: true, Reason: block.Reason, Block: block}
}

// RecordViolation appends a violation and blocks ip when the trailing window
// count reaches the threshold or the category is mass mention spam. It
// reports whether a block was created.
func (d *Detector) RecordViolation(ctx context.Context, ip, applicantID string, category models.ViolationCategory) (bool, error) {
	if !category.Valid() {
		return false, fmt.Errorf("unknown violation category %q", category)
	}

	now := d.now()
	v := &models.SecurityViolation{
		IP:          ip,
		ApplicantID: applicantID,
		Category:    category,
		Severity:    category.Severity(),
		CreatedAt:   now,
	}
	if err := d.repo.RecordViolation(ctx, v); err != nil {
		return false, fmt.Errorf("record violation: %w", err)
	}
	observability.ViolationsTotal.WithLabelValues(string(category)).Inc()

	middleware.Logger.WarnContext(ctx, "security violation",
		slog.String("ip", middleware.MaskIP(ip)),
		slog.String("category", string(category)),
		slog.Int("severity", v.Severity),
	)

	if category == models.ViolationMassMention {
		return true, d.block(ctx, ip, applicantID, "Mass mention spam attempt", true)
	}

	count, err := d.repo.CountViolationsSince(ctx, ip, now.Add(-d.cfg.Window))
	if err != nil {
		return false, fmt.Errorf("count violations: %w", err)
	}
	if count < int64(d.cfg.Threshold) {
		return false, nil
	}

	reason := fmt.Sprintf("Automatic block: %d violations within %s", count, d.cfg.Window)
	return true, d.block(ctx, ip, applicantID, reason, false)
}

func (d *Detector) block(ctx context.Context, ip, applicantID, reason string, permanent bool) error {
	now := d.now()
	b := &models.BlockedIP{
		IP:          ip,
		ApplicantID: applicantID,
		Reason:      reason,
		BlockedAt:   now,
		ExpiresAt:   now.Add(d.cfg.BlockDuration),
		Permanent:   permanent,
	}
	if err := d.repo.CreateBlock(ctx, b); err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	observability.BlocksTotal.WithLabelValues(strconv.FormatBool(permanent)).Inc()
	middleware.Logger.WarnContext(ctx, "ip blocked",
		slog.String("ip", middleware.MaskIP(ip)),
		slog.String("reason", reason),
		slog.Bool("permanent", permanent),
	)
	return nil
}

// UnblockResult reports what an unblock removed.
type UnblockResult struct {
	BlocksRemoved     int64 `json:"blocksRemoved"`
	ViolationsRemoved int64 `json:"violationsRemoved"`
}

// Unblock removes every block for ip and, optionally, its violation history.
func (d *Detector) Unblock(ctx context.Context, ip string, clearViolations bool) (UnblockResult, error) {
	var res UnblockResult
	n, err := d.repo.DeleteBlocks(ctx, ip)
	if err != nil {
		return res, fmt.Errorf("delete blocks: %w", err)
	}
	res.BlocksRemoved = n

	if clearViolations {
		n, err = d.repo.DeleteViolations(ctx, ip)
		if err != nil {
			return res, fmt.Errorf("delete violations: %w", err)
		}
		res.ViolationsRemoved = n
	}

	middleware.Logger.InfoContext(ctx, "ip unblocked",
		slog.String("ip", middleware.MaskIP(ip)),
		slog.Int64("blocks_removed", res.BlocksRemoved),
		slog.Int64("violations_removed", res.ViolationsRemoved),
	)
	return res, nil
}

// UnblockAll removes every block record.
func (d *Detector) UnblockAll(ctx context.Context) (int64, error) {
	return d.repo.DeleteAllBlocks(ctx)
}

// ViolationReport is the admin view of recent violations.
type ViolationReport struct {
	Summary []models.ViolationSummary  `json:"summary"`
	Recent  []models.SecurityViolation `json:"recentViolations"`
	Total   int                        `json:"totalViolations"`
}

// Violations returns the newest violations grouped by IP, most active first.
func (d *Detector) Violations(ctx context.Context) (ViolationReport, error) {
	list, err := d.repo.ListViolations(ctx, ViolationListLimit)
	if err != nil {
		return ViolationReport{}, err
	}

	byIP := make(map[string]*models.ViolationSummary)
	var order []string
	for _, v := range list {
		s, ok := byIP[v.IP]
		if !ok {
			s = &models.ViolationSummary{IP: v.IP, ApplicantID: v.ApplicantID}
			byIP[v.IP] = s
			order = append(order, v.IP)
		}
		s.TotalViolations++
		s.Violations = append(s.Violations, v)
		if v.CreatedAt.After(s.LastViolation) {
			s.LastViolation = v.CreatedAt
		}
		if s.ApplicantID == "" {
			s.ApplicantID = v.ApplicantID
		}
	}

	summary := make([]models.ViolationSummary, 0, len(order))
	for _, ip := range order {
		summary = append(summary, *byIP[ip])
	}
	sort.SliceStable(summary, func(i, j int) bool {
		return summary[i].TotalViolations > summary[j].TotalViolations
	})

	recent := list
	if len(recent) > RecentViolationLimit {
		recent = recent[:RecentViolationLimit]
	}

	return ViolationReport{Summary: summary, Recent: recent, Total: len(list)}, nil
}

// BlockReport is the admin view of block records.
type BlockReport struct {
	Blocks      []models.BlockedIP `json:"blockedIPs"`
	ActiveCount int                `json:"activeBlocks"`
}

// Blocks returns the newest block records.
func (d *Detector) Blocks(ctx context.Context) (BlockReport, error) {
	list, err := d.repo.ListBlocks(ctx, BlockListLimit)
	if err != nil {
		return BlockReport{}, err
	}
	now := d.now()
	active := 0
	for _, b := range list {
		if b.ActiveAt(now) {
			active++
		}
	}
	return BlockReport{Blocks: list, ActiveCount: active}, nil
}
