package models

import "time"

// ViolationCategory classifies a recorded security violation.
type ViolationCategory string

const (
	ViolationMassMention   ViolationCategory = "mass_mention_spam"
	ViolationMalicious     ViolationCategory = "malicious_content"
	ViolationRateLimit     ViolationCategory = "rate_limit"
	ViolationDuplicate     ViolationCategory = "duplicate_submission"
	violationSeverityOther                   = 1
)

// Severity returns the informational severity of c, highest first:
// mass mention (10) > malicious content (8) > rate limit (5) > duplicate (3).
func (c ViolationCategory) Severity() int {
	switch c {
	case ViolationMassMention:
		return 10
	case ViolationMalicious:
		return 8
	case ViolationRateLimit:
		return 5
	case ViolationDuplicate:
		return 3
	default:
		return violationSeverityOther
	}
}

// Valid reports whether c is a known category.
func (c ViolationCategory) Valid() bool {
	return c.Severity() != violationSeverityOther
}

// SecurityViolation is an append-only record of abusive behaviour.
type SecurityViolation struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	IP          string            `gorm:"size:64;not null;index" json:"ip"`
	ApplicantID string            `gorm:"size:20" json:"discordId,omitempty"`
	Category    ViolationCategory `gorm:"type:varchar(32);not null" json:"violationType"`
	Severity    int               `gorm:"not null" json:"severity"`
	CreatedAt   time.Time         `gorm:"not null;index" json:"timestamp"`
}

// BlockedIP marks a source address as refused.
type BlockedIP struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	IP          string    `gorm:"size:64;not null;index" json:"ip"`
	ApplicantID string    `gorm:"size:20" json:"discordId,omitempty"`
	Reason      string    `gorm:"type:text;not null" json:"reason"`
	BlockedAt   time.Time `gorm:"not null;index" json:"blockedAt"`
	ExpiresAt   time.Time `gorm:"not null" json:"expiresAt"`
	Permanent   bool      `gorm:"not null;default:false" json:"permanent"`
}

// ActiveAt reports whether the block is in force at t.
func (b BlockedIP) ActiveAt(t time.Time) bool {
	return b.Permanent || !b.ExpiresAt.Before(t)
}

// ViolationSummary groups the violations recorded for one IP.
type ViolationSummary struct {
	IP              string              `json:"ip"`
	ApplicantID     string              `json:"discordId,omitempty"`
	TotalViolations int                 `json:"totalViolations"`
	LastViolation   time.Time           `json:"lastViolation"`
	Violations      []SecurityViolation `json:"violations"`
}
