package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Grisenxx/divisionwebsite/internal/catalog"
	"github.com/Grisenxx/divisionwebsite/internal/dispatch"
	"github.com/Grisenxx/divisionwebsite/internal/integrity"
	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"
	"github.com/Grisenxx/divisionwebsite/internal/observability"
	"github.com/Grisenxx/divisionwebsite/internal/policy"
	"github.com/Grisenxx/divisionwebsite/internal/ratelimit"
	"github.com/Grisenxx/divisionwebsite/internal/repository"
	"github.com/Grisenxx/divisionwebsite/internal/sanitize"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultCooldown is the minimum time between two applications of the
	// same type from one applicant.
	DefaultCooldown = 24 * time.Hour

	// MaxRejectionReasonLength bounds rejection reasons, in characters.
	MaxRejectionReasonLength = 1000
	// MaxSearchQueryLength bounds search queries, in characters.
	MaxSearchQueryLength = 100
	// ListLimit bounds listings.
	ListLimit = 100
	// SearchLimit bounds search results.
	SearchLimit = 50

	maxApplicantNameLength = 100
)

// Live feed event types.
const (
	EventApplicationSubmitted = "application_submitted"
	EventApplicationDecided   = "application_decided"
)

var (
	snowflakeRe   = regexp.MustCompile(`^\d{17,19}$`)
	searchQueryRe = regexp.MustCompile(`^[a-zA-Z0-9#_\s]+$`)
)

// SideEffects performs the Discord effects of a decision.
type SideEffects interface {
	Dispatch(ctx context.Context, app *models.Application) []dispatch.Outcome
	Audit(ctx context.Context, app *models.Application, by *models.Principal) dispatch.Outcome
}

// EventPublisher forwards application events to the reviewer live feed.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// ApplicationDeps are the collaborators of ApplicationService.
type ApplicationDeps struct {
	Applications repository.ApplicationRepository
	Catalog      *catalog.Catalog
	Policy       *policy.Policy
	Gate         *Gate
	SideEffects  SideEffects
	Events       EventPublisher
	Cooldown     time.Duration
}

// ApplicationService implements submission, review listing and the decision
// state machine.
type ApplicationService struct {
	apps     repository.ApplicationRepository
	catalog  *catalog.Catalog
	policy   *policy.Policy
	gate     *Gate
	effects  SideEffects
	events   EventPublisher
	cooldown time.Duration
	now      func() time.Time
}

// NewApplicationService returns an ApplicationService.
func NewApplicationService(deps ApplicationDeps) *ApplicationService {
	cooldown := deps.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &ApplicationService{
		apps:     deps.Applications,
		catalog:  deps.Catalog,
		policy:   deps.Policy,
		gate:     deps.Gate,
		effects:  deps.SideEffects,
		events:   deps.Events,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *ApplicationService) SetClock(now func() time.Time) {
	s.now = now
}

// SubmitInput is a new application.
type SubmitInput struct {
	Type   string        `json:"type"`
	Fields models.Fields `json:"fields"`
}

// Submit stores a new pending application for the verified principal. body
// is the raw JSON SubmitInput; it is decoded only after the caller is admitted.
func (s *ApplicationService) Submit(ctx context.Context, req Request, body []byte) (app *models.Application, err error) {
	var in SubmitInput
	ctx, span := observability.StartSpan(ctx, "application.Submit")
	defer func() {
		observability.SubmissionsTotal.WithLabelValues(metricType(s.catalog, in.Type), outcome(err)).Inc()
		observability.EndSpan(span, err)
	}()

	principal, err := s.gate.Admit(ctx, req, ratelimit.SubmitRule)
	if err != nil {
		return nil, err
	}
	ctx = middleware.WithPrincipalID(ctx, principal.ID)

	if err := json.Unmarshal(body, &in); err != nil {
		return nil, models.NewValidationError("Ugyldig JSON")
	}
	span.SetAttributes(attribute.String("application.type", in.Type))

	t, ok := s.catalog.Get(in.Type)
	if !ok {
		return nil, models.NewValidationError("Ugyldig ansøgningstype")
	}
	if !snowflakeRe.MatchString(principal.ID) {
		return nil, models.NewValidationError("Ugyldigt Discord ID format")
	}

	clean := make(models.Fields, 0, len(in.Fields))
	for _, f := range in.Fields {
		clean = append(clean, models.Field{Key: f.Key, Value: sanitize.Sanitize(f.Value)})
	}
	if err := t.Validate(clean); err != nil {
		return nil, err
	}

	findings := sanitize.Inspect(principal.Username)
	for _, f := range in.Fields {
		findings = findings.Merge(sanitize.Inspect(f.Value))
	}
	if findings.MassMention {
		s.gate.violation(ctx, req.IP, principal.ID, models.ViolationMassMention)
		return nil, models.NewBlockedError("mass mention attempt")
	}
	if findings.Markup {
		s.gate.violation(ctx, req.IP, principal.ID, models.ViolationMalicious)
	}

	now := s.now()
	latest, err := s.apps.LatestForApplicant(ctx, principal.ID, t.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		if remaining := latest.CreatedAt.Add(s.cooldown).Sub(now); remaining > 0 {
			s.gate.violation(ctx, req.IP, principal.ID, models.ViolationDuplicate)
			appErr := models.NewRateLimitedError("Du har allerede ansøgt inden for de sidste 24 timer", remaining)
			appErr.TimeRemaining = hoursHint(remaining)
			return nil, appErr
		}
	}

	app = &models.Application{
		ID:              uuid.NewString(),
		Type:            t.ID,
		ApplicantID:     principal.ID,
		ApplicantName:   truncate(sanitize.Sanitize(principal.Username), maxApplicantNameLength),
		ApplicantAvatar: principal.Avatar,
		Fields:          t.Order(clean),
		Status:          models.ApplicationStatusPending,
		CreatedAt:       now,
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return nil, err
	}

	middleware.Logger.InfoContext(ctx, "application submitted",
		slog.String("application_id", app.ID),
		slog.String("type", app.Type),
	)
	s.publish(ctx, EventApplicationSubmitted, app)
	return app, nil
}

// CooldownStatus tells an applicant whether they may apply for a type.
type CooldownStatus struct {
	CanApply      bool   `json:"canApply"`
	TimeRemaining string `json:"timeRemaining,omitempty"`
}

// Cooldown reports whether the principal may submit appType now.
func (s *ApplicationService) Cooldown(ctx context.Context, req Request, appType string) (CooldownStatus, error) {
	principal, err := s.gate.Verify(ctx, req)
	if err != nil {
		return CooldownStatus{}, err
	}
	if _, ok := s.catalog.Get(appType); !ok {
		return CooldownStatus{}, models.NewValidationError("Ugyldig ansøgningstype")
	}

	latest, err := s.apps.LatestForApplicant(ctx, principal.ID, appType)
	if err != nil {
		return CooldownStatus{}, err
	}
	if latest == nil {
		return CooldownStatus{CanApply: true}, nil
	}
	remaining := latest.CreatedAt.Add(s.cooldown).Sub(s.now())
	if remaining <= 0 {
		return CooldownStatus{CanApply: true}, nil
	}
	return CooldownStatus{CanApply: false, TimeRemaining: hoursHint(remaining)}, nil
}

// List returns the newest applications the principal may review, optionally
// restricted to appType.
func (s *ApplicationService) List(ctx context.Context, req Request, appType string) ([]models.Application, error) {
	principal, err := s.gate.Admit(ctx, req, ratelimit.ListRule)
	if err != nil {
		return nil, err
	}

	types, err := s.reviewable(principal, appType)
	if err != nil {
		return nil, err
	}
	return s.apps.List(ctx, repository.ListFilter{Types: types, Limit: ListLimit})
}

// Search finds applications by applicant id or name among the types the
// principal may review.
func (s *ApplicationService) Search(ctx context.Context, req Request, query string) ([]models.Application, error) {
	principal, err := s.gate.Admit(ctx, req, ratelimit.SearchRule)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.NewValidationError("Søgeterm påkrævet")
	}
	if utf8.RuneCountInString(query) > MaxSearchQueryLength || !searchQueryRe.MatchString(query) {
		return nil, models.NewValidationError("Ugyldig søgeterm")
	}

	types, err := s.reviewable(principal, "")
	if err != nil {
		return nil, err
	}
	return s.apps.Search(ctx, query, types, SearchLimit)
}

func (s *ApplicationService) reviewable(principal *models.Principal, appType string) ([]string, error) {
	if appType != "" {
		if _, ok := s.catalog.Get(appType); !ok {
			return nil, models.NewValidationError("Ugyldig ansøgningstype")
		}
		if !s.policy.CanDecide(appType, principal.Roles) {
			return nil, models.NewForbiddenError("Du har ikke adgang til denne ansøgningstype")
		}
		return []string{appType}, nil
	}
	types := s.policy.ReviewableTypes(principal.Roles)
	if len(types) == 0 {
		return nil, models.NewForbiddenError("Adgang nægtet. Kun administratorer kan se ansøgninger.")
	}
	return types, nil
}

// ReviewableTypes returns the types p may review.
func (s *ApplicationService) ReviewableTypes(p *models.Principal) []string {
	return s.policy.ReviewableTypes(p.Roles)
}

// DecideResult is a committed decision and the outcome of its side effects.
type DecideResult struct {
	Application *models.Application `json:"application"`
	SideEffects []dispatch.Outcome  `json:"sideEffects"`
}

type decidePayload struct {
	status          models.ApplicationStatus
	rejectionReason string
}

// Decide moves a pending application to approved or rejected. body is the
// raw JSON request body.
func (s *ApplicationService) Decide(ctx context.Context, req Request, id string, body []byte) (res *DecideResult, err error) {
	start := s.now()
	appType, requested := "unknown", "unknown"
	ctx, span := observability.StartSpan(ctx, "application.Decide", attribute.String("application.id", id))
	defer func() {
		o := outcome(err)
		observability.DecisionsTotal.WithLabelValues(appType, requested, o).Inc()
		observability.DecisionLatency.WithLabelValues(o).Observe(time.Since(start).Seconds())
		observability.EndSpan(span, err)
	}()

	// 1-3: block, rate limit, principal.
	principal, err := s.gate.Admit(ctx, req, ratelimit.DecideRule)
	if err != nil {
		return nil, err
	}
	ctx = middleware.WithPrincipalID(ctx, principal.ID)

	// 4: request shape.
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.NewValidationError("Ugyldigt ansøgnings ID")
	}
	payload, in, err := parseDecidePayload(body)
	if err != nil {
		return nil, err
	}
	requested = string(in.status)

	// 5: original.
	original, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	appType = metricType(s.catalog, original.Type)

	// 6: authorization uses the stored type only.
	if !s.policy.CanDecide(original.Type, principal.Roles) {
		middleware.Logger.WarnContext(ctx, "decision refused: missing reviewer role",
			slog.String("application_id", id),
			slog.String("type", original.Type),
		)
		return nil, models.NewForbiddenError("Du har ikke tilladelse til at behandle denne ansøgningstype")
	}

	// 7: integrity.
	if err := integrity.Check(original.Fields.Keys(), payload); err != nil {
		middleware.Logger.WarnContext(ctx, "decision refused: payload tampering",
			slog.String("application_id", id),
			slog.String("error", err.Error()),
		)
		return nil, models.NewTamperedError(err)
	}

	// 8: conditional update.
	change := models.StatusChange{
		Status:        in.status,
		DecidedAt:     s.now(),
		DecidedByID:   principal.ID,
		DecidedByName: truncate(sanitize.Sanitize(principal.Username), maxApplicantNameLength),
	}
	if in.status == models.ApplicationStatusRejected {
		change.RejectionReason = sanitize.Sanitize(in.rejectionReason)
	}
	updated, err := s.apps.UpdateStatus(ctx, id, []models.ApplicationStatus{models.ApplicationStatusPending}, change)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, models.NewAlreadyDecidedError(id)
	}

	// 9: canonical result.
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	middleware.Logger.InfoContext(ctx, "application decided",
		slog.String("application_id", app.ID),
		slog.String("type", app.Type),
		slog.String("status", string(app.Status)),
	)

	// 10-11: side effects and audit, detached from request cancellation.
	effectCtx := context.WithoutCancel(ctx)
	outcomes := s.effects.Dispatch(effectCtx, app)
	outcomes = append(outcomes, s.effects.Audit(effectCtx, app, principal))
	s.publish(effectCtx, EventApplicationDecided, app)

	// 12.
	return &DecideResult{Application: app, SideEffects: outcomes}, nil
}

func parseDecidePayload(body []byte) (map[string]json.RawMessage, decidePayload, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return nil, decidePayload{}, models.NewValidationError("Ugyldig JSON")
	}

	var in decidePayload
	var status string
	if err := json.Unmarshal(payload["status"], &status); err != nil {
		return nil, in, models.NewValidationError("Ugyldig status")
	}
	in.status = models.ApplicationStatus(status)
	if !in.status.Terminal() {
		return nil, in, models.NewValidationError("Ugyldig status")
	}

	if raw, ok := payload["rejectionReason"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &in.rejectionReason); err != nil {
			return nil, in, models.NewValidationError("Afvisningsgrund skal være tekst")
		}
		if utf8.RuneCountInString(in.rejectionReason) > MaxRejectionReasonLength {
			return nil, in, models.NewValidationError(
				fmt.Sprintf("Afvisningsgrund må højst være %d tegn", MaxRejectionReasonLength))
		}
	}
	return payload, in, nil
}

func (s *ApplicationService) publish(ctx context.Context, eventType string, app *models.Application) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, app); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish application event",
			slog.String("event", eventType),
			slog.String("application_id", app.ID),
			slog.String("error", err.Error()),
		)
	}
}

// hoursHint renders a remaining duration as "N timer", rounding up.
func hoursHint(d time.Duration) string {
	return fmt.Sprintf("%d timer", int(math.Ceil(d.Hours())))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// metricType keeps label cardinality bounded to catalog types.
func metricType(c *catalog.Catalog, appType string) string {
	if c != nil {
		if _, ok := c.Get(appType); ok {
			return appType
		}
	}
	return "unknown"
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "error"
}
