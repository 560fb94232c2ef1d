// Package dispatch performs the Discord side effects of a decided
// application. Every effect is best effort: failures are logged and counted,
// never retried and never returned to the caller as an error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/catalog"
	"github.com/Grisenxx/divisionwebsite/internal/discord"
	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"
	"github.com/Grisenxx/divisionwebsite/internal/observability"
	"github.com/Grisenxx/divisionwebsite/internal/sanitize"
)

// Effect names.
const (
	EffectAnnounce       = "announce"
	EffectRoleGrant      = "role_grant"
	EffectPrivateChannel = "private_channel"
	EffectRejectionDM    = "rejection_dm"
	EffectAudit          = "audit"
)

// Status is the result of one effect.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome records what happened to one effect.
type Outcome struct {
	Effect string `json:"effect"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Discord is the subset of the Discord client used for side effects.
type Discord interface {
	GuildID() string
	AddRole(ctx context.Context, userID, roleID string) error
	CreateChannel(ctx context.Context, req discord.CreateChannelRequest) (*discord.Channel, error)
	CreateDM(ctx context.Context, userID string) (*discord.Channel, error)
	SendMessage(ctx context.Context, channelID string, msg discord.Message) error
	ExecuteWebhook(ctx context.Context, webhookURL string, msg discord.Message) error
}

// Config holds the destinations shared by all types.
type Config struct {
	// AnnounceWebhook receives whitelist approval and rejection notices.
	AnnounceWebhook string
	// LogsWebhook is the audit destination for types without their own.
	LogsWebhook string
	// Timeout bounds each individual effect.
	Timeout time.Duration
}

// Dispatcher sends side effects for decided applications.
type Dispatcher struct {
	discord Discord
	catalog *catalog.Catalog
	cfg     Config
	now     func() time.Time
}

// New returns a Dispatcher.
func New(d Discord, c *catalog.Catalog, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{discord: d, catalog: c, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source used for audit timestamps.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

var errSkipped = errors.New("skipped")

// Dispatch runs the effects for app's terminal status in order and reports
// each outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, app *models.Application) []Outcome {
	t := d.typeOf(app.Type)

	var outcomes []Outcome
	switch app.Status {
	case models.ApplicationStatusApproved:
		if t.Announce {
			outcomes = append(outcomes, d.run(ctx, app, EffectAnnounce, func(ctx context.Context) error {
				return d.announce(ctx, app, "godkendt")
			}))
		}
		outcomes = append(outcomes, d.run(ctx, app, EffectRoleGrant, func(ctx context.Context) error {
			if t.GrantRole == "" {
				return errSkipped
			}
			return d.discord.AddRole(ctx, app.ApplicantID, t.GrantRole)
		}))
		if t.PrivateChannel {
			outcomes = append(outcomes, d.run(ctx, app, EffectPrivateChannel, func(ctx context.Context) error {
				return d.privateChannel(ctx, app, t)
			}))
		}
	case models.ApplicationStatusRejected:
		if t.Announce {
			outcomes = append(outcomes, d.run(ctx, app, EffectAnnounce, func(ctx context.Context) error {
				return d.announce(ctx, app, "afvist")
			}))
		}
		outcomes = append(outcomes, d.run(ctx, app, EffectRejectionDM, func(ctx context.Context) error {
			return d.rejectionDM(ctx, app, t)
		}))
	}
	return outcomes
}

// Audit posts the decision to the type's log webhook, or the shared one.
func (d *Dispatcher) Audit(ctx context.Context, app *models.Application, by *models.Principal) Outcome {
	t := d.typeOf(app.Type)
	return d.run(ctx, app, EffectAudit, func(ctx context.Context) error {
		url := t.LogWebhook
		if url == "" {
			url = d.cfg.LogsWebhook
		}
		if url == "" {
			return errSkipped
		}
		return d.discord.ExecuteWebhook(ctx, url, discord.Message{
			Content:         AuditMessage(app, by, t.Name, d.now()),
			Username:        t.Name + " Logger",
			AllowedMentions: &discord.AllowedMentions{Parse: []string{}},
		})
	})
}

func (d *Dispatcher) run(ctx context.Context, app *models.Application, effect string, fn func(context.Context) error) Outcome {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "dispatch."+effect)

	out := Outcome{Effect: effect, Status: StatusOK}
	err := fn(ctx)
	switch {
	case errors.Is(err, errSkipped):
		out.Status = StatusSkipped
		err = nil
	case err != nil:
		out.Status = StatusFailed
		out.Error = err.Error()
		middleware.Logger.ErrorContext(ctx, "side effect failed",
			slog.String("effect", effect),
			slog.String("application_id", app.ID),
			slog.String("type", app.Type),
			slog.String("error", err.Error()),
		)
	}
	observability.EndSpan(span, err)
	observability.SideEffectsTotal.WithLabelValues(effect, string(out.Status)).Inc()
	return out
}

func (d *Dispatcher) typeOf(id string) *catalog.Type {
	if d.catalog != nil {
		if t, ok := d.catalog.Get(id); ok {
			return t
		}
	}
	return &catalog.Type{ID: id, Name: id}
}

func (d *Dispatcher) announce(ctx context.Context, app *models.Application, verdict string) error {
	if d.cfg.AnnounceWebhook == "" {
		return errSkipped
	}
	return d.discord.ExecuteWebhook(ctx, d.cfg.AnnounceWebhook, discord.Message{
		Content:         fmt.Sprintf("<@%s> - Din %s ansøgning er %s!", app.ApplicantID, app.Type, verdict),
		AllowedMentions: &discord.AllowedMentions{Parse: []string{}, Users: []string{app.ApplicantID}},
	})
}

func (d *Dispatcher) privateChannel(ctx context.Context, app *models.Application, t *catalog.Type) error {
	if t.ChannelCategory == "" {
		return errSkipped
	}
	guild := d.discord.GuildID()
	ch, err := d.discord.CreateChannel(ctx, discord.CreateChannelRequest{
		Name:     ChannelName(app.Type, app.ApplicantName),
		ParentID: t.ChannelCategory,
		PermissionOverwrites: []discord.PermissionOverwrite{
			{ID: guild, Type: discord.OverwriteRole, Deny: permission(discord.PermissionViewChannel)},
			{ID: app.ApplicantID, Type: discord.OverwriteMember, Allow: permission(discord.PermissionViewChannel)},
		},
	})
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	mentions := &discord.AllowedMentions{Parse: []string{}}
	if t.ResponsibleRole != "" {
		mentions.Roles = []string{t.ResponsibleRole}
	}
	if err := d.discord.SendMessage(ctx, ch.ID, discord.Message{
		Content:         WelcomeMessage(app, t.ResponsibleRole),
		AllowedMentions: mentions,
	}); err != nil {
		return fmt.Errorf("welcome message: %w", err)
	}
	return nil
}

func (d *Dispatcher) rejectionDM(ctx context.Context, app *models.Application, t *catalog.Type) error {
	dm, err := d.discord.CreateDM(ctx, app.ApplicantID)
	if err != nil {
		return fmt.Errorf("open dm: %w", err)
	}
	return d.discord.SendMessage(ctx, dm.ID, discord.Message{
		Content:         RejectionMessage(app, t.Name),
		AllowedMentions: &discord.AllowedMentions{Parse: []string{}},
	})
}

func permission(bits int) string {
	return strconv.Itoa(bits)
}

// baseName strips a legacy "#1234" discriminator.
func baseName(name string) string {
	name, _, _ = strings.Cut(name, "#")
	return name
}

// ChannelName is the name of an applicant's private channel.
func ChannelName(appType, applicantName string) string {
	name := strings.ToLower(sanitize.Sanitize(baseName(applicantName)))
	name = strings.Join(strings.Fields(name), "-")
	return strings.ToLower(appType) + "-" + name
}

// WelcomeMessage is posted in a newly created private channel.
func WelcomeMessage(app *models.Application, responsibleRole string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Hej, %s.\n", sanitize.Sanitize(baseName(app.ApplicantName)))
	b.WriteString("Din ansøgning er blevet læst og godkendt.\n")
	b.WriteString("I denne kanal vil du kunne skrive med en ansvarlig, så I kan finde ud af hvad der skal ske nu.\n\n")
	if responsibleRole != "" {
		fmt.Fprintf(&b, "<@&%s>\n\n", responsibleRole)
	}
	b.WriteString("> Din ansøgning:\n")
	for i, f := range app.Fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "**%s:** %s", sanitize.Sanitize(f.Key), sanitize.Sanitize(f.Value))
	}
	return b.String()
}

// RejectionMessage is sent to the applicant by DM.
func RejectionMessage(app *models.Application, typeName string) string {
	reason := sanitize.Sanitize(app.RejectionReason)
	if reason == "" {
		reason = "Ikke angivet"
	}
	return fmt.Sprintf("Hej %s.\n"+
		"Vi har læst din ansøgning igennem, og bliver desværre nød til at afvise dig i denne omgang.\n"+
		"**Ansøgning:** %s\n"+
		"**Grundlag:** %s\n\n"+
		"> Du er velkommen til at ansøge igen om 24 timer.\n"+
		"- Division",
		sanitize.Sanitize(baseName(app.ApplicantName)), sanitize.Sanitize(typeName), reason)
}

// AuditMessage describes a decision for the operations log.
func AuditMessage(app *models.Application, by *models.Principal, typeName string, at time.Time) string {
	emoji, verdict := "⏳", "AFVENTENDE"
	switch app.Status {
	case models.ApplicationStatusApproved:
		emoji, verdict = "✅", "GODKENDT"
	case models.ApplicationStatusRejected:
		emoji, verdict = "❌", "AFVIST"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s **ANSØGNING %s**\n\n", emoji, verdict)
	if by != nil {
		fmt.Fprintf(&b, "**Admin:** <@%s> (%s)\n", by.ID, sanitize.Sanitize(by.Username))
	}
	fmt.Fprintf(&b, "**Ansøger:** <@%s> (%s)\n", app.ApplicantID, sanitize.Sanitize(app.ApplicantName))
	fmt.Fprintf(&b, "**Type:** %s\n", sanitize.Sanitize(typeName))
	fmt.Fprintf(&b, "**Ansøgnings ID:** %s\n", sanitize.Sanitize(app.ID))
	fmt.Fprintf(&b, "**Tid:** <t:%d:F>\n", at.Unix())
	if app.Status == models.ApplicationStatusRejected {
		if reason := sanitize.Sanitize(app.RejectionReason); reason != "" {
			fmt.Fprintf(&b, "**Afvisningsgrund:** %s\n", reason)
		}
	}
	return b.String()
}
