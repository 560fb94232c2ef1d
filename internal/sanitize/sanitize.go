// Package sanitize neutralises user supplied text before it is stored or
// embedded in an outbound Discord message.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	// RoleMentionPlaceholder replaces explicit user and role mentions.
	RoleMentionPlaceholder = "[rolle mention fjernet]"
	// InvitePlaceholder replaces Discord invite links.
	InvitePlaceholder = "[discord invite fjernet]"

	zeroWidthSpace = "\u200b"
)

var (
	scriptBlockRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	scriptTagRe    = regexp.MustCompile(`(?i)</?script\b[^>]*>`)
	protocolRe     = regexp.MustCompile(`(?i)javascript\s*:`)
	eventHandlerRe = regexp.MustCompile(`(?i)\bon\w+\s*=`)
	massMentionRe  = regexp.MustCompile(`(?i)@(everyone|here)`)
	mentionRe      = regexp.MustCompile(`<@[!&]?\d{17,19}>`)
	inviteRe       = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?discord(?:\.gg|(?:app)?\.com/invite)/[\w-]+`)
)

// Sanitize returns text with script blocks, protocol handlers, event handler
// attributes, mentions and invite links neutralised. It is pure, total and
// stable under re-application: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(text string) string {
	// Every pass that changes the text neutralises at least one match, so
	// len(text)+1 passes always reach a fixed point.
	out := text
	for i := 0; i <= len(text); i++ {
		next := pass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func pass(s string) string {
	s = scriptBlockRe.ReplaceAllString(s, "")
	s = scriptTagRe.ReplaceAllString(s, "")
	s = protocolRe.ReplaceAllString(s, "")
	s = eventHandlerRe.ReplaceAllString(s, "")
	s = defuseMassMentions(s)
	s = mentionRe.ReplaceAllString(s, RoleMentionPlaceholder)
	s = inviteRe.ReplaceAllString(s, InvitePlaceholder)
	return strings.TrimSpace(s)
}

// defuseMassMentions inserts a zero width space after '@' for every
// @everyone/@here token that is not already defused.
func defuseMassMentions(s string) string {
	return massMentionRe.ReplaceAllStringFunc(s, func(m string) string {
		return "@" + zeroWidthSpace + m[1:]
	})
}

// Findings describes content that the abuse detector classifies.
type Findings struct {
	MassMention bool
	Markup      bool
}

// Any reports whether any abusive content was found.
func (f Findings) Any() bool {
	return f.MassMention || f.Markup
}

// Merge combines two findings.
func (f Findings) Merge(other Findings) Findings {
	return Findings{
		MassMention: f.MassMention || other.MassMention,
		Markup:      f.Markup || other.Markup,
	}
}

// Inspect reports abusive content in raw, unsanitized text.
func Inspect(text string) Findings {
	return Findings{
		MassMention: massMentionRe.MatchString(text),
		Markup: scriptTagRe.MatchString(text) ||
			protocolRe.MatchString(text) ||
			eventHandlerRe.MatchString(text),
	}
}
