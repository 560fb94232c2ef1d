package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text", in: "Hej med dig", want: "Hej med dig"},
		{name: "trims whitespace", in: "  hej  ", want: "hej"},
		{name: "script block", in: "a<script>alert(1)</script>b", want: "ab"},
		{name: "script block multiline", in: "a<SCRIPT type=\"x\">\nalert(1)\n</script>b", want: "ab"},
		{name: "dangling script tag", in: "x<script src=evil.js>", want: "x"},
		{name: "javascript protocol", in: "javascript:alert(1)", want: "alert(1)"},
		{name: "javascript protocol mixed case", in: "JavaScript :go", want: "go"},
		{name: "event handler", in: `<img onerror=alert(1)>`, want: `<img alert(1)>`},
		{name: "everyone", in: "@everyone hi", want: "@\u200beveryone hi"},
		{name: "here upper", in: "@HERE", want: "@\u200bHERE"},
		{name: "role mention", in: "<@&123456789012345678>", want: RoleMentionPlaceholder},
		{name: "user mention", in: "hej <@123456789012345678>", want: "hej " + RoleMentionPlaceholder},
		{name: "nickname mention", in: "<@!12345678901234567>", want: RoleMentionPlaceholder},
		{name: "short id is not a mention", in: "<@1234>", want: "<@1234>"},
		{name: "invite", in: "join discord.gg/abc123 now", want: "join " + InvitePlaceholder + " now"},
		{name: "invite with scheme", in: "https://discord.gg/abc", want: InvitePlaceholder},
		{name: "invite long form", in: "https://discord.com/invite/xyz", want: InvitePlaceholder},
		{name: "nested script", in: "<scr<script></script>ipt>alert(1)</script>", want: "alert(1)"},
		{name: "protocol hidden by script", in: "java<script></script>script:x", want: "x"},
		{name: "empty", in: "", want: ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Sanitize(tc.in))
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"@everyone @here @\u200beveryone",
		"<script>x</script> javascript:y onclick=z",
		"<@&123456789012345678> discord.gg/abc",
		"<scr<script>ipt>alert(1)</scr</script>ipt>",
		"javajavascript:script:alert(1)",
		"  mixed @Everyone <@12345678901234567> https://discord.gg/x  ",
		"onon=load=1",
		"Utilstrækkelig baggrundshistorie",
		nestedProtocol(40),
	}

	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "input %q", in)
	}
}

// nestedProtocol wraps javascript: depth times so that each removal
// uncovers another one.
func nestedProtocol(depth int) string {
	return "hej " + strings.Repeat("java", depth) + "javascript:" + strings.Repeat("script:", depth) + " alert(1)"
}

func TestSanitizeDeepNesting(t *testing.T) {
	t.Parallel()

	in := nestedProtocol(40)
	once := Sanitize(in)
	assert.NotRegexp(t, `(?i)javascript\s*:`, once)
	assert.Equal(t, once, Sanitize(once))
	assert.Equal(t, "hej  alert(1)", once)
}

func TestSanitizeNeverLeaksMassMention(t *testing.T) {
	t.Parallel()

	out := Sanitize("@ever<script></script>yone and @he<script>x</script>re")
	assert.NotRegexp(t, `(?i)@(everyone|here)`, out)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Findings
	}{
		{name: "clean", in: "Jeg er 19 år", want: Findings{}},
		{name: "mass mention", in: "hey @everyone", want: Findings{MassMention: true}},
		{name: "defused mention is clean", in: "@\u200beveryone", want: Findings{}},
		{name: "script", in: "<script>", want: Findings{Markup: true}},
		{name: "protocol", in: "javascript:void(0)", want: Findings{Markup: true}},
		{name: "handler", in: "onload = x", want: Findings{Markup: true}},
		{name: "both", in: "@here <script>", want: Findings{MassMention: true, Markup: true}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Inspect(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want.MassMention || tc.want.Markup, got.Any())
		})
	}
}

func TestFindingsMerge(t *testing.T) {
	t.Parallel()

	got := Findings{MassMention: true}.Merge(Findings{Markup: true})
	assert.Equal(t, Findings{MassMention: true, Markup: true}, got)
}
