package engine

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"vaultwatch/internal/lifecycle"
	"vaultwatch/internal/settings"
)

var renderNow = time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC)

func TestSubstituteTokensRoundTrip(t *testing.T) {
	t.Parallel()

	got := substituteTokens("{{site_name}} — {{severity_label}}", map[string]string{
		"site_name":      "Acme",
		"severity_label": "Critical",
	})
	if got != "Acme — Critical" {
		t.Fatalf("got %q", got)
	}
	if strings.Contains(got, "{{") || strings.Contains(got, "}}") {
		t.Fatalf("residual braces in %q", got)
	}
}

func TestSubstituteTokensLeavesUnknownTokensVerbatim(t *testing.T) {
	t.Parallel()

	// Unresolvable tokens stay in the output instead of collapsing to
	// empty strings; a typo in a custom template stays visible.
	got := substituteTokens("Hello {{nobody}} from {{site_name}}", map[string]string{
		"site_name": "Acme",
	})
	if got != "Hello {{nobody}} from Acme" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderLineOrder(t *testing.T) {
	t.Parallel()

	st := settings.Defaults()
	st.Templates["critical"] = settings.SeverityTemplate{
		Label:      "Critical",
		Intro:      "Trouble on {{site_name}}:",
		Outro:      "Sent by {{site_name}}.",
		Resolution: "Acknowledge to stop escalation.",
		Intent:     settings.IntentError,
		Actions:    []string{"Check {{site_url}}"},
	}

	got := Render(st, SeverityCritical, []string{"Error: disk full"}, RenderMeta{
		EventKey: lifecycle.EventBackupFailed,
		SiteName: "Acme",
		SiteURL:  "https://backup.acme.test",
		Now:      renderNow,
	})
	want := []string{
		"Severity: Critical",
		"Trouble on Acme:",
		"Error: disk full",
		"Recommended actions:",
		"- Check https://backup.acme.test",
		"Acknowledge to stop escalation.",
		"Sent by Acme.",
		"Timestamp: 2026-08-28 14:30:00 UTC",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("render mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestRenderVariantResolutionOrder(t *testing.T) {
	t.Parallel()

	base := settings.Defaults()

	cases := []struct {
		name      string
		templates map[string]settings.SeverityTemplate
		wantIntro string
	}{
		{
			name: "underscore variant wins",
			templates: map[string]settings.SeverityTemplate{
				"critical_pager": {Intro: "underscore"},
				"critical-pager": {Intro: "dash"},
				"pager":          {Intro: "bare"},
			},
			wantIntro: "underscore",
		},
		{
			name: "dash variant next",
			templates: map[string]settings.SeverityTemplate{
				"critical-pager": {Intro: "dash"},
				"pager":          {Intro: "bare"},
			},
			wantIntro: "dash",
		},
		{
			name: "bare variant next",
			templates: map[string]settings.SeverityTemplate{
				"pager": {Intro: "bare"},
			},
			wantIntro: "bare",
		},
		{
			name:      "falls back to plain severity",
			templates: map[string]settings.SeverityTemplate{},
			wantIntro: base.Templates["critical"].Intro,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st := settings.Defaults()
			for k, v := range tc.templates {
				st.Templates[k] = v
			}
			tpl := resolveTemplate(st, SeverityCritical, "pager")
			if tpl.Intro != tc.wantIntro {
				t.Fatalf("intro = %q, want %q", tpl.Intro, tc.wantIntro)
			}
		})
	}
}

func TestResolveTemplateInheritsMissingFields(t *testing.T) {
	t.Parallel()

	st := settings.Defaults()
	st.Templates["critical_pager"] = settings.SeverityTemplate{Intro: "page now"}

	tpl := resolveTemplate(st, SeverityCritical, "pager")
	if tpl.Intro != "page now" {
		t.Fatalf("intro = %q", tpl.Intro)
	}
	if tpl.Label != "Critical" {
		t.Fatalf("label should inherit from the built-in default, got %q", tpl.Label)
	}
	if tpl.Intent != settings.IntentError {
		t.Fatalf("intent should inherit from the built-in default, got %q", tpl.Intent)
	}
}

func TestRenderSiteMetadataFromContextWins(t *testing.T) {
	t.Parallel()

	st := settings.Defaults()
	st.Templates["info"] = settings.SeverityTemplate{
		Label:  "Info",
		Intro:  "From {{site_name}}:",
		Intent: settings.IntentInfo,
	}

	got := Render(st, SeverityInfo, nil, RenderMeta{
		EventKey: lifecycle.EventTestNotification,
		Context:  map[string]any{"site_name": "Override Site"},
		SiteName: "Engine Site",
		Now:      renderNow,
	})
	found := false
	for _, l := range got {
		if l == "From Override Site:" {
			found = true
		}
	}
	if !found {
		t.Fatalf("context site_name not applied: %q", got)
	}
}

func TestRenderTimestampAlwaysLast(t *testing.T) {
	t.Parallel()

	st := settings.Defaults()
	got := Render(st, SeverityInfo, []string{"body"}, RenderMeta{
		EventKey: lifecycle.EventCleanupComplete,
		Now:      renderNow,
	})
	if len(got) == 0 {
		t.Fatal("no lines rendered")
	}
	last := got[len(got)-1]
	if last != "Timestamp: 2026-08-28 14:30:00 UTC" {
		t.Fatalf("last line = %q", last)
	}
}
