package engine

import (
	"strings"
	"time"

	"vaultwatch/internal/settings"
)

// RenderMeta carries the non-settings inputs of one render: event identity,
// site metadata, and the single "now" sampled by the caller.
type RenderMeta struct {
	EventKey string
	Context  map[string]any
	SiteName string
	SiteURL  string
	Now      time.Time
}

const timestampLayout = "2006-01-02 15:04:05 MST"

// resolveTemplate picks the severity template, honoring an optional
// template_variant from the event context. Lookup order:
// "<severity>_<variant>", "<severity>-<variant>", bare "<variant>", plain
// severity, built-in default. Missing fields inherit per-field from the
// built-in default for the severity.
func resolveTemplate(st settings.Settings, sev Severity, variant string) settings.SeverityTemplate {
	base := settings.DefaultTemplates()[string(sev)]

	pick := func(keys ...string) (settings.SeverityTemplate, bool) {
		for _, k := range keys {
			if k == "" {
				continue
			}
			if tpl, ok := st.Templates[k]; ok {
				return tpl, true
			}
		}
		return settings.SeverityTemplate{}, false
	}

	var tpl settings.SeverityTemplate
	var found bool
	if variant != "" {
		variant = strings.ToLower(strings.TrimSpace(variant))
		tpl, found = pick(string(sev)+"_"+variant, string(sev)+"-"+variant, variant)
	}
	if !found {
		tpl, found = pick(string(sev))
	}
	if !found {
		return base
	}

	// Per-field inheritance keeps partially-customized templates usable.
	if tpl.Label == "" {
		tpl.Label = base.Label
	}
	if tpl.Intent == "" {
		tpl.Intent = base.Intent
	}
	return tpl
}

// tokenContext builds the substitution map for one render. Empty values
// are omitted so their tokens stay verbatim in the output; the renderer
// never blanks a token it cannot resolve.
func tokenContext(sev Severity, label string, meta RenderMeta) map[string]string {
	tokens := map[string]string{
		"severity":  string(sev),
		"timestamp": meta.Now.Format(timestampLayout),
	}
	put := func(key, val string) {
		if val = strings.TrimSpace(val); val != "" {
			tokens[key] = val
		}
	}
	put("event_key", meta.EventKey)
	put("event_title", EventTitle(meta.EventKey))
	put("severity_label", label)
	put("site_name", meta.SiteName)
	put("site_url", meta.SiteURL)
	if meta.Context != nil {
		put("initiator", ctxString(meta.Context, "initiator"))
		if sn := ctxString(meta.Context, "site_name"); sn != "" {
			tokens["site_name"] = sn
		}
		if su := ctxString(meta.Context, "site_url"); su != "" {
			tokens["site_url"] = su
		}
	}
	return tokens
}

// substituteTokens performs literal {{token}} replacement. Unknown tokens
// are left untouched.
func substituteTokens(text string, tokens map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	pairs := make([]string, 0, len(tokens)*2)
	for k, v := range tokens {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Render wraps body lines with the severity template framing. Line order:
// severity label, intro, body, actions, resolution, outro, timestamp.
func Render(st settings.Settings, sev Severity, bodyLines []string, meta RenderMeta) []string {
	variant := ""
	if meta.Context != nil {
		variant = ctxString(meta.Context, "template_variant")
	}
	tpl := resolveTemplate(st, sev, variant)
	tokens := tokenContext(sev, tpl.Label, meta)

	sub := func(s string) string { return substituteTokens(s, tokens) }

	var lines []string
	appendBlock := func(text string) {
		for _, l := range strings.Split(sub(text), "\n") {
			l = strings.TrimSpace(l)
			if l != "" {
				lines = append(lines, l)
			}
		}
	}

	if label := strings.TrimSpace(sub(tpl.Label)); label != "" {
		lines = append(lines, "Severity: "+label)
	}
	if tpl.Intro != "" {
		appendBlock(tpl.Intro)
	}
	lines = append(lines, bodyLines...)
	if len(tpl.Actions) > 0 {
		lines = append(lines, "Recommended actions:")
		for _, a := range tpl.Actions {
			if a = strings.TrimSpace(sub(a)); a != "" {
				lines = append(lines, "- "+a)
			}
		}
	}
	if tpl.Resolution != "" {
		appendBlock(tpl.Resolution)
	}
	if tpl.Outro != "" {
		appendBlock(tpl.Outro)
	}
	lines = append(lines, "Timestamp: "+meta.Now.Format(timestampLayout))
	return lines
}
