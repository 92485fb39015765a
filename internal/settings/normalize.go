package settings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	clockPattern = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
	slugPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// Normalize deep-merges a raw settings blob (as decoded from storage; keys
// may be missing, extra, or carry the wrong type) over Defaults().
//
// The result always satisfies the Settings invariants: no partial maps, no
// malformed clock strings, no out-of-range delays. Normalize never fails;
// unusable values fall back to their defaults.
func Normalize(raw map[string]any) Settings {
	out := Defaults()
	if raw == nil {
		return out
	}

	if v, ok := raw["enabled"]; ok {
		out.Enabled = ParseLooseBool(v)
	}
	if v, ok := raw["email_recipients"]; ok {
		out.EmailRecipients = strings.TrimSpace(looseString(v, ""))
	}

	normalizeEvents(&out, asMap(raw["events"]))
	normalizeChannels(&out, asMap(raw["channels"]))
	normalizeQuietHours(&out, asMap(raw["quiet_hours"]))
	normalizeEscalation(&out, asMap(raw["escalation"]))
	normalizeTemplates(&out, asMap(raw["templates"]))

	return out
}

func normalizeEvents(out *Settings, raw map[string]any) {
	for key, v := range raw {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out.Events[key] = ParseLooseBool(v)
	}
}

func normalizeChannels(out *Settings, raw map[string]any) {
	// Channel kinds are fixed; unknown keys in stored settings are dropped.
	for _, key := range ChannelKeys() {
		rc := asMap(raw[key])
		if rc == nil {
			continue
		}
		cc := out.Channels[key]
		if v, ok := rc["enabled"]; ok {
			cc.Enabled = ParseLooseBool(v)
		}
		if v, ok := rc["webhook_url"]; ok {
			cc.WebhookURL = strings.TrimSpace(looseString(v, ""))
		}
		out.Channels[key] = cc
	}
}

func normalizeQuietHours(out *Settings, raw map[string]any) {
	if raw == nil {
		return
	}
	qh := &out.QuietHours
	if v, ok := raw["enabled"]; ok {
		qh.Enabled = ParseLooseBool(v)
	}
	if v, ok := raw["allow_critical"]; ok {
		qh.AllowCritical = ParseLooseBool(v)
	}
	if v, ok := raw["timezone"]; ok {
		qh.Timezone = strings.TrimSpace(looseString(v, ""))
	}
	qh.Start = normalizeClock(raw["start"], qh.Start)
	qh.End = normalizeClock(raw["end"], qh.End)
}

func normalizeEscalation(out *Settings, raw map[string]any) {
	if raw == nil {
		return
	}
	esc := &out.Escalation
	if v, ok := raw["enabled"]; ok {
		esc.Enabled = ParseLooseBool(v)
	}
	if v, ok := raw["only_critical"]; ok {
		esc.OnlyCritical = ParseLooseBool(v)
	}
	if v, ok := raw["delay_minutes"]; ok {
		d := looseInt(v, esc.DelayMinutes)
		if d < 1 {
			d = 1
		}
		esc.DelayMinutes = d
	}
	if mode := strings.ToLower(strings.TrimSpace(looseString(raw["mode"], esc.Mode))); mode == ModeStaged {
		esc.Mode = ModeStaged
	} else {
		esc.Mode = ModeSimple
	}

	if rc := asMap(raw["channels"]); rc != nil {
		for _, key := range ChannelKeys() {
			if v, ok := rc[key]; ok {
				esc.Channels[key] = ParseLooseBool(v)
			}
		}
	}

	if rs := asMap(raw["stages"]); rs != nil {
		for _, bp := range StageBlueprints() {
			rstage := asMap(rs[bp.Key])
			if rstage == nil {
				continue
			}
			stage := esc.Stages[bp.Key]
			if v, ok := rstage["enabled"]; ok {
				stage.Enabled = ParseLooseBool(v)
			}
			if v, ok := rstage["delay_minutes"]; ok {
				d := looseInt(v, bp.DefaultDelayMins)
				if d < 0 {
					d = 0
				}
				stage.DelayMinutes = d
			}
			esc.Stages[bp.Key] = stage
		}
	}
}

func normalizeTemplates(out *Settings, raw map[string]any) {
	defaults := DefaultTemplates()
	for key, v := range raw {
		key = strings.ToLower(strings.TrimSpace(key))
		if !slugPattern.MatchString(key) {
			continue
		}
		rt := asMap(v)
		if rt == nil {
			continue
		}
		base, ok := defaults[key]
		if !ok {
			base = defaults[baseSeverityFor(key)]
		}
		out.Templates[key] = normalizeTemplate(rt, base)
	}
}

// baseSeverityFor matches a custom variant key like "critical_pager" or
// "warning-ops" back to its base severity. Unmatched keys inherit from info.
func baseSeverityFor(key string) string {
	for _, sev := range []string{"info", "warning", "critical"} {
		if strings.HasPrefix(key, sev+"_") || strings.HasPrefix(key, sev+"-") {
			return sev
		}
	}
	return "info"
}

func normalizeTemplate(raw map[string]any, base SeverityTemplate) SeverityTemplate {
	tpl := base
	tpl.Actions = append([]string(nil), base.Actions...)

	if v, ok := raw["label"]; ok {
		tpl.Label = sanitizeLine(looseString(v, ""))
	}
	if v, ok := raw["intro"]; ok {
		tpl.Intro = sanitizeBlock(looseString(v, ""))
	}
	if v, ok := raw["outro"]; ok {
		tpl.Outro = sanitizeBlock(looseString(v, ""))
	}
	if v, ok := raw["resolution"]; ok {
		tpl.Resolution = sanitizeBlock(looseString(v, ""))
	}
	if v, ok := raw["intent"]; ok {
		switch strings.ToLower(strings.TrimSpace(looseString(v, ""))) {
		case IntentInfo:
			tpl.Intent = IntentInfo
		case IntentWarning:
			tpl.Intent = IntentWarning
		case IntentError:
			tpl.Intent = IntentError
		default:
			tpl.Intent = base.Intent
		}
	}
	if v, ok := raw["actions"]; ok {
		tpl.Actions = normalizeActions(v)
	}
	return tpl
}

// normalizeActions accepts a list of strings or one newline-delimited
// string; each entry is sanitized to a single line and blanks are dropped.
func normalizeActions(v any) []string {
	var items []string
	switch x := v.(type) {
	case []string:
		items = x
	case []any:
		for _, e := range x {
			items = append(items, looseString(e, ""))
		}
	case string:
		items = strings.Split(x, "\n")
	default:
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		line := sanitizeLine(it)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// normalizeClock validates an "H:MM"/"HH:MM" value, clamping the hour to
// [0,23] and the minute to [0,59]. Anything that doesn't look like a clock
// string at all falls back to def. Output is always zero-padded.
func normalizeClock(v any, def string) string {
	s := strings.TrimSpace(looseString(v, ""))
	if !clockPattern.MatchString(s) {
		return def
	}
	parts := strings.SplitN(s, ":", 2)
	hour, _ := strconv.Atoi(parts[0])
	minute, _ := strconv.Atoi(parts[1])
	if hour < 0 {
		hour = 0
	}
	if hour > 23 {
		hour = 23
	}
	if minute < 0 {
		minute = 0
	}
	if minute > 59 {
		minute = 59
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// ParseLooseBool coerces heterogeneous stored values to bool.
//
// Stored settings blobs historically carried booleans as strings
// ("1"/"yes"/"on") or numbers; this parser exists only at the
// normalization boundary. Everywhere else the code uses strict bools.
func ParseLooseBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off", "":
			return false
		default:
			return true
		}
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case nil:
		return false
	default:
		return false
	}
}

func looseInt(v any, def int) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

func looseString(v any, def string) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return def
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// sanitizeLine collapses a value to one trimmed line.
func sanitizeLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// sanitizeBlock keeps multi-line text but normalizes line endings, trims
// trailing space per line, and drops leading/trailing blank lines.
func sanitizeBlock(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
