package engine

import (
	"net/url"
	"strings"
	"time"

	"vaultwatch/internal/settings"

	logx "vaultwatch/pkg/logx"
)

// BuildChannels validates and assembles the per-channel dispatch payloads.
// Base payloads are built for channels enabled in settings; overrides
// force-build additional channels for escalation. A channel that fails
// validation is dropped with a log line, never an error.
//
// The builder is a pure function of (settings, overrides, now) apart from
// the log sink.
func BuildChannels(st settings.Settings, overrides map[string]ChannelOverride, now time.Time, log logx.Logger) map[string]ChannelPayload {
	out := make(map[string]ChannelPayload)

	for _, key := range settings.ChannelKeys() {
		cc := st.Channels[key]
		if !cc.Enabled {
			continue
		}
		payload, ok := buildChannelPayload(key, st)
		if !ok {
			if !log.IsZero() {
				log.Warn("dropping channel with invalid configuration", logx.String("channel", key))
			}
			continue
		}
		out[key] = payload
	}

	for key, ov := range overrides {
		if !ov.Force {
			continue
		}
		if _, exists := out[key]; exists {
			// Already part of the base set; escalation re-dispatch of base
			// channels is the queue's concern, not a second payload.
			continue
		}
		payload, ok := buildChannelPayload(key, st)
		if !ok {
			if !log.IsZero() {
				log.Warn("dropping escalation channel with invalid configuration", logx.String("channel", key))
			}
			continue
		}
		if ov.Delay > 0 {
			payload.NextAttemptAt = now.Unix() + ov.Delay
		}
		payload.Escalation = ov.Escalation
		out[key] = payload
	}

	return out
}

// buildChannelPayload validates one channel's settings independent of its
// enabled flag, so escalation can reach channels the user has not enabled
// for routine notifications.
func buildChannelPayload(key string, st settings.Settings) (ChannelPayload, bool) {
	payload := ChannelPayload{Enabled: true, Status: StatusPending}

	if key == settings.ChannelEmail {
		recipients := SplitRecipients(st.EmailRecipients)
		if len(recipients) == 0 {
			return ChannelPayload{}, false
		}
		payload.Recipients = recipients
		return payload, true
	}

	u := strings.TrimSpace(st.Channels[key].WebhookURL)
	if !validWebhookURL(u) {
		return ChannelPayload{}, false
	}
	payload.WebhookURL = u
	return payload, true
}

// SplitRecipients splits a raw recipient blob on commas, semicolons, and
// newlines, keeping only syntactically valid addresses.
func SplitRecipients(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		addr := strings.TrimSpace(f)
		if validEmail(addr) {
			out = append(out, addr)
		}
	}
	return out
}

// validEmail is a syntactic precondition check only: exactly one "@" with
// non-empty local and domain parts and no whitespace. The SMTP transport
// is the real arbiter.
func validEmail(addr string) bool {
	if addr == "" || strings.ContainsAny(addr, " \t") {
		return false
	}
	local, domain, found := strings.Cut(addr, "@")
	if !found || local == "" || domain == "" {
		return false
	}
	return !strings.Contains(domain, "@")
}

func validWebhookURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
