package queue

import (
	"context"
	"strings"

	"vaultwatch/internal/engine"

	logx "vaultwatch/pkg/logx"
)

// LogDispatcher writes each would-be delivery to the log instead of
// performing network I/O. It is the default dispatcher until a real
// transport (SMTP, webhooks) is wired in, and doubles as a dry-run mode.
type LogDispatcher struct {
	log logx.Logger
}

func NewLogDispatcher(log logx.Logger) *LogDispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, e engine.Entry, channel string, p engine.ChannelPayload) error {
	fields := []logx.Field{
		logx.String("id", e.ID),
		logx.String("event", e.Event),
		logx.String("channel", channel),
		logx.String("severity", string(e.Severity)),
		logx.String("subject", e.Subject),
		logx.Int("lines", len(e.Lines)),
	}
	if len(p.Recipients) > 0 {
		fields = append(fields, logx.Strings("recipients", p.Recipients))
	}
	if p.WebhookURL != "" {
		fields = append(fields, logx.String("webhook", redactWebhook(p.WebhookURL)))
	}
	if p.Escalation {
		fields = append(fields, logx.Bool("escalation", true))
	}
	d.log.Info("notification dispatched", fields...)
	return nil
}

// redactWebhook keeps the host visible but hides the path, which usually
// carries the secret.
func redactWebhook(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "***"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return u[:i+3] + rest[:j] + "/***"
	}
	return u
}
