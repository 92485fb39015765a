package settings

// Channel keys for the five fixed delivery channels.
const (
	ChannelEmail   = "email"
	ChannelSlack   = "slack"
	ChannelDiscord = "discord"
	ChannelTeams   = "teams"
	ChannelSMS     = "sms"
)

// ChannelKeys returns the fixed channel set in dispatch order.
func ChannelKeys() []string {
	return []string{ChannelEmail, ChannelSlack, ChannelDiscord, ChannelTeams, ChannelSMS}
}

// Escalation modes.
const (
	ModeSimple = "simple"
	ModeStaged = "staged"
)

// Template intents (rendering hint for channel formatters).
const (
	IntentInfo    = "info"
	IntentWarning = "warning"
	IntentError   = "error"
)

// Settings is the fully-normalized notification configuration.
//
// Invariant: after Normalize, Events, Channels, Escalation.Channels,
// Escalation.Stages and Templates are fully populated; QuietHours start/end
// are valid zero-padded HH:MM; Escalation.DelayMinutes >= 1 and every stage
// delay >= 0. Downstream code never sees a partial map.
type Settings struct {
	Enabled         bool                        `json:"enabled"`
	EmailRecipients string                      `json:"email_recipients"`
	Events          map[string]bool             `json:"events"`
	Channels        map[string]ChannelConfig    `json:"channels"`
	QuietHours      QuietHours                  `json:"quiet_hours"`
	Escalation      Escalation                  `json:"escalation"`
	Templates       map[string]SeverityTemplate `json:"templates"`
}

type ChannelConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// QuietHours is a daily window during which non-critical notifications are
// delayed. Start == End means the window has zero width and is a no-op.
type QuietHours struct {
	Enabled       bool   `json:"enabled"`
	Start         string `json:"start"` // "HH:MM"
	End           string `json:"end"`   // "HH:MM"
	AllowCritical bool   `json:"allow_critical"`
	Timezone      string `json:"timezone"` // IANA TZ; empty means host default
}

type Escalation struct {
	Enabled      bool                       `json:"enabled"`
	DelayMinutes int                        `json:"delay_minutes"`
	OnlyCritical bool                       `json:"only_critical"`
	Channels     map[string]bool            `json:"channels"`
	Mode         string                     `json:"mode"` // simple | staged
	Stages       map[string]EscalationStage `json:"stages"`
}

type EscalationStage struct {
	Enabled      bool `json:"enabled"`
	DelayMinutes int  `json:"delay_minutes"`
}

// SeverityTemplate wraps the generated body lines of a notification with
// severity-specific framing text.
type SeverityTemplate struct {
	Label      string   `json:"label"`
	Intro      string   `json:"intro"`
	Outro      string   `json:"outro"`
	Resolution string   `json:"resolution"`
	Intent     string   `json:"intent"` // info | warning | error
	Actions    []string `json:"actions"`
}

// StageBlueprint is one entry of the fixed staged-escalation ladder.
// Stage order and default delays are runtime-fixed; settings only toggle
// stages on and override their delays.
type StageBlueprint struct {
	Key              string
	Label            string
	Description      string
	Channels         []string
	DefaultDelayMins int
}

// StageBlueprints returns the staged-escalation ladder in firing order.
func StageBlueprints() []StageBlueprint {
	return []StageBlueprint{
		{
			Key:              "slack",
			Label:            "Slack",
			Description:      "Post to the configured Slack webhook",
			Channels:         []string{ChannelSlack},
			DefaultDelayMins: 15,
		},
		{
			Key:              "discord",
			Label:            "Discord",
			Description:      "Post to the configured Discord webhook",
			Channels:         []string{ChannelDiscord},
			DefaultDelayMins: 15,
		},
		{
			Key:              "teams",
			Label:            "Microsoft Teams",
			Description:      "Post to the configured Teams webhook",
			Channels:         []string{ChannelTeams},
			DefaultDelayMins: 30,
		},
		{
			Key:              "sms",
			Label:            "SMS",
			Description:      "Page the on-call contact through the SMS gateway",
			Channels:         []string{ChannelSMS},
			DefaultDelayMins: 45,
		},
	}
}

// Clone returns a deep copy so callers can mutate without sharing maps.
func (s Settings) Clone() Settings {
	cp := s
	cp.Events = make(map[string]bool, len(s.Events))
	for k, v := range s.Events {
		cp.Events[k] = v
	}
	cp.Channels = make(map[string]ChannelConfig, len(s.Channels))
	for k, v := range s.Channels {
		cp.Channels[k] = v
	}
	cp.Escalation.Channels = make(map[string]bool, len(s.Escalation.Channels))
	for k, v := range s.Escalation.Channels {
		cp.Escalation.Channels[k] = v
	}
	cp.Escalation.Stages = make(map[string]EscalationStage, len(s.Escalation.Stages))
	for k, v := range s.Escalation.Stages {
		cp.Escalation.Stages[k] = v
	}
	cp.Templates = make(map[string]SeverityTemplate, len(s.Templates))
	for k, v := range s.Templates {
		v.Actions = append([]string(nil), v.Actions...)
		cp.Templates[k] = v
	}
	return cp
}
