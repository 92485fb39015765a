package settings

import "vaultwatch/internal/lifecycle"

// Defaults returns the canonical baseline configuration. Normalize fills
// every gap in stored settings from this structure, so the maps here must
// cover the full key space.
func Defaults() Settings {
	events := make(map[string]bool, len(lifecycle.Names()))
	for _, name := range lifecycle.Names() {
		events[name] = true
	}

	channels := make(map[string]ChannelConfig, len(ChannelKeys()))
	for _, key := range ChannelKeys() {
		channels[key] = ChannelConfig{}
	}

	escChannels := make(map[string]bool, len(ChannelKeys()))
	for _, key := range ChannelKeys() {
		escChannels[key] = false
	}

	stages := make(map[string]EscalationStage, len(StageBlueprints()))
	for _, bp := range StageBlueprints() {
		stages[bp.Key] = EscalationStage{Enabled: false, DelayMinutes: bp.DefaultDelayMins}
	}

	return Settings{
		Enabled:         false,
		EmailRecipients: "",
		Events:          events,
		Channels:        channels,
		QuietHours: QuietHours{
			Enabled:       false,
			Start:         "22:00",
			End:           "07:00",
			AllowCritical: true,
			Timezone:      "",
		},
		Escalation: Escalation{
			Enabled:      false,
			DelayMinutes: 30,
			OnlyCritical: true,
			Channels:     escChannels,
			Mode:         ModeSimple,
			Stages:       stages,
		},
		Templates: DefaultTemplates(),
	}
}

// DefaultTemplates returns the built-in templates for the three severities.
func DefaultTemplates() map[string]SeverityTemplate {
	return map[string]SeverityTemplate{
		"info": {
			Label:      "Info",
			Intro:      "Backup activity on {{site_name}}:",
			Outro:      "",
			Resolution: "",
			Intent:     IntentInfo,
			Actions:    nil,
		},
		"warning": {
			Label:      "Warning",
			Intro:      "{{site_name}} needs attention:",
			Outro:      "",
			Resolution: "This warning clears automatically once the condition is resolved.",
			Intent:     IntentWarning,
			Actions: []string{
				"Review the backup dashboard at {{site_url}}",
			},
		},
		"critical": {
			Label:      "Critical",
			Intro:      "A critical backup condition was detected on {{site_name}}:",
			Outro:      "Reported by {{site_name}} ({{event_title}}).",
			Resolution: "Acknowledge this notification to stop further escalation.",
			Intent:     IntentError,
			Actions: []string{
				"Check the backup dashboard at {{site_url}}",
				"Verify the storage destination is reachable and has free space",
			},
		},
	}
}
