package engine

import (
	"sort"

	"vaultwatch/internal/settings"
)

// EscalationMeta summarizes a computed escalation plan for the entry.
type EscalationMeta struct {
	Channels []string
	Delay    int64 // seconds until first escalation
	Strategy string
	Steps    []EscalationStep
}

// ComputeOverrides derives the per-channel escalation overrides for an
// event. The returned map is empty when escalation is disabled or when
// the policy restricts it to critical events and this one is not.
func ComputeOverrides(eventName string, st settings.Settings) (map[string]ChannelOverride, *EscalationMeta) {
	esc := st.Escalation
	if !esc.Enabled {
		return nil, nil
	}
	if esc.OnlyCritical && ClassifySeverity(eventName) != SeverityCritical {
		return nil, nil
	}

	if esc.Mode == settings.ModeStaged {
		return computeStaged(esc)
	}
	return computeSimple(esc)
}

// computeSimple fires every flagged channel at one shared delay.
func computeSimple(esc settings.Escalation) (map[string]ChannelOverride, *EscalationMeta) {
	delay := int64(esc.DelayMinutes) * 60
	overrides := make(map[string]ChannelOverride)
	for _, key := range settings.ChannelKeys() {
		if esc.Channels[key] {
			overrides[key] = ChannelOverride{Force: true, Delay: delay, Escalation: true}
		}
	}
	if len(overrides) == 0 {
		return nil, nil
	}
	meta := &EscalationMeta{
		Channels: sortedKeys(overrides),
		Delay:    delay,
		Strategy: settings.ModeSimple,
	}
	return overrides, meta
}

// computeStaged walks the fixed stage ladder. Each enabled stage registers
// its channels at the stage delay; meta.Delay is the minimum across stages
// (time to first escalation).
func computeStaged(esc settings.Escalation) (map[string]ChannelOverride, *EscalationMeta) {
	overrides := make(map[string]ChannelOverride)
	var steps []EscalationStep
	var minDelay int64 = -1

	for _, bp := range settings.StageBlueprints() {
		stage, ok := esc.Stages[bp.Key]
		if !ok || !stage.Enabled {
			continue
		}
		delayMins := stage.DelayMinutes
		if delayMins <= 0 {
			delayMins = bp.DefaultDelayMins
		}
		delay := int64(delayMins) * 60

		registered := make([]string, 0, len(bp.Channels))
		for _, ch := range bp.Channels {
			// First stage to claim a channel wins; later stages with the
			// same channel would only push the attempt further out.
			if _, taken := overrides[ch]; taken {
				continue
			}
			overrides[ch] = ChannelOverride{Force: true, Delay: delay, Escalation: true}
			registered = append(registered, ch)
		}
		if len(registered) == 0 {
			continue
		}

		steps = append(steps, EscalationStep{
			Key:         bp.Key,
			Label:       bp.Label,
			Description: bp.Description,
			Channels:    registered,
			Delay:       delay,
		})
		if minDelay < 0 || delay < minDelay {
			minDelay = delay
		}
	}

	if len(overrides) == 0 {
		return nil, nil
	}
	meta := &EscalationMeta{
		Channels: sortedKeys(overrides),
		Delay:    minDelay,
		Strategy: settings.ModeStaged,
		Steps:    steps,
	}
	return overrides, meta
}

func sortedKeys(m map[string]ChannelOverride) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
