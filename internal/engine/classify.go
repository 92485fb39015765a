package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"vaultwatch/internal/lifecycle"
)

// severityTable maps every recognized event name to its fixed severity.
// The mapping is total over lifecycle.Names(); anything else is info.
var severityTable = map[string]Severity{
	lifecycle.EventBackupComplete:          SeverityInfo,
	lifecycle.EventBackupFailed:            SeverityCritical,
	lifecycle.EventCleanupComplete:         SeverityInfo,
	lifecycle.EventStorageWarning:          SeverityWarning,
	lifecycle.EventRemotePurgeFailed:       SeverityCritical,
	lifecycle.EventRemotePurgeDelayed:      SeverityCritical,
	lifecycle.EventRestoreSelfTestPassed:   SeverityInfo,
	lifecycle.EventRestoreSelfTestFailed:   SeverityCritical,
	lifecycle.EventSandboxValidationPassed: SeverityInfo,
	lifecycle.EventSandboxValidationFailed: SeverityCritical,
	lifecycle.EventTestNotification:        SeverityInfo,
	lifecycle.EventManagedVaultLatency:     SeverityWarning,
	lifecycle.EventManagedVaultReplicaDegr: SeverityCritical,
}

// ClassifySeverity is a pure table lookup; unknown names return info.
func ClassifySeverity(eventName string) Severity {
	if sev, ok := severityTable[eventName]; ok {
		return sev
	}
	return SeverityInfo
}

var eventTitles = map[string]string{
	lifecycle.EventBackupComplete:          "Backup completed",
	lifecycle.EventBackupFailed:            "Backup failed",
	lifecycle.EventCleanupComplete:         "Cleanup completed",
	lifecycle.EventStorageWarning:          "Storage nearing capacity",
	lifecycle.EventRemotePurgeFailed:       "Remote purge failed",
	lifecycle.EventRemotePurgeDelayed:      "Remote purge delayed",
	lifecycle.EventRestoreSelfTestPassed:   "Restore self-test passed",
	lifecycle.EventRestoreSelfTestFailed:   "Restore self-test failed",
	lifecycle.EventSandboxValidationPassed: "Sandbox restore validated",
	lifecycle.EventSandboxValidationFailed: "Sandbox restore validation failed",
	lifecycle.EventTestNotification:        "Test notification",
	lifecycle.EventManagedVaultLatency:     "Managed vault latency elevated",
	lifecycle.EventManagedVaultReplicaDegr: "Managed vault replica degraded",
}

// EventTitle returns the human title for an event name. Unknown names are
// prettified from their snake_case key.
func EventTitle(eventName string) string {
	if t, ok := eventTitles[eventName]; ok {
		return t
	}
	parts := strings.Split(eventName, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	t := strings.TrimSpace(strings.Join(parts, " "))
	if t == "" {
		return "Notification"
	}
	return t
}

type bodyBuilder func(ctx map[string]any) []string

var bodyBuilders = map[string]bodyBuilder{
	lifecycle.EventBackupComplete:          buildBackupComplete,
	lifecycle.EventBackupFailed:            buildBackupFailed,
	lifecycle.EventCleanupComplete:         buildCleanupComplete,
	lifecycle.EventStorageWarning:          buildStorageWarning,
	lifecycle.EventRemotePurgeFailed:       buildRemotePurgeFailed,
	lifecycle.EventRemotePurgeDelayed:      buildRemotePurgeDelayed,
	lifecycle.EventRestoreSelfTestPassed:   buildRestoreSelfTestPassed,
	lifecycle.EventRestoreSelfTestFailed:   buildRestoreSelfTestFailed,
	lifecycle.EventSandboxValidationPassed: buildSandboxValidationPassed,
	lifecycle.EventSandboxValidationFailed: buildSandboxValidationFailed,
	lifecycle.EventTestNotification:        buildTestNotification,
	lifecycle.EventManagedVaultLatency:     buildManagedVaultLatency,
	lifecycle.EventManagedVaultReplicaDegr: buildManagedVaultReplica,
}

// BuildBodyLines formats the event context into human-readable lines with
// a deterministic per-event field order. Unknown events fall back to a
// sorted "key: value" dump of scalar context entries. Lines are trimmed
// and blanks dropped.
func BuildBodyLines(eventName string, ctx map[string]any) []string {
	var lines []string
	if build, ok := bodyBuilders[eventName]; ok {
		lines = build(ctx)
	} else {
		lines = buildGeneric(ctx)
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

func buildBackupComplete(ctx map[string]any) []string {
	var lines []string
	if fn := ctxString(ctx, "filename"); fn != "" {
		lines = append(lines, "Archive: "+fn)
	}
	if size, ok := ctxInt64(ctx, "size_bytes"); ok && size > 0 {
		lines = append(lines, "Size: "+humanize.IBytes(uint64(size)))
	}
	if comps := ctxStrings(ctx, "components"); len(comps) > 0 {
		lines = append(lines, "Components: "+strings.Join(comps, ", "))
	}
	flags := make([]string, 0, 2)
	if ctxBool(ctx, "encrypted") {
		flags = append(flags, "encrypted")
	}
	if ctxBool(ctx, "incremental") {
		flags = append(flags, "incremental")
	}
	if len(flags) > 0 {
		lines = append(lines, "Options: "+strings.Join(flags, ", "))
	}
	if d, ok := ctxFloat(ctx, "duration"); ok && d > 0 {
		lines = append(lines, "Duration: "+formatDuration(d))
	}
	if algo := ctxString(ctx, "checksum_algo"); algo != "" {
		if sum := ctxString(ctx, "checksum"); sum != "" {
			lines = append(lines, fmt.Sprintf("Checksum (%s): %s", algo, sum))
		}
	}
	lines = append(lines, formatChecks(ctx["checks"])...)
	lines = append(lines, formatDestinations(ctx["destinations"])...)
	if who := ctxString(ctx, "initiator"); who != "" {
		lines = append(lines, "Started by: "+who)
	}
	return lines
}

// formatChecks summarizes post-backup verification: a pass/total headline
// plus one detail line per failing file.
func formatChecks(v any) []string {
	checks, ok := v.([]lifecycle.VerificationCheck)
	if !ok || len(checks) == 0 {
		return nil
	}
	passed := 0
	var failures []string
	for _, c := range checks {
		if c.Passed {
			passed++
			continue
		}
		line := "failed: " + c.File
		if c.Detail != "" {
			line += " (" + c.Detail + ")"
		}
		failures = append(failures, line)
	}
	lines := []string{fmt.Sprintf("Verification: %d/%d checks passed", passed, len(checks))}
	return append(lines, failures...)
}

// formatDestinations buckets remote delivery outcomes into
// success/failure/pending with per-destination labels.
func formatDestinations(v any) []string {
	dests, ok := v.([]lifecycle.DestinationOutcome)
	if !ok || len(dests) == 0 {
		return nil
	}
	var succeeded, failed, pending []string
	for _, d := range dests {
		label := d.Label
		if label == "" {
			label = d.Key
		}
		switch d.Status {
		case "success":
			succeeded = append(succeeded, label)
		case "failure":
			if d.Error != "" {
				label += " (" + d.Error + ")"
			}
			failed = append(failed, label)
		default:
			pending = append(pending, label)
		}
	}
	var lines []string
	if len(succeeded) > 0 {
		lines = append(lines, "Delivered to: "+strings.Join(succeeded, ", "))
	}
	if len(failed) > 0 {
		lines = append(lines, "Delivery failed: "+strings.Join(failed, ", "))
	}
	if len(pending) > 0 {
		lines = append(lines, "Delivery pending: "+strings.Join(pending, ", "))
	}
	return lines
}

func buildBackupFailed(ctx map[string]any) []string {
	var lines []string
	if errText := ctxString(ctx, "error"); errText != "" {
		lines = append(lines, "Error: "+errText)
	}
	if comps := ctxStrings(ctx, "components"); len(comps) > 0 {
		lines = append(lines, "Components: "+strings.Join(comps, ", "))
	}
	if fn := ctxString(ctx, "filename"); fn != "" {
		lines = append(lines, "Partial archive: "+fn)
	}
	return lines
}

func buildCleanupComplete(ctx map[string]any) []string {
	var lines []string
	if n, ok := ctxInt64(ctx, "removed_files"); ok {
		lines = append(lines, fmt.Sprintf("Removed files: %d", n))
	}
	if b, ok := ctxInt64(ctx, "freed_bytes"); ok && b > 0 {
		lines = append(lines, "Space reclaimed: "+humanize.IBytes(uint64(b)))
	}
	return lines
}

func buildStorageWarning(ctx map[string]any) []string {
	var lines []string
	if p := ctxString(ctx, "path"); p != "" {
		lines = append(lines, "Path: "+p)
	}
	used, uok := ctxInt64(ctx, "used_bytes")
	total, tok := ctxInt64(ctx, "total_bytes")
	if uok && tok && total > 0 {
		lines = append(lines, fmt.Sprintf("Usage: %s of %s",
			humanize.IBytes(uint64(used)), humanize.IBytes(uint64(total))))
	}
	if pct, ok := ctxFloat(ctx, "used_percent"); ok {
		if thr, tok := ctxFloat(ctx, "threshold"); tok {
			lines = append(lines, fmt.Sprintf("Used: %.1f%% (threshold %.0f%%)", pct, thr))
		} else {
			lines = append(lines, fmt.Sprintf("Used: %.1f%%", pct))
		}
	}
	return lines
}

func buildRemotePurgeFailed(ctx map[string]any) []string {
	var lines []string
	if l := destinationLabel(ctx); l != "" {
		lines = append(lines, "Destination: "+l)
	}
	if errText := ctxString(ctx, "error"); errText != "" {
		lines = append(lines, "Error: "+errText)
	}
	if n, ok := ctxInt64(ctx, "pending_files"); ok && n > 0 {
		lines = append(lines, fmt.Sprintf("Files awaiting purge: %d", n))
	}
	return lines
}

func buildRemotePurgeDelayed(ctx map[string]any) []string {
	var lines []string
	if l := destinationLabel(ctx); l != "" {
		lines = append(lines, "Destination: "+l)
	}
	if d, ok := ctxFloat(ctx, "queued_for"); ok && d > 0 {
		lines = append(lines, "Queued for: "+formatDuration(d))
	}
	if n, ok := ctxInt64(ctx, "pending_files"); ok && n > 0 {
		lines = append(lines, fmt.Sprintf("Files awaiting purge: %d", n))
	}
	return lines
}

func destinationLabel(ctx map[string]any) string {
	label := ctxString(ctx, "label")
	key := ctxString(ctx, "destination")
	switch {
	case label != "" && key != "" && label != key:
		return fmt.Sprintf("%s (%s)", label, key)
	case label != "":
		return label
	default:
		return key
	}
}

func buildRestoreSelfTestPassed(ctx map[string]any) []string {
	var lines []string
	if fn := ctxString(ctx, "filename"); fn != "" {
		lines = append(lines, "Archive: "+fn)
	}
	if n, ok := ctxInt64(ctx, "checked_files"); ok && n > 0 {
		lines = append(lines, fmt.Sprintf("Files verified: %d", n))
	}
	if d, ok := ctxFloat(ctx, "duration"); ok && d > 0 {
		lines = append(lines, "Duration: "+formatDuration(d))
	}
	return lines
}

func buildRestoreSelfTestFailed(ctx map[string]any) []string {
	var lines []string
	if fn := ctxString(ctx, "filename"); fn != "" {
		lines = append(lines, "Archive: "+fn)
	}
	if errText := ctxString(ctx, "error"); errText != "" {
		lines = append(lines, "Error: "+errText)
	}
	if files := ctxStrings(ctx, "failed_files"); len(files) > 0 {
		lines = append(lines, "Failed files: "+strings.Join(files, ", "))
	}
	return lines
}

func buildSandboxValidationPassed(ctx map[string]any) []string {
	var lines []string
	if id := ctxString(ctx, "sandbox_id"); id != "" {
		lines = append(lines, "Sandbox: "+id)
	}
	if n, ok := ctxInt64(ctx, "checks_passed"); ok && n > 0 {
		lines = append(lines, fmt.Sprintf("Checks passed: %d", n))
	}
	if d, ok := ctxFloat(ctx, "duration"); ok && d > 0 {
		lines = append(lines, "Duration: "+formatDuration(d))
	}
	return lines
}

func buildSandboxValidationFailed(ctx map[string]any) []string {
	var lines []string
	if id := ctxString(ctx, "sandbox_id"); id != "" {
		lines = append(lines, "Sandbox: "+id)
	}
	if errText := ctxString(ctx, "error"); errText != "" {
		lines = append(lines, "Error: "+errText)
	}
	if checks := ctxStrings(ctx, "failed_checks"); len(checks) > 0 {
		lines = append(lines, "Failed checks: "+strings.Join(checks, ", "))
	}
	return lines
}

func buildTestNotification(ctx map[string]any) []string {
	var lines []string
	if msg := ctxString(ctx, "message"); msg != "" {
		lines = append(lines, msg)
	} else {
		lines = append(lines, "This is a test notification. Delivery is working.")
	}
	if who := ctxString(ctx, "initiator"); who != "" {
		lines = append(lines, "Requested by: "+who)
	}
	return lines
}

func buildManagedVaultLatency(ctx map[string]any) []string {
	var lines []string
	if v := ctxString(ctx, "vault"); v != "" {
		lines = append(lines, "Vault: "+v)
	}
	if r := ctxString(ctx, "region"); r != "" {
		lines = append(lines, "Region: "+r)
	}
	if lat, ok := ctxFloat(ctx, "latency_ms"); ok {
		if thr, tok := ctxFloat(ctx, "threshold_ms"); tok {
			lines = append(lines, fmt.Sprintf("Latency: %.0f ms (threshold %.0f ms)", lat, thr))
		} else {
			lines = append(lines, fmt.Sprintf("Latency: %.0f ms", lat))
		}
	}
	return lines
}

func buildManagedVaultReplica(ctx map[string]any) []string {
	var lines []string
	if v := ctxString(ctx, "vault"); v != "" {
		lines = append(lines, "Vault: "+v)
	}
	if r := ctxString(ctx, "replica"); r != "" {
		lines = append(lines, "Replica: "+r)
	}
	if reg := ctxString(ctx, "region"); reg != "" {
		lines = append(lines, "Region: "+reg)
	}
	if errText := ctxString(ctx, "error"); errText != "" {
		lines = append(lines, "Error: "+errText)
	}
	return lines
}

// buildGeneric dumps scalar context entries as "key: value" in sorted key
// order so unknown events still produce a readable body.
func buildGeneric(ctx map[string]any) []string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		switch ctx[k].(type) {
		case string, bool, int, int64, float64:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, ctx[k]))
	}
	return lines
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	return d.Round(time.Second).String()
}

func ctxString(ctx map[string]any, key string) string {
	s, _ := ctx[key].(string)
	return strings.TrimSpace(s)
}

func ctxBool(ctx map[string]any, key string) bool {
	b, _ := ctx[key].(bool)
	return b
}

func ctxInt64(ctx map[string]any, key string) (int64, bool) {
	switch v := ctx[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func ctxFloat(ctx map[string]any, key string) (float64, bool) {
	switch v := ctx[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func ctxStrings(ctx map[string]any, key string) []string {
	switch v := ctx[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	default:
		return nil
	}
}
