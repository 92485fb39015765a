package lifecycle

import (
	"time"

	"vaultwatch/internal/eventbus"
)

// Recognized lifecycle event names.
//
// The set is closed: severity mapping and body formatting key off these
// names, and unknown names degrade to a generic info rendering.
const (
	EventBackupComplete            = "backup_complete"
	EventBackupFailed              = "backup_failed"
	EventCleanupComplete           = "cleanup_complete"
	EventStorageWarning            = "storage_warning"
	EventRemotePurgeFailed         = "remote_purge_failed"
	EventRemotePurgeDelayed        = "remote_purge_delayed"
	EventRestoreSelfTestPassed     = "restore_self_test_passed"
	EventRestoreSelfTestFailed     = "restore_self_test_failed"
	EventSandboxValidationPassed   = "sandbox_restore_validation_passed"
	EventSandboxValidationFailed   = "sandbox_restore_validation_failed"
	EventTestNotification          = "test_notification"
	EventManagedVaultLatency       = "managed_vault_latency"
	EventManagedVaultReplicaDegr   = "managed_vault_replica_degraded"
)

// Event is one lifecycle occurrence in the backup system.
//
// Each variant is a plain struct; EventContext flattens it into the
// string-keyed context map the notification engine consumes.
type Event interface {
	EventName() string
	EventContext() map[string]any
}

// BusTopicPrefix namespaces lifecycle events on the shared bus.
const BusTopicPrefix = "lifecycle."

// Publish puts a lifecycle event on the shared bus.
func Publish(b eventbus.Bus, ev Event) {
	if b == nil || ev == nil {
		return
	}
	b.Publish(eventbus.Event{Type: BusTopicPrefix + ev.EventName(), Data: ev})
}

// VerificationCheck is one post-backup integrity check result.
type VerificationCheck struct {
	File   string
	Passed bool
	Detail string
}

// DestinationOutcome is the delivery result for one remote destination.
// Status is one of "success", "failure", "pending".
type DestinationOutcome struct {
	Key    string
	Label  string
	Status string
	Error  string
}

// BackupCompleted fires after a backup archive is written and verified.
type BackupCompleted struct {
	Filename     string
	SizeBytes    int64
	Components   []string
	Encrypted    bool
	Incremental  bool
	Duration     time.Duration
	ChecksumAlgo string
	Checksum     string
	Checks       []VerificationCheck
	Destinations []DestinationOutcome
	Initiator    string
}

func (BackupCompleted) EventName() string { return EventBackupComplete }

func (e BackupCompleted) EventContext() map[string]any {
	return map[string]any{
		"filename":      e.Filename,
		"size_bytes":    e.SizeBytes,
		"components":    append([]string(nil), e.Components...),
		"encrypted":     e.Encrypted,
		"incremental":   e.Incremental,
		"duration":      e.Duration.Seconds(),
		"checksum_algo": e.ChecksumAlgo,
		"checksum":      e.Checksum,
		"checks":        append([]VerificationCheck(nil), e.Checks...),
		"destinations":  append([]DestinationOutcome(nil), e.Destinations...),
		"initiator":     e.Initiator,
	}
}

// BackupFailed fires when a backup run aborts.
type BackupFailed struct {
	Error      string
	Components []string
	Filename   string
}

func (BackupFailed) EventName() string { return EventBackupFailed }

func (e BackupFailed) EventContext() map[string]any {
	return map[string]any{
		"error":      e.Error,
		"components": append([]string(nil), e.Components...),
		"filename":   e.Filename,
	}
}

// CleanupComplete fires after local retention cleanup finishes.
type CleanupComplete struct {
	RemovedFiles int
	FreedBytes   int64
}

func (CleanupComplete) EventName() string { return EventCleanupComplete }

func (e CleanupComplete) EventContext() map[string]any {
	return map[string]any{
		"removed_files": e.RemovedFiles,
		"freed_bytes":   e.FreedBytes,
	}
}

// StorageWarning fires when backup storage approaches capacity.
type StorageWarning struct {
	Path        string
	UsedBytes   int64
	TotalBytes  int64
	UsedPercent float64
	Threshold   float64
}

func (StorageWarning) EventName() string { return EventStorageWarning }

func (e StorageWarning) EventContext() map[string]any {
	return map[string]any{
		"path":         e.Path,
		"used_bytes":   e.UsedBytes,
		"total_bytes":  e.TotalBytes,
		"used_percent": e.UsedPercent,
		"threshold":    e.Threshold,
	}
}

// RemotePurgeFailed fires when deleting expired archives from a remote
// destination failed outright.
type RemotePurgeFailed struct {
	Destination  string
	Label        string
	Error        string
	PendingFiles int
}

func (RemotePurgeFailed) EventName() string { return EventRemotePurgeFailed }

func (e RemotePurgeFailed) EventContext() map[string]any {
	return map[string]any{
		"destination":   e.Destination,
		"label":         e.Label,
		"error":         e.Error,
		"pending_files": e.PendingFiles,
	}
}

// RemotePurgeDelayed fires when a remote purge has been queued longer
// than the stuck threshold.
type RemotePurgeDelayed struct {
	Destination  string
	Label        string
	QueuedFor    time.Duration
	PendingFiles int
}

func (RemotePurgeDelayed) EventName() string { return EventRemotePurgeDelayed }

func (e RemotePurgeDelayed) EventContext() map[string]any {
	return map[string]any{
		"destination":   e.Destination,
		"label":         e.Label,
		"queued_for":    e.QueuedFor.Seconds(),
		"pending_files": e.PendingFiles,
	}
}

// RestoreSelfTestPassed fires after a successful scheduled restore drill.
type RestoreSelfTestPassed struct {
	Filename     string
	Duration     time.Duration
	CheckedFiles int
}

func (RestoreSelfTestPassed) EventName() string { return EventRestoreSelfTestPassed }

func (e RestoreSelfTestPassed) EventContext() map[string]any {
	return map[string]any{
		"filename":      e.Filename,
		"duration":      e.Duration.Seconds(),
		"checked_files": e.CheckedFiles,
	}
}

// RestoreSelfTestFailed fires when the restore drill could not restore or
// verify the archive.
type RestoreSelfTestFailed struct {
	Filename    string
	Error       string
	FailedFiles []string
}

func (RestoreSelfTestFailed) EventName() string { return EventRestoreSelfTestFailed }

func (e RestoreSelfTestFailed) EventContext() map[string]any {
	return map[string]any{
		"filename":     e.Filename,
		"error":        e.Error,
		"failed_files": append([]string(nil), e.FailedFiles...),
	}
}

// SandboxValidationPassed fires after a disaster-recovery sandbox restore
// validated successfully.
type SandboxValidationPassed struct {
	SandboxID    string
	Duration     time.Duration
	ChecksPassed int
}

func (SandboxValidationPassed) EventName() string { return EventSandboxValidationPassed }

func (e SandboxValidationPassed) EventContext() map[string]any {
	return map[string]any{
		"sandbox_id":    e.SandboxID,
		"duration":      e.Duration.Seconds(),
		"checks_passed": e.ChecksPassed,
	}
}

// SandboxValidationFailed fires when the sandbox restore validation failed.
type SandboxValidationFailed struct {
	SandboxID    string
	Error        string
	FailedChecks []string
}

func (SandboxValidationFailed) EventName() string { return EventSandboxValidationFailed }

func (e SandboxValidationFailed) EventContext() map[string]any {
	return map[string]any{
		"sandbox_id":    e.SandboxID,
		"error":         e.Error,
		"failed_checks": append([]string(nil), e.FailedChecks...),
	}
}

// TestNotification is the synthetic event behind the "send test" action.
type TestNotification struct {
	Initiator string
	SiteName  string
	SiteURL   string
	Message   string
}

func (TestNotification) EventName() string { return EventTestNotification }

func (e TestNotification) EventContext() map[string]any {
	return map[string]any{
		"initiator": e.Initiator,
		"site_name": e.SiteName,
		"site_url":  e.SiteURL,
		"message":   e.Message,
	}
}

// ManagedVaultLatency fires when the managed storage backend reports
// elevated request latency.
type ManagedVaultLatency struct {
	Vault       string
	Region      string
	LatencyMS   float64
	ThresholdMS float64
}

func (ManagedVaultLatency) EventName() string { return EventManagedVaultLatency }

func (e ManagedVaultLatency) EventContext() map[string]any {
	return map[string]any{
		"vault":        e.Vault,
		"region":       e.Region,
		"latency_ms":   e.LatencyMS,
		"threshold_ms": e.ThresholdMS,
	}
}

// ManagedVaultReplicaDegraded fires when a replica of the managed storage
// backend is degraded or unreachable.
type ManagedVaultReplicaDegraded struct {
	Vault   string
	Replica string
	Region  string
	Error   string
}

func (ManagedVaultReplicaDegraded) EventName() string { return EventManagedVaultReplicaDegr }

func (e ManagedVaultReplicaDegraded) EventContext() map[string]any {
	return map[string]any{
		"vault":   e.Vault,
		"replica": e.Replica,
		"region":  e.Region,
		"error":   e.Error,
	}
}

// Names returns every recognized event name in a stable order.
func Names() []string {
	return []string{
		EventBackupComplete,
		EventBackupFailed,
		EventCleanupComplete,
		EventStorageWarning,
		EventRemotePurgeFailed,
		EventRemotePurgeDelayed,
		EventRestoreSelfTestPassed,
		EventRestoreSelfTestFailed,
		EventSandboxValidationPassed,
		EventSandboxValidationFailed,
		EventTestNotification,
		EventManagedVaultLatency,
		EventManagedVaultReplicaDegr,
	}
}
