package types

import "time"

// BackupReason records why a backup file was produced.
type BackupReason string

// Backup reasons persisted in the metadata sidecar.
const (
	BackupManual  BackupReason = "manual"
	BackupAuto    BackupReason = "auto"
	BackupRestore BackupReason = "restore"
)

// Valid reports whether r is a known backup reason.
func (r BackupReason) Valid() bool {
	switch r {
	case BackupManual, BackupAuto, BackupRestore:
		return true
	}
	return false
}

// BackupMetadata describes the most recent backup. It is overwritten on every
// successful create or restore and never versioned.
type BackupMetadata struct {
	Path      string       `json:"path"`
	CreatedAt time.Time    `json:"created_at"`
	Reason    BackupReason `json:"reason"`
}
