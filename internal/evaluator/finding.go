package evaluator

import (
	"device-health-alerts/internal/storage"
)

// Finding is an in-memory candidate alert produced by evaluation. It is
// ephemeral: only findings that survive deduplication become ledger rows.
type Finding struct {
	DeviceID   string
	Kind       string
	ProbeIndex *int
	Detail     string
}

// Record converts a finding into the ledger row it would persist.
func (f Finding) Record(dev storage.DeviceConfig) storage.AlertRecord {
	return storage.AlertRecord{
		DeviceID:   f.DeviceID,
		ClientID:   dev.ClientID,
		AlertType:  f.Kind,
		ProbeIndex: f.ProbeIndex,
		Details:    f.Detail,
		Status:     storage.StatusNew,
	}
}
