package storage

import (
	"time"
)

// Device types recognised by the evaluation engine.
const (
	DeviceTypeRefrigerator = "refrigerator"
	DeviceTypeHVAC         = "hvac"
)

// Alert types persisted in the ledger. CURRENT_HIGH exists in the ledger
// domain for the dashboard but is never produced by this engine.
const (
	AlertTypeOffline      = "OFFLINE"
	AlertTypeTempCritical = "TEMP_CRITICAL"
	AlertTypeCurrentHigh  = "CURRENT_HIGH"
)

// Alert lifecycle statuses. The engine only ever creates records with
// StatusNew; acknowledged/resolved transitions belong to the dashboard.
const (
	StatusNew          = "new"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// ProbeConfig is one temperature probe of a device. Index positions the
// probe inside a reading's temperature array.
type ProbeConfig struct {
	Index         int
	Name          string
	AlertsEnabled bool
}

// DeviceConfig is the validated per-device configuration the engine
// evaluates against, joined with the owning client's name.
type DeviceConfig struct {
	ID                      string
	ClientID                string
	ClientName              string
	Location                string
	NodeID                  string
	DeviceType              string
	MinTempThreshold        *float64
	MaxTempThreshold        *float64
	OfflineThresholdMinutes int
	Probes                  []ProbeConfig
}

// HasThresholds reports whether both temperature bounds are configured.
func (d DeviceConfig) HasThresholds() bool {
	return d.MinTempThreshold != nil && d.MaxTempThreshold != nil
}

// Reading is one telemetry row. Probe temperatures are positional; an
// index beyond the slice means that probe reported no value.
type Reading struct {
	Timestamp         time.Time
	ProbeTemperatures []float64
	AmbientTemp       *float64
	AmbientHum        *float64
	CurrentA          *float64
	CurrentB          *float64
}

// ProbeTemperature returns the value for a probe index, if present.
func (r Reading) ProbeTemperature(index int) (float64, bool) {
	if index < 0 || index >= len(r.ProbeTemperatures) {
		return 0, false
	}
	return r.ProbeTemperatures[index], true
}

// AlertRecord is a persisted alert ledger entry. ProbeIndex is set only
// for probe-scoped TEMP_CRITICAL alerts.
type AlertRecord struct {
	ID         int64
	DeviceID   string
	ClientID   string
	AlertType  string
	ProbeIndex *int
	Details    string
	Status     string
	CreatedAt  time.Time
}
