package evaluator

import (
	"fmt"
	"strconv"
	"time"

	"device-health-alerts/internal/storage"
)

// Evaluate inspects a device's latest reading and returns zero or more
// candidate findings. It is pure: no I/O, no clock access, total for any
// well-formed input.
//
// An offline device short-circuits: stale probe temperatures carry no
// signal, so the threshold check only runs for devices that reported
// within their offline window.
func Evaluate(dev storage.DeviceConfig, latest *storage.Reading, now time.Time) []Finding {
	if offline(dev, latest, now) {
		return []Finding{{
			DeviceID: dev.ID,
			Kind:     storage.AlertTypeOffline,
			Detail:   fmt.Sprintf("no data for more than %d minutes", dev.OfflineThresholdMinutes),
		}}
	}

	if dev.DeviceType != storage.DeviceTypeRefrigerator || !dev.HasThresholds() {
		return nil
	}

	var findings []Finding
	for _, probe := range dev.Probes {
		if !probe.AlertsEnabled {
			continue
		}
		temp, ok := latest.ProbeTemperature(probe.Index)
		if !ok {
			// A single missing probe value is not itself an anomaly.
			continue
		}
		if temp < *dev.MinTempThreshold || temp > *dev.MaxTempThreshold {
			index := probe.Index
			findings = append(findings, Finding{
				DeviceID:   dev.ID,
				Kind:       storage.AlertTypeTempCritical,
				ProbeIndex: &index,
				Detail: fmt.Sprintf("%s out of range: %.1f°C (allowed: %s°C - %s°C)",
					probeName(probe),
					temp,
					formatTemp(*dev.MinTempThreshold),
					formatTemp(*dev.MaxTempThreshold),
				),
			})
		}
	}
	return findings
}

// ValidateConfig reports configuration errors that disable the threshold
// check, so the caller can log them. The offline check is unaffected.
func ValidateConfig(dev storage.DeviceConfig) error {
	if dev.DeviceType != storage.DeviceTypeRefrigerator {
		return nil
	}
	if (dev.MinTempThreshold == nil) != (dev.MaxTempThreshold == nil) {
		return fmt.Errorf("refrigerator device %s has only one temperature threshold configured", dev.ID)
	}
	return nil
}

func offline(dev storage.DeviceConfig, latest *storage.Reading, now time.Time) bool {
	if latest == nil {
		return true
	}
	window := time.Duration(dev.OfflineThresholdMinutes) * time.Minute
	return now.Sub(latest.Timestamp) > window
}

func probeName(probe storage.ProbeConfig) string {
	if probe.Name != "" {
		return probe.Name
	}
	return fmt.Sprintf("Probe %d", probe.Index+1)
}

func formatTemp(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}
