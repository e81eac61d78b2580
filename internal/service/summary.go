package service

import (
	"time"
)

// RunState tracks the coordinator state machine for one evaluation pass.
type RunState string

const (
	// StateFetchingDevices means the device list is being loaded.
	StateFetchingDevices RunState = "fetching_devices"
	// StateEvaluating means per-device evaluation is in flight.
	StateEvaluating RunState = "evaluating"
	// StateDone is the terminal state of a completed pass, even when
	// individual devices failed.
	StateDone RunState = "done"
	// StateFailed is the terminal state when the device list itself
	// could not be fetched.
	StateFailed RunState = "failed"
	// StateSkipped means another process instance held the run lock.
	StateSkipped RunState = "skipped"
)

// DeviceError records a single device's evaluation failure.
type DeviceError struct {
	DeviceID string `json:"device_id"`
	Error    string `json:"error"`
}

// RunSummary is the structured report of one evaluation pass.
type RunSummary struct {
	RunID                string        `json:"run_id"`
	State                RunState      `json:"state"`
	StartedAt            time.Time     `json:"started_at"`
	FinishedAt           time.Time     `json:"finished_at"`
	DevicesEvaluated     int           `json:"devices_evaluated"`
	Findings             int           `json:"findings"`
	AlertsAdmitted       int           `json:"alerts_admitted"`
	AlertsSuppressed     int           `json:"alerts_suppressed"`
	NotificationFailures int           `json:"notification_failures"`
	DeviceErrors         []DeviceError `json:"device_errors"`
}
