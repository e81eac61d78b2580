package service

import (
	"context"

	"device-health-alerts/internal/evaluator"
	"device-health-alerts/internal/storage"
)

// Deduplicator enforces the at-most-one-open-alert invariant: a finding
// is admitted only when no alert of the same kind is still open for the
// device. With per-probe scope, distinct probes on one device alert
// independently; with device scope the first out-of-range probe in a
// pass wins, matching the historical ledger semantics.
//
// The check-then-insert is not atomic against concurrent runs from other
// process instances; the accepted worst case is a harmless duplicate row,
// never a lost alert.
type Deduplicator struct {
	ledger   storage.AlertLedger
	perProbe bool
}

// NewDeduplicator builds a deduplicator over the alert ledger.
func NewDeduplicator(ledger storage.AlertLedger, perProbe bool) *Deduplicator {
	return &Deduplicator{ledger: ledger, perProbe: perProbe}
}

// Admit reports whether the finding should be persisted. An error means
// the ledger could not be consulted; callers must treat the finding as
// not recorded and surface a run-level error.
func (d *Deduplicator) Admit(ctx context.Context, finding evaluator.Finding) (bool, error) {
	var probe *int
	if d.perProbe {
		probe = finding.ProbeIndex
	}

	existing, err := d.ledger.FindOpenAlert(ctx, finding.DeviceID, finding.Kind, probe)
	if err != nil {
		return false, err
	}
	return existing == nil, nil
}
