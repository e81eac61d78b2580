package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"device-health-alerts/internal/alerting"
	"device-health-alerts/internal/storage"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeStore implements the store interfaces over in-memory state.
type fakeStore struct {
	mu          sync.Mutex
	devices     []storage.DeviceConfig
	devicesErr  error
	readings    map[string]*storage.Reading
	readingErrs map[string]error
	alerts      []storage.AlertRecord
	insertErr   error
	lookupErr   error
	nextID      int64
}

func (f *fakeStore) ListDevicesWithConfig(ctx context.Context) ([]storage.DeviceConfig, error) {
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}
	return f.devices, nil
}

func (f *fakeStore) LatestReading(ctx context.Context, deviceID string) (*storage.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readingErrs[deviceID]; err != nil {
		return nil, err
	}
	return f.readings[deviceID], nil
}

func (f *fakeStore) FindOpenAlert(ctx context.Context, deviceID, alertType string, probeIndex *int) (*storage.AlertRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for i := len(f.alerts) - 1; i >= 0; i-- {
		a := f.alerts[i]
		if a.DeviceID != deviceID || a.AlertType != alertType || a.Status != storage.StatusNew {
			continue
		}
		if probeIndex != nil {
			if a.ProbeIndex == nil || *a.ProbeIndex != *probeIndex {
				continue
			}
		}
		record := a
		return &record, nil
	}
	return nil, nil
}

func (f *fakeStore) InsertAlert(ctx context.Context, record storage.AlertRecord) (storage.AlertRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return storage.AlertRecord{}, f.insertErr
	}
	f.nextID++
	record.ID = f.nextID
	record.Status = storage.StatusNew
	record.CreatedAt = testNow
	f.alerts = append(f.alerts, record)
	return record, nil
}

func (f *fakeStore) resolveAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.alerts {
		f.alerts[i].Status = storage.StatusResolved
	}
}

func (f *fakeStore) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeDispatcher struct {
	mu      sync.Mutex
	err     error
	records []storage.AlertRecord
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, record storage.AlertRecord, dev storage.DeviceConfig) alerting.DispatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return alerting.DispatchResult{Recipients: 1, Err: f.err}
}

type fakeLocker struct {
	acquired bool
	err      error
	calls    int
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	if !f.acquired {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func fridge(id string, probes ...storage.ProbeConfig) storage.DeviceConfig {
	minTemp := 2.0
	maxTemp := 8.0
	return storage.DeviceConfig{
		ID:                      id,
		ClientID:                "client-1",
		ClientName:              "Clinica Norte",
		Location:                "Vaccine fridge",
		NodeID:                  "node-7",
		DeviceType:              storage.DeviceTypeRefrigerator,
		MinTempThreshold:        &minTemp,
		MaxTempThreshold:        &maxTemp,
		OfflineThresholdMinutes: 15,
		Probes:                  probes,
	}
}

func probe(index int, enabled bool) storage.ProbeConfig {
	return storage.ProbeConfig{Index: index, Name: "", AlertsEnabled: enabled}
}

func freshReading(temps ...float64) *storage.Reading {
	return &storage.Reading{Timestamp: testNow.Add(-10 * time.Minute), ProbeTemperatures: temps}
}

func newTestService(store *fakeStore, dispatcher AlertDispatcher, perProbe bool, locker storage.AdvisoryLocker) *Service {
	var dedup *Deduplicator
	if store != nil {
		dedup = NewDeduplicator(store, perProbe)
	}
	opts := Options{Concurrency: 4, RunTimeout: time.Minute}
	if locker != nil {
		opts.LockKey = 1
	}
	svc := New(store, store, store, dedup, dispatcher, locker, opts, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestRunPassRecordsAndNotifies(t *testing.T) {
	store := &fakeStore{
		devices:  []storage.DeviceConfig{fridge("d1", probe(0, true))},
		readings: map[string]*storage.Reading{"d1": freshReading(9.5)},
	}
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, false, nil)

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.State != StateDone {
		t.Fatalf("expected done, got %s", summary.State)
	}
	if summary.DevicesEvaluated != 1 || summary.Findings != 1 || summary.AlertsAdmitted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if store.alertCount() != 1 {
		t.Fatalf("expected one persisted alert, got %d", store.alertCount())
	}

	record := store.alerts[0]
	if record.AlertType != storage.AlertTypeTempCritical || record.ClientID != "client-1" || record.Status != storage.StatusNew {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !strings.Contains(record.Details, "9.5") || !strings.Contains(record.Details, "2°C - 8°C") {
		t.Fatalf("details should describe the excursion: %q", record.Details)
	}
	if len(dispatcher.records) != 1 {
		t.Fatalf("dispatcher should be called once, got %d", len(dispatcher.records))
	}
}

func TestRunPassIsIdempotent(t *testing.T) {
	store := &fakeStore{
		devices:  []storage.DeviceConfig{fridge("d1", probe(0, true))},
		readings: map[string]*storage.Reading{"d1": freshReading(9.5)},
	}
	svc := newTestService(store, &fakeDispatcher{}, false, nil)

	if _, err := svc.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if second.AlertsAdmitted != 0 {
		t.Fatalf("second pass on unchanged data must admit nothing, got %d", second.AlertsAdmitted)
	}
	if second.AlertsSuppressed != 1 {
		t.Fatalf("second pass should suppress the repeat finding, got %d", second.AlertsSuppressed)
	}
	if store.alertCount() != 1 {
		t.Fatalf("ledger should hold exactly one alert, got %d", store.alertCount())
	}
}

func TestRunPassReadmitsAfterResolution(t *testing.T) {
	store := &fakeStore{
		devices:  []storage.DeviceConfig{fridge("d1", probe(0, true))},
		readings: map[string]*storage.Reading{"d1": freshReading(9.5)},
	}
	svc := newTestService(store, &fakeDispatcher{}, false, nil)

	if _, err := svc.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	store.resolveAll()

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if summary.AlertsAdmitted != 1 {
		t.Fatalf("a resolved alert must not suppress a recurring condition, got %+v", summary)
	}
	if store.alertCount() != 2 {
		t.Fatalf("expected a second ledger row, got %d", store.alertCount())
	}
}

func TestRunPassDeviceScopeCollapsesProbes(t *testing.T) {
	store := &fakeStore{
		devices:  []storage.DeviceConfig{fridge("d1", probe(0, true), probe(1, true))},
		readings: map[string]*storage.Reading{"d1": freshReading(1.0, 10.0)},
	}
	svc := newTestService(store, &fakeDispatcher{}, false, nil)

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Findings != 2 {
		t.Fatalf("both probes should produce findings, got %d", summary.Findings)
	}
	if summary.AlertsAdmitted != 1 || summary.AlertsSuppressed != 1 {
		t.Fatalf("device scope: first probe wins, got %+v", summary)
	}
}

func TestRunPassProbeScopeAlertsIndependently(t *testing.T) {
	store := &fakeStore{
		devices:  []storage.DeviceConfig{fridge("d1", probe(0, true), probe(1, true))},
		readings: map[string]*storage.Reading{"d1": freshReading(1.0, 10.0)},
	}
	svc := newTestService(store, &fakeDispatcher{}, true, nil)

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.AlertsAdmitted != 2 || summary.AlertsSuppressed != 0 {
		t.Fatalf("probe scope should admit both probes, got %+v", summary)
	}
}

func TestRunPassIsolatesDeviceFailures(t *testing.T) {
	store := &fakeStore{
		devices: []storage.DeviceConfig{
			fridge("a", probe(0, true)),
			fridge("b", probe(0, true)),
			fridge("c", probe(0, true)),
		},
		readings: map[string]*storage.Reading{
			"a": freshReading(9.5),
			"c": freshReading(1.0),
		},
		readingErrs: map[string]error{"b": errors.New("telemetry unavailable")},
	}
	svc := newTestService(store, &fakeDispatcher{}, false, nil)

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.State != StateDone {
		t.Fatalf("per-device failures must not fail the run, got %s", summary.State)
	}
	if summary.DevicesEvaluated != 3 {
		t.Fatalf("all devices should be attempted, got %d", summary.DevicesEvaluated)
	}
	if len(summary.DeviceErrors) != 1 || summary.DeviceErrors[0].DeviceID != "b" {
		t.Fatalf("exactly one device error for b expected, got %+v", summary.DeviceErrors)
	}
	if summary.AlertsAdmitted != 2 {
		t.Fatalf("a and c must still alert, got %d", summary.AlertsAdmitted)
	}
}

func TestRunPassFailsWhenDeviceListUnavailable(t *testing.T) {
	store := &fakeStore{devicesErr: errors.New("connection refused")}
	svc := newTestService(store, &fakeDispatcher{}, false, nil)

	summary, err := svc.RunPass(context.Background())
	if !errors.Is(err, ErrDeviceList) {
		t.Fatalf("expected ErrDeviceList, got %v", err)
	}
	if summary.State != StateFailed {
		t.Fatalf("expected failed state, got %s", summary.State)
	}
}

func TestRunPassSurfacesInsertFailure(t *testing.T) {
	store := &fakeStore{
		devices:   []storage.DeviceConfig{fridge("d1", probe(0, true))},
		readings:  map[string]*storage.Reading{"d1": freshReading(9.5)},
		insertErr: errors.New("write timeout"),
	}
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, false, nil)

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.State != StateDone {
		t.Fatalf("insert failure is a device-level error, got state %s", summary.State)
	}
	if len(summary.DeviceErrors) != 1 {
		t.Fatalf("insert failure must surface in the summary, got %+v", summary.DeviceErrors)
	}
	if summary.AlertsAdmitted != 0 || len(dispatcher.records) != 0 {
		t.Fatal("nothing may be counted admitted or notified when the write failed")
	}
}

func TestRunPassSurfacesDedupLookupFailure(t *testing.T) {
	store := &fakeStore{
		devices:   []storage.DeviceConfig{fridge("d1", probe(0, true))},
		readings:  map[string]*storage.Reading{"d1": freshReading(9.5)},
		lookupErr: errors.New("connection reset"),
	}
	svc := newTestService(store, &fakeDispatcher{}, false, nil)

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if len(summary.DeviceErrors) != 1 || summary.AlertsAdmitted != 0 {
		t.Fatalf("unknown dedup state must be treated as not recorded, got %+v", summary)
	}
}

func TestRunPassNotificationFailureIsBestEffort(t *testing.T) {
	store := &fakeStore{
		devices:  []storage.DeviceConfig{fridge("d1", probe(0, true))},
		readings: map[string]*storage.Reading{"d1": freshReading(9.5)},
	}
	dispatcher := &fakeDispatcher{err: errors.New("smtp down")}
	svc := newTestService(store, dispatcher, false, nil)

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.NotificationFailures != 1 {
		t.Fatalf("delivery failure should be counted, got %+v", summary)
	}
	if summary.AlertsAdmitted != 1 || store.alertCount() != 1 {
		t.Fatal("the persisted alert must survive a failed notification")
	}
	if len(summary.DeviceErrors) != 0 {
		t.Fatalf("a failed notification is not a device error: %+v", summary.DeviceErrors)
	}
}

func TestRunPassOfflineShortCircuit(t *testing.T) {
	store := &fakeStore{
		devices: []storage.DeviceConfig{fridge("d2", probe(0, true))},
		// No reading ever recorded for d2.
		readings: map[string]*storage.Reading{},
	}
	svc := newTestService(store, &fakeDispatcher{}, false, nil)

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Findings != 1 || summary.AlertsAdmitted != 1 {
		t.Fatalf("never-reported device should produce one OFFLINE alert, got %+v", summary)
	}
	if store.alerts[0].AlertType != storage.AlertTypeOffline {
		t.Fatalf("expected OFFLINE, got %s", store.alerts[0].AlertType)
	}

	// A reading arrives; the next pass produces nothing new.
	store.readings["d2"] = freshReading(5.0)
	store.resolveAll()

	next, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if next.Findings != 0 || next.AlertsAdmitted != 0 {
		t.Fatalf("recovered device should produce no findings, got %+v", next)
	}
}

func TestRunPassSkippedWhenLockHeldElsewhere(t *testing.T) {
	store := &fakeStore{
		devices:  []storage.DeviceConfig{fridge("d1", probe(0, true))},
		readings: map[string]*storage.Reading{"d1": freshReading(9.5)},
	}
	locker := &fakeLocker{acquired: false}
	svc := newTestService(store, &fakeDispatcher{}, false, locker)

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.State != StateSkipped {
		t.Fatalf("expected skipped, got %s", summary.State)
	}
	if summary.DevicesEvaluated != 0 || store.alertCount() != 0 {
		t.Fatal("a skipped pass must not touch any device")
	}
}

func TestRunPassProceedsWhenLockErrors(t *testing.T) {
	store := &fakeStore{
		devices:  []storage.DeviceConfig{fridge("d1", probe(0, true))},
		readings: map[string]*storage.Reading{"d1": freshReading(9.5)},
	}
	locker := &fakeLocker{err: errors.New("lock conn lost")}
	svc := newTestService(store, &fakeDispatcher{}, false, locker)

	summary, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if summary.State != StateDone || summary.AlertsAdmitted != 1 {
		t.Fatalf("lock errors must not block the pass, got %+v", summary)
	}
}
