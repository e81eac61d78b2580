package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"device-health-alerts/internal/alerting"
	"device-health-alerts/internal/evaluator"
	"device-health-alerts/internal/metrics"
	"device-health-alerts/internal/storage"
)

// ErrDeviceList marks the one fatal failure mode: the device list itself
// could not be fetched and the pass never started.
var ErrDeviceList = errors.New("fetch device list")

// AlertDispatcher sends the notification for a freshly persisted alert.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, record storage.AlertRecord, dev storage.DeviceConfig) alerting.DispatchResult
}

// Options tune one evaluation pass.
type Options struct {
	Concurrency int
	RunTimeout  time.Duration
	LockKey     int64
}

// Service coordinates one evaluation pass over all monitored devices.
// A pass is idempotent and safe to re-trigger on any schedule.
type Service struct {
	devices    storage.DeviceSource
	telemetry  storage.TelemetrySource
	ledger     storage.AlertLedger
	dedup      *Deduplicator
	dispatcher AlertDispatcher
	locker     storage.AdvisoryLocker
	opts       Options
	logger     zerolog.Logger

	now func() time.Time
}

// New constructs the run coordinator.
func New(
	devices storage.DeviceSource,
	telemetry storage.TelemetrySource,
	ledger storage.AlertLedger,
	dedup *Deduplicator,
	dispatcher AlertDispatcher,
	locker storage.AdvisoryLocker,
	opts Options,
	logger zerolog.Logger,
) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	return &Service{
		devices:    devices,
		telemetry:  telemetry,
		ledger:     ledger,
		dedup:      dedup,
		dispatcher: dispatcher,
		locker:     locker,
		opts:       opts,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunPass executes one evaluation pass and returns its summary. The
// returned error is non-nil only for the fatal device-list failure;
// per-device failures are reported inside the summary.
func (s *Service) RunPass(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		State:     StateFetchingDevices,
		StartedAt: s.now(),
	}

	if s.locker != nil && s.opts.LockKey != 0 {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
		if err != nil {
			// The lock is an optimisation against overlapping runs; the
			// dedup check remains the correctness guard, so proceed.
			s.logger.Warn().Err(err).Msg("advisory lock unavailable; running unlocked")
		} else if !acquired {
			s.logger.Info().Str("run_id", summary.RunID).Msg("run lock held elsewhere; skipping pass")
			summary.State = StateSkipped
			summary.FinishedAt = s.now()
			metrics.RunsTotal.WithLabelValues(string(StateSkipped)).Inc()
			return summary, nil
		} else {
			defer unlock()
		}
	}

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	devices, err := s.devices.ListDevicesWithConfig(ctx)
	if err != nil {
		summary.State = StateFailed
		summary.FinishedAt = s.now()
		metrics.RunsTotal.WithLabelValues(string(StateFailed)).Inc()
		return summary, fmt.Errorf("%w: %v", ErrDeviceList, err)
	}

	summary.State = StateEvaluating
	s.logger.Info().Str("run_id", summary.RunID).Int("devices", len(devices)).Msg("evaluation pass started")

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.opts.Concurrency)
	)

	for _, dev := range devices {
		// On deadline the remaining devices are simply abandoned; the
		// next scheduled pass picks them up.
		if ctx.Err() != nil {
			s.logger.Warn().Str("run_id", summary.RunID).Msg("run deadline reached; abandoning remaining devices")
			break
		}

		dev := dev
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().
						Str("device_id", dev.ID).
						Interface("panic", r).
						Bytes("stack", debug.Stack()).
						Msg("device evaluation panic recovered")
					metrics.PanicsRecovered.WithLabelValues("evaluation").Inc()
					s.addDeviceError(summary, &mu, dev.ID, fmt.Errorf("panic: %v", r))
				}
			}()
			s.evaluateDevice(ctx, dev, summary, &mu)
		}()
	}
	wg.Wait()

	summary.State = StateDone
	summary.FinishedAt = s.now()
	metrics.RunsTotal.WithLabelValues(string(StateDone)).Inc()
	metrics.RunDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	s.logger.Info().
		Str("run_id", summary.RunID).
		Int("devices_evaluated", summary.DevicesEvaluated).
		Int("findings", summary.Findings).
		Int("alerts_admitted", summary.AlertsAdmitted).
		Int("alerts_suppressed", summary.AlertsSuppressed).
		Int("notification_failures", summary.NotificationFailures).
		Int("device_errors", len(summary.DeviceErrors)).
		Msg("evaluation pass complete")

	return summary, nil
}

// evaluateDevice runs the evaluate → dedup → persist → notify chain for
// one device. Failures stay local to the device.
func (s *Service) evaluateDevice(ctx context.Context, dev storage.DeviceConfig, summary *RunSummary, mu *sync.Mutex) {
	mu.Lock()
	summary.DevicesEvaluated++
	mu.Unlock()
	metrics.DevicesEvaluatedTotal.Inc()

	if err := evaluator.ValidateConfig(dev); err != nil {
		// Configuration error: the threshold check disables itself, the
		// offline check still runs.
		s.logger.Warn().Str("device_id", dev.ID).Err(err).Msg("device configuration invalid")
	}

	reading, err := s.telemetry.LatestReading(ctx, dev.ID)
	if err != nil {
		s.addDeviceError(summary, mu, dev.ID, fmt.Errorf("latest reading: %w", err))
		return
	}

	findings := evaluator.Evaluate(dev, reading, s.now())
	if len(findings) == 0 {
		return
	}

	mu.Lock()
	summary.Findings += len(findings)
	mu.Unlock()

	for _, finding := range findings {
		metrics.FindingsTotal.WithLabelValues(finding.Kind).Inc()

		admit, err := s.dedup.Admit(ctx, finding)
		if err != nil {
			// Dedup state unknown: assume not recorded and surface the
			// error so the device is retried next pass.
			s.addDeviceError(summary, mu, dev.ID, fmt.Errorf("dedup lookup: %w", err))
			return
		}
		if !admit {
			mu.Lock()
			summary.AlertsSuppressed++
			mu.Unlock()
			metrics.AlertsSuppressedTotal.Inc()
			s.logger.Debug().
				Str("device_id", dev.ID).
				Str("alert_type", finding.Kind).
				Msg("finding suppressed; open alert exists")
			continue
		}

		record, err := s.ledger.InsertAlert(ctx, finding.Record(dev))
		if err != nil {
			// Treat the write as not recorded: the condition regenerates
			// naturally next pass, silently dropping it here could lose
			// a critical alert.
			s.addDeviceError(summary, mu, dev.ID, fmt.Errorf("insert alert: %w", err))
			continue
		}

		mu.Lock()
		summary.AlertsAdmitted++
		mu.Unlock()
		metrics.AlertsAdmittedTotal.Inc()
		s.logger.Info().
			Str("device_id", dev.ID).
			Str("alert_type", record.AlertType).
			Str("details", record.Details).
			Msg("alert recorded")

		if s.dispatcher == nil {
			continue
		}
		if result := s.dispatcher.Dispatch(ctx, record, dev); result.Failed() {
			mu.Lock()
			summary.NotificationFailures++
			mu.Unlock()
			metrics.NotificationFailuresTotal.Inc()
			s.logger.Error().
				Err(result.Err).
				Str("device_id", dev.ID).
				Int64("alert_id", record.ID).
				Msg("notification dispatch failed; alert remains recorded")
		}
	}
}

func (s *Service) addDeviceError(summary *RunSummary, mu *sync.Mutex, deviceID string, err error) {
	mu.Lock()
	summary.DeviceErrors = append(summary.DeviceErrors, DeviceError{DeviceID: deviceID, Error: err.Error()})
	mu.Unlock()
	metrics.DeviceErrorsTotal.Inc()
	s.logger.Error().Str("device_id", deviceID).Err(err).Msg("device evaluation failed")
}
