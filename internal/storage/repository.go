package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listDevicesSQL = `SELECT
        d.id,
        d.client_id,
        c.name,
        d.location,
        d.node_id,
        d.device_type,
        d.min_temp_threshold,
        d.max_temp_threshold,
        d.offline_threshold_minutes,
        d.sensor_config
    FROM devices d
    JOIN clients c ON c.id = d.client_id
    ORDER BY d.id;`

	latestReadingSQL = `SELECT
        timestamp,
        probe_temperatures,
        ambient_temp,
        ambient_hum,
        current_a,
        current_b
    FROM sensor_readings
    WHERE device_id = $1
    ORDER BY timestamp DESC
    LIMIT 1;`

	findOpenAlertSQL = `SELECT
        id, device_id, client_id, alert_type, probe_index, details, status, created_at
    FROM alerts
    WHERE device_id = $1
      AND alert_type = $2
      AND status = 'new'
    ORDER BY created_at DESC
    LIMIT 1;`

	findOpenAlertByProbeSQL = `SELECT
        id, device_id, client_id, alert_type, probe_index, details, status, created_at
    FROM alerts
    WHERE device_id = $1
      AND alert_type = $2
      AND probe_index IS NOT DISTINCT FROM $3
      AND status = 'new'
    ORDER BY created_at DESC
    LIMIT 1;`

	insertAlertSQL = `INSERT INTO alerts (
        device_id,
        client_id,
        alert_type,
        probe_index,
        details,
        status
    ) VALUES (
        $1,$2,$3,$4,$5,'new'
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id, device_id, client_id, alert_type, probe_index, details, status, created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	listTargetsSQL = `SELECT email
    FROM users_with_details
    WHERE role = 'super_admin'
       OR (role = 'client_admin' AND client_id = $1);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// DeviceSource lists monitored devices with their sensor configuration.
type DeviceSource interface {
	ListDevicesWithConfig(ctx context.Context) ([]DeviceConfig, error)
}

// TelemetrySource reads the most recent reading per device.
type TelemetrySource interface {
	LatestReading(ctx context.Context, deviceID string) (*Reading, error)
}

// AlertLedger persists and looks up alert records. The engine only ever
// appends; status transitions happen elsewhere.
type AlertLedger interface {
	FindOpenAlert(ctx context.Context, deviceID, alertType string, probeIndex *int) (*AlertRecord, error)
	InsertAlert(ctx context.Context, record AlertRecord) (AlertRecord, error)
}

// TargetSource resolves notification recipients for a client.
type TargetSource interface {
	ListNotificationTargets(ctx context.Context, clientID string) ([]string, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates read access to devices and telemetry plus write access
// to the alert ledger.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With().Str("component", "storage").Logger(),
	}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Int64("key", key).Msg("advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

// ListDevicesWithConfig returns all devices with their parsed sensor
// configuration. Malformed sensor_config entries are logged and the
// device is returned without probes so the offline check still applies.
func (s *Store) ListDevicesWithConfig(ctx context.Context) ([]DeviceConfig, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDevicesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list devices: %w", queryErr)
	}
	defer rows.Close()

	devices := make([]DeviceConfig, 0)
	for rows.Next() {
		var (
			dev        DeviceConfig
			deviceType sql.NullString
			minTemp    sql.NullFloat64
			maxTemp    sql.NullFloat64
			sensorCfg  []byte
		)
		if err := rows.Scan(
			&dev.ID,
			&dev.ClientID,
			&dev.ClientName,
			&dev.Location,
			&dev.NodeID,
			&deviceType,
			&minTemp,
			&maxTemp,
			&dev.OfflineThresholdMinutes,
			&sensorCfg,
		); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}

		dev.DeviceType = deviceType.String
		if minTemp.Valid {
			value := minTemp.Float64
			dev.MinTempThreshold = &value
		}
		if maxTemp.Valid {
			value := maxTemp.Float64
			dev.MaxTempThreshold = &value
		}
		dev.Probes = s.parseProbes(dev.ID, sensorCfg)

		devices = append(devices, dev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return devices, nil
}

// sensorConfigDoc mirrors the JSONB sensor_config column written by the
// dashboard. Probe ids follow the "probe_<index>" convention.
type sensorConfigDoc struct {
	Probes []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		AlertsEnabled bool   `json:"alerts_enabled"`
	} `json:"probes"`
}

func (s *Store) parseProbes(deviceID string, raw []byte) []ProbeConfig {
	if len(raw) == 0 {
		return nil
	}

	var doc sensorConfigDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn().Err(err).Str("device_id", deviceID).Msg("malformed sensor_config; probes ignored")
		return nil
	}

	probes := make([]ProbeConfig, 0, len(doc.Probes))
	seen := make(map[int]bool, len(doc.Probes))
	for _, p := range doc.Probes {
		index, ok := parseProbeIndex(p.ID)
		if !ok || seen[index] {
			s.logger.Warn().Str("device_id", deviceID).Str("probe_id", p.ID).Msg("invalid probe id; probe ignored")
			continue
		}
		seen[index] = true
		probes = append(probes, ProbeConfig{
			Index:         index,
			Name:          p.Name,
			AlertsEnabled: p.AlertsEnabled,
		})
	}
	return probes
}

func parseProbeIndex(id string) (int, bool) {
	const prefix = "probe_"
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	index, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

// LatestReading returns the newest telemetry row for a device, or nil if
// the device never reported.
func (s *Store) LatestReading(ctx context.Context, deviceID string) (*Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		reading     Reading
		ambientTemp sql.NullFloat64
		ambientHum  sql.NullFloat64
		currentA    sql.NullFloat64
		currentB    sql.NullFloat64
	)
	row := pool.QueryRow(ctx, latestReadingSQL, deviceID)
	if scanErr := row.Scan(
		&reading.Timestamp,
		&reading.ProbeTemperatures,
		&ambientTemp,
		&ambientHum,
		&currentA,
		&currentB,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest reading: %w", scanErr)
	}

	if ambientTemp.Valid {
		value := ambientTemp.Float64
		reading.AmbientTemp = &value
	}
	if ambientHum.Valid {
		value := ambientHum.Float64
		reading.AmbientHum = &value
	}
	if currentA.Valid {
		value := currentA.Float64
		reading.CurrentA = &value
	}
	if currentB.Valid {
		value := currentB.Float64
		reading.CurrentB = &value
	}
	return &reading, nil
}

// FindOpenAlert looks up an open (status=new) alert for the dedup check.
// When probeIndex is non-nil the lookup is scoped to that probe.
func (s *Store) FindOpenAlert(ctx context.Context, deviceID, alertType string, probeIndex *int) (*AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var row pgx.Row
	if probeIndex != nil {
		row = pool.QueryRow(ctx, findOpenAlertByProbeSQL, deviceID, alertType, *probeIndex)
	} else {
		row = pool.QueryRow(ctx, findOpenAlertSQL, deviceID, alertType)
	}

	record, scanErr := scanAlertRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open alert: %w", scanErr)
	}
	return &record, nil
}

// InsertAlert appends a new alert record with status=new.
func (s *Store) InsertAlert(ctx context.Context, record AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	var probe interface{}
	if record.ProbeIndex != nil {
		probe = *record.ProbeIndex
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		record.DeviceID,
		record.ClientID,
		record.AlertType,
		probe,
		record.Details,
	)

	inserted := record
	inserted.Status = StatusNew
	if scanErr := row.Scan(&inserted.ID, &inserted.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return inserted, nil
}

// ListRecentAlerts lists the most recent ledger entries.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		record, scanErr := scanAlertRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// ListNotificationTargets resolves platform admins plus the client's own
// administrators. Recomputed per alert; membership changes between runs.
func (s *Store) ListNotificationTargets(ctx context.Context, clientID string) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTargetsSQL, clientID)
	if queryErr != nil {
		return nil, fmt.Errorf("list notification targets: %w", queryErr)
	}
	defer rows.Close()

	targets := make([]string, 0)
	for rows.Next() {
		var email sql.NullString
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		if email.Valid && email.String != "" {
			targets = append(targets, email.String)
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return targets, nil
}

func scanAlertRow(row pgx.Row) (AlertRecord, error) {
	var (
		record     AlertRecord
		probeIndex sql.NullInt64
		details    sql.NullString
	)
	if err := row.Scan(
		&record.ID,
		&record.DeviceID,
		&record.ClientID,
		&record.AlertType,
		&probeIndex,
		&details,
		&record.Status,
		&record.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	if probeIndex.Valid {
		value := int(probeIndex.Int64)
		record.ProbeIndex = &value
	}
	record.Details = details.String
	return record, nil
}
