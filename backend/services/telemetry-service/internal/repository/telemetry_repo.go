package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"aquaflow/backend/services/telemetry-service/internal/models"
)

// Limits applied to reading windows.
const (
	DefaultReadingsLimit = 500
	MaxReadingsLimit     = 1000
)

var errEmptyDeviceID = errors.New("device id is empty")

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TelemetryRepository persists devices and meter readings.
// Readings are append-only: inserts keyed on (device_id, timestamp) never overwrite.
type TelemetryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTelemetryRepository returns repository.
func NewTelemetryRepository(db *sql.DB, logger *zap.Logger) *TelemetryRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelemetryRepository{db: db, logger: logger}
}

// Ping checks the store is reachable.
func (r *TelemetryRepository) Ping(ctx context.Context) error {
	return classify("ping", r.db.PingContext(ctx))
}

// UpsertDevice registers a device id; existing rows are left untouched.
func (r *TelemetryRepository) UpsertDevice(ctx context.Context, deviceID string) error {
	return classify("upsert_device", upsertDevice(ctx, r.db, deviceID))
}

// RegisterDevice pre-provisions a device with metadata. Reports whether a row was created.
func (r *TelemetryRepository) RegisterDevice(ctx context.Context, device models.Device) (bool, error) {
	if strings.TrimSpace(device.ID) == "" {
		return false, &StoreError{Op: "register_device", Kind: ErrConstraintViolation, Err: errEmptyDeviceID}
	}
	const query = `
		INSERT INTO devices (device_id, name, location, status)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
		ON CONFLICT (device_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, device.ID, device.Name, device.Location, device.Status)
	if err != nil {
		return false, classify("register_device", err)
	}
	return affected(result, "register_device")
}

// InsertReading stores a reading unless one already exists for the same device and timestamp.
func (r *TelemetryRepository) InsertReading(ctx context.Context, reading models.Reading) (bool, error) {
	inserted, err := insertReading(ctx, r.db, reading)
	return inserted, classify("insert_reading", err)
}

// StoreReading registers the device and inserts the reading as one unit of work
// on a dedicated connection, released on every exit path.
func (r *TelemetryRepository) StoreReading(ctx context.Context, reading models.Reading) (bool, error) {
	var inserted bool
	err := r.withinUnit(ctx, "store_reading", func(q queryer) error {
		if err := upsertDevice(ctx, q, reading.DeviceID); err != nil {
			return err
		}
		var err error
		inserted, err = insertReading(ctx, q, reading)
		return err
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ListDevices returns all devices ordered by id.
func (r *TelemetryRepository) ListDevices(ctx context.Context) ([]models.Device, error) {
	const query = `
		SELECT device_id, COALESCE(name, ''), COALESCE(location, ''), COALESCE(status, '')
		FROM devices
		ORDER BY device_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("list_devices", err)
	}
	defer r.closeRows(rows, "list_devices")

	devices := make([]models.Device, 0)
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Location, &d.Status); err != nil {
			return nil, classify("list_devices", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list_devices", err)
	}
	return devices, nil
}

// ListReadings returns at most limit readings for a device, most recent first.
func (r *TelemetryRepository) ListReadings(ctx context.Context, deviceID string, limit int) (models.ReadingSeries, error) {
	limit = ClampLimit(limit)
	const query = `
		SELECT device_id, timestamp, volume_m3, battery_percent, leak_flag, tamper_flag
		FROM readings
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, classify("list_readings", err)
	}
	defer r.closeRows(rows, "list_readings")

	readings := make(models.ReadingSeries, 0)
	for rows.Next() {
		var rd models.Reading
		if err := rows.Scan(
			&rd.DeviceID,
			&rd.Timestamp,
			&rd.VolumeM3,
			&rd.BatteryPercent,
			&rd.LeakFlag,
			&rd.TamperFlag,
		); err != nil {
			return nil, classify("list_readings", err)
		}
		rd.Timestamp = rd.Timestamp.UTC()
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list_readings", err)
	}
	return readings, nil
}

// SyncCursor returns the provider time a device has been pulled through, or zero time
// when the device has never completed a clean pull.
func (r *TelemetryRepository) SyncCursor(ctx context.Context, deviceID string) (time.Time, error) {
	const query = `
		SELECT synced_through
		FROM sync_cursors
		WHERE device_id = $1
	`
	var ts time.Time
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, classify("sync_cursor", err)
	}
	return ts.UTC(), nil
}

// AdvanceSyncCursor moves the device cursor forward to through. The cursor never
// moves backwards; an older value is ignored.
func (r *TelemetryRepository) AdvanceSyncCursor(ctx context.Context, deviceID string, through time.Time) error {
	const query = `
		INSERT INTO sync_cursors (device_id, synced_through)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE
		SET synced_through = excluded.synced_through, updated_at = CURRENT_TIMESTAMP
		WHERE sync_cursors.synced_through < excluded.synced_through
	`
	if _, err := r.db.ExecContext(ctx, query, deviceID, through.UTC()); err != nil {
		return classify("advance_sync_cursor", err)
	}
	return nil
}

// ClampLimit applies the default and maximum reading window sizes.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultReadingsLimit
	}
	if limit > MaxReadingsLimit {
		return MaxReadingsLimit
	}
	return limit
}

func (r *TelemetryRepository) withinUnit(ctx context.Context, op string, fn func(q queryer) error) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return classify(op, err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			r.logger.Warn("failed to release db connection", zap.String("op", op), zap.Error(closeErr))
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback", zap.String("op", op), zap.Error(rbErr))
		}
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

func (r *TelemetryRepository) closeRows(rows *sql.Rows, op string) {
	if err := rows.Close(); err != nil {
		r.logger.Warn("failed to close rows", zap.String("op", op), zap.Error(err))
	}
}

func upsertDevice(ctx context.Context, q queryer, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return &StoreError{Op: "upsert_device", Kind: ErrConstraintViolation, Err: errEmptyDeviceID}
	}
	const query = `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`
	_, err := q.ExecContext(ctx, query, deviceID)
	return err
}

func insertReading(ctx context.Context, q queryer, reading models.Reading) (bool, error) {
	if strings.TrimSpace(reading.DeviceID) == "" {
		return false, &StoreError{Op: "insert_reading", Kind: ErrConstraintViolation, Err: errEmptyDeviceID}
	}
	const query = `
		INSERT INTO readings (device_id, timestamp, volume_m3, battery_percent, leak_flag, tamper_flag)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_id, timestamp) DO NOTHING
	`
	result, err := q.ExecContext(ctx, query,
		reading.DeviceID,
		reading.Timestamp.UTC(),
		reading.VolumeM3,
		reading.BatteryPercent,
		reading.LeakFlag,
		reading.TamperFlag,
	)
	if err != nil {
		return false, err
	}
	return affected(result, "insert_reading")
}

func affected(result sql.Result, op string) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, classify(op, err)
	}
	return n > 0, nil
}
