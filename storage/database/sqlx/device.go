package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/device"
)

const deviceColumns = `id, name, type, location, ip, status, last_seen, cpu_usage, memory_usage, temperature,
	uptime_seconds, captures_today, api_key, pending_command, created_at, updated_at`

var deviceOrderings = map[string]string{
	"name":        "name",
	"type":        "type",
	"location":    "location",
	"status":      "status",
	"last_seen":   "last_seen",
	"temperature": "temperature",
	"cpu_usage":   "cpu_usage",
	"created_at":  "created_at",
}

type deviceRepository struct {
	db *sqlx.DB
}

var _ device.Repository = (*deviceRepository)(nil) // interface compliance check

func NewDeviceRepository(db *sqlx.DB) *deviceRepository {
	return &deviceRepository{db: db}
}

func nameExistsErr() error {
	return core.NewValidationError(device.ErrNameExists, core.FieldError{Field: "name", Error: device.ErrNameExists.Error()})
}

func (repo deviceRepository) CreateDevice(ctx context.Context, dev device.Device) (device.Device, error) {
	q := `INSERT INTO devices (` + deviceColumns + `)
		VALUES (:id, :name, :type, :location, :ip, :status, :last_seen, :cpu_usage, :memory_usage, :temperature,
		:uptime_seconds, :captures_today, :api_key, :pending_command, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, dev); err != nil {
		if isUniqueViolation(err) {
			return device.Device{}, nameExistsErr()
		}
		return device.Device{}, errors.Wrap(err, "inserting device")
	}
	return dev, nil
}

func (repo deviceRepository) QueryDevices(ctx context.Context, filter device.QueryFilter, orderings []core.DBOrdering) ([]device.Device, error) {
	var w where
	w.search(filter.Search, "name", "location", "ip")
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if filter.Type != "" {
		w.add("type = ?", filter.Type)
	}

	q := "SELECT " + deviceColumns + " FROM devices" + w.String() + orderBy(orderings, deviceOrderings)
	devices := make([]device.Device, 0)
	if err := repo.db.SelectContext(ctx, &devices, repo.db.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying devices")
	}
	return devices, nil
}

func (repo deviceRepository) getDevice(ctx context.Context, col, val string) (device.Device, error) {
	var dev device.Device
	q := repo.db.Rebind("SELECT " + deviceColumns + " FROM devices WHERE " + col + " = ?")
	if err := repo.db.GetContext(ctx, &dev, q, val); err != nil {
		return device.Device{}, trapNoRowsErr(err, device.ErrNotFound, "finding device by "+col)
	}
	return dev, nil
}

func (repo deviceRepository) GetDeviceByID(ctx context.Context, id string) (device.Device, error) {
	return repo.getDevice(ctx, "id", id)
}

func (repo deviceRepository) GetDeviceByAPIKey(ctx context.Context, apiKey string) (device.Device, error) {
	return repo.getDevice(ctx, "api_key", apiKey)
}

func (repo deviceRepository) NameExists(ctx context.Context, name string, excludedIDs ...string) (bool, error) {
	var w where
	w.add("LOWER(name) = ?", core.CleanString(name, true /* lower */))
	w.in("id", excludedIDs, true)
	return exists(ctx, repo.db, "devices", w)
}

func (repo deviceRepository) UpdateDevice(ctx context.Context, dev device.Device) (device.Device, error) {
	q := `UPDATE devices SET name = :name, type = :type, location = :location, ip = :ip, updated_at = :updated_at
		WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, dev)
	if err != nil {
		if isUniqueViolation(err) {
			return device.Device{}, nameExistsErr()
		}
		return device.Device{}, errors.Wrap(err, "updating device")
	}
	if err := checkAffected(res, device.ErrNotFound); err != nil {
		return device.Device{}, err
	}
	return dev, nil
}

func (repo deviceRepository) SetAPIKey(ctx context.Context, id, apiKey string, now time.Time) error {
	q := repo.db.Rebind("UPDATE devices SET api_key = ?, updated_at = ? WHERE id = ?")
	res, err := repo.db.ExecContext(ctx, q, apiKey, now.UTC(), id)
	if err != nil {
		return errors.Wrap(err, "setting device API key")
	}
	return checkAffected(res, device.ErrNotFound)
}

func (repo deviceRepository) QueueCommand(ctx context.Context, id, command string, now time.Time) error {
	q := repo.db.Rebind("UPDATE devices SET pending_command = ?, updated_at = ? WHERE id = ? AND status = ?")
	res, err := repo.db.ExecContext(ctx, q, command, now.UTC(), id, device.StatusOnline)
	if err != nil {
		return errors.Wrap(err, "queuing device command")
	}
	if err := checkAffected(res, device.ErrDeviceOffline); err != nil {
		if _, err := repo.GetDeviceByID(ctx, id); err != nil {
			return err
		}
		return device.ErrDeviceOffline
	}
	return nil
}

func (repo deviceRepository) RecordHeartbeat(ctx context.Context, id string, t device.Telemetry, now time.Time) (device.HeartbeatResult, error) {
	var hb device.HeartbeatResult
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		// no-op write: holds the row (postgres) or database (sqlite) lock until commit
		res, err := tx.ExecContext(ctx, tx.Rebind("UPDATE devices SET updated_at = updated_at WHERE id = ?"), id)
		if err != nil {
			return errors.Wrap(err, "locking device")
		}
		if err := checkAffected(res, device.ErrNotFound); err != nil {
			return err
		}

		var dev device.Device
		if err := tx.GetContext(ctx, &dev, tx.Rebind("SELECT "+deviceColumns+" FROM devices WHERE id = ?"), id); err != nil {
			return errors.Wrap(err, "finding device")
		}
		hb.WasOnline = dev.IsOnline()
		hb.Command = dev.PendingCommand.String

		dev.Status = device.StatusOnline
		dev.LastSeen = null.TimeFrom(now.UTC())
		dev.CPUUsage = t.CPUUsage
		dev.MemoryUsage = t.MemoryUsage
		dev.Temperature = t.Temperature
		dev.UptimeSeconds = t.UptimeSeconds
		dev.CapturesToday = t.CapturesToday
		dev.PendingCommand = null.String{}
		dev.UpdatedAt = now.UTC()

		q := `UPDATE devices SET status = :status, last_seen = :last_seen, cpu_usage = :cpu_usage,
			memory_usage = :memory_usage, temperature = :temperature, uptime_seconds = :uptime_seconds,
			captures_today = :captures_today, pending_command = NULL, updated_at = :updated_at
			WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, q, dev); err != nil {
			return errors.Wrap(err, "recording heartbeat")
		}
		hb.Device = dev
		return nil
	})
	if err != nil {
		return device.HeartbeatResult{}, err
	}
	return hb, nil
}

func (repo deviceRepository) DeleteDevice(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind("DELETE FROM devices WHERE id = ?"), id)
	if err != nil {
		return errors.Wrap(err, "deleting device")
	}
	return checkAffected(res, device.ErrNotFound)
}

func (repo deviceRepository) MarkOffline(ctx context.Context, seenBefore, now time.Time) ([]device.Device, error) {
	const stale = "status = ? AND (last_seen IS NULL OR last_seen < ?)"
	var marked []device.Device
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var candidates []device.Device
		q := tx.Rebind("SELECT " + deviceColumns + " FROM devices WHERE " + stale)
		if err := tx.SelectContext(ctx, &candidates, q, device.StatusOnline, seenBefore.UTC()); err != nil {
			return errors.Wrap(err, "finding stale devices")
		}

		// re-checked per device: a heartbeat may have landed since the SELECT
		upd := tx.Rebind("UPDATE devices SET status = ?, updated_at = ? WHERE id = ? AND " + stale)
		for _, dev := range candidates {
			res, err := tx.ExecContext(ctx, upd, device.StatusOffline, now.UTC(), dev.ID, device.StatusOnline, seenBefore.UTC())
			if err != nil {
				return errors.Wrap(err, "marking device offline")
			}
			if n, err := res.RowsAffected(); err != nil {
				return errors.Wrap(err, "counting affected rows")
			} else if n == 0 {
				continue
			}
			dev.Status = device.StatusOffline
			dev.UpdatedAt = now.UTC()
			marked = append(marked, dev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

func (repo deviceRepository) DeviceSummary(ctx context.Context) (device.Summary, int64, error) {
	var row struct {
		Total         int     `db:"total"`
		Online        int     `db:"online"`
		CapturesToday int     `db:"captures_today"`
		AvgUptime     float64 `db:"avg_uptime"`
	}
	q := repo.db.Rebind(`SELECT COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS online,
		COALESCE(SUM(captures_today), 0) AS captures_today,
		COALESCE(AVG(uptime_seconds), 0) AS avg_uptime
		FROM devices`)
	if err := repo.db.GetContext(ctx, &row, q, device.StatusOnline); err != nil {
		return device.Summary{}, 0, errors.Wrap(err, "summarizing devices")
	}
	return device.Summary{
		Total:         row.Total,
		Online:        row.Online,
		Offline:       row.Total - row.Online,
		CapturesToday: row.CapturesToday,
	}, int64(row.AvgUptime), nil
}

func (repo deviceRepository) AddMetricSample(ctx context.Context, s device.MetricSample) error {
	q := `INSERT INTO device_metrics (device_id, cpu_usage, memory_usage, temperature, recorded_at)
		VALUES (:device_id, :cpu_usage, :memory_usage, :temperature, :recorded_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, s); err != nil {
		return errors.Wrap(err, "inserting metric sample")
	}
	return nil
}

func (repo deviceRepository) QueryMetrics(ctx context.Context, deviceID string, since time.Time) ([]device.MetricSample, error) {
	q := repo.db.Rebind(`SELECT device_id, cpu_usage, memory_usage, temperature, recorded_at
		FROM device_metrics WHERE device_id = ? AND recorded_at >= ? ORDER BY recorded_at`)
	samples := make([]device.MetricSample, 0)
	if err := repo.db.SelectContext(ctx, &samples, q, deviceID, since.UTC()); err != nil {
		return nil, errors.Wrap(err, "querying metric samples")
	}
	return samples, nil
}

func (repo deviceRepository) DeleteMetricsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind("DELETE FROM device_metrics WHERE recorded_at < ?"), before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "deleting old metric samples")
	}
	return res.RowsAffected()
}
