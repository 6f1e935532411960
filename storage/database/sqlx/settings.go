package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/device"
	"github.com/trezcool/attendance/core/settings"
)

var errUserSettingsNotFound = core.NewNotFoundError("user settings not found")

type settingsRepository struct {
	db      *sqlx.DB
	nowFunc func() time.Time
}

var (
	// interface compliance checks
	_ settings.Repository  = (*settingsRepository)(nil)
	_ device.SettingsStore = (*settingsRepository)(nil)
)

func NewSettingsRepository(db *sqlx.DB) *settingsRepository {
	return &settingsRepository{db: db, nowFunc: time.Now}
}

func (repo settingsRepository) GetUserSettings(ctx context.Context, userID string) (settings.UserSettings, error) {
	var us settings.UserSettings
	q := repo.db.Rebind(`SELECT user_id, notifications, email_alerts, weekly_reports, theme, language, updated_at
		FROM user_settings WHERE user_id = ?`)
	if err := repo.db.GetContext(ctx, &us, q, userID); err != nil {
		return settings.UserSettings{}, trapNoRowsErr(err, errUserSettingsNotFound, "finding user settings")
	}
	return us, nil
}

func (repo settingsRepository) SaveUserSettings(ctx context.Context, us settings.UserSettings) (settings.UserSettings, error) {
	q := `INSERT INTO user_settings (user_id, notifications, email_alerts, weekly_reports, theme, language, updated_at)
		VALUES (:user_id, :notifications, :email_alerts, :weekly_reports, :theme, :language, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET notifications = excluded.notifications,
		email_alerts = excluded.email_alerts, weekly_reports = excluded.weekly_reports, theme = excluded.theme,
		language = excluded.language, updated_at = excluded.updated_at`
	if _, err := repo.db.NamedExecContext(ctx, q, us); err != nil {
		return settings.UserSettings{}, errors.Wrap(err, "saving user settings")
	}
	return us, nil
}

func (repo settingsRepository) GetSystemValue(ctx context.Context, key string, dst interface{}) (bool, error) {
	var raw []string
	if err := repo.db.SelectContext(ctx, &raw, repo.db.Rebind("SELECT value FROM system_settings WHERE key = ?"), key); err != nil {
		return false, errors.Wrapf(err, "finding system setting %q", key)
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw[0]), dst); err != nil {
		return false, errors.Wrapf(err, "decoding system setting %q", key)
	}
	return true, nil
}

func (repo settingsRepository) SetSystemValue(ctx context.Context, key string, val interface{}) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "encoding system setting %q", key)
	}
	q := repo.db.Rebind(`INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if _, err := repo.db.ExecContext(ctx, q, key, string(raw), repo.nowFunc().UTC()); err != nil {
		return errors.Wrapf(err, "saving system setting %q", key)
	}
	return nil
}
