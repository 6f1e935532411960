package settings

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/attendance/core"
)

// Themes
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// Languages
const (
	LanguageEnglish = "en"
	LanguageAmharic = "am"
)

// UserSettings are the preferences a staff member sets on the settings page.
type UserSettings struct {
	UserID        string    `json:"-" db:"user_id"`
	Notifications bool      `json:"notifications" db:"notifications"`
	EmailAlerts   bool      `json:"email_alerts" db:"email_alerts"`
	WeeklyReports bool      `json:"weekly_reports" db:"weekly_reports"`
	Theme         string    `json:"theme" db:"theme" validate:"required,oneof=light dark system"`
	Language      string    `json:"language" db:"language" validate:"required,oneof=en am"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"` // UTC
}

func DefaultUserSettings(userID string) UserSettings {
	return UserSettings{
		UserID:        userID,
		Notifications: true,
		EmailAlerts:   true,
		WeeklyReports: false,
		Theme:         ThemeLight,
		Language:      LanguageEnglish,
	}
}

func (us *UserSettings) Validate(validate *validator.Validate) error {
	us.Theme = core.CleanString(us.Theme, true /* lower */)
	us.Language = core.CleanString(us.Language, true /* lower */)
	return validate.Struct(us)
}

// SystemSettings apply to the whole installation (admin only).
type SystemSettings struct {
	AutoDeleteRecords bool `json:"auto_delete_records"`
	TwoFactorRequired bool `json:"two_factor_required"`
	RetentionDays     int  `json:"retention_days"` // read-only
}
