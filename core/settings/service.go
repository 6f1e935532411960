package settings

import (
	"context"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
)

const systemKey = "system"

type (
	Repository interface {
		// GetUserSettings returns core.NotFoundError when the User never saved their settings.
		GetUserSettings(ctx context.Context, userID string) (UserSettings, error)
		// SaveUserSettings inserts or replaces the User's settings.
		SaveUserSettings(ctx context.Context, us UserSettings) (UserSettings, error)

		// GetSystemValue JSON-decodes the value stored under key into dst, returning false when there is none.
		GetSystemValue(ctx context.Context, key string, dst interface{}) (bool, error)
		SetSystemValue(ctx context.Context, key string, val interface{}) error
	}

	Service struct {
		repo          Repository
		retentionDays int
		nowFunc       func() time.Time // mockable
	}
)

func NewService(repo Repository, conf *core.Config) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	return &Service{repo: repo, retentionDays: conf.Attendance.RetentionDays, nowFunc: time.Now}
}

// ForUser returns the User's settings, or the defaults if they never changed them.
func (svc *Service) ForUser(ctx context.Context, userID string) (UserSettings, error) {
	us, err := svc.repo.GetUserSettings(ctx, userID)
	if err != nil {
		if core.IsNotFound(err) {
			return DefaultUserSettings(userID), nil
		}
		return UserSettings{}, errors.Wrap(err, "loading user settings")
	}
	return us, nil
}

// SaveForUser stores the validated us for the User.
func (svc *Service) SaveForUser(ctx context.Context, userID string, us UserSettings) (UserSettings, error) {
	us.UserID = userID
	us.UpdatedAt = svc.nowFunc().UTC()
	return svc.repo.SaveUserSettings(ctx, us)
}

// EmailAlertsEnabled tells whether the User wants email alerts for the actions they perform.
func (svc *Service) EmailAlertsEnabled(ctx context.Context, userID string) (bool, error) {
	us, err := svc.ForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return us.EmailAlerts, nil
}

func (svc *Service) System(ctx context.Context) (SystemSettings, error) {
	var ss SystemSettings
	if _, err := svc.repo.GetSystemValue(ctx, systemKey, &ss); err != nil {
		return SystemSettings{}, errors.Wrap(err, "loading system settings")
	}
	ss.RetentionDays = svc.retentionDays
	return ss, nil
}

func (svc *Service) SaveSystem(ctx context.Context, ss SystemSettings) (SystemSettings, error) {
	ss.RetentionDays = 0
	if err := svc.repo.SetSystemValue(ctx, systemKey, ss); err != nil {
		return SystemSettings{}, errors.Wrap(err, "saving system settings")
	}
	ss.RetentionDays = svc.retentionDays
	return ss, nil
}

func (svc *Service) AutoDeleteRecords(ctx context.Context) (bool, error) {
	ss, err := svc.System(ctx)
	if err != nil {
		return false, err
	}
	return ss.AutoDeleteRecords, nil
}
