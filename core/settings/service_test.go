package settings

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/attendance/core"
)

type fakeRepo struct {
	users  map[string]UserSettings
	system map[string][]byte
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]UserSettings), system: make(map[string][]byte)}
}

func (r *fakeRepo) GetUserSettings(_ context.Context, userID string) (UserSettings, error) {
	if us, ok := r.users[userID]; ok {
		return us, nil
	}
	return UserSettings{}, core.NewNotFoundError("user settings not found")
}

func (r *fakeRepo) SaveUserSettings(_ context.Context, us UserSettings) (UserSettings, error) {
	r.users[us.UserID] = us
	return us, nil
}

func (r *fakeRepo) GetSystemValue(_ context.Context, key string, dst interface{}) (bool, error) {
	raw, ok := r.system[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (r *fakeRepo) SetSystemValue(_ context.Context, key string, val interface{}) error {
	raw, err := json.Marshal(val)
	r.system[key] = raw
	return err
}

func TestService_UserSettings(t *testing.T) {
	svc := NewService(newFakeRepo(), core.NewTestConfig())
	ctx := context.Background()

	us, err := svc.ForUser(ctx, "usr-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultUserSettings("usr-1"), us)

	on, err := svc.EmailAlertsEnabled(ctx, "usr-1")
	require.NoError(t, err)
	assert.True(t, on)

	us.EmailAlerts = false
	us.Theme = ThemeDark
	_, err = svc.SaveForUser(ctx, "usr-1", us)
	require.NoError(t, err)

	on, err = svc.EmailAlertsEnabled(ctx, "usr-1")
	require.NoError(t, err)
	assert.False(t, on)

	us, err = svc.ForUser(ctx, "usr-1")
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, us.Theme)
}

func TestService_System(t *testing.T) {
	svc := NewService(newFakeRepo(), core.NewTestConfig())
	ctx := context.Background()

	ss, err := svc.System(ctx)
	require.NoError(t, err)
	assert.Equal(t, SystemSettings{RetentionDays: 90}, ss)

	ss, err = svc.SaveSystem(ctx, SystemSettings{AutoDeleteRecords: true, RetentionDays: 5})
	require.NoError(t, err)
	assert.Equal(t, 90, ss.RetentionDays)

	on, err := svc.AutoDeleteRecords(ctx)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestUserSettings_Validate(t *testing.T) {
	validate := validator.New()

	us := DefaultUserSettings("usr-1")
	us.Theme = " Dark "
	us.Language = "AM"
	require.NoError(t, us.Validate(validate))
	assert.Equal(t, ThemeDark, us.Theme)
	assert.Equal(t, LanguageAmharic, us.Language)

	us.Theme = "neon"
	assert.Error(t, us.Validate(validate))
}
