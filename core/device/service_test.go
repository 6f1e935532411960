package device

import (
	"context"
	"encoding/json"
	"net/mail"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/attendance/core"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0m"},
		{59, "0m"},
		{45 * 60, "45m"},
		{3*3600 + 20*60, "3h 20m"},
		{5*86400 + 12*3600 + 59, "5d 12h"},
		{15 * 86400, "15d 0h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUptime(tt.seconds), "FormatUptime(%d)", tt.seconds)
	}
}

type fakeRepo struct {
	devices map[string]Device
	samples []MetricSample
}

func (r *fakeRepo) CreateDevice(_ context.Context, dev Device) (Device, error) {
	r.devices[dev.ID] = dev
	return dev, nil
}

func (r *fakeRepo) QueryDevices(context.Context, QueryFilter, []core.DBOrdering) ([]Device, error) {
	devs := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devs = append(devs, d)
	}
	return devs, nil
}

func (r *fakeRepo) GetDeviceByID(_ context.Context, id string) (Device, error) {
	if d, ok := r.devices[id]; ok {
		return d, nil
	}
	return Device{}, ErrNotFound
}

func (r *fakeRepo) GetDeviceByAPIKey(_ context.Context, apiKey string) (Device, error) {
	for _, d := range r.devices {
		if d.APIKey == apiKey {
			return d, nil
		}
	}
	return Device{}, ErrNotFound
}

func (r *fakeRepo) NameExists(_ context.Context, name string, excludedIDs ...string) (bool, error) {
	for _, d := range r.devices {
		if d.Name == name && (len(excludedIDs) == 0 || d.ID != excludedIDs[0]) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) UpdateDevice(_ context.Context, dev Device) (Device, error) {
	d, ok := r.devices[dev.ID]
	if !ok {
		return Device{}, ErrNotFound
	}
	d.Name, d.Type, d.Location, d.IP, d.UpdatedAt = dev.Name, dev.Type, dev.Location, dev.IP, dev.UpdatedAt
	r.devices[dev.ID] = d
	return dev, nil
}

func (r *fakeRepo) SetAPIKey(_ context.Context, id, apiKey string, now time.Time) error {
	d, ok := r.devices[id]
	if !ok {
		return ErrNotFound
	}
	d.APIKey, d.UpdatedAt = apiKey, now
	r.devices[id] = d
	return nil
}

func (r *fakeRepo) QueueCommand(_ context.Context, id, command string, now time.Time) error {
	d, ok := r.devices[id]
	if !ok {
		return ErrNotFound
	}
	if !d.IsOnline() {
		return ErrDeviceOffline
	}
	d.PendingCommand, d.UpdatedAt = null.StringFrom(command), now
	r.devices[id] = d
	return nil
}

func (r *fakeRepo) RecordHeartbeat(_ context.Context, id string, t Telemetry, now time.Time) (HeartbeatResult, error) {
	d, ok := r.devices[id]
	if !ok {
		return HeartbeatResult{}, ErrNotFound
	}
	res := HeartbeatResult{WasOnline: d.IsOnline(), Command: d.PendingCommand.String}
	d.Status = StatusOnline
	d.LastSeen = null.TimeFrom(now)
	d.CPUUsage, d.MemoryUsage, d.Temperature = t.CPUUsage, t.MemoryUsage, t.Temperature
	d.UptimeSeconds, d.CapturesToday = t.UptimeSeconds, t.CapturesToday
	d.PendingCommand = null.String{}
	d.UpdatedAt = now
	r.devices[id] = d
	res.Device = d
	return res, nil
}

func (r *fakeRepo) DeleteDevice(_ context.Context, id string) error {
	delete(r.devices, id)
	return nil
}

func (r *fakeRepo) MarkOffline(_ context.Context, seenBefore, now time.Time) ([]Device, error) {
	var marked []Device
	for id, d := range r.devices {
		if d.IsOnline() && d.LastSeen.Time.Before(seenBefore) {
			d.Status = StatusOffline
			d.UpdatedAt = now
			r.devices[id] = d
			marked = append(marked, d)
		}
	}
	return marked, nil
}

func (r *fakeRepo) DeviceSummary(context.Context) (Summary, int64, error) {
	var sum Summary
	var uptime int64
	for _, d := range r.devices {
		sum.Total++
		if d.IsOnline() {
			sum.Online++
		} else {
			sum.Offline++
		}
		sum.CapturesToday += d.CapturesToday
		uptime += d.UptimeSeconds
	}
	if sum.Total > 0 {
		uptime /= int64(sum.Total)
	}
	return sum, uptime, nil
}

func (r *fakeRepo) AddMetricSample(_ context.Context, s MetricSample) error {
	r.samples = append(r.samples, s)
	return nil
}

func (r *fakeRepo) QueryMetrics(_ context.Context, deviceID string, since time.Time) ([]MetricSample, error) {
	var samples []MetricSample
	for _, s := range r.samples {
		if s.DeviceID == deviceID && !s.RecordedAt.Before(since) {
			samples = append(samples, s)
		}
	}
	return samples, nil
}

func (r *fakeRepo) DeleteMetricsBefore(_ context.Context, before time.Time) (int64, error) {
	kept := r.samples[:0]
	var n int64
	for _, s := range r.samples {
		if s.RecordedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	r.samples = kept
	return n, nil
}

type fakeStore map[string][]byte

func (s fakeStore) GetSystemValue(_ context.Context, key string, dst interface{}) (bool, error) {
	raw, ok := s[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (s fakeStore) SetSystemValue(_ context.Context, key string, val interface{}) error {
	raw, err := json.Marshal(val)
	s[key] = raw
	return err
}

type fakeAdmins []mail.Address

func (a fakeAdmins) AdminEmails(context.Context) ([]mail.Address, error) { return a, nil }

type fakeMailer struct {
	sent []*core.EmailMessage
}

func (m *fakeMailer) SendMessages(msgs ...*core.EmailMessage) { m.sent = append(m.sent, msgs...) }

type fakeEvents map[string]int

func (e fakeEvents) Publish(eventType string, _ interface{}) { e[eventType]++ }

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestService() (*Service, *fakeRepo, *fakeMailer, fakeEvents) {
	repo := &fakeRepo{devices: make(map[string]Device)}
	mailer := &fakeMailer{}
	events := make(fakeEvents)
	admins := fakeAdmins{{Name: "Admin", Address: "admin@astu.edu"}}
	svc := NewService(repo, make(fakeStore), admins, mailer, events, core.NewTestConfig())
	svc.SetNowFunc(func() time.Time { return testNow })
	return svc, repo, mailer, events
}

func TestService_CreateAndAuthenticate(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	dk, err := svc.Create(ctx, NewDevice{Name: "Camera Device 1", Type: TypeCamera, IP: "192.168.1.101"})
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, dk.Status)
	assert.NotEmpty(t, dk.APIKey)

	_, err = svc.Create(ctx, NewDevice{Name: "Camera Device 1", Type: TypeCamera})
	require.Error(t, err)
	assert.IsType(t, &core.ValidationError{}, err)

	dev, err := svc.Authenticate(ctx, dk.APIKey)
	require.NoError(t, err)
	assert.Equal(t, dk.ID, dev.ID)

	_, err = svc.Authenticate(ctx, "dk_nope")
	assert.Equal(t, ErrInvalidAPIKey, err)

	rotated, err := svc.RotateKey(ctx, dev)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, dk.APIKey)
	assert.Equal(t, ErrInvalidAPIKey, err)
	_, err = svc.Authenticate(ctx, rotated.APIKey)
	assert.NoError(t, err)
}

func TestService_HeartbeatAndRestart(t *testing.T) {
	svc, repo, _, events := newTestService()
	ctx := context.Background()

	dk, err := svc.Create(ctx, NewDevice{Name: "Camera Device 1", Type: TypeCamera})
	require.NoError(t, err)

	_, err = svc.Restart(ctx, dk.Device)
	assert.Equal(t, ErrDeviceOffline, err)

	reply, err := svc.Heartbeat(ctx, dk.Device, Telemetry{CPUUsage: 45, MemoryUsage: 60, Temperature: 52, UptimeSeconds: 475200, CapturesToday: 7})
	require.NoError(t, err)
	assert.Empty(t, reply.Command)
	assert.Equal(t, DefaultSettings(), reply.Settings)
	assert.Equal(t, 1, events[EventStatus])

	dev := repo.devices[dk.ID]
	assert.Equal(t, StatusOnline, dev.Status)
	assert.Equal(t, "5d 12h", dev.Uptime())
	require.Len(t, repo.samples, 1)
	assert.Equal(t, 52.0, repo.samples[0].Temperature)

	dev, err = svc.Restart(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, CommandRestart, dev.PendingCommand.String)

	reply, err = svc.Heartbeat(ctx, dev, Telemetry{})
	require.NoError(t, err)
	assert.Equal(t, CommandRestart, reply.Command)
	assert.False(t, repo.devices[dk.ID].PendingCommand.Valid)
	assert.Equal(t, 2, events[EventHeartbeat])
	assert.Equal(t, 1, events[EventStatus])
}

func TestService_HeartbeatWithStaleDevice(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	dk, err := svc.Create(ctx, NewDevice{Name: "Camera Device 1", Type: TypeCamera})
	require.NoError(t, err)
	_, err = svc.Heartbeat(ctx, dk.Device, Telemetry{})
	require.NoError(t, err)

	// the device as loaded when its heartbeat request was authenticated
	stale, err := svc.Authenticate(ctx, dk.APIKey)
	require.NoError(t, err)

	rotated, err := svc.RotateKey(ctx, stale)
	require.NoError(t, err)
	_, err = svc.Restart(ctx, stale)
	require.NoError(t, err)

	reply, err := svc.Heartbeat(ctx, stale, Telemetry{CPUUsage: 30})
	require.NoError(t, err)
	assert.Equal(t, CommandRestart, reply.Command)

	_, err = svc.Authenticate(ctx, dk.APIKey)
	assert.Equal(t, ErrInvalidAPIKey, err, "old key revived")
	dev, err := svc.Authenticate(ctx, rotated.APIKey)
	require.NoError(t, err)
	assert.False(t, dev.PendingCommand.Valid)
	assert.Equal(t, 30.0, repo.devices[dk.ID].CPUUsage)
}

func TestService_SweepOffline(t *testing.T) {
	svc, repo, mailer, events := newTestService()
	ctx := context.Background()

	repo.devices["d1"] = Device{ID: "d1", Name: "Camera Device 1", Status: StatusOnline, LastSeen: null.TimeFrom(testNow.Add(-10 * time.Minute))}
	repo.devices["d2"] = Device{ID: "d2", Name: "Camera Device 2", Status: StatusOnline, LastSeen: null.TimeFrom(testNow.Add(-10 * time.Second))}
	repo.devices["d3"] = Device{ID: "d3", Name: "Camera Device 3", Status: StatusOffline}

	devs, err := svc.SweepOffline(ctx)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "d1", devs[0].ID)
	assert.Equal(t, 1, events[EventStatus])
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "device_offline", mailer.sent[0].TemplateName)

	// notifications off
	settings := DefaultSettings()
	settings.NotifyOnOffline = false
	_, err = svc.UpdateSettings(ctx, settings)
	require.NoError(t, err)
	repo.devices["d2"] = Device{ID: "d2", Status: StatusOnline, LastSeen: null.TimeFrom(testNow.Add(-time.Hour))}

	devs, err = svc.SweepOffline(ctx)
	require.NoError(t, err)
	assert.Len(t, devs, 1)
	assert.Len(t, mailer.sent, 1)
}

func TestService_Summary(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.devices["d1"] = Device{ID: "d1", Status: StatusOnline, UptimeSeconds: 86400, CapturesToday: 10}
	repo.devices["d2"] = Device{ID: "d2", Status: StatusOffline, UptimeSeconds: 3 * 86400, CapturesToday: 5}

	sum, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Online: 1, Offline: 1, CapturesToday: 15, AvgUptime: "2d 0h"}, sum)
}

func TestSettings_Validate(t *testing.T) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)

	s := DefaultSettings()
	s.ImageQuality = " HIGH "
	require.NoError(t, s.Validate(validate))
	assert.Equal(t, QualityHigh, s.ImageQuality)

	s.ImageQuality = "ultra"
	s.MaxRetries = 11
	s.Timeout = 0
	err := s.Validate(validate)
	require.Error(t, err)
	vErrs, ok := err.(validator.ValidationErrors)
	require.True(t, ok, "expected validator.ValidationErrors, got %T", err)
	got := make(map[string]string, len(vErrs))
	for _, fe := range vErrs {
		got[fe.Field()] = fe.Translate(translator)
	}
	assert.Equal(t, imageQualityText, got["image_quality"])
	assert.Contains(t, got, "max_retries")
	assert.Contains(t, got, "timeout")
}
