package device

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/attendance/core"
)

const settingsKey = "device_settings"

var (
	// errors
	ErrNotFound      = core.NewNotFoundError("device not found")
	ErrInvalidAPIKey = errors.New("invalid device API key")
	ErrDeviceOffline = core.NewConflictError("device is offline")
	ErrNameExists    = errors.New("a device with this name already exists")
)

// Event types
const (
	EventStatus    = "device.status"
	EventHeartbeat = "device.heartbeat"
	EventCommand   = "device.command"
)

type (
	Repository interface {
		CreateDevice(ctx context.Context, dev Device) (Device, error)
		// QueryDevices does a case-insensitive QueryFilter.Search on name, location & IP.
		QueryDevices(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Device, error)
		GetDeviceByID(ctx context.Context, id string) (Device, error)
		GetDeviceByAPIKey(ctx context.Context, apiKey string) (Device, error)
		NameExists(ctx context.Context, name string, excludedIDs ...string) (bool, error)
		// UpdateDevice saves the editable fields of dev: name, type, location & IP.
		UpdateDevice(ctx context.Context, dev Device) (Device, error)
		SetAPIKey(ctx context.Context, id, apiKey string, now time.Time) error
		// QueueCommand stores the command delivered with the next heartbeat. Returns ErrDeviceOffline
		// when the device is not online anymore.
		QueueCommand(ctx context.Context, id, command string, now time.Time) error
		// RecordHeartbeat stores t, marks the device online & clears its pending command, all at once.
		RecordHeartbeat(ctx context.Context, id string, t Telemetry, now time.Time) (HeartbeatResult, error)
		DeleteDevice(ctx context.Context, id string) error
		// MarkOffline flags online devices last seen before seenBefore as offline & returns them.
		MarkOffline(ctx context.Context, seenBefore, now time.Time) ([]Device, error)
		// DeviceSummary returns the fleet counters along with the average uptime in seconds.
		DeviceSummary(ctx context.Context) (Summary, int64, error)

		AddMetricSample(ctx context.Context, s MetricSample) error
		QueryMetrics(ctx context.Context, deviceID string, since time.Time) ([]MetricSample, error)
		DeleteMetricsBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// SettingsStore persists JSON encoded system-wide values.
	SettingsStore interface {
		GetSystemValue(ctx context.Context, key string, dst interface{}) (bool, error)
		SetSystemValue(ctx context.Context, key string, val interface{}) error
	}

	// AdminNotifier lists who is emailed when devices go offline.
	AdminNotifier interface {
		AdminEmails(ctx context.Context) ([]mail.Address, error)
	}

	Service struct {
		repo             Repository
		store            SettingsStore
		admins           AdminNotifier
		mailSvc          core.EmailService
		events           core.EventPublisher
		offlineAfter     time.Duration
		metricsRetention time.Duration
		nowFunc          func() time.Time // mockable
	}
)

func NewService(
	repo Repository,
	store SettingsStore,
	admins AdminNotifier,
	mailSvc core.EmailService,
	events core.EventPublisher,
	conf *core.Config,
) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(store, "store"),
		vala.IsNotNil(admins, "admins"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	if events == nil {
		events = core.NopPublisher{}
	}
	return &Service{
		repo:             repo,
		store:            store,
		admins:           admins,
		mailSvc:          mailSvc,
		events:           events,
		offlineAfter:     conf.Devices.OfflineAfter,
		metricsRetention: conf.Devices.MetricsRetention,
		nowFunc:          time.Now,
	}
}

// SetNowFunc overrides the clock (tests).
func (svc *Service) SetNowFunc(f func() time.Time) {
	svc.nowFunc = f
}

func newAPIKey() string {
	return "dk_" + strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
}

func (svc *Service) checkName(ctx context.Context, name string, exclIDs ...string) error {
	exists, err := svc.repo.NameExists(ctx, name, exclIDs...)
	if err != nil {
		return errors.Wrap(err, "checking name uniqueness")
	}
	if exists {
		return core.NewValidationError(ErrNameExists, core.FieldError{Field: "name", Error: ErrNameExists.Error()})
	}
	return nil
}

// Create registers a new Device. The API key is only ever returned here and by RotateKey.
func (svc *Service) Create(ctx context.Context, nd NewDevice) (WithKey, error) {
	if err := svc.checkName(ctx, nd.Name); err != nil {
		return WithKey{}, err
	}

	now := svc.nowFunc().UTC()
	dev := Device{
		ID:        uuid.New().String(),
		Name:      nd.Name,
		Type:      nd.Type,
		Location:  nd.Location,
		IP:        nd.IP,
		Status:    StatusOffline,
		APIKey:    newAPIKey(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	dev, err := svc.repo.CreateDevice(ctx, dev)
	if err != nil {
		return WithKey{}, err
	}
	return WithKey{Device: dev, APIKey: dev.APIKey}, nil
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Device, error) {
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	return svc.repo.QueryDevices(ctx, filter, orderings)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Device, error) {
	return svc.repo.GetDeviceByID(ctx, id)
}

// Update replaces the editable fields of dev with the validated nd.
func (svc *Service) Update(ctx context.Context, dev Device, nd NewDevice) (Device, error) {
	if nd.Name != dev.Name {
		if err := svc.checkName(ctx, nd.Name, dev.ID); err != nil {
			return Device{}, err
		}
	}
	dev.Name = nd.Name
	dev.Type = nd.Type
	dev.Location = nd.Location
	dev.IP = nd.IP
	dev.UpdatedAt = svc.nowFunc().UTC()
	return svc.repo.UpdateDevice(ctx, dev)
}

// RotateKey issues a new API key, the old one stops working immediately.
func (svc *Service) RotateKey(ctx context.Context, dev Device) (WithKey, error) {
	dev.APIKey = newAPIKey()
	dev.UpdatedAt = svc.nowFunc().UTC()
	if err := svc.repo.SetAPIKey(ctx, dev.ID, dev.APIKey, dev.UpdatedAt); err != nil {
		return WithKey{}, err
	}
	return WithKey{Device: dev, APIKey: dev.APIKey}, nil
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteDevice(ctx, id)
}

// Restart queues a restart command, delivered with the device's next heartbeat.
func (svc *Service) Restart(ctx context.Context, dev Device) (Device, error) {
	if !dev.IsOnline() {
		return Device{}, ErrDeviceOffline
	}
	dev.PendingCommand = null.StringFrom(CommandRestart)
	dev.UpdatedAt = svc.nowFunc().UTC()
	if err := svc.repo.QueueCommand(ctx, dev.ID, CommandRestart, dev.UpdatedAt); err != nil {
		return Device{}, err
	}
	svc.events.Publish(EventCommand, map[string]string{"device_id": dev.ID, "command": CommandRestart})
	return dev, nil
}

// Metrics returns the samples recorded since `since` (the last hour when zero), oldest first.
func (svc *Service) Metrics(ctx context.Context, id string, since time.Time) ([]MetricSample, error) {
	if since.IsZero() {
		since = svc.nowFunc().Add(-time.Hour)
	}
	return svc.repo.QueryMetrics(ctx, id, since.UTC())
}

func (svc *Service) Summary(ctx context.Context) (Summary, error) {
	sum, avgUptime, err := svc.repo.DeviceSummary(ctx)
	if err != nil {
		return Summary{}, errors.Wrap(err, "summarizing devices")
	}
	sum.AvgUptime = FormatUptime(avgUptime)
	return sum, nil
}

// Authenticate finds the Device owning apiKey.
func (svc *Service) Authenticate(ctx context.Context, apiKey string) (Device, error) {
	if apiKey == "" {
		return Device{}, ErrInvalidAPIKey
	}
	dev, err := svc.repo.GetDeviceByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Device{}, ErrInvalidAPIKey
		}
		return Device{}, err
	}
	return dev, nil
}

// Heartbeat stores the reported telemetry, marks dev online and hands over any pending command
// together with the current device settings. Only dev.ID is used: the device may have changed since
// it was authenticated.
func (svc *Service) Heartbeat(ctx context.Context, dev Device, t Telemetry) (HeartbeatReply, error) {
	now := svc.nowFunc().UTC()
	res, err := svc.repo.RecordHeartbeat(ctx, dev.ID, t, now)
	if err != nil {
		return HeartbeatReply{}, err
	}
	err = svc.repo.AddMetricSample(ctx, MetricSample{
		DeviceID:    dev.ID,
		CPUUsage:    t.CPUUsage,
		MemoryUsage: t.MemoryUsage,
		Temperature: t.Temperature,
		RecordedAt:  now,
	})
	if err != nil {
		return HeartbeatReply{}, errors.Wrap(err, "recording metric sample")
	}

	reply := HeartbeatReply{Command: res.Command}
	if reply.Settings, err = svc.GetSettings(ctx); err != nil {
		return HeartbeatReply{}, err
	}

	svc.events.Publish(EventHeartbeat, res.Device)
	if !res.WasOnline {
		svc.events.Publish(EventStatus, res.Device)
	}
	return reply, nil
}

// SweepOffline marks devices which missed their heartbeats offline, and emails the admins about them
// when the notify_on_offline setting is on.
func (svc *Service) SweepOffline(ctx context.Context) ([]Device, error) {
	now := svc.nowFunc().UTC()
	devices, err := svc.repo.MarkOffline(ctx, now.Add(-svc.offlineAfter), now)
	if err != nil {
		return nil, errors.Wrap(err, "marking devices offline")
	}
	if len(devices) == 0 {
		return nil, nil
	}
	for _, dev := range devices {
		svc.events.Publish(EventStatus, dev)
	}

	settings, err := svc.GetSettings(ctx)
	if err != nil {
		return devices, err
	}
	if settings.NotifyOnOffline {
		if err := svc.notifyOffline(ctx, devices); err != nil {
			return devices, err
		}
	}
	return devices, nil
}

func (svc *Service) notifyOffline(ctx context.Context, devices []Device) error {
	admins, err := svc.admins.AdminEmails(ctx)
	if err != nil {
		return errors.Wrap(err, "listing admins")
	}
	if len(admins) == 0 {
		return nil
	}
	type offlineDevice struct {
		Name, IP string
		LastSeen time.Time
	}
	offline := make([]offlineDevice, 0, len(devices))
	for _, dev := range devices {
		offline = append(offline, offlineDevice{Name: dev.Name, IP: dev.IP, LastSeen: dev.LastSeen.Time})
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           admins,
		Subject:      "Devices offline",
		TemplateName: "device_offline",
		TemplateData: map[string]interface{}{"Devices": offline},
	})
	return nil
}

// PurgeMetrics drops samples older than the retention period.
func (svc *Service) PurgeMetrics(ctx context.Context) (int64, error) {
	return svc.repo.DeleteMetricsBefore(ctx, svc.nowFunc().Add(-svc.metricsRetention).UTC())
}

// GetSettings returns the stored device settings, or the defaults if none were saved yet.
func (svc *Service) GetSettings(ctx context.Context) (Settings, error) {
	settings := DefaultSettings()
	if _, err := svc.store.GetSystemValue(ctx, settingsKey, &settings); err != nil {
		return Settings{}, errors.Wrap(err, "loading device settings")
	}
	return settings, nil
}

// UpdateSettings saves the validated settings.
func (svc *Service) UpdateSettings(ctx context.Context, settings Settings) (Settings, error) {
	if err := svc.store.SetSystemValue(ctx, settingsKey, settings); err != nil {
		return Settings{}, errors.Wrap(err, "saving device settings")
	}
	return settings, nil
}
