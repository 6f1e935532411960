package device

import (
	"fmt"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/attendance/core"
)

// Statuses
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Types
const (
	TypeCamera        = "camera"
	TypeAccessControl = "access_control"
	TypeSensor        = "sensor"
)

// Commands
const CommandRestart = "restart"

// Image qualities
const (
	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"
)

var (
	deviceTypeTag  = "devicetype"
	deviceTypeText = "type must be one of camera, access_control or sensor"

	imageQualityTag  = "imagequality"
	imageQualityText = "image quality must be one of low, medium or high"
)

type Device struct {
	ID             string      `json:"id" db:"id"`
	Name           string      `json:"name" db:"name"`
	Type           string      `json:"type" db:"type"`
	Location       string      `json:"location" db:"location"`
	IP             string      `json:"ip" db:"ip"`
	Status         string      `json:"status" db:"status"`
	LastSeen       null.Time   `json:"last_seen" db:"last_seen"` // UTC
	CPUUsage       float64     `json:"cpu_usage" db:"cpu_usage"`
	MemoryUsage    float64     `json:"memory_usage" db:"memory_usage"`
	Temperature    float64     `json:"temperature" db:"temperature"`
	UptimeSeconds  int64       `json:"uptime_seconds" db:"uptime_seconds"`
	CapturesToday  int         `json:"captures_today" db:"captures_today"`
	APIKey         string      `json:"-" db:"api_key"`
	PendingCommand null.String `json:"pending_command" db:"pending_command"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"` // UTC
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"` // UTC
}

func (d Device) IsOnline() bool {
	return d.Status == StatusOnline
}

// Uptime formats the uptime the way the dashboard shows it, e.g. "5d 12h", "3h 20m" or "45m".
func (d Device) Uptime() string {
	return FormatUptime(d.UptimeSeconds)
}

func FormatUptime(seconds int64) string {
	if seconds <= 0 {
		return "0m"
	}
	dur := time.Duration(seconds) * time.Second
	days := int64(dur.Hours()) / 24
	hours := int64(dur.Hours()) % 24
	mins := int64(dur.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

// WithKey is returned once, when a Device is created, so its API key can be provisioned.
type WithKey struct {
	Device
	APIKey string `json:"api_key"`
}

type MetricSample struct {
	DeviceID    string    `json:"device_id" db:"device_id"`
	CPUUsage    float64   `json:"cpu_usage" db:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage" db:"memory_usage"`
	Temperature float64   `json:"temperature" db:"temperature"`
	RecordedAt  time.Time `json:"recorded_at" db:"recorded_at"` // UTC
}

// Telemetry is reported by devices on every heartbeat.
type Telemetry struct {
	CPUUsage      float64
	MemoryUsage   float64
	Temperature   float64
	UptimeSeconds int64
	CapturesToday int
}

// HeartbeatResult is what a recorded heartbeat changed.
type HeartbeatResult struct {
	Device    Device // as stored after the heartbeat
	WasOnline bool
	Command   string // pending command handed over, cleared from the device
}

// HeartbeatReply tells a device what to do next.
type HeartbeatReply struct {
	Command  string   `json:"command"`
	Settings Settings `json:"settings"`
}

// NewDevice contains information needed to register a Device.
type NewDevice struct {
	Name     string `json:"name" validate:"required,notblank,max=100"`
	Type     string `json:"type" validate:"required,devicetype"`
	Location string `json:"location" validate:"max=200"`
	IP       string `json:"ip" validate:"omitempty,ip"`
}

func (nd *NewDevice) Validate(validate *validator.Validate) error {
	nd.Name = core.CleanString(nd.Name)
	nd.Type = core.CleanString(nd.Type, true /* lower */)
	nd.Location = core.CleanString(nd.Location)
	nd.IP = core.CleanString(nd.IP)
	if nd.Type == "" {
		nd.Type = TypeCamera
	}
	return validate.Struct(nd)
}

// Settings are shared by all devices and pushed to them in heartbeat replies.
type Settings struct {
	CaptureInterval int    `json:"capture_interval" validate:"min=1"` // seconds
	ImageQuality    string `json:"image_quality" validate:"required,imagequality"`
	MotionDetection bool   `json:"motion_detection"`
	NightMode       bool   `json:"night_mode"`
	AutoRestart     bool   `json:"auto_restart"`
	NotifyOnOffline bool   `json:"notify_on_offline"`
	MaxRetries      int    `json:"max_retries" validate:"min=0,max=10"`
	Timeout         int    `json:"timeout" validate:"min=1,max=300"` // seconds
}

func DefaultSettings() Settings {
	return Settings{
		CaptureInterval: 5,
		ImageQuality:    QualityHigh,
		MotionDetection: true,
		NightMode:       false,
		AutoRestart:     true,
		NotifyOnOffline: true,
		MaxRetries:      3,
		Timeout:         30,
	}
}

func (s *Settings) Validate(validate *validator.Validate) error {
	s.ImageQuality = core.CleanString(s.ImageQuality, true /* lower */)
	return validate.Struct(s)
}

type QueryFilter struct {
	Search string `query:"search"` // name, location or IP
	Status string `query:"status"`
	Type   string `query:"type"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.Type = core.CleanString(qf.Type, true /* lower */)
}

// Summary aggregates the fleet for the devices page header.
type Summary struct {
	Total         int    `json:"total" db:"total"`
	Online        int    `json:"online" db:"online"`
	Offline       int    `json:"offline" db:"offline"`
	CapturesToday int    `json:"captures_today" db:"captures_today"`
	AvgUptime     string `json:"average_uptime" db:"-"`
}

// InitValidators registers the device validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(deviceTypeTag, func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case TypeCamera, TypeAccessControl, TypeSensor:
			return true
		}
		return false
	})
	core.RegisterCustomTranslation(validate, translator, deviceTypeTag, deviceTypeText)

	_ = validate.RegisterValidation(imageQualityTag, func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case QualityLow, QualityMedium, QualityHigh:
			return true
		}
		return false
	})
	core.RegisterCustomTranslation(validate, translator, imageQualityTag, imageQualityText)
}
