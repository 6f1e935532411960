package attendance

import (
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/attendance/core"
)

// Statuses
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusPending = "pending" // captured by a device, waiting for review
)

// Permission statuses (absences with permission only)
const (
	PermissionPending  = "pending"
	PermissionApproved = "approved"
	PermissionRejected = "rejected"
)

// Sources
const (
	SourceManual = "manual"
	SourceDevice = "device"
)

// Review actions
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Review filters
const (
	FilterAll      = "all"
	FilterPending  = "pending"
	FilterVerified = "verified"
)

var (
	statusTag  = "attendancestatus"
	statusText = "status must be one of present, absent or pending"

	reasonText = "please provide a reason for the absence or mark it as without permission"
)

type Record struct {
	ID               string      `json:"id" db:"id"`
	StudentID        string      `json:"student_id" db:"student_id"`
	StudentName      string      `json:"student_name" db:"student_name"`     // read-only
	StudentNumber    string      `json:"student_number" db:"student_number"` // read-only registration number
	CourseID         string      `json:"course_id" db:"course_id"`           // "" when not tied to a course
	CourseName       string      `json:"course" db:"course_name"`            // read-only
	Date             string      `json:"date" db:"date"`                     // YYYY-MM-DD
	ArrivalTime      null.String `json:"arrival_time" db:"arrival_time"`     // HH:MM:SS, null when absent
	Status           string      `json:"status" db:"status"`
	Verified         bool        `json:"verified" db:"verified"`
	HasPermission    bool        `json:"has_permission" db:"has_permission"`
	PermissionStatus null.String `json:"permission_status" db:"permission_status"`
	Reason           string      `json:"reason" db:"reason"`
	Source           string      `json:"source" db:"source"`
	DeviceID         null.String `json:"device_id" db:"device_id"`
	RecordedBy       null.String `json:"recorded_by" db:"recorded_by"`
	VerifiedBy       null.String `json:"verified_by" db:"verified_by"`
	VerifiedAt       null.Time   `json:"verified_at" db:"verified_at"` // UTC
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`   // UTC
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`   // UTC
}

// IsAbsentWithPermission tells whether the record is an absence that needs a permission decision.
func (r Record) IsAbsentWithPermission() bool {
	return r.Status == StatusAbsent && r.HasPermission
}

// NewClaim marks a Student present at the current time.
type NewClaim struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id"`
	Date      string `json:"date" validate:"omitempty,isodate"` // defaults to today
}

func (nc *NewClaim) Validate(validate *validator.Validate) error {
	nc.StudentID = core.CleanString(nc.StudentID)
	nc.CourseID = core.CleanString(nc.CourseID)
	nc.Date = core.CleanString(nc.Date)
	return validate.Struct(nc)
}

// NewAbsence marks a Student absent, optionally with permission.
type NewAbsence struct {
	StudentID     string `json:"student_id" validate:"required"`
	CourseID      string `json:"course_id"`
	Date          string `json:"date" validate:"omitempty,isodate"` // defaults to today
	HasPermission bool   `json:"has_permission"`
	Reason        string `json:"reason" validate:"max=500"`
}

func (na *NewAbsence) Validate(validate *validator.Validate) error {
	na.StudentID = core.CleanString(na.StudentID)
	na.CourseID = core.CleanString(na.CourseID)
	na.Date = core.CleanString(na.Date)
	na.Reason = core.CleanString(na.Reason)
	return validate.Struct(na)
}

// Capture is a Student detection reported by a device.
type Capture struct {
	StudentNumber string    // registration number
	CourseID      string    // optional
	CapturedAt    time.Time // defaults to now
}

// Review approves or rejects a Record.
type Review struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
}

func (rv *Review) Validate(validate *validator.Validate) error {
	rv.Action = core.CleanString(rv.Action, true /* lower */)
	return validate.Struct(rv)
}

type QueryFilter struct {
	Search    string `query:"search" json:"search"` // student name, registration number or course name
	Status    string `query:"status" json:"status" validate:"omitempty,attendancestatus"`
	Verified  *bool  `query:"verified" json:"verified"`
	Filter    string `query:"filter" json:"filter" validate:"omitempty,oneof=all pending verified"` // pending means unverified
	Date      string `query:"date" json:"date" validate:"omitempty,isodate"`
	DateFrom  string `query:"date_from" json:"date_from" validate:"omitempty,isodate"`
	DateTo    string `query:"date_to" json:"date_to" validate:"omitempty,isodate"`
	StudentID string `query:"student_id" json:"student_id"`
	CourseID  string `query:"course_id" json:"course_id"`
	Limit     int    `query:"limit" json:"limit" validate:"min=0"`
}

// Validate cleans & validates the filter.
func (qf *QueryFilter) Validate(validate *validator.Validate) error {
	qf.Clean()
	return validate.Struct(qf)
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.Filter = core.CleanString(qf.Filter, true /* lower */)
	qf.Date = core.CleanString(qf.Date)
	qf.DateFrom = core.CleanString(qf.DateFrom)
	qf.DateTo = core.CleanString(qf.DateTo)
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.CourseID = core.CleanString(qf.CourseID)

	switch qf.Filter {
	case FilterPending:
		f := false
		qf.Verified = &f
	case FilterVerified:
		t := true
		qf.Verified = &t
	}
}

// InitValidators registers the attendance validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(statusTag, func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case StatusPresent, StatusAbsent, StatusPending:
			return true
		}
		return false
	})
	core.RegisterCustomTranslation(validate, translator, statusTag, statusText)

	validate.RegisterStructValidation(absenceStructValidation, NewAbsence{})
	core.RegisterCustomTranslation(validate, translator, "reasonrequired", reasonText)
}

// absenceStructValidation requires a reason for absences with permission.
func absenceStructValidation(sl validator.StructLevel) {
	na := sl.Current().Interface().(NewAbsence)
	if na.HasPermission && na.Reason == "" {
		sl.ReportError(na.Reason, "reason", "Reason", "reasonrequired", "")
	}
}
