package attendance

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/course"
	"github.com/trezcool/attendance/core/student"
)

var (
	// errors
	ErrNotFound          = core.NewNotFoundError("attendance record not found")
	ErrAlreadyRecorded   = core.NewConflictError("attendance already recorded")
	ErrAlreadyVerified   = core.NewConflictError("record already verified")
	ErrFutureDate        = errors.New("date cannot be in the future")
	ErrStudentNotFound   = errors.New("student not found")
	ErrCourseNotFound    = errors.New("course not found")
	ErrUnknownStudentNum = core.NewNotFoundError("no student with this student ID")
)

// device clocks may run slightly ahead of ours
const maxClockSkew = 5 * time.Minute

// Event types
const (
	EventClaimed  = "attendance.claimed"
	EventAbsent   = "attendance.absent"
	EventCaptured = "attendance.captured"
	EventVerified = "attendance.verified"
	EventDeleted  = "attendance.deleted"
)

type (
	Repository interface {
		// CreateRecord returns ErrAlreadyRecorded if the Student already has a record for that date & course.
		CreateRecord(ctx context.Context, rec Record) (Record, error)
		// QueryRecords does a case-insensitive QueryFilter.Search on student name, registration number & course name.
		QueryRecords(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Record, error)
		GetRecordByID(ctx context.Context, id string) (Record, error)
		// VerifyRecord saves a review decision. It returns ErrAlreadyVerified if the stored record is verified already.
		VerifyRecord(ctx context.Context, rec Record) (Record, error)
		DeleteRecord(ctx context.Context, id string) error
		// DeleteRecordsBefore deletes all records dated strictly before date (YYYY-MM-DD).
		DeleteRecordsBefore(ctx context.Context, date string) (int64, error)
	}

	StudentFinder interface {
		GetByID(ctx context.Context, id string) (student.Student, error)
		GetByStudentID(ctx context.Context, studentID string) (student.Student, error)
	}

	CourseGetter interface {
		GetByID(ctx context.Context, id string) (course.Course, error)
	}

	// Preferences exposes the user & system settings the workflow depends on.
	Preferences interface {
		EmailAlertsEnabled(ctx context.Context, userID string) (bool, error)
		AutoDeleteRecords(ctx context.Context) (bool, error)
	}

	Deps struct {
		Repo     Repository
		Students StudentFinder
		Courses  CourseGetter
		Prefs    Preferences
		MailSvc  core.EmailService
		Events   core.EventPublisher
		Logger   core.Logger
	}

	Service struct {
		Deps
		retentionDays int
		nowFunc       func() time.Time // mockable
	}
)

func NewService(deps Deps, conf *core.Config) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Repo, "repo"),
		vala.IsNotNil(deps.Students, "students"),
		vala.IsNotNil(deps.Courses, "courses"),
		vala.IsNotNil(deps.Prefs, "prefs"),
		vala.IsNotNil(deps.MailSvc, "mailSvc"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	if deps.Events == nil {
		deps.Events = core.NopPublisher{}
	}
	return &Service{
		Deps:          deps,
		retentionDays: conf.Attendance.RetentionDays,
		nowFunc:       time.Now,
	}
}

// SetNowFunc overrides the clock (tests).
func (svc *Service) SetNowFunc(f func() time.Time) {
	svc.nowFunc = f
}

// resolveDate defaults an empty date to today and rejects future dates.
func (svc *Service) resolveDate(date string) (string, error) {
	today := core.FormatDate(svc.nowFunc())
	if date == "" {
		return today, nil
	}
	if date > today {
		return "", core.NewValidationError(ErrFutureDate, core.FieldError{Field: "date", Error: ErrFutureDate.Error()})
	}
	return date, nil
}

func (svc *Service) resolveStudent(ctx context.Context, id string) (student.Student, error) {
	std, err := svc.Students.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return student.Student{}, core.NewValidationError(ErrStudentNotFound, core.FieldError{Field: "student_id", Error: ErrStudentNotFound.Error()})
		}
		return student.Student{}, errors.Wrap(err, "finding student")
	}
	return std, nil
}

func (svc *Service) resolveCourse(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	crs, err := svc.Courses.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return "", core.NewValidationError(ErrCourseNotFound, core.FieldError{Field: "course_id", Error: ErrCourseNotFound.Error()})
		}
		return "", errors.Wrap(err, "finding course")
	}
	return crs.Name, nil
}

func (svc *Service) newRecord(std student.Student, courseID, courseName, date string) Record {
	now := svc.nowFunc()
	return Record{
		ID:            uuid.New().String(),
		StudentID:     std.ID,
		StudentName:   std.Name,
		StudentNumber: std.StudentID,
		CourseID:      courseID,
		CourseName:    courseName,
		Date:          date,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

// Claim marks a Student present at the current time. The record is verified since staff recorded it.
// nc must have been validated.
func (svc *Service) Claim(ctx context.Context, actorID string, nc NewClaim) (Record, error) {
	date, err := svc.resolveDate(nc.Date)
	if err != nil {
		return Record{}, err
	}
	std, err := svc.resolveStudent(ctx, nc.StudentID)
	if err != nil {
		return Record{}, err
	}
	courseName, err := svc.resolveCourse(ctx, nc.CourseID)
	if err != nil {
		return Record{}, err
	}

	rec := svc.newRecord(std, nc.CourseID, courseName, date)
	rec.ArrivalTime = null.StringFrom(svc.nowFunc().Format(core.TimeLayout))
	rec.Status = StatusPresent
	rec.Verified = true
	rec.Source = SourceManual
	rec.RecordedBy = null.StringFrom(actorID)

	if rec, err = svc.Repo.CreateRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	svc.Events.Publish(EventClaimed, rec)
	return rec, nil
}

// MarkAbsent records an absence. Absences with permission wait for an approval decision,
// those without permission are final. na must have been validated.
func (svc *Service) MarkAbsent(ctx context.Context, actorID string, na NewAbsence) (Record, error) {
	date, err := svc.resolveDate(na.Date)
	if err != nil {
		return Record{}, err
	}
	std, err := svc.resolveStudent(ctx, na.StudentID)
	if err != nil {
		return Record{}, err
	}
	courseName, err := svc.resolveCourse(ctx, na.CourseID)
	if err != nil {
		return Record{}, err
	}

	rec := svc.newRecord(std, na.CourseID, courseName, date)
	rec.Status = StatusAbsent
	rec.HasPermission = na.HasPermission
	rec.Reason = na.Reason
	rec.Source = SourceManual
	rec.RecordedBy = null.StringFrom(actorID)
	if na.HasPermission {
		rec.PermissionStatus = null.StringFrom(PermissionPending)
	} else {
		rec.Verified = true
	}

	if rec, err = svc.Repo.CreateRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	svc.Events.Publish(EventAbsent, rec)
	svc.notifyAbsence(ctx, actorID, std, rec)
	return rec, nil
}

func (svc *Service) notifyAbsence(ctx context.Context, actorID string, std student.Student, rec Record) {
	enabled, err := svc.Prefs.EmailAlertsEnabled(ctx, actorID)
	if err != nil {
		if svc.Logger != nil {
			svc.Logger.Error(fmt.Sprintf("checking email alerts: %v", err), err)
		}
		return
	}
	if !enabled || std.Email == "" {
		return
	}
	svc.MailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: std.Name, Address: std.Email}},
		Subject:      "Absence recorded on " + rec.Date,
		TemplateName: "absence_notice",
		TemplateData: map[string]interface{}{
			"StudentName":   std.Name,
			"Date":          rec.Date,
			"Course":        rec.CourseName,
			"HasPermission": rec.HasPermission,
			"Reason":        rec.Reason,
		},
	})
}

// RecordCapture creates a pending record for a Student detected by a device.
func (svc *Service) RecordCapture(ctx context.Context, deviceID string, c Capture) (Record, error) {
	if c.CapturedAt.After(svc.nowFunc().Add(maxClockSkew)) {
		return Record{}, core.NewValidationError(ErrFutureDate, core.FieldError{Field: "captured_at", Error: ErrFutureDate.Error()})
	}
	std, err := svc.Students.GetByStudentID(ctx, c.StudentNumber)
	if err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return Record{}, ErrUnknownStudentNum
		}
		return Record{}, errors.Wrap(err, "finding student by student ID")
	}
	courseName, err := svc.resolveCourse(ctx, c.CourseID)
	if err != nil {
		return Record{}, err
	}

	capturedAt := c.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = svc.nowFunc()
	}
	capturedAt = capturedAt.In(time.Local)

	rec := svc.newRecord(std, c.CourseID, courseName, core.FormatDate(capturedAt))
	rec.ArrivalTime = null.StringFrom(capturedAt.Format(core.TimeLayout))
	rec.Status = StatusPending
	rec.Source = SourceDevice
	rec.DeviceID = null.StringFrom(deviceID)

	if rec, err = svc.Repo.CreateRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	svc.Events.Publish(EventCaptured, rec)
	return rec, nil
}

// Verify applies a review decision to an unverified Record:
//   - absence with permission: approve/reject the permission
//   - pending capture: approve -> present, reject -> absent
//   - anything else: approve keeps the status, reject -> absent
func (svc *Service) Verify(ctx context.Context, actorID string, rec Record, action string) (Record, error) {
	if rec.Verified {
		return Record{}, ErrAlreadyVerified
	}

	switch {
	case rec.IsAbsentWithPermission():
		if action == ActionApprove {
			rec.PermissionStatus = null.StringFrom(PermissionApproved)
		} else {
			rec.PermissionStatus = null.StringFrom(PermissionRejected)
		}
	case rec.Status == StatusPending:
		if action == ActionApprove {
			rec.Status = StatusPresent
		} else {
			rec.Status = StatusAbsent
			rec.ArrivalTime = null.String{}
		}
	default:
		if action == ActionReject {
			rec.Status = StatusAbsent
			rec.ArrivalTime = null.String{}
		}
	}

	now := svc.nowFunc().UTC()
	rec.Verified = true
	rec.VerifiedBy = null.StringFrom(actorID)
	rec.VerifiedAt = null.TimeFrom(now)
	rec.UpdatedAt = now

	rec, err := svc.Repo.VerifyRecord(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	svc.Events.Publish(EventVerified, rec)
	return rec, nil
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Record, error) {
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "date"}, {Field: "arrival_time"}, {Field: "created_at"}}
	}
	return svc.Repo.QueryRecords(ctx, filter, orderings)
}

// Recent returns the latest n records.
func (svc *Service) Recent(ctx context.Context, n int) ([]Record, error) {
	return svc.Query(ctx, QueryFilter{Limit: n}, []core.DBOrdering{{Field: "created_at"}})
}

func (svc *Service) GetByID(ctx context.Context, id string) (Record, error) {
	return svc.Repo.GetRecordByID(ctx, id)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	if err := svc.Repo.DeleteRecord(ctx, id); err != nil {
		return err
	}
	svc.Events.Publish(EventDeleted, map[string]string{"id": id})
	return nil
}

// PurgeExpired deletes records older than the retention period, if auto deletion is turned on.
func (svc *Service) PurgeExpired(ctx context.Context) (int64, error) {
	enabled, err := svc.Prefs.AutoDeleteRecords(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "checking auto delete setting")
	}
	if !enabled || svc.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := core.FormatDate(svc.nowFunc().AddDate(0, 0, -svc.retentionDays))
	return svc.Repo.DeleteRecordsBefore(ctx, cutoff)
}
