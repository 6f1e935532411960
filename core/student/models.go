package student

import (
	"regexp"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/attendance/core"
)

var (
	regNoTag   = "regno"
	regNoText  = "student ID must look like ASTU/1234/20"
	regNoRegex = regexp.MustCompile(`^[A-Za-z]+/\d{3,6}/\d{2}$`)
)

type Student struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	StudentID      string    `json:"student_id" db:"student_id"` // registration number, e.g. ASTU/1234/20
	Email          string    `json:"email" db:"email"`
	Department     string    `json:"department" db:"department"`
	Year           int       `json:"year" db:"year"`
	EnrollmentDate string    `json:"enrollment_date" db:"enrollment_date"` // YYYY-MM-DD
	AttendanceRate int       `json:"attendance_rate" db:"attendance_rate"` // 0 - 100
	CreatedAt      time.Time `json:"created_at" db:"created_at"`           // UTC
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`           // UTC
}

// NewStudent contains information needed to add a Student to the roster.
type NewStudent struct {
	Name           string `json:"name" validate:"required,notblank"`
	StudentID      string `json:"student_id" validate:"required,regno"`
	Email          string `json:"email" validate:"required,email"`
	Department     string `json:"department" validate:"required"`
	Year           int    `json:"year" validate:"required,min=1,max=7"`
	EnrollmentDate string `json:"enrollment_date" validate:"omitempty,isodate"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.StudentID = cleanRegNo(ns.StudentID)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	ns.Department = core.CleanString(ns.Department)
	ns.EnrollmentDate = core.CleanString(ns.EnrollmentDate)
	return validate.Struct(ns)
}

// UpdateStudent defines what may be modified on an existing Student. nil fields are left unchanged.
type UpdateStudent struct {
	Name           *string `json:"name" validate:"omitempty,notblank"`
	StudentID      *string `json:"student_id" validate:"omitempty,regno"`
	Email          *string `json:"email" validate:"omitempty,email"`
	Department     *string `json:"department" validate:"omitempty,notblank"`
	Year           *int    `json:"year" validate:"omitempty,min=1,max=7"`
	EnrollmentDate *string `json:"enrollment_date" validate:"omitempty,isodate"`
}

func (us *UpdateStudent) Validate(validate *validator.Validate) error {
	clean := func(s *string, f func(string) string) *string {
		if s == nil {
			return nil
		}
		v := f(*s)
		return &v
	}
	us.Name = clean(us.Name, func(s string) string { return core.CleanString(s) })
	us.StudentID = clean(us.StudentID, cleanRegNo)
	us.Email = clean(us.Email, func(s string) string { return core.CleanString(s, true) })
	us.Department = clean(us.Department, func(s string) string { return core.CleanString(s) })
	us.EnrollmentDate = clean(us.EnrollmentDate, func(s string) string { return core.CleanString(s) })
	return validate.Struct(us)
}

// Enrollment links a Student to a course.
type Enrollment struct {
	StudentID  string    `json:"student_id" validate:"required"`
	CourseID   string    `json:"course_id" validate:"required"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

func (e *Enrollment) Validate(validate *validator.Validate) error {
	e.StudentID = core.CleanString(e.StudentID)
	e.CourseID = core.CleanString(e.CourseID)
	return validate.Struct(e)
}

type QueryFilter struct {
	Search     string `query:"search"`
	Department string `query:"department"`
	Year       int    `query:"year"`
	CourseID   string `query:"course_id"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Department = core.CleanString(qf.Department)
	qf.CourseID = core.CleanString(qf.CourseID)
}

// InitValidators registers the student validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(regNoTag, func(fl validator.FieldLevel) bool {
		return regNoRegex.MatchString(fl.Field().String())
	})
	core.RegisterCustomTranslation(validate, translator, regNoTag, regNoText)
}

// cleanRegNo normalizes registration numbers: "ugr/35183/16 " -> "UGR/35183/16"
func cleanRegNo(s string) string {
	return strings.ToUpper(core.CleanString(s))
}
