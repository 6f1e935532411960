package student

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/course"
)

var (
	// errors
	ErrNotFound         = core.NewNotFoundError("student not found")
	ErrStudentIDExists  = errors.New("a student with this student ID already exists")
	ErrEmailExists      = errors.New("a student with this email already exists")
	ErrAlreadyEnrolled  = core.NewConflictError("student already enrolled in this course")
	ErrCourseNotFound   = errors.New("course not found")
	ErrStudentNotExists = errors.New("student not found")
)

type (
	Repository interface {
		CreateStudent(ctx context.Context, std Student) (Student, error)
		// QueryStudents does a case-insensitive QueryFilter.Search on name, student ID, email & department.
		QueryStudents(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Student, error)
		GetStudentByID(ctx context.Context, id string) (Student, error)
		GetStudentByStudentID(ctx context.Context, studentID string) (Student, error)
		StudentIDExists(ctx context.Context, studentID string, excludedIDs ...string) (bool, error)
		EmailExists(ctx context.Context, email string, excludedIDs ...string) (bool, error)
		UpdateStudent(ctx context.Context, std Student) (Student, error)
		DeleteStudent(ctx context.Context, id string) error

		// Enroll returns ErrAlreadyEnrolled if the Student is already enrolled in the course.
		Enroll(ctx context.Context, e Enrollment) error
		StudentCourses(ctx context.Context, studentID string) ([]course.Course, error)
	}

	CourseGetter interface {
		GetByID(ctx context.Context, id string) (course.Course, error)
	}

	Service struct {
		repo    Repository
		courses CourseGetter
		nowFunc func() time.Time // mockable
	}
)

func NewService(repo Repository, courses CourseGetter) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(courses, "courses"),
	).CheckAndPanic()

	return &Service{repo: repo, courses: courses, nowFunc: time.Now}
}

func (svc *Service) checkUniqueness(ctx context.Context, studentID, email string, exclIDs ...string) error {
	var fields []core.FieldError

	if studentID != "" {
		exists, err := svc.repo.StudentIDExists(ctx, studentID, exclIDs...)
		if err != nil {
			return errors.Wrap(err, "checking student ID uniqueness")
		}
		if exists {
			fields = append(fields, core.FieldError{Field: "student_id", Error: ErrStudentIDExists.Error()})
		}
	}
	if email != "" {
		exists, err := svc.repo.EmailExists(ctx, email, exclIDs...)
		if err != nil {
			return errors.Wrap(err, "checking email uniqueness")
		}
		if exists {
			fields = append(fields, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
		}
	}

	if len(fields) > 0 {
		return core.NewValidationError(nil, fields...)
	}
	return nil
}

// Create adds a new Student to the roster. ns must have been validated.
func (svc *Service) Create(ctx context.Context, ns NewStudent) (Student, error) {
	if err := svc.checkUniqueness(ctx, ns.StudentID, ns.Email); err != nil {
		return Student{}, err
	}

	now := svc.nowFunc()
	enrolledOn := ns.EnrollmentDate
	if enrolledOn == "" {
		enrolledOn = core.FormatDate(now)
	}
	return svc.repo.CreateStudent(ctx, Student{
		ID:             uuid.New().String(),
		Name:           ns.Name,
		StudentID:      ns.StudentID,
		Email:          ns.Email,
		Department:     ns.Department,
		Year:           ns.Year,
		EnrollmentDate: enrolledOn,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	})
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, filter, orderings)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudentByID(ctx, id)
}

// GetByStudentID finds a Student by registration number.
func (svc *Service) GetByStudentID(ctx context.Context, studentID string) (Student, error) {
	return svc.repo.GetStudentByStudentID(ctx, cleanRegNo(studentID))
}

// Update partially updates std with the validated us.
func (svc *Service) Update(ctx context.Context, std Student, us UpdateStudent) (Student, error) {
	var newStudentID, newEmail string
	if us.StudentID != nil && *us.StudentID != std.StudentID {
		newStudentID = *us.StudentID
	}
	if us.Email != nil && *us.Email != std.Email {
		newEmail = *us.Email
	}
	if err := svc.checkUniqueness(ctx, newStudentID, newEmail, std.ID); err != nil {
		return Student{}, err
	}

	if us.Name != nil {
		std.Name = *us.Name
	}
	if us.StudentID != nil {
		std.StudentID = *us.StudentID
	}
	if us.Email != nil {
		std.Email = *us.Email
	}
	if us.Department != nil {
		std.Department = *us.Department
	}
	if us.Year != nil {
		std.Year = *us.Year
	}
	if us.EnrollmentDate != nil && *us.EnrollmentDate != "" {
		std.EnrollmentDate = *us.EnrollmentDate
	}
	std.UpdatedAt = svc.nowFunc().UTC()
	return svc.repo.UpdateStudent(ctx, std)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteStudent(ctx, id)
}

// Enroll enrolls a Student in a course. e must have been validated.
func (svc *Service) Enroll(ctx context.Context, e Enrollment) (Enrollment, error) {
	if _, err := svc.repo.GetStudentByID(ctx, e.StudentID); err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Enrollment{}, core.NewValidationError(ErrStudentNotExists, core.FieldError{Field: "student_id", Error: ErrStudentNotExists.Error()})
		}
		return Enrollment{}, errors.Wrap(err, "finding student by ID")
	}
	if _, err := svc.courses.GetByID(ctx, e.CourseID); err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return Enrollment{}, core.NewValidationError(ErrCourseNotFound, core.FieldError{Field: "course_id", Error: ErrCourseNotFound.Error()})
		}
		return Enrollment{}, errors.Wrap(err, "finding course by ID")
	}

	e.EnrolledAt = svc.nowFunc().UTC()
	if err := svc.repo.Enroll(ctx, e); err != nil {
		return Enrollment{}, err
	}
	return e, nil
}

func (svc *Service) Courses(ctx context.Context, studentID string) ([]course.Course, error) {
	return svc.repo.StudentCourses(ctx, studentID)
}
