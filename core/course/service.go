package course

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
)

var (
	// errors
	ErrNotFound        = core.NewNotFoundError("course not found")
	ErrCodeExists      = errors.New("a course with this code already exists")
	ErrTeacherNotFound = errors.New("teacher not found")
	ErrHasRecords      = core.NewConflictError("course has attendance records")
)

type (
	Repository interface {
		CreateCourse(ctx context.Context, crs Course) (Course, error)
		// QueryCourses does a case-insensitive QueryFilter.Search on Course.Code & Course.Name.
		QueryCourses(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Course, error)
		GetCourseByID(ctx context.Context, id string) (Course, error)
		CodeExists(ctx context.Context, code string, excludedIDs ...string) (bool, error)
		UpdateCourse(ctx context.Context, crs Course) (Course, error)
		// DeleteCourse returns ErrHasRecords if attendance was recorded for the course.
		DeleteCourse(ctx context.Context, id string) error
	}

	// TeacherChecker tells whether a User ID belongs to an active teacher (or admin).
	TeacherChecker interface {
		IsStaff(ctx context.Context, userID string) (bool, error)
	}

	Service struct {
		repo     Repository
		teachers TeacherChecker
	}
)

func NewService(repo Repository, teachers TeacherChecker) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(teachers, "teachers"),
	).CheckAndPanic()

	return &Service{repo: repo, teachers: teachers}
}

func (svc *Service) check(ctx context.Context, nc NewCourse, exclIDs ...string) error {
	exists, err := svc.repo.CodeExists(ctx, nc.Code, exclIDs...)
	if err != nil {
		return errors.Wrap(err, "checking code uniqueness")
	}
	if exists {
		return core.NewValidationError(ErrCodeExists, core.FieldError{Field: "code", Error: ErrCodeExists.Error()})
	}
	if nc.TeacherID != nil {
		ok, err := svc.teachers.IsStaff(ctx, *nc.TeacherID)
		if err != nil {
			return errors.Wrap(err, "checking teacher")
		}
		if !ok {
			return core.NewValidationError(ErrTeacherNotFound, core.FieldError{Field: "teacher_id", Error: ErrTeacherNotFound.Error()})
		}
	}
	return nil
}

// Create creates a new Course. nc must have been validated.
func (svc *Service) Create(ctx context.Context, nc NewCourse) (Course, error) {
	if err := svc.check(ctx, nc); err != nil {
		return Course{}, err
	}
	now := time.Now().UTC()
	return svc.repo.CreateCourse(ctx, Course{
		ID:         uuid.New().String(),
		Code:       nc.Code,
		Name:       nc.Name,
		Department: nc.Department,
		TeacherID:  nc.TeacherID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, filter, orderings)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourseByID(ctx, id)
}

// Update replaces crs's fields with the validated nc.
func (svc *Service) Update(ctx context.Context, crs Course, nc NewCourse) (Course, error) {
	if err := svc.check(ctx, nc, crs.ID); err != nil {
		return Course{}, err
	}
	crs.Code = nc.Code
	crs.Name = nc.Name
	crs.Department = nc.Department
	crs.TeacherID = nc.TeacherID
	crs.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateCourse(ctx, crs)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteCourse(ctx, id)
}
