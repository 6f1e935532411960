package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/course"
)

const courseColumns = "id, code, name, department, teacher_id, created_at, updated_at"

var courseOrderings = map[string]string{
	"code":       "code",
	"name":       "name",
	"department": "department",
	"created_at": "created_at",
}

type courseRepository struct {
	db *sqlx.DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *sqlx.DB) *courseRepository {
	return &courseRepository{db: db}
}

func codeExistsErr() error {
	return core.NewValidationError(course.ErrCodeExists, core.FieldError{Field: "code", Error: course.ErrCodeExists.Error()})
}

func (repo courseRepository) CreateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	q := `INSERT INTO courses (` + courseColumns + `)
		VALUES (:id, :code, :name, :department, :teacher_id, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, crs); err != nil {
		if isUniqueViolation(err) {
			return course.Course{}, codeExistsErr()
		}
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return crs, nil
}

func (repo courseRepository) QueryCourses(ctx context.Context, filter course.QueryFilter, orderings []core.DBOrdering) ([]course.Course, error) {
	var w where
	w.search(filter.Search, "code", "name")
	if filter.Department != "" {
		w.add("department = ?", filter.Department)
	}
	if filter.TeacherID != "" {
		w.add("teacher_id = ?", filter.TeacherID)
	}
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "code", Ascending: true}}
	}

	q := "SELECT " + courseColumns + " FROM courses" + w.String() + orderBy(orderings, courseOrderings)
	courses := make([]course.Course, 0)
	if err := repo.db.SelectContext(ctx, &courses, repo.db.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	return courses, nil
}

func (repo courseRepository) GetCourseByID(ctx context.Context, id string) (course.Course, error) {
	var crs course.Course
	q := repo.db.Rebind("SELECT " + courseColumns + " FROM courses WHERE id = ?")
	if err := repo.db.GetContext(ctx, &crs, q, id); err != nil {
		return course.Course{}, trapNoRowsErr(err, course.ErrNotFound, "finding course by ID")
	}
	return crs, nil
}

func (repo courseRepository) CodeExists(ctx context.Context, code string, excludedIDs ...string) (bool, error) {
	var w where
	w.add("LOWER(code) = ?", core.CleanString(code, true /* lower */))
	w.in("id", excludedIDs, true)
	return exists(ctx, repo.db, "courses", w)
}

func (repo courseRepository) UpdateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	q := `UPDATE courses SET code = :code, name = :name, department = :department, teacher_id = :teacher_id,
		updated_at = :updated_at WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, crs)
	if err != nil {
		if isUniqueViolation(err) {
			return course.Course{}, codeExistsErr()
		}
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if err := checkAffected(res, course.ErrNotFound); err != nil {
		return course.Course{}, err
	}
	return crs, nil
}

func (repo courseRepository) DeleteCourse(ctx context.Context, id string) error {
	q := repo.db.Rebind(`DELETE FROM courses WHERE id = ?
		AND NOT EXISTS (SELECT 1 FROM attendance_records WHERE course_id = ?)`)
	res, err := repo.db.ExecContext(ctx, q, id, id)
	if err != nil {
		return errors.Wrap(err, "deleting course")
	}
	if err := checkAffected(res, course.ErrHasRecords); err != nil {
		if _, err := repo.GetCourseByID(ctx, id); err != nil {
			return err
		}
		return course.ErrHasRecords
	}
	return nil
}
