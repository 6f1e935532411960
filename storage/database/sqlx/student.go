package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/course"
	"github.com/trezcool/attendance/core/student"
)

// the attendance rate only counts verified presences & absences
const studentSelect = `SELECT s.id, s.name, s.student_id, s.email, s.department, s.year, s.enrollment_date,
	s.created_at, s.updated_at,
	(SELECT COUNT(*) FROM attendance_records a
		WHERE a.student_id = s.id AND a.verified = TRUE AND a.status = 'present') AS present_count,
	(SELECT COUNT(*) FROM attendance_records a
		WHERE a.student_id = s.id AND a.verified = TRUE AND a.status IN ('present', 'absent')) AS decided_count
	FROM students s`

var studentOrderings = map[string]string{
	"name":            "s.name",
	"student_id":      "s.student_id",
	"email":           "s.email",
	"department":      "s.department",
	"year":            "s.year",
	"enrollment_date": "s.enrollment_date",
	"created_at":      "s.created_at",
}

type studentRow struct {
	student.Student
	PresentCount int `db:"present_count"`
	DecidedCount int `db:"decided_count"`
}

func (r studentRow) toStudent() student.Student {
	std := r.Student
	std.AttendanceRate = core.CalculateAttendanceRate(r.PresentCount, r.DecidedCount)
	return std
}

type studentRepository struct {
	db *sqlx.DB
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *sqlx.DB) *studentRepository {
	return &studentRepository{db: db}
}

func (repo studentRepository) CreateStudent(ctx context.Context, std student.Student) (student.Student, error) {
	q := `INSERT INTO students (id, name, student_id, email, department, year, enrollment_date, created_at, updated_at)
		VALUES (:id, :name, :student_id, :email, :department, :year, :enrollment_date, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, std); err != nil {
		if isUniqueViolation(err) {
			return student.Student{}, core.NewValidationError(student.ErrStudentIDExists)
		}
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return std, nil
}

func (repo studentRepository) QueryStudents(ctx context.Context, filter student.QueryFilter, orderings []core.DBOrdering) ([]student.Student, error) {
	var w where
	w.search(filter.Search, "s.name", "s.student_id", "s.email", "s.department")
	if filter.Department != "" {
		w.add("s.department = ?", filter.Department)
	}
	if filter.Year > 0 {
		w.add("s.year = ?", filter.Year)
	}
	if filter.CourseID != "" {
		w.add("s.id IN (SELECT e.student_id FROM enrollments e WHERE e.course_id = ?)", filter.CourseID)
	}
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "name", Ascending: true}}
	}

	var rows []studentRow
	q := repo.db.Rebind(studentSelect + w.String() + orderBy(orderings, studentOrderings))
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	students := make([]student.Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.toStudent())
	}
	return students, nil
}

func (repo studentRepository) getStudent(ctx context.Context, col, val string) (student.Student, error) {
	var row studentRow
	if err := repo.db.GetContext(ctx, &row, repo.db.Rebind(studentSelect+" WHERE "+col+" = ?"), val); err != nil {
		return student.Student{}, trapNoRowsErr(err, student.ErrNotFound, "finding student")
	}
	return row.toStudent(), nil
}

func (repo studentRepository) GetStudentByID(ctx context.Context, id string) (student.Student, error) {
	return repo.getStudent(ctx, "s.id", id)
}

func (repo studentRepository) GetStudentByStudentID(ctx context.Context, studentID string) (student.Student, error) {
	return repo.getStudent(ctx, "s.student_id", studentID)
}

func (repo studentRepository) StudentIDExists(ctx context.Context, studentID string, excludedIDs ...string) (bool, error) {
	var w where
	w.add("student_id = ?", studentID)
	w.in("id", excludedIDs, true)
	return exists(ctx, repo.db, "students", w)
}

func (repo studentRepository) EmailExists(ctx context.Context, email string, excludedIDs ...string) (bool, error) {
	var w where
	w.add("email = ?", email)
	w.in("id", excludedIDs, true)
	return exists(ctx, repo.db, "students", w)
}

func (repo studentRepository) UpdateStudent(ctx context.Context, std student.Student) (student.Student, error) {
	q := `UPDATE students SET name = :name, student_id = :student_id, email = :email, department = :department,
		year = :year, enrollment_date = :enrollment_date, updated_at = :updated_at WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, std)
	if err != nil {
		if isUniqueViolation(err) {
			return student.Student{}, core.NewValidationError(student.ErrStudentIDExists)
		}
		return student.Student{}, errors.Wrap(err, "updating student")
	}
	if err := checkAffected(res, student.ErrNotFound); err != nil {
		return student.Student{}, err
	}
	return repo.GetStudentByID(ctx, std.ID)
}

func (repo studentRepository) DeleteStudent(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind("DELETE FROM students WHERE id = ?"), id)
	if err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return checkAffected(res, student.ErrNotFound)
}

func (repo studentRepository) Enroll(ctx context.Context, e student.Enrollment) error {
	q := repo.db.Rebind("INSERT INTO enrollments (student_id, course_id, enrolled_at) VALUES (?, ?, ?)")
	if _, err := repo.db.ExecContext(ctx, q, e.StudentID, e.CourseID, e.EnrolledAt.UTC()); err != nil {
		if isUniqueViolation(err) {
			return student.ErrAlreadyEnrolled
		}
		return errors.Wrap(err, "enrolling student")
	}
	return nil
}

func (repo studentRepository) StudentCourses(ctx context.Context, studentID string) ([]course.Course, error) {
	q := repo.db.Rebind(`SELECT c.id, c.code, c.name, c.department, c.teacher_id, c.created_at, c.updated_at
		FROM courses c JOIN enrollments e ON e.course_id = c.id
		WHERE e.student_id = ? ORDER BY c.code`)
	courses := make([]course.Course, 0)
	if err := repo.db.SelectContext(ctx, &courses, q, studentID); err != nil {
		return nil, errors.Wrap(err, "listing student courses")
	}
	return courses, nil
}
