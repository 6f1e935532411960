package sqlxrepos

import (
	"context"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
)

const recordSelect = `SELECT r.id, r.student_id, s.name AS student_name, s.student_id AS student_number,
	r.course_id, COALESCE(c.name, '') AS course_name, r.date, r.arrival_time, r.status, r.verified,
	r.has_permission, r.permission_status, r.reason, r.source, r.device_id, r.recorded_by, r.verified_by,
	r.verified_at, r.created_at, r.updated_at
	FROM attendance_records r
	JOIN students s ON s.id = r.student_id
	LEFT JOIN courses c ON c.id = r.course_id`

var recordOrderings = map[string]string{
	"date":         "r.date",
	"arrival_time": "r.arrival_time",
	"status":       "r.status",
	"verified":     "r.verified",
	"student_name": "s.name",
	"student_id":   "s.student_id",
	"course":       "c.name",
	"created_at":   "r.created_at",
}

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sqlx.DB) *attendanceRepository {
	return &attendanceRepository{db: db}
}

func (repo attendanceRepository) CreateRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	q := `INSERT INTO attendance_records (id, student_id, course_id, date, arrival_time, status, verified, has_permission,
		permission_status, reason, source, device_id, recorded_by, verified_by, verified_at, created_at, updated_at)
		VALUES (:id, :student_id, :course_id, :date, :arrival_time, :status, :verified, :has_permission,
		:permission_status, :reason, :source, :device_id, :recorded_by, :verified_by, :verified_at, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, rec); err != nil {
		if isUniqueViolation(err) {
			return attendance.Record{}, attendance.ErrAlreadyRecorded
		}
		return attendance.Record{}, errors.Wrap(err, "inserting attendance record")
	}
	return rec, nil
}

func (repo attendanceRepository) QueryRecords(ctx context.Context, filter attendance.QueryFilter, orderings []core.DBOrdering) ([]attendance.Record, error) {
	var w where
	w.search(filter.Search, "s.name", "s.student_id", "COALESCE(c.name, '')")
	if filter.Status != "" {
		w.add("r.status = ?", filter.Status)
	}
	if filter.Verified != nil {
		w.add("r.verified = ?", *filter.Verified)
	}
	if filter.Date != "" {
		w.add("r.date = ?", filter.Date)
	}
	if filter.DateFrom != "" {
		w.add("r.date >= ?", filter.DateFrom)
	}
	if filter.DateTo != "" {
		w.add("r.date <= ?", filter.DateTo)
	}
	if filter.StudentID != "" {
		w.add("r.student_id = ?", filter.StudentID)
	}
	if filter.CourseID != "" {
		w.add("r.course_id = ?", filter.CourseID)
	}

	q := recordSelect + w.String() + orderBy(orderings, recordOrderings)
	if filter.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	records := make([]attendance.Record, 0)
	if err := repo.db.SelectContext(ctx, &records, repo.db.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying attendance records")
	}
	return records, nil
}

func (repo attendanceRepository) GetRecordByID(ctx context.Context, id string) (attendance.Record, error) {
	var rec attendance.Record
	if err := repo.db.GetContext(ctx, &rec, repo.db.Rebind(recordSelect+" WHERE r.id = ?"), id); err != nil {
		return attendance.Record{}, trapNoRowsErr(err, attendance.ErrNotFound, "finding attendance record by ID")
	}
	return rec, nil
}

func (repo attendanceRepository) VerifyRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	q := `UPDATE attendance_records SET arrival_time = :arrival_time, status = :status, verified = :verified,
		has_permission = :has_permission, permission_status = :permission_status, reason = :reason,
		verified_by = :verified_by, verified_at = :verified_at, updated_at = :updated_at
		WHERE id = :id AND verified = FALSE`
	res, err := repo.db.NamedExecContext(ctx, q, rec)
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "verifying attendance record")
	}
	if err := checkAffected(res, attendance.ErrAlreadyVerified); err != nil {
		// either reviewed concurrently or gone
		if _, err := repo.GetRecordByID(ctx, rec.ID); err != nil {
			return attendance.Record{}, err
		}
		return attendance.Record{}, attendance.ErrAlreadyVerified
	}
	return rec, nil
}

func (repo attendanceRepository) DeleteRecord(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind("DELETE FROM attendance_records WHERE id = ?"), id)
	if err != nil {
		return errors.Wrap(err, "deleting attendance record")
	}
	return checkAffected(res, attendance.ErrNotFound)
}

func (repo attendanceRepository) DeleteRecordsBefore(ctx context.Context, date string) (int64, error) {
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind("DELETE FROM attendance_records WHERE date < ?"), date)
	if err != nil {
		return 0, errors.Wrap(err, "deleting old attendance records")
	}
	return res.RowsAffected()
}
