package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core/attendance"
	"github.com/trezcool/attendance/core/stats"
)

type statsRepository struct {
	db *sqlx.DB
}

var _ stats.Repository = (*statsRepository)(nil) // interface compliance check

func NewStatsRepository(db *sqlx.DB) *statsRepository {
	return &statsRepository{db: db}
}

func (repo statsRepository) CountStudents(ctx context.Context) (int, error) {
	var cnt int
	if err := repo.db.GetContext(ctx, &cnt, "SELECT COUNT(*) FROM students"); err != nil {
		return 0, errors.Wrap(err, "counting students")
	}
	return cnt, nil
}

func (repo statsRepository) CountUnverifiedRecords(ctx context.Context) (int, error) {
	var cnt int
	if err := repo.db.GetContext(ctx, &cnt, repo.db.Rebind("SELECT COUNT(*) FROM attendance_records WHERE verified = ?"), false); err != nil {
		return 0, errors.Wrap(err, "counting unverified records")
	}
	return cnt, nil
}

func (repo statsRepository) DailyCounts(ctx context.Context, from, to, courseID string) ([]stats.DailyStat, error) {
	w := where{args: []interface{}{attendance.StatusPresent, attendance.StatusAbsent, attendance.StatusPending}}
	w.add("date >= ?", from)
	w.add("date <= ?", to)
	if courseID != "" {
		w.add("course_id = ?", courseID)
	}

	q := `SELECT date,
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS present,
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS absent,
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
		COUNT(*) AS total
		FROM attendance_records` + w.String() + ` GROUP BY date ORDER BY date`
	days := make([]stats.DailyStat, 0)
	if err := repo.db.SelectContext(ctx, &days, repo.db.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "counting daily records")
	}
	return days, nil
}
