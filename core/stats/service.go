package stats

import (
	"context"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
)

const (
	recentCount  = 5
	maxRangeDays = 366
)

var (
	ErrInvalidRange = errors.New("date_from must not be after date_to")
	ErrRangeTooLong = errors.Errorf("date range must not span more than %d days", maxRangeDays)
)

type (
	// DailyStat counts the attendance records of one day.
	DailyStat struct {
		Date    string `json:"date" db:"date"`
		Present int    `json:"present" db:"present"`
		Absent  int    `json:"absent" db:"absent"`
		Pending int    `json:"pending" db:"pending"`
		Total   int    `json:"total" db:"total"`
		Rate    int    `json:"rate" db:"-"` // present / (present + absent), %
	}

	Dashboard struct {
		TotalStudents    int                 `json:"total_students"`
		TodayAttendance  int                 `json:"today_attendance"`
		PendingApproval  int                 `json:"pending_approval"`
		AttendanceRate   int                 `json:"attendance_rate"`
		RecentAttendance []attendance.Record `json:"recent_attendance"`
	}

	// Range selects the days covered by Daily. Empty dates default to the last 7 days.
	Range struct {
		DateFrom string `query:"date_from" json:"date_from" validate:"omitempty,isodate"`
		DateTo   string `query:"date_to" json:"date_to" validate:"omitempty,isodate"`
		CourseID string `query:"course_id" json:"course_id"`
	}

	Repository interface {
		CountStudents(ctx context.Context) (int, error)
		CountUnverifiedRecords(ctx context.Context) (int, error)
		// DailyCounts groups record counts by date, for dates within [from, to], ordered by date.
		DailyCounts(ctx context.Context, from, to, courseID string) ([]DailyStat, error)
	}

	RecentLister interface {
		Recent(ctx context.Context, n int) ([]attendance.Record, error)
	}

	Service struct {
		repo    Repository
		records RecentLister
		nowFunc func() time.Time // mockable
	}
)

func NewService(repo Repository, records RecentLister) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(records, "records"),
	).CheckAndPanic()

	return &Service{repo: repo, records: records, nowFunc: time.Now}
}

// SetNowFunc overrides the clock (tests).
func (svc *Service) SetNowFunc(f func() time.Time) {
	svc.nowFunc = f
}

func (svc *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	var (
		dash Dashboard
		err  error
	)
	if dash.TotalStudents, err = svc.repo.CountStudents(ctx); err != nil {
		return Dashboard{}, errors.Wrap(err, "counting students")
	}
	if dash.PendingApproval, err = svc.repo.CountUnverifiedRecords(ctx); err != nil {
		return Dashboard{}, errors.Wrap(err, "counting unverified records")
	}

	today := core.FormatDate(svc.nowFunc())
	days, err := svc.repo.DailyCounts(ctx, today, today, "")
	if err != nil {
		return Dashboard{}, errors.Wrap(err, "counting today's records")
	}
	if len(days) > 0 {
		dash.TodayAttendance = days[0].Present
		dash.AttendanceRate = core.CalculateAttendanceRate(days[0].Present, days[0].Present+days[0].Absent)
	}

	if dash.RecentAttendance, err = svc.records.Recent(ctx, recentCount); err != nil {
		return Dashboard{}, errors.Wrap(err, "listing recent records")
	}
	if dash.RecentAttendance == nil {
		dash.RecentAttendance = []attendance.Record{}
	}
	return dash, nil
}

// Daily returns the per-day counts of rng, one entry per day (days without records included).
func (svc *Service) Daily(ctx context.Context, rng Range) ([]DailyStat, error) {
	now := svc.nowFunc()
	if rng.DateTo == "" {
		rng.DateTo = core.FormatDate(now)
	}
	to, err := core.ParseDate(rng.DateTo)
	if err != nil {
		return nil, errors.Wrap(err, "parsing date_to")
	}
	if rng.DateFrom == "" {
		rng.DateFrom = core.FormatDate(to.AddDate(0, 0, -6))
	}
	from, err := core.ParseDate(rng.DateFrom)
	if err != nil {
		return nil, errors.Wrap(err, "parsing date_from")
	}
	if from.After(to) {
		return nil, core.NewValidationError(ErrInvalidRange, core.FieldError{Field: "date_from", Error: ErrInvalidRange.Error()})
	}
	if from.AddDate(0, 0, maxRangeDays).Before(to.AddDate(0, 0, 1)) {
		return nil, core.NewValidationError(ErrRangeTooLong, core.FieldError{Field: "date_from", Error: ErrRangeTooLong.Error()})
	}

	counts, err := svc.repo.DailyCounts(ctx, rng.DateFrom, rng.DateTo, rng.CourseID)
	if err != nil {
		return nil, errors.Wrap(err, "counting records")
	}
	byDate := make(map[string]DailyStat, len(counts))
	for _, c := range counts {
		byDate[c.Date] = c
	}

	var days []DailyStat
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		date := core.FormatDate(d)
		ds, ok := byDate[date]
		if !ok {
			ds = DailyStat{Date: date}
		}
		ds.Rate = core.CalculateAttendanceRate(ds.Present, ds.Present+ds.Absent)
		days = append(days, ds)
	}
	return days, nil
}
