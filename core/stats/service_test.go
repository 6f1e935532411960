package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
)

type fakeRepo struct {
	students   int
	unverified int
	days       []DailyStat
}

func (r fakeRepo) CountStudents(context.Context) (int, error)          { return r.students, nil }
func (r fakeRepo) CountUnverifiedRecords(context.Context) (int, error) { return r.unverified, nil }

func (r fakeRepo) DailyCounts(_ context.Context, from, to, _ string) ([]DailyStat, error) {
	var days []DailyStat
	for _, d := range r.days {
		if d.Date >= from && d.Date <= to {
			days = append(days, d)
		}
	}
	return days, nil
}

type fakeRecent []attendance.Record

func (f fakeRecent) Recent(_ context.Context, n int) ([]attendance.Record, error) {
	if len(f) > n {
		return f[:n], nil
	}
	return f, nil
}

var testNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.Local)

func TestService_Dashboard(t *testing.T) {
	repo := fakeRepo{
		students:   8,
		unverified: 3,
		days: []DailyStat{
			{Date: "2026-03-03", Present: 2, Absent: 2, Total: 4},
			{Date: "2026-03-04", Present: 5, Absent: 2, Pending: 1, Total: 8},
		},
	}
	recent := make(fakeRecent, 7)
	svc := NewService(&repo, recent)
	svc.SetNowFunc(func() time.Time { return testNow })

	dash, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, dash.TotalStudents)
	assert.Equal(t, 5, dash.TodayAttendance)
	assert.Equal(t, 3, dash.PendingApproval)
	assert.Equal(t, 71, dash.AttendanceRate) // 5/7
	assert.Len(t, dash.RecentAttendance, 5)
}

func TestService_Dashboard_Empty(t *testing.T) {
	svc := NewService(&fakeRepo{}, fakeRecent{})
	dash, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dash.AttendanceRate)
	assert.NotNil(t, dash.RecentAttendance)
}

func TestService_Daily(t *testing.T) {
	repo := fakeRepo{days: []DailyStat{
		{Date: "2026-02-26", Present: 1, Total: 1},
		{Date: "2026-03-02", Present: 3, Absent: 1, Total: 4},
	}}
	svc := NewService(&repo, fakeRecent{})
	svc.SetNowFunc(func() time.Time { return testNow })
	ctx := context.Background()

	days, err := svc.Daily(ctx, Range{})
	require.NoError(t, err)
	require.Len(t, days, 7)
	assert.Equal(t, "2026-02-26", days[0].Date)
	assert.Equal(t, 100, days[0].Rate)
	assert.Equal(t, DailyStat{Date: "2026-03-02", Present: 3, Absent: 1, Total: 4, Rate: 75}, days[4])
	assert.Equal(t, DailyStat{Date: "2026-03-04"}, days[6])

	days, err = svc.Daily(ctx, Range{DateFrom: "2026-03-01", DateTo: "2026-03-02"})
	require.NoError(t, err)
	assert.Len(t, days, 2)

	_, err = svc.Daily(ctx, Range{DateFrom: "2026-03-05", DateTo: "2026-03-02"})
	require.Error(t, err)
	assert.IsType(t, &core.ValidationError{}, err)

	days, err = svc.Daily(ctx, Range{DateFrom: "2025-03-04", DateTo: "2026-03-04"})
	require.NoError(t, err)
	assert.Len(t, days, maxRangeDays)

	_, err = svc.Daily(ctx, Range{DateFrom: "2000-01-01", DateTo: "2026-03-04"})
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, ErrRangeTooLong, vErr.Err)
	assert.Equal(t, "date_from", vErr.Fields[0].Field)
}
