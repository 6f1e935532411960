package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
	"github.com/trezcool/attendance/core/course"
	"github.com/trezcool/attendance/core/device"
	"github.com/trezcool/attendance/core/settings"
	"github.com/trezcool/attendance/core/student"
	"github.com/trezcool/attendance/core/user"
	sqlxrepos "github.com/trezcool/attendance/storage/database/sqlx"
	testutil "github.com/trezcool/attendance/tests"
)

var ctx = context.Background()

func TestUserRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewUserRepository(db)

	admin := testutil.CreateUser(t, repo, "Abebe Kebede", "abebe@astu.edu.et", "Pa$$w0rd!", user.RoleAdmin, true)
	testutil.CreateUser(t, repo, "Sara Tesfaye", "sara@astu.edu.et", "Pa$$w0rd!", user.RoleTeacher, true)
	testutil.CreateUser(t, repo, "Old Teacher", "old@astu.edu.et", "Pa$$w0rd!", user.RoleTeacher, false)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := repo.CreateUser(ctx, user.User{ID: "dup", Email: admin.Email, Role: user.RoleTeacher})
		require.Error(t, err)
	})

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetUserByEmail(ctx, admin.Email)
		require.NoError(t, err)
		assert.Equal(t, admin.ID, got.ID)

		_, err = repo.GetUserByID(ctx, "missing")
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("query", func(t *testing.T) {
		active := true
		users, err := repo.QueryUsers(ctx, user.QueryFilter{Roles: []string{user.RoleTeacher}, IsActive: &active}, nil)
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "sara@astu.edu.et", users[0].Email)

		users, err = repo.QueryUsers(ctx, user.QueryFilter{Search: "TEACHER"}, []core.DBOrdering{{Field: "name", Ascending: true}})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "Old Teacher", users[0].Name)
	})

	t.Run("email exists", func(t *testing.T) {
		exists, err := repo.EmailExists(ctx, admin.Email)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.EmailExists(ctx, admin.Email, admin.ID)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("revoked tokens", func(t *testing.T) {
		require.NoError(t, repo.RevokeToken(ctx, "jti-1", time.Now().Add(-time.Hour)))
		require.NoError(t, repo.RevokeToken(ctx, "jti-2", time.Now().Add(time.Hour)))
		require.NoError(t, repo.RevokeToken(ctx, "jti-2", time.Now().Add(time.Hour))) // idempotent

		revoked, err := repo.IsTokenRevoked(ctx, "jti-1")
		require.NoError(t, err)
		assert.True(t, revoked)

		n, err := repo.PurgeRevokedTokens(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		revoked, err = repo.IsTokenRevoked(ctx, "jti-1")
		require.NoError(t, err)
		assert.False(t, revoked)
	})
}

func TestStudentRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewStudentRepository(db)
	courses := sqlxrepos.NewCourseRepository(db)
	records := sqlxrepos.NewAttendanceRepository(db)

	abel := testutil.CreateStudent(t, repo, "Abel Girma", "ASTU/1001/20", "abel@astu.edu.et", "Software", 3)
	hana := testutil.CreateStudent(t, repo, "Hana Bekele", "ASTU/1002/20", "hana@astu.edu.et", "Electrical", 2)
	crs := testutil.CreateCourse(t, courses, "SE301", "Software Architecture", "Software", nil)

	t.Run("unique student ID", func(t *testing.T) {
		exists, err := repo.StudentIDExists(ctx, abel.StudentID)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.EmailExists(ctx, "hana@astu.edu.et", abel.ID)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("enroll", func(t *testing.T) {
		require.NoError(t, repo.Enroll(ctx, student.Enrollment{StudentID: abel.ID, CourseID: crs.ID, EnrolledAt: time.Now().UTC()}))
		err := repo.Enroll(ctx, student.Enrollment{StudentID: abel.ID, CourseID: crs.ID, EnrolledAt: time.Now().UTC()})
		assert.Equal(t, student.ErrAlreadyEnrolled, err)

		list, err := repo.StudentCourses(ctx, abel.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "SE301", list[0].Code)

		enrolled, err := repo.QueryStudents(ctx, student.QueryFilter{CourseID: crs.ID}, nil)
		require.NoError(t, err)
		require.Len(t, enrolled, 1)
		assert.Equal(t, abel.ID, enrolled[0].ID)
	})

	t.Run("attendance rate", func(t *testing.T) {
		testutil.CreateRecord(t, records, abel, "2026-03-01", "08:00:00", attendance.StatusPresent, true)
		testutil.CreateRecord(t, records, abel, "2026-03-02", "08:00:00", attendance.StatusPresent, true)
		testutil.CreateRecord(t, records, abel, "2026-03-03", "", attendance.StatusAbsent, true)
		testutil.CreateRecord(t, records, abel, "2026-03-04", "08:10:00", attendance.StatusPending, false)

		got, err := repo.GetStudentByID(ctx, abel.ID)
		require.NoError(t, err)
		assert.Equal(t, 67, got.AttendanceRate)

		got, err = repo.GetStudentByStudentID(ctx, hana.StudentID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.AttendanceRate)
	})

	t.Run("search", func(t *testing.T) {
		found, err := repo.QueryStudents(ctx, student.QueryFilter{Search: "electrical"}, nil)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, hana.ID, found[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.DeleteStudent(ctx, hana.ID))
		assert.Equal(t, student.ErrNotFound, repo.DeleteStudent(ctx, hana.ID))
	})
}

func TestAttendanceRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	students := sqlxrepos.NewStudentRepository(db)
	courses := sqlxrepos.NewCourseRepository(db)
	repo := sqlxrepos.NewAttendanceRepository(db)

	abel := testutil.CreateStudent(t, students, "Abel Girma", "ASTU/1001/20", "abel@astu.edu.et", "Software", 3)
	hana := testutil.CreateStudent(t, students, "Hana Bekele", "ASTU/1002/20", "hana@astu.edu.et", "Electrical", 2)
	crs := testutil.CreateCourse(t, courses, "SE301", "Software Architecture", "Software", nil)

	r1 := testutil.CreateRecord(t, repo, abel, "2026-03-01", "08:00:00", attendance.StatusPresent, true)
	testutil.CreateRecord(t, repo, hana, "2026-03-01", "", attendance.StatusAbsent, false)
	r3 := testutil.CreateRecord(t, repo, abel, "2026-03-02", "08:20:00", attendance.StatusPending, false)

	t.Run("one record per student, date & course", func(t *testing.T) {
		dup := r1
		dup.ID = "another"
		_, err := repo.CreateRecord(ctx, dup)
		assert.Equal(t, attendance.ErrAlreadyRecorded, err)

		dup.CourseID = crs.ID
		_, err = repo.CreateRecord(ctx, dup)
		require.NoError(t, err)

		got, err := repo.GetRecordByID(ctx, "another")
		require.NoError(t, err)
		assert.Equal(t, "Software Architecture", got.CourseName)
		assert.Equal(t, abel.StudentID, got.StudentNumber)
	})

	tests := []struct {
		name   string
		filter attendance.QueryFilter
		want   int
	}{
		{"all", attendance.QueryFilter{}, 4},
		{"by date", attendance.QueryFilter{Date: "2026-03-01"}, 3},
		{"by status", attendance.QueryFilter{Status: attendance.StatusAbsent}, 1},
		{"unverified", attendance.QueryFilter{Filter: attendance.FilterPending}, 2},
		{"by range", attendance.QueryFilter{DateFrom: "2026-03-02", DateTo: "2026-03-31"}, 1},
		{"by course", attendance.QueryFilter{CourseID: crs.ID}, 1},
		{"search student ID", attendance.QueryFilter{Search: "astu/1002"}, 1},
		{"search course", attendance.QueryFilter{Search: "architecture"}, 1},
		{"limit", attendance.QueryFilter{Limit: 2}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.filter.Clean()
			recs, err := repo.QueryRecords(ctx, tc.filter, nil)
			require.NoError(t, err)
			assert.Len(t, recs, tc.want)
		})
	}

	t.Run("ordering", func(t *testing.T) {
		recs, err := repo.QueryRecords(ctx, attendance.QueryFilter{}, core.ParseOrdering("-date,student_name"))
		require.NoError(t, err)
		require.NotEmpty(t, recs)
		assert.Equal(t, "2026-03-02", recs[0].Date)
	})

	t.Run("course with records", func(t *testing.T) {
		assert.Equal(t, course.ErrHasRecords, courses.DeleteCourse(ctx, crs.ID))
		_, err := courses.GetCourseByID(ctx, crs.ID)
		require.NoError(t, err)

		spare := testutil.CreateCourse(t, courses, "SE302", "Software Testing", "Software", nil)
		require.NoError(t, courses.DeleteCourse(ctx, spare.ID))
		assert.Equal(t, course.ErrNotFound, courses.DeleteCourse(ctx, spare.ID))
	})

	t.Run("verify", func(t *testing.T) {
		rec := r3
		rec.Status = attendance.StatusAbsent
		rec.ArrivalTime = null.String{}
		rec.Verified = true
		rec.VerifiedAt = null.TimeFrom(time.Now().UTC())
		_, err := repo.VerifyRecord(ctx, rec)
		require.NoError(t, err)

		got, err := repo.GetRecordByID(ctx, r3.ID)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusAbsent, got.Status)
		assert.False(t, got.ArrivalTime.Valid)
		assert.True(t, got.Verified)

		// a decision based on the unverified copy loses
		stale := r3
		stale.Status = attendance.StatusPresent
		stale.Verified = true
		_, err = repo.VerifyRecord(ctx, stale)
		assert.Equal(t, attendance.ErrAlreadyVerified, err)
		got, err = repo.GetRecordByID(ctx, r3.ID)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusAbsent, got.Status)

		_, err = repo.VerifyRecord(ctx, r1)
		assert.Equal(t, attendance.ErrAlreadyVerified, err, "r1 was created verified")

		rec.ID = "missing"
		_, err = repo.VerifyRecord(ctx, rec)
		assert.Equal(t, attendance.ErrNotFound, err)
	})

	t.Run("delete before", func(t *testing.T) {
		n, err := repo.DeleteRecordsBefore(ctx, "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		recs, err := repo.QueryRecords(ctx, attendance.QueryFilter{}, nil)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})
}

func TestDeviceRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewDeviceRepository(db)

	cam := testutil.CreateDevice(t, repo, "Main Entrance Camera", "dk_1", device.StatusOnline)
	gate := testutil.CreateDevice(t, repo, "Library Gate", "dk_2", device.StatusOnline)
	sensor := testutil.CreateDevice(t, repo, "Lab Sensor", "dk_3", device.StatusOffline)

	t.Run("name is unique", func(t *testing.T) {
		dup := cam
		dup.ID, dup.APIKey = "other", "dk_4"
		_, err := repo.CreateDevice(ctx, dup)
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "name", vErr.Fields[0].Field)

		exists, err := repo.NameExists(ctx, "main entrance camera ")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("by api key", func(t *testing.T) {
		got, err := repo.GetDeviceByAPIKey(ctx, "dk_2")
		require.NoError(t, err)
		assert.Equal(t, gate.ID, got.ID)

		_, err = repo.GetDeviceByAPIKey(ctx, "nope")
		assert.Equal(t, device.ErrNotFound, err)
	})

	t.Run("query", func(t *testing.T) {
		devs, err := repo.QueryDevices(ctx, device.QueryFilter{Status: device.StatusOnline}, core.ParseOrdering("name"))
		require.NoError(t, err)
		require.Len(t, devs, 2)
		assert.Equal(t, "Library Gate", devs[0].Name)
	})

	t.Run("queue command", func(t *testing.T) {
		now := time.Now().UTC()
		assert.Equal(t, device.ErrDeviceOffline, repo.QueueCommand(ctx, sensor.ID, device.CommandRestart, now))
		assert.Equal(t, device.ErrNotFound, repo.QueueCommand(ctx, "missing", device.CommandRestart, now))
		require.NoError(t, repo.QueueCommand(ctx, cam.ID, device.CommandRestart, now))
	})

	t.Run("update keeps key and command", func(t *testing.T) {
		stale := cam
		require.NoError(t, repo.SetAPIKey(ctx, cam.ID, "dk_9", time.Now().UTC()))
		assert.Equal(t, device.ErrNotFound, repo.SetAPIKey(ctx, "missing", "dk_10", time.Now().UTC()))

		stale.Location = "Main Hall"
		_, err := repo.UpdateDevice(ctx, stale)
		require.NoError(t, err)

		got, err := repo.GetDeviceByID(ctx, cam.ID)
		require.NoError(t, err)
		assert.Equal(t, "Main Hall", got.Location)
		assert.Equal(t, "dk_9", got.APIKey)
		assert.Equal(t, device.CommandRestart, got.PendingCommand.String)
	})

	t.Run("heartbeat", func(t *testing.T) {
		res, err := repo.RecordHeartbeat(ctx, cam.ID, device.Telemetry{CPUUsage: 35, UptimeSeconds: 7200, CapturesToday: 12}, time.Now().UTC())
		require.NoError(t, err)
		assert.True(t, res.WasOnline)
		assert.Equal(t, device.CommandRestart, res.Command)
		assert.False(t, res.Device.PendingCommand.Valid)

		got, err := repo.GetDeviceByID(ctx, cam.ID)
		require.NoError(t, err)
		assert.Equal(t, 35.0, got.CPUUsage)
		assert.Equal(t, "dk_9", got.APIKey)
		assert.False(t, got.PendingCommand.Valid)

		res, err = repo.RecordHeartbeat(ctx, cam.ID, device.Telemetry{UptimeSeconds: 7200, CapturesToday: 12}, time.Now().UTC())
		require.NoError(t, err)
		assert.Empty(t, res.Command, "commands are handed over once")

		_, err = repo.RecordHeartbeat(ctx, "missing", device.Telemetry{}, time.Now().UTC())
		assert.Equal(t, device.ErrNotFound, err)
	})

	t.Run("mark offline", func(t *testing.T) {
		_, err := repo.RecordHeartbeat(ctx, gate.ID, device.Telemetry{}, time.Now().UTC().Add(-10*time.Minute))
		require.NoError(t, err)

		stale, err := repo.MarkOffline(ctx, time.Now().Add(-2*time.Minute), time.Now())
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, gate.ID, stale[0].ID)
		assert.Equal(t, device.StatusOffline, stale[0].Status)

		got, err := repo.GetDeviceByID(ctx, gate.ID)
		require.NoError(t, err)
		assert.Equal(t, device.StatusOffline, got.Status)

		stale, err = repo.MarkOffline(ctx, time.Now().Add(-2*time.Minute), time.Now())
		require.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("summary", func(t *testing.T) {
		sum, avg, err := repo.DeviceSummary(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, sum.Total)
		assert.Equal(t, 1, sum.Online)
		assert.Equal(t, 2, sum.Offline)
		assert.Equal(t, 12, sum.CapturesToday)
		assert.Equal(t, int64(2400), avg)
	})

	t.Run("metrics", func(t *testing.T) {
		now := time.Now().UTC()
		require.NoError(t, repo.AddMetricSample(ctx, device.MetricSample{DeviceID: cam.ID, CPUUsage: 40, RecordedAt: now.Add(-2 * time.Hour)}))
		require.NoError(t, repo.AddMetricSample(ctx, device.MetricSample{DeviceID: cam.ID, CPUUsage: 55, RecordedAt: now}))

		samples, err := repo.QueryMetrics(ctx, cam.ID, now.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, samples, 1)
		assert.Equal(t, 55.0, samples[0].CPUUsage)

		n, err := repo.DeleteMetricsBefore(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestSettingsRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	users := sqlxrepos.NewUserRepository(db)
	repo := sqlxrepos.NewSettingsRepository(db)

	usr := testutil.CreateUser(t, users, "Abebe Kebede", "abebe@astu.edu.et", "Pa$$w0rd!", user.RoleAdmin, true)

	_, err := repo.GetUserSettings(ctx, usr.ID)
	assert.True(t, core.IsNotFound(err))

	us := settings.DefaultUserSettings(usr.ID)
	us.Theme = settings.ThemeDark
	_, err = repo.SaveUserSettings(ctx, us)
	require.NoError(t, err)
	us.Language = settings.LanguageAmharic
	_, err = repo.SaveUserSettings(ctx, us)
	require.NoError(t, err)

	got, err := repo.GetUserSettings(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, settings.ThemeDark, got.Theme)
	assert.Equal(t, settings.LanguageAmharic, got.Language)

	var ds device.Settings
	found, err := repo.GetSystemValue(ctx, "device_settings", &ds)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.SetSystemValue(ctx, "device_settings", device.DefaultSettings()))
	want := device.DefaultSettings()
	want.CaptureInterval = 10
	require.NoError(t, repo.SetSystemValue(ctx, "device_settings", want))

	found, err = repo.GetSystemValue(ctx, "device_settings", &ds)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, ds)
}

func TestStatsRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	students := sqlxrepos.NewStudentRepository(db)
	records := sqlxrepos.NewAttendanceRepository(db)
	repo := sqlxrepos.NewStatsRepository(db)

	abel := testutil.CreateStudent(t, students, "Abel Girma", "ASTU/1001/20", "abel@astu.edu.et", "Software", 3)
	hana := testutil.CreateStudent(t, students, "Hana Bekele", "ASTU/1002/20", "hana@astu.edu.et", "Electrical", 2)
	testutil.CreateRecord(t, records, abel, "2026-03-01", "08:00:00", attendance.StatusPresent, true)
	testutil.CreateRecord(t, records, hana, "2026-03-01", "", attendance.StatusAbsent, true)
	testutil.CreateRecord(t, records, abel, "2026-03-02", "08:05:00", attendance.StatusPending, false)
	testutil.CreateRecord(t, records, abel, "2026-02-20", "08:05:00", attendance.StatusPresent, true)

	cnt, err := repo.CountStudents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cnt)

	cnt, err = repo.CountUnverifiedRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cnt)

	days, err := repo.DailyCounts(ctx, "2026-03-01", "2026-03-07", "")
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-03-01", days[0].Date)
	assert.Equal(t, 1, days[0].Present)
	assert.Equal(t, 1, days[0].Absent)
	assert.Equal(t, 2, days[0].Total)
	assert.Equal(t, 1, days[1].Pending)
}
