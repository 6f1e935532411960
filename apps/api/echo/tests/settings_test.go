package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/attendance/apps/api/echo"
	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
	"github.com/trezcool/attendance/core/settings"
	"github.com/trezcool/attendance/core/stats"
	"github.com/trezcool/attendance/core/user"
	"github.com/trezcool/attendance/tests"
)

func Test_settingsApi_user(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@astu.edu", pwd, user.RoleTeacher, true)
	token := getToken(t, teacher)

	runTests(t, app, []httpTest{
		{name: "defaults", path: "/api/settings", token: token, wantData: marchallObj(t, settings.DefaultUserSettings(teacher.ID))},
		{
			name: "invalid", method: http.MethodPut, path: "/api/settings", token: token, wantCode: http.StatusBadRequest,
			body:     []byte(`{"theme":"neon","language":"fr"}`),
			wantData: marchallObj(t, map[string]string{"theme": "theme must be one of [light dark system]", "language": "language must be one of [en am]"}),
		},
	})

	req, rec := newAuthRequest(http.MethodPut, "/api/settings", token,
		[]byte(`{"notifications":false,"email_alerts":false,"weekly_reports":true,"theme":"Dark","language":"am"}`))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req, rec = newAuthRequest(http.MethodGet, "/api/settings", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var us settings.UserSettings
	unmarshal(t, rec, &us)
	assert.False(t, us.Notifications)
	assert.False(t, us.EmailAlerts)
	assert.True(t, us.WeeklyReports)
	assert.Equal(t, settings.ThemeDark, us.Theme)
	assert.Equal(t, settings.LanguageAmharic, us.Language)

	t.Run("email alerts off", func(t *testing.T) {
		abel := testutil.CreateStudent(t, stdRepo, "Abel Kebede", "UGR/1001/20", "abel@astu.edu", "Software Engineering", 3)
		req, rec := newAuthRequest(http.MethodPost, "/api/attendance/mark-absent", token, marchallObj(t, attendance.NewAbsence{StudentID: abel.ID}))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Empty(t, mailSvc.SentMessages())
	})
}

func Test_settingsApi_changePassword(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@astu.edu", pwd, user.RoleTeacher, true)
	token := getToken(t, teacher)
	newPwd := "N3w!Secret#"

	change := func(current, pwd, confirm string) []byte {
		return marchallObj(t, user.ChangePassword{CurrentPassword: current, Password: pwd, PasswordConfirm: confirm})
	}

	runTests(t, app, []httpTest{
		{
			name: "wrong current", method: http.MethodPut, path: "/api/settings/password", token: token,
			body: change("nope", newPwd, newPwd), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"current_password": user.ErrInvalidPwd.Error()}),
		},
		{
			name: "too short", method: http.MethodPut, path: "/api/settings/password", token: token,
			body: change(pwd, "Ab1!", "Ab1!"), wantCode: http.StatusBadRequest,
		},
		{
			name: "mismatch", method: http.MethodPut, path: "/api/settings/password", token: token,
			body: change(pwd, newPwd, newPwd+"x"), wantCode: http.StatusBadRequest,
		},
		{
			name: "changed", method: http.MethodPut, path: "/api/settings/password", token: token,
			body:     change(pwd, newPwd, newPwd),
			wantData: marchallObj(t, SuccessResponse{Success: "Password has been changed."}),
		},
		{
			name: "old password", method: http.MethodPost, path: "/api/auth/login", wantCode: http.StatusBadRequest,
			body: marchallObj(t, LoginRequest{Email: teacher.Email, Password: pwd}),
		},
		{
			name: "new password", method: http.MethodPost, path: "/api/auth/login",
			body: marchallObj(t, LoginRequest{Email: teacher.Email, Password: newPwd}),
		},
	})
}

func Test_settingsApi_system(t *testing.T) {
	app := setup(t)

	adminToken := getToken(t, testutil.CreateUser(t, usrRepo, "Admin", "admin@astu.edu", pwd, user.RoleAdmin, true))
	teacherToken := getToken(t, testutil.CreateUser(t, usrRepo, "Teacher", "teacher@astu.edu", pwd, user.RoleTeacher, true))

	want := settings.SystemSettings{RetentionDays: conf.Attendance.RetentionDays}
	saved := settings.SystemSettings{AutoDeleteRecords: true, RetentionDays: conf.Attendance.RetentionDays}

	runTests(t, app, []httpTest{
		{name: "admin only", path: "/api/settings/system", token: teacherToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "defaults", path: "/api/settings/system", token: adminToken, wantData: marchallObj(t, want)},
		{
			name: "save (retention is read-only)", method: http.MethodPut, path: "/api/settings/system", token: adminToken,
			body: []byte(`{"auto_delete_records":true,"retention_days":1}`), wantData: marchallObj(t, saved),
		},
		{name: "saved", path: "/api/settings/system", token: adminToken, wantData: marchallObj(t, saved)},
	})
}

func Test_statsApi(t *testing.T) {
	app := setup(t)

	token := getToken(t, testutil.CreateUser(t, usrRepo, "Teacher", "teacher@astu.edu", pwd, user.RoleTeacher, true))
	abel := testutil.CreateStudent(t, stdRepo, "Abel Kebede", "UGR/1001/20", "abel@astu.edu", "Software Engineering", 3)
	bethel := testutil.CreateStudent(t, stdRepo, "Bethel Alemu", "UGR/1002/21", "bethel@astu.edu", "Electrical Engineering", 2)
	chala := testutil.CreateStudent(t, stdRepo, "Chala Bekele", "PGR/0450/22", "chala@astu.edu", "Software Engineering", 1)

	today := core.FormatDate(time.Now())
	testutil.CreateRecord(t, recRepo, abel, today, "08:00:00", attendance.StatusPresent, true)
	testutil.CreateRecord(t, recRepo, bethel, today, "08:30:00", attendance.StatusPresent, true)
	testutil.CreateRecord(t, recRepo, chala, today, "", attendance.StatusAbsent, true)
	testutil.CreateRecord(t, recRepo, abel, "2026-03-02", "09:10:00", attendance.StatusPending, false)

	t.Run("dashboard", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/stats/dashboard", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var dash stats.Dashboard
		unmarshal(t, rec, &dash)
		assert.Equal(t, 3, dash.TotalStudents)
		assert.Equal(t, 2, dash.TodayAttendance)
		assert.Equal(t, 1, dash.PendingApproval)
		assert.Equal(t, 67, dash.AttendanceRate)
		assert.Len(t, dash.RecentAttendance, 4)
	})

	runTests(t, app, []httpTest{
		{
			name: "daily", path: "/api/stats/attendance?date_from=2026-03-01&date_to=2026-03-03", token: token,
			wantData: marchallObj(t, []stats.DailyStat{
				{Date: "2026-03-01"},
				{Date: "2026-03-02", Pending: 1, Total: 1},
				{Date: "2026-03-03"},
			}),
		},
		{
			name: "inverted range", path: "/api/stats/attendance?date_from=2026-03-05&date_to=2026-03-01", token: token,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"date_from": stats.ErrInvalidRange.Error()}),
		},
		{
			name: "bad date", path: "/api/stats/attendance?date_to=03/01/2026", token: token,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"date_to": "date must be in the YYYY-MM-DD format"}),
		},
	})

	t.Run("last 7 days by default", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/stats/attendance", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var days []stats.DailyStat
		unmarshal(t, rec, &days)
		require.Len(t, days, 7)
		last := days[6]
		assert.Equal(t, today, last.Date)
		assert.Equal(t, stats.DailyStat{Date: today, Present: 2, Absent: 1, Total: 3, Rate: 67}, last)
	})
}
