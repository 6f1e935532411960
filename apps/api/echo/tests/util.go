package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/attendance/apps/api/echo"
	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
	"github.com/trezcool/attendance/core/course"
	"github.com/trezcool/attendance/core/device"
	"github.com/trezcool/attendance/core/settings"
	"github.com/trezcool/attendance/core/stats"
	"github.com/trezcool/attendance/core/student"
	"github.com/trezcool/attendance/core/user"
	emailsvc "github.com/trezcool/attendance/services/email"
	livesvc "github.com/trezcool/attendance/services/live"
	logsvc "github.com/trezcool/attendance/services/logger"
	metricsvc "github.com/trezcool/attendance/services/metrics"
	sqlxrepos "github.com/trezcool/attendance/storage/database/sqlx"
	"github.com/trezcool/attendance/tests"
)

var (
	conf    *core.Config
	usrRepo user.Repository
	stdRepo student.Repository
	crsRepo course.Repository
	recRepo attendance.Repository
	devRepo device.Repository
	mailSvc *emailsvc.ConsoleServiceMock
	hub     *livesvc.Hub

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errInvalidToken = httpErr{Error: "invalid or expired jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

// setup wires a Server over a fresh in-memory database.
func setup(t *testing.T) *Server {
	conf = core.NewTestConfig()

	// set up DB & repos
	db := testutil.PrepareDB(t)
	usrRepo = sqlxrepos.NewUserRepository(db)
	stdRepo = sqlxrepos.NewStudentRepository(db)
	crsRepo = sqlxrepos.NewCourseRepository(db)
	recRepo = sqlxrepos.NewAttendanceRepository(db)
	devRepo = sqlxrepos.NewDeviceRepository(db)
	setRepo := sqlxrepos.NewSettingsRepository(db)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	student.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)
	device.InitValidators(validate, translator)

	// set up services
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "API : ", log.LstdFlags), conf)
	mailSvc = emailsvc.NewConsoleServiceMock(conf)
	hub = livesvc.NewHub(logger, conf.Server.AllowedOrigins)
	t.Cleanup(hub.Close)
	metrics := metricsvc.New()
	events := metricsvc.NewPublisher(metrics, hub)

	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	crsSvc := course.NewService(crsRepo, usrSvc)
	stdSvc := student.NewService(stdRepo, crsSvc)
	setSvc := settings.NewService(setRepo, conf)
	attSvc := attendance.NewService(attendance.Deps{
		Repo:     recRepo,
		Students: stdSvc,
		Courses:  crsSvc,
		Prefs:    setSvc,
		MailSvc:  mailSvc,
		Events:   events,
		Logger:   logger,
	}, conf)
	devSvc := device.NewService(devRepo, setRepo, usrSvc, mailSvc, events, conf)

	// set up server
	return NewServer(
		"",  /* addr */
		nil, /* shutdown */
		&Deps{
			Conf:           conf,
			Logger:         logger,
			Validate:       validate,
			Translator:     translator,
			UserSvc:        usrSvc,
			StudentSvc:     stdSvc,
			CourseSvc:      crsSvc,
			AttendanceSvc:  attSvc,
			DeviceSvc:      devSvc,
			StatsSvc:       stats.NewService(sqlxrepos.NewStatsRepository(db), attSvc),
			SettingsSvc:    setSvc,
			Hub:            hub,
			Metrics:        metrics,
			DisableReqLogs: true,
		},
	)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	token, err := GenerateToken(GetUserClaims(usr, conf), conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

// unmarshal decodes the response body into v.
func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal(): %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// runTests serves every httpTest against app.
func runTests(t *testing.T, app *Server, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			if tt.wantCode == 0 {
				tt.wantCode = http.StatusOK
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func assertJSONEq(t *testing.T, want interface{}, rec *httptest.ResponseRecorder) {
	assert.JSONEq(t, string(marchallObj(t, want)), rec.Body.String())
}
