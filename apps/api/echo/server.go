package echoapi

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
	"github.com/trezcool/attendance/core/course"
	"github.com/trezcool/attendance/core/device"
	"github.com/trezcool/attendance/core/settings"
	"github.com/trezcool/attendance/core/stats"
	"github.com/trezcool/attendance/core/student"
	"github.com/trezcool/attendance/core/user"
	livesvc "github.com/trezcool/attendance/services/live"
	metricsvc "github.com/trezcool/attendance/services/metrics"
)

type (
	// Deps holds everything the API handlers need.
	Deps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator

		UserSvc       *user.Service
		StudentSvc    *student.Service
		CourseSvc     *course.Service
		AttendanceSvc *attendance.Service
		DeviceSvc     *device.Service
		StatsSvc      *stats.Service
		SettingsSvc   *settings.Service

		Hub     *livesvc.Hub       // optional
		Metrics *metricsvc.Metrics // optional

		DisableReqLogs bool
	}

	Server struct {
		*Deps
		app      *echo.Echo
		addr     string
		shutdown chan os.Signal
		errors   chan error
	}
)

// NewServer builds the API server. shutdown receives a signal whenever a handler hits a core.shutdown error.
func NewServer(addr string, shutdown chan os.Signal, deps *Deps) *Server {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps, "deps"),
	).CheckAndPanic()
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Conf, "conf"),
		vala.IsNotNil(deps.Logger, "logger"),
		vala.IsNotNil(deps.Validate, "validate"),
		vala.IsNotNil(deps.Translator, "translator"),
		vala.IsNotNil(deps.UserSvc, "userSvc"),
		vala.IsNotNil(deps.StudentSvc, "studentSvc"),
		vala.IsNotNil(deps.CourseSvc, "courseSvc"),
		vala.IsNotNil(deps.AttendanceSvc, "attendanceSvc"),
		vala.IsNotNil(deps.DeviceSvc, "deviceSvc"),
		vala.IsNotNil(deps.StatsSvc, "statsSvc"),
		vala.IsNotNil(deps.SettingsSvc, "settingsSvc"),
	).CheckAndPanic()

	if shutdown == nil {
		shutdown = make(chan os.Signal, 1)
	}
	s := &Server{
		Deps:     deps,
		app:      echo.New(),
		addr:     addr,
		shutdown: shutdown,
		errors:   make(chan error, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	debug := s.Conf.Debug

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(debug || s.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     s.Conf.Server.AllowedOrigins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		ExposeHeaders:    []string{echo.HeaderContentDisposition},
		AllowCredentials: true,
	}))
	if s.Metrics != nil {
		s.app.Use(metricsMiddleware(s.Metrics))
		s.app.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.Logger, s.Translator, s.signalShutdown)
	s.app.Debug = debug

	s.app.GET("/", home)

	api := s.app.Group("/api")
	auth := s.authMiddleware(newJWTConfig(s.Conf.SecretKey))
	admin := adminMiddleware()

	registerAuthAPI(api, auth, s.Deps)
	registerUserAPI(api, auth, admin, s.Deps)
	registerStudentAPI(api, auth, admin, s.Deps)
	registerCourseAPI(api, auth, admin, s.Deps)
	registerAttendanceAPI(api, auth, admin, s.Deps)
	registerDeviceAPI(api, auth, admin, s.Deps)
	registerStatsAPI(api, auth, s.Deps)
	registerSettingsAPI(api, auth, admin, s.Deps)

	if s.Hub != nil {
		wsAuth := s.authMiddleware(newJWTConfig(s.Conf.SecretKey, "query:token"))
		registerLiveAPI(api, wsAuth, s.Hub)
	}
}

// Start listens on the server address. Failures are reported on Errors().
func (s *Server) Start() {
	if err := s.app.Start(s.addr); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func home(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"name": "Attendance API", "time": time.Now().UTC()})
}
