package dig_container

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/attendance/apps/api/echo"
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
	telemetrysvc "github.com/trezcool/attendance/services/telemetry"
	"github.com/trezcool/attendance/storage/database"
	sqlxrepos "github.com/trezcool/attendance/storage/database/sqlx"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	GRPCLoggerParam struct {
		dig.In
		Logger core.Logger `name:"grpcLogger"`
	}

	// Jobs are the services running periodic maintenance tasks.
	Jobs struct {
		dig.In
		Conf       *core.Config
		Logger     core.Logger
		Users      *user.Service
		Attendance *attendance.Service
		Devices    *device.Service
		Metrics    *metricsvc.Metrics
	}
)

func newRollbarLogger(prefix string, flags int) func(conf *core.Config) core.Logger {
	return func(conf *core.Config) core.Logger {
		logger := logsvc.NewRollbarLogger(log.New(os.Stdout, prefix, flags), conf)
		logger.Enable(!conf.Debug)
		return logger
	}
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(log.New(os.Stdout, "EMAIL : ", log.LstdFlags), conf)
	}
	return emailsvc.NewSendgridService(logger, conf)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	student.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)
	device.InitValidators(validate, translator)
	return validate
}

func newHub(conf *core.Config, logger core.Logger) *livesvc.Hub {
	return livesvc.NewHub(logger, conf.Server.AllowedOrigins)
}

// newEventPublisher counts domain events before broadcasting them to the dashboards.
func newEventPublisher(metrics *metricsvc.Metrics, hub *livesvc.Hub) core.EventPublisher {
	return metricsvc.NewPublisher(metrics, hub)
}

func newCourseService(repo course.Repository, users *user.Service) *course.Service {
	return course.NewService(repo, users)
}

func newStudentService(repo student.Repository, courses *course.Service) *student.Service {
	return student.NewService(repo, courses)
}

func newStatsService(repo stats.Repository, records *attendance.Service) *stats.Service {
	return stats.NewService(repo, records)
}

func newAttendanceService(
	conf *core.Config,
	logger core.Logger,
	repo attendance.Repository,
	students *student.Service,
	courses *course.Service,
	prefs *settings.Service,
	mailSvc core.EmailService,
	events core.EventPublisher,
) *attendance.Service {
	return attendance.NewService(attendance.Deps{
		Repo:     repo,
		Students: students,
		Courses:  courses,
		Prefs:    prefs,
		MailSvc:  mailSvc,
		Events:   events,
		Logger:   logger,
	}, conf)
}

func newDeviceService(
	conf *core.Config,
	repo device.Repository,
	store settings.Repository,
	users *user.Service,
	mailSvc core.EmailService,
	events core.EventPublisher,
) *device.Service {
	return device.NewService(repo, store, users, mailSvc, events, conf)
}

func newTelemetryServer(devices *device.Service, records *attendance.Service, loggerParam GRPCLoggerParam) *telemetrysvc.Server {
	return telemetrysvc.NewServer(devices, records, loggerParam.Logger)
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
	usrSvc *user.Service,
	stdSvc *student.Service,
	crsSvc *course.Service,
	attSvc *attendance.Service,
	devSvc *device.Service,
	statsSvc *stats.Service,
	setSvc *settings.Service,
	hub *livesvc.Hub,
	metrics *metricsvc.Metrics,
) *echoapi.Server {
	// make a channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return echoapi.NewServer(net.JoinHostPort(conf.Server.Host, conf.Server.Port), shutdown, &echoapi.Deps{
		Conf:          conf,
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		UserSvc:       usrSvc,
		StudentSvc:    stdSvc,
		CourseSvc:     crsSvc,
		AttendanceSvc: attSvc,
		DeviceSvc:     devSvc,
		StatsSvc:      statsSvc,
		SettingsSvc:   setSvc,
		Hub:           hub,
		Metrics:       metrics,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newRollbarLogger("API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)))
	must(c.Provide(newRollbarLogger("DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), dig.Name("dbLogger")))
	must(c.Provide(newRollbarLogger("GRPC : ", log.LstdFlags|log.Lmicroseconds), dig.Name("grpcLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))

	// repositories
	must(c.Provide(sqlxrepos.NewUserRepository, dig.As(new(user.Repository))))
	must(c.Provide(sqlxrepos.NewStudentRepository, dig.As(new(student.Repository))))
	must(c.Provide(sqlxrepos.NewCourseRepository, dig.As(new(course.Repository))))
	must(c.Provide(sqlxrepos.NewAttendanceRepository, dig.As(new(attendance.Repository))))
	must(c.Provide(sqlxrepos.NewDeviceRepository, dig.As(new(device.Repository))))
	must(c.Provide(sqlxrepos.NewSettingsRepository, dig.As(new(settings.Repository))))
	must(c.Provide(sqlxrepos.NewStatsRepository, dig.As(new(stats.Repository))))

	// live events
	must(c.Provide(metricsvc.New))
	must(c.Provide(newHub))
	must(c.Provide(newEventPublisher))

	// services
	must(c.Provide(user.NewService))
	must(c.Provide(newCourseService))
	must(c.Provide(newStudentService))
	must(c.Provide(settings.NewService))
	must(c.Provide(newAttendanceService))
	must(c.Provide(newDeviceService))
	must(c.Provide(newStatsService))

	// servers
	must(c.Provide(newServer))
	must(c.Provide(newTelemetryServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
