package main

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
	"github.com/trezcool/attendance/core/course"
	"github.com/trezcool/attendance/core/device"
	"github.com/trezcool/attendance/core/student"
	"github.com/trezcool/attendance/core/user"
	emailsvc "github.com/trezcool/attendance/services/email"
	"github.com/trezcool/attendance/storage/database"
	sqlxrepos "github.com/trezcool/attendance/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()

	// createdb must run before the app database can be opened
	if len(os.Args) > 1 && os.Args[1] == "createdb" {
		cli := commandLine{conf: conf}
		exit(cli.run(os.Args))
	}

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	student.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)
	device.InitValidators(validate, translator)

	mailSvc := emailsvc.NewConsoleService(log.New(os.Stdout, "EMAIL : ", log.LstdFlags), conf)
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, conf)
	crsSvc := course.NewService(sqlxrepos.NewCourseRepository(db), usrSvc)

	// start CLI
	cli := commandLine{
		conf:     conf,
		db:       db,
		validate: validate,
		usrSvc:   usrSvc,
		crsSvc:   crsSvc,
		stdSvc:   student.NewService(sqlxrepos.NewStudentRepository(db), crsSvc),
		devSvc: device.NewService(
			sqlxrepos.NewDeviceRepository(db), sqlxrepos.NewSettingsRepository(db), usrSvc, mailSvc, core.NopPublisher{}, conf,
		),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	exit(err)
}

func exit(err error) {
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
	os.Exit(0)
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
