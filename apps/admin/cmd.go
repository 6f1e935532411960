package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/course"
	"github.com/trezcool/attendance/core/device"
	"github.com/trezcool/attendance/core/student"
	"github.com/trezcool/attendance/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf     *core.Config
	db       *sqlx.DB
	validate *validator.Validate
	usrSvc   *user.Service
	crsSvc   *course.Service
	stdSvc   *student.Service
	devSvc   *device.Service
	out      io.Writer
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	out := cli.out
	if out == nil {
		out = os.Stdout
	}
	_, _ = fmt.Fprintf(out, format, args...)
}

func (cli *commandLine) printUsage() {
	cli.printf("Usage:\n")
	cli.printf("  createdb - create the database & its user if they do not exist (postgres only)\n")
	cli.printf("  migrate COMMAND [ARGS] - run a migrations command: up, up-by-one, up-to VERSION, down, down-to VERSION, redo, reset, status, version\n")
	cli.printf("  adduser -email EMAIL [-name NAME] [-admin] - create or update a user; the password is prompted next\n")
	cli.printf("  resetpassword -email EMAIL - reset a user's password; the password is prompted next\n")
	cli.printf("  seed - add a demo admin account, courses, students & devices; the admin password is prompted next\n")
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword(usage func()) (string, error) {
	cli.printf("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	cli.printf("\n")
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Give the user the admin role (teacher otherwise).")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	switch args[1] {
	case "createdb":
		return cli.createDB()

	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(addUserCmd.Usage)
		if err != nil {
			return err
		}
		role := user.RoleTeacher
		if *addUserAdmin {
			role = user.RoleAdmin
		}
		return cli.addUser(ctx, *addUserEmail, *addUserName, role, pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(resetPasswordCmd.Usage)
		if err != nil {
			return err
		}
		return cli.resetPassword(ctx, *resetPasswordEmail, pwd)

	case "seed":
		pwd, err := cli.promptPassword(cli.printUsage)
		if err != nil {
			return err
		}
		return cli.seed(ctx, pwd)

	default:
		cli.printUsage()
		return errHelp
	}
}
