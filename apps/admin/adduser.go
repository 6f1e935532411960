package main

import (
	"context"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(ctx context.Context, email, name, role, pwd string) error {
	nu := user.NewUser{Name: name, Email: email, Role: role, Password: pwd, PasswordConfirm: pwd}
	if nu.Name == "" {
		nu.Name = email
	}
	if err := nu.Validate(cli.validate); err != nil {
		return err
	}
	usr, err := cli.usrSvc.UpdateOrCreate(ctx, nu.Email, core.CleanString(name), nu.Role, pwd)
	if err != nil {
		return err
	}
	cli.printf("user %s (%s) saved\n", usr.Email, usr.Role)
	return nil
}
