package main

import (
	"context"

	"github.com/trezcool/attendance/storage/database"
)

var (
	runMigrationsFunc = database.RunMigrations    // mockable
	createDBFunc      = database.CreateIfNotExist // mockable
)

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	return runMigrationsFunc(ctx, cli.db, args[0], args[1:]...)
}

func (cli *commandLine) createDB() error {
	if err := createDBFunc(cli.conf); err != nil {
		return err
	}
	cli.printf("database %q is ready\n", cli.conf.Database.Name)
	return nil
}
