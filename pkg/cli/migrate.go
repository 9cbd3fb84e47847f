package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/platinummonkey/crew/pkg/rbac"
)

func newMigrateCommand() *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ExitOnError),
		Run:         runMigrate,
	}
}

func runMigrate(args []string) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbURL := flags.String("db", os.Getenv("CREW_DATABASE_URL"), "Postgres connection URL")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *dbURL == "" {
		return errors.New("-db is required")
	}

	ctx := context.Background()
	db, err := openDB(ctx, *dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := rbac.RunMigrations(ctx, db)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("schema is up to date")
		return nil
	}
	for _, m := range applied {
		fmt.Printf("applied %d: %s\n", m.Version, m.Description)
	}
	return nil
}
