package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/platinummonkey/crew/pkg/auth"
)

func newIssueTokenCommand() *Command {
	return &Command{
		Name:        "issue-token",
		Description: "Issue an API token for a user",
		Flags:       flag.NewFlagSet("issue-token", flag.ExitOnError),
		Run:         runIssueToken,
	}
}

func runIssueToken(args []string) error {
	flags := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	dbURL := flags.String("db", os.Getenv("CREW_DATABASE_URL"), "Postgres connection URL")
	userID := flags.Int64("user", 0, "User ID the token authenticates as")
	name := flags.String("name", "cli", "Token name")
	expires := flags.Duration("expires", 0, "Token lifetime; zero never expires")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *dbURL == "" {
		return errors.New("-db is required")
	}
	if err := requireIDs(idFlag{"user", *userID}); err != nil {
		return err
	}
	if *expires < 0 {
		return errors.New("-expires must not be negative")
	}

	ctx := context.Background()
	db, err := openDB(ctx, *dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var expiresAt *time.Time
	if *expires > 0 {
		t := time.Now().UTC().Add(*expires)
		expiresAt = &t
	}

	apiToken, token, err := auth.NewTokenStore(db).CreateToken(ctx, *userID, *name, expiresAt)
	if err != nil {
		return err
	}
	fmt.Printf("token %d (%s) for user %d\n", apiToken.ID, apiToken.TokenPrefix, *userID)
	fmt.Println(token)
	return nil
}
