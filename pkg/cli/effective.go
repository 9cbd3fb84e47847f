package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
)

func newEffectiveCommand() *Command {
	return &Command{
		Name:        "effective",
		Description: "Show a user's effective permissions in a project",
		Flags:       flag.NewFlagSet("effective", flag.ExitOnError),
		Run:         runEffective,
	}
}

func runEffective(args []string) error {
	flags := flag.NewFlagSet("effective", flag.ContinueOnError)
	source := addSourceFlags(flags)
	userID := flags.Int64("user", 0, "User ID")
	projectID := flags.Int64("project", 0, "Project ID")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := requireIDs(idFlag{"user", *userID}, idFlag{"project", *projectID}); err != nil {
		return err
	}

	ctx := context.Background()
	checker, closeFn, err := source.checker(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	eff := checker.EffectivePermissions(ctx, *userID, *projectID)
	out, err := json.MarshalIndent(eff, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
