package cli

import (
	"context"
	"flag"
	"fmt"
)

func newRolePermissionsCommand() *Command {
	return &Command{
		Name:        "role-permissions",
		Description: "List the permissions a role grants",
		Flags:       flag.NewFlagSet("role-permissions", flag.ExitOnError),
		Run:         runRolePermissions,
	}
}

func runRolePermissions(args []string) error {
	flags := flag.NewFlagSet("role-permissions", flag.ContinueOnError)
	source := addSourceFlags(flags)
	roleID := flags.Int64("role", 0, "Role ID")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := requireIDs(idFlag{"role", *roleID}); err != nil {
		return err
	}

	ctx := context.Background()
	checker, closeFn, err := source.checker(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, p := range checker.RolePermissions(ctx, *roleID).Sorted() {
		fmt.Println(p)
	}
	return nil
}
