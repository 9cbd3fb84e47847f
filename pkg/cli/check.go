package cli

import (
	"context"
	"flag"
	"fmt"
)

func newCheckCommand() *Command {
	return &Command{
		Name:        "check",
		Description: "Check whether a user holds permissions in a project",
		Flags:       flag.NewFlagSet("check", flag.ExitOnError),
		Run:         runCheck,
	}
}

func runCheck(args []string) error {
	flags := flag.NewFlagSet("check", flag.ContinueOnError)
	source := addSourceFlags(flags)
	userID := flags.Int64("user", 0, "User ID")
	projectID := flags.Int64("project", 0, "Project ID")
	permList := flags.String("perm", "", "Comma-separated permissions")
	mode := flags.String("mode", "all", "Require all listed permissions or any of them (all|any)")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := requireIDs(idFlag{"user", *userID}, idFlag{"project", *projectID}); err != nil {
		return err
	}
	perms, err := parsePermissions(*permList)
	if err != nil {
		return err
	}
	if *mode != "all" && *mode != "any" {
		return fmt.Errorf("invalid -mode %q: must be all or any", *mode)
	}

	ctx := context.Background()
	checker, closeFn, err := source.checker(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if *mode == "any" {
		return printDecision(checker.HasAnyPermission(ctx, *userID, *projectID, perms...))
	}
	return printDecision(checker.HasAllPermissions(ctx, *userID, *projectID, perms...))
}

func newCanManageCommand() *Command {
	return &Command{
		Name:        "can-manage",
		Description: "Check whether an actor may manage another member",
		Flags:       flag.NewFlagSet("can-manage", flag.ExitOnError),
		Run:         runCanManage,
	}
}

func runCanManage(args []string) error {
	flags := flag.NewFlagSet("can-manage", flag.ContinueOnError)
	source := addSourceFlags(flags)
	actorID := flags.Int64("actor", 0, "Acting user ID")
	targetID := flags.Int64("target", 0, "Target user ID")
	projectID := flags.Int64("project", 0, "Project ID")

	if err := flags.Parse(args); err != nil {
		return err
	}
	err := requireIDs(idFlag{"actor", *actorID}, idFlag{"target", *targetID}, idFlag{"project", *projectID})
	if err != nil {
		return err
	}

	ctx := context.Background()
	checker, closeFn, err := source.checker(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	return printDecision(checker.CanManageMember(ctx, *actorID, *targetID, *projectID))
}

func newCanAssignCommand() *Command {
	return &Command{
		Name:        "can-assign",
		Description: "Check whether an actor may assign a role",
		Flags:       flag.NewFlagSet("can-assign", flag.ExitOnError),
		Run:         runCanAssign,
	}
}

func runCanAssign(args []string) error {
	flags := flag.NewFlagSet("can-assign", flag.ContinueOnError)
	source := addSourceFlags(flags)
	actorID := flags.Int64("actor", 0, "Acting user ID")
	projectID := flags.Int64("project", 0, "Project ID")
	roleID := flags.Int64("role", 0, "Role ID")

	if err := flags.Parse(args); err != nil {
		return err
	}
	err := requireIDs(idFlag{"actor", *actorID}, idFlag{"project", *projectID}, idFlag{"role", *roleID})
	if err != nil {
		return err
	}

	ctx := context.Background()
	checker, closeFn, err := source.checker(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	return printDecision(checker.CanAssignRole(ctx, *actorID, *projectID, *roleID))
}
