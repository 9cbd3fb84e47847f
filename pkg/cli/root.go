package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
)

// ErrDenied is returned by decision commands when the answer is no, so callers
// can turn it into a non-zero exit status
var ErrDenied = errors.New("denied")

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "crew",
		Description: "Crew - project membership and permission inspection CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("crew", flag.ExitOnError),
	}

	root.Subcommands["catalog"] = newCatalogCommand()
	root.Subcommands["effective"] = newEffectiveCommand()
	root.Subcommands["check"] = newCheckCommand()
	root.Subcommands["can-manage"] = newCanManageCommand()
	root.Subcommands["can-assign"] = newCanAssignCommand()
	root.Subcommands["role-permissions"] = newRolePermissionsCommand()
	root.Subcommands["templates"] = newTemplatesCommand()
	root.Subcommands["migrate"] = newMigrateCommand()
	root.Subcommands["issue-token"] = newIssueTokenCommand()

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.execute(os.Args[1:])
}

func (c *Command) execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-18s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
