package cli

import (
	"flag"
	"fmt"
	"strings"

	"github.com/platinummonkey/crew/pkg/projects"
)

func newTemplatesCommand() *Command {
	return &Command{
		Name:        "templates",
		Description: "Validate and print the role templates new projects start with",
		Flags:       flag.NewFlagSet("templates", flag.ExitOnError),
		Run:         runTemplates,
	}
}

func runTemplates(args []string) error {
	flags := flag.NewFlagSet("templates", flag.ContinueOnError)
	file := flags.String("file", "", "Role template YAML (defaults to the built-in set)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	templates := projects.DefaultTemplates()
	if *file != "" {
		loaded, err := projects.LoadTemplates(*file)
		if err != nil {
			return err
		}
		templates = loaded
	}

	for _, t := range templates {
		marker := ""
		if t.Default {
			marker = " (default)"
		}
		fmt.Printf("%d %s%s: %s\n", t.Position, t.Name, marker, strings.Join(t.Permissions, ", "))
	}
	return nil
}
