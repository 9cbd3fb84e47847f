package cli

import (
	"flag"
	"fmt"

	"github.com/platinummonkey/crew/pkg/rbac"
)

func newCatalogCommand() *Command {
	return &Command{
		Name:        "catalog",
		Description: "List every known permission",
		Flags:       flag.NewFlagSet("catalog", flag.ExitOnError),
		Run:         runCatalog,
	}
}

func runCatalog(args []string) error {
	flags := flag.NewFlagSet("catalog", flag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}

	for _, p := range rbac.Catalog() {
		fmt.Println(p)
	}
	return nil
}
