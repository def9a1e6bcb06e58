package commands

import (
	"fmt"
	"strings"
)

// TypesCmd implements the 'types' command.
type TypesCmd struct {
	Settings bool `short:"s" help:"Also list each type's settings"`
}

func (t *TypesCmd) Run(g *Global, _ *CLI) error {
	var rows [][]string
	for _, typ := range Registry().Types() {
		kind := typ.Kind.String()
		if typ.Abstract {
			kind += " (abstract)"
		}
		row := []string{typ.Name, kind, typ.Description}
		if t.Settings {
			names := make([]string, 0, len(typ.Settings))
			for _, o := range typ.Settings {
				n := o.Name
				if o.Required {
					n += "*"
				}
				names = append(names, n)
			}
			row = append(row, strings.Join(names, ", "))
		}
		rows = append(rows, row)
	}
	headers := []string{"Type", "Kind", "Description"}
	if t.Settings {
		headers = append(headers, "Settings")
	}
	_, err := fmt.Fprintln(g.out(), renderTable(headers, rows, nil))
	return err
}
