package commands

import (
	"fmt"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/washer/internal/config"
	"git.home.luguber.info/inful/washer/internal/orchestrator"
	"git.home.luguber.info/inful/washer/internal/washer"
)

// StagesCmd implements the 'stages' command.
type StagesCmd struct{}

func (s *StagesCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig(g)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out, err := DescribeStages(cfg, g)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.out(), out)
	return err
}

// DescribeStages builds every configured stage without opening storage and
// renders them as a table. Any configuration problem is returned instead.
func DescribeStages(cfg *config.Config, g *Global) (string, error) {
	env := &washer.Env{Config: cfg}
	if g != nil {
		env.Logger = g.Logger
	}
	o, err := orchestrator.New(cfg, Registry(), env)
	if err != nil {
		return "", err
	}
	var rows [][]string
	for _, b := range o.Stages() {
		trigger := b.Schedule()
		if subs := b.Subscriptions(); len(subs) > 0 {
			if trigger != "" {
				trigger += " + "
			}
			trigger += "← " + strings.Join(subs, ", ")
		}
		rows = append(rows, []string{b.ID, b.Type.Name, b.Kind().String(), trigger, strconv.Itoa(b.Retain())})
	}
	return renderTable([]string{"ID", "Type", "Kind", "Trigger", "Retain"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}), nil
}
