package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/persist"
)

// MemoryCmd implements the 'memory' command.
type MemoryCmd struct {
	ID   string `arg:"" optional:"" help:"Stage id. Lists the stages with memory when omitted."`
	JSON bool   `help:"Print the raw JSON document"`
}

func (m *MemoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig(g)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	port, err := persist.NewSQLiteStore(cfg.Database, nil, persist.WithLogger(g.Logger))
	if err != nil {
		return err
	}
	defer func() { _ = port.Close() }()

	out, err := ShowMemory(context.Background(), port, m.ID, m.JSON)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.out(), out)
	return err
}

type memoryReader interface {
	LoadMemory(ctx context.Context, stageID string) (model.Memory, error)
	MemoryStages(ctx context.Context) ([]string, error)
}

// ShowMemory renders the memory of stage id, or the list of stages holding
// memory when id is empty.
func ShowMemory(ctx context.Context, port memoryReader, id string, raw bool) (string, error) {
	if id == "" {
		ids, err := port.MemoryStages(ctx)
		if err != nil {
			return "", err
		}
		rows := make([][]string, 0, len(ids))
		for _, s := range ids {
			mem, err := port.LoadMemory(ctx, s)
			if err != nil {
				return "", err
			}
			rows = append(rows, []string{s, formatRun(mem)})
		}
		return renderTable([]string{"Stage", "Last run"}, rows, nil), nil
	}

	mem, err := port.LoadMemory(ctx, id)
	if err != nil {
		return "", err
	}
	if raw {
		data, err := json.MarshalIndent(mem, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	rows := [][]string{
		{"lastRun", formatRun(mem)},
		{"lastDuration", fmt.Sprintf("%dms", mem.LastDuration)},
	}
	for _, k := range slices.Sorted(maps.Keys(mem.Values)) {
		v, err := json.Marshal(mem.Values[k])
		if err != nil {
			return "", err
		}
		rows = append(rows, []string{k, string(v)})
	}
	return renderTable([]string{"Key", "Value"}, rows, nil), nil
}

func formatRun(mem model.Memory) string {
	if mem.LastRun.Unix() <= 0 {
		return "never"
	}
	return mem.LastRun.UTC().Format(time.RFC3339)
}
