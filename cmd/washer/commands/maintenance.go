package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"slices"
	"syscall"

	"git.home.luguber.info/inful/washer/internal/config"
	"git.home.luguber.info/inful/washer/internal/daemon"
	"git.home.luguber.info/inful/washer/internal/orchestrator"
	"git.home.luguber.info/inful/washer/internal/washers/maintenance"
)

// onceSchedule never fires in practice; one-shot stages run through RunNow.
const onceSchedule = "0 0 0 1 1 *"

// CleanCmd implements the 'clean' command.
type CleanCmd struct{}

func (c *CleanCmd) Run(g *Global, root *CLI) error {
	return runMaintenance(g, root, maintenance.CleanType.Name)
}

// UpgradeCmd implements the 'upgrade' command.
type UpgradeCmd struct{}

func (u *UpgradeCmd) Run(g *Global, root *CLI) error {
	return runMaintenance(g, root, maintenance.UpgradeType.Name)
}

func runMaintenance(g *Global, root *CLI, typ string) error {
	cfg, err := root.LoadConfig(g)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunOnce(ctx, cfg, g.Logger, typ)
}

// RunOnce runs a single maintenance stage of type typ against the configured
// stages, holding the data directory lock. A stage of that type from the
// configuration is reused so its memory stays continuous.
func RunOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger, typ string) error {
	if logger == nil {
		logger = slog.Default()
	}
	lock, err := daemon.AcquireLock(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	rt, err := daemon.NewRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	once := *cfg
	once.Stages = slices.Clone(cfg.Stages)
	id := ensureStage(&once, typ)

	o, err := orchestrator.New(&once, Registry(), rt.Env(&once))
	if err != nil {
		return err
	}
	o.Init(ctx)
	logger.Info("Running maintenance", slog.String("stage", id))
	return o.RunNow(ctx, id)
}

// ensureStage returns the id of the first stage of type typ, appending one
// when the configuration has none.
func ensureStage(cfg *config.Config, typ string) string {
	taken := map[string]bool{}
	for _, sc := range cfg.Stages {
		if sc.Type == typ {
			return sc.StageID()
		}
		taken[sc.StageID()] = true
	}
	id := typ
	for n := 2; taken[id]; n++ {
		id = fmt.Sprintf("%s-%d", typ, n)
	}
	cfg.Stages = append(cfg.Stages, config.StageConfig{
		Type:     typ,
		ID:       id,
		Settings: map[string]any{"schedule": onceSchedule},
	})
	return id
}
