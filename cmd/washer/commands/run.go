package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/washer/internal/daemon"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	Grace    time.Duration `help:"Time allowed for running stages to finish on shutdown" default:"30s"`
	NoWatch  bool          `help:"Do not reload when the configuration file changes"`
	Debounce time.Duration `help:"Quiet period before a changed configuration is applied" default:"2s"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig(g)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := daemon.Options{Debounce: r.Debounce, Logger: g.Logger}
	if !r.NoWatch {
		opts.ConfigPath = root.Config
	}
	d := daemon.New(cfg, Registry(), opts)

	g.Logger.Info("Starting washer", "config", root.Config, "stages", len(cfg.Stages))
	if err := d.Run(ctx, r.Grace); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	g.Logger.Info("Washer stopped")
	return nil
}
