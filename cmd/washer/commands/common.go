// Package commands implements the washer subcommands.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/washer/internal/config"
	"git.home.luguber.info/inful/washer/internal/washer"
	"git.home.luguber.info/inful/washer/internal/washers"
)

// Global carries state shared by every subcommand.
type Global struct {
	Logger *slog.Logger
	// Out receives command output. Nil means stdout.
	Out    io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"washer.yaml" env:"WASHER_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run     RunCmd     `cmd:"" help:"Run the scheduler until interrupted"`
	Types   TypesCmd   `cmd:"" help:"List the registered stage types"`
	Stages  StagesCmd  `cmd:"" help:"Validate the configuration and list its stages"`
	Memory  MemoryCmd  `cmd:"" help:"Print the persisted memory of a stage"`
	Clean   CleanCmd   `cmd:"" help:"Delete temporary downloads and expired stored files once"`
	Upgrade UpgradeCmd `cmd:"" help:"Install the latest media extraction tools once"`

	logger *slog.Logger
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(c.logger)
	return nil
}

// Logger returns the logger installed by AfterApply.
func (c *CLI) Logger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// LoadConfig reads the configuration file and reinstalls the default logger
// with its monitoring settings. --verbose wins over the configured level.
func (c *CLI) LoadConfig(g *Global) (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	c.logger = NewLogger(cfg.Monitoring.Logging, c.Verbose, os.Stderr)
	slog.SetDefault(c.logger)
	if g != nil {
		g.Logger = c.logger
	}
	return cfg, nil
}

// NewLogger builds the process logger for the configured format and level.
func NewLogger(lc config.MonitoringLogging, verbose bool, w io.Writer) *slog.Logger {
	level := lc.Level.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Registry returns the registry of compiled-in stage types.
func Registry() *washer.Registry { return washers.NewRegistry() }
