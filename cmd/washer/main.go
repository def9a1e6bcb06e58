package main

import (
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/washer/cmd/washer/commands"
	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/version"
)

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("washer"),
		kong.Description("Scheduled feed ingestion and processing engine."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	global := &commands.Global{Logger: cli.Logger()}
	if err := ctx.Run(global, &cli); err != nil {
		adapter := ferrors.NewCLIErrorAdapter(cli.Verbose, global.Logger)
		os.Exit(adapter.Report(os.Stderr, err))
	}
}
