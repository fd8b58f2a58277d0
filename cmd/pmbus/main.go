package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/pmbus/cmd/pmbus/commands"
	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
	"git.home.luguber.info/inful/pmbus/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("pmbus"),
		kong.Description("Event bus tooling and workers for the project-management services."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	globals := &commands.Global{Logger: slog.Default(), Out: os.Stdout}
	err := parser.Run(globals, cli)
	ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
}
