package commands

import (
	"fmt"

	"git.home.luguber.info/inful/pmbus/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool   `help:"Overwrite existing configuration file"`
	Path  string `arg:"" optional:"" default:"pmbus.yaml" help:"Where to write the configuration"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	path := i.Path
	if root.Config != "" && path == "pmbus.yaml" {
		path = root.Config
	}
	out := g.out()
	_, _ = fmt.Fprintf(out, "Writing configuration to %s\n", path)
	if err := config.Init(path, i.Force); err != nil {
		_, _ = fmt.Fprintln(out, "Initialization failed")
		return err
	}
	_, _ = fmt.Fprintln(out, "initialized successfully")
	return nil
}
