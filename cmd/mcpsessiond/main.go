package main

import (
	"context"
	"fmt"
	"os"

	isatty "github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"
)

var version = "dev"

// globalFlags are available on every command.
var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "mcpsessiond.yaml",
		Usage:   "Path to the YAML or JSON server configuration.",
		Sources: cli.EnvVars("MCPSESSIOND_CONFIG"),
	},
	&cli.BoolFlag{
		Name:  "json",
		Usage: "Output logs as JSON. Set to true if stderr is not a TTY.",
	},
	&cli.StringFlag{
		Name:    "log-level",
		Aliases: []string{"l"},
		Value:   "info",
		Usage:   "Set the log level. One of: debug, info, warn, error.",
		Sources: cli.EnvVars("MCPSESSIOND_LOG_LEVEL"),
	},
}

func main() {
	app := &cli.Command{
		Name:    "mcpsessiond",
		Usage:   "Keep MCP server sessions alive and serve them behind one endpoint.",
		Version: version,
		Flags:   globalFlags,
		Commands: []*cli.Command{
			serveCommand(),
			validateCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func useJSONLogs(cmd *cli.Command) bool {
	return cmd.Bool("json") || !isatty.IsTerminal(os.Stderr.Fd())
}
