package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpmgr"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check the configuration file and list the enabled servers.",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, err := (&mcpconfig.FileSource{Path: cmd.String("config")}).Load()
			if err != nil {
				return err
			}
			servers := f.ServerConfigs()
			ids := make([]string, 0, len(servers))
			for id := range servers {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tTRANSPORT\tTARGET\tSTATUS")
			for _, id := range ids {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, mcpmgr.TransportOf(servers[id]), target(servers[id]), checkResult(id, servers[id]))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return f.Validate()
		},
	}
}

func checkResult(id string, cfg mcpmgr.ServerConfig) string {
	var cfgErr *mcpmgr.ConfigError
	if err := mcpmgr.ValidateConfig(id, cfg); errors.As(err, &cfgErr) {
		return cfgErr.Reason
	} else if err != nil {
		return err.Error()
	}
	return "ok"
}

func target(cfg mcpmgr.ServerConfig) string {
	if c, ok := mcpmgr.AsStdio(cfg); ok {
		return c.Command
	}
	if c, ok := mcpmgr.AsHTTP(cfg); ok {
		return c.Endpoint
	}
	return ""
}
