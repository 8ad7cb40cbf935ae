package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/urfave/cli/v3"

	mcpgateway "github.com/vikashloomba/mcp-session-manager-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpmgr"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Connect every configured server and serve the gateway.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8700",
				Usage:   "Gateway listen address.",
				Sources: cli.EnvVars("MCPSESSIOND_ADDR"),
			},
			&cli.StringFlag{
				Name:  "path",
				Value: "/mcp",
				Usage: "Path of the Streamable MCP endpoint.",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Value: true,
				Usage: "Reload the configuration when the file changes.",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Default connect and request timeout.",
			},
			&cli.IntFlag{
				Name:  "connect-concurrency",
				Value: 4,
				Usage: "Maximum number of concurrent connects.",
			},
			&cli.IntFlag{
				Name:  "max-reconnects",
				Usage: "Reconnect attempts before giving up. 0 retries forever.",
			},
			&cli.StringFlag{
				Name:    "gateway-token",
				Usage:   "Require this bearer token on the MCP endpoint.",
				Sources: cli.EnvVars("MCPSESSIOND_GATEWAY_TOKEN"),
			},
			&cli.StringFlag{
				Name:  "authorization-server",
				Usage: "Authorization server advertised in the protected resource metadata.",
			},
		},
		Action: serve,
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	level, err := parseLevel(cmd.String("log-level"))
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, level, useJSONLogs(cmd))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := cmd.String("config")
	if !mcpconfig.Exists(path) {
		return fmt.Errorf("config file %s not found", path)
	}
	source := &mcpconfig.FileSource{Path: path}

	manager := mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{
		DefaultClientName:  "mcpsessiond",
		DefaultTimeout:     cmd.Duration("timeout"),
		ConnectConcurrency: cmd.Int("connect-concurrency"),
		ConfigSource:       source,
		Credentials:        mcpconfig.EnvCredentials{},
		Logger:             logger,
		Reconnect:          mcpmgr.ReconnectPolicy{MaxAttempts: cmd.Int("max-reconnects")},
	})

	manager.OnStatusChange(func(st mcpmgr.ServerStatus) {
		logger.Debug("server status", "server", st.ServerName, "state", st.State, "tools", len(st.Tools))
	})

	opts := &mcpgateway.Options{
		Addr:                cmd.String("addr"),
		Path:                cmd.String("path"),
		Logger:              logger,
		AuthorizationServer: cmd.String("authorization-server"),
	}
	if token := cmd.String("gateway-token"); token != "" {
		opts.TokenVerifier = staticTokenVerifier(token)
	}
	gateway, err := mcpgateway.NewGateway(manager, opts)
	if err != nil {
		return err
	}

	connected, err := manager.Initialize(ctx)
	if err != nil {
		return err
	}
	logger.Info("servers initialized", "connected", connected, "configured", len(manager.ListServers()))

	if cmd.Bool("watch") {
		watcher := mcpconfig.NewWatcher(path, func(ctx context.Context) error {
			n, err := manager.ReloadConfiguration(ctx)
			if err == nil {
				logger.Info("configuration reloaded", "connected", n)
			}
			return err
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watch disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	logger.Info("gateway listening", "addr", opts.Addr, "path", opts.Path)
	serveErr := gateway.ListenAndServe(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

// staticTokenVerifier accepts exactly one shared bearer token.
func staticTokenVerifier(expected string) auth.TokenVerifier {
	return func(_ context.Context, token string, _ *http.Request) (*auth.TokenInfo, error) {
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			return nil, auth.ErrInvalidToken
		}
		return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
	}
}
