package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpmgr"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	manager := mcpmgr.NewManager(map[string]mcpmgr.ServerConfig{
		"example-stdio": &mcpmgr.StdioServerConfig{
			BaseServerConfig: mcpmgr.BaseServerConfig{Timeout: 10 * time.Second},
			Command:          "npx",
			Args:             []string{"-y", "@modelcontextprotocol/server-everything"},
		},
	}, &mcpmgr.ManagerOptions{
		DefaultClientName: "manager-example",
		Logger:            logger,
		Reconnect:         mcpmgr.ReconnectPolicy{MaxAttempts: 3},
	})

	ctx := context.Background()
	if _, err := manager.Initialize(ctx); err != nil {
		fmt.Printf("initialize error: %v\n", err)
	}
	for _, st := range manager.GetServerStatuses() {
		fmt.Printf("Configured server: %s\n", st.ServerName)
		fmt.Printf("Status: %s\n", st.State)
		if st.LastError != "" {
			fmt.Printf("Last error: %s\n", st.LastError)
		}
	}
	for _, tool := range manager.GetAllTools() {
		fmt.Printf("Tool: %s/%s\n", tool.ServerName, tool.Name)
	}

	if len(manager.GetAllTools()) > 0 {
		res, err := manager.CallTool(ctx, "example-stdio", "echo", map[string]any{"message": "hello"})
		if err != nil {
			fmt.Printf("call error: %v\n", err)
		} else {
			fmt.Printf("echo returned %d content blocks\n", len(res.Content))
		}
	}

	if err := manager.Shutdown(ctx); err != nil {
		fmt.Printf("disconnect error: %v\n", err)
	}
}
