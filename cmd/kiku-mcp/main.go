// Command kiku-mcp exposes the document index to MCP clients over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/app"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/conversation"
	"github.com/hyperjump/kiku/pkg/utils"
)

var version = "dev"

// configPath resolves the config file: the flag, then KIKU_CONFIG, then ./config.yaml.
// An empty result means built-in defaults.
func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("KIKU_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path != "" {
		return config.Load(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.Default(cwd)
}

func main() {
	cfgFlag := flag.String("config", "", "config file path (default: $KIKU_CONFIG, then ./config.yaml)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(configPath(*cfgFlag))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol; logs go to stderr at warn level unless debugging.
	logger, err := utils.NewCLILogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("MCP server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Initialize(ctx, cfg, logger, app.Options{Generation: true})
	if err != nil {
		return err
	}
	defer components.Close()
	if err := components.Reconcile(ctx); err != nil {
		return err
	}

	h := &handlers{
		engine:      components.Engine,
		docs:        components.Indexer,
		sessions:    conversation.NewSessions(cfg.Conversation.SessionTTL),
		afterIngest: components.SaveSnapshot,
		logger:      logger,
	}
	mcpServer := server.NewMCPServer("kiku", version, server.WithToolCapabilities(true))
	h.register(mcpServer)

	// Blocks until stdin closes or a signal arrives.
	if err := server.ServeStdio(mcpServer); err != nil {
		return err
	}
	return components.SaveSnapshot()
}
