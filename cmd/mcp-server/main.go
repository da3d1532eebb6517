package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hla-match-prediction/internal/app"
	"github.com/hla-match-prediction/internal/logging"
	"github.com/hla-match-prediction/internal/mcp"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// stdout carries the protocol
	application, err := app.New(ctx, app.Options{ConfigFile: *configFile, LogOutput: logging.OutputStderr})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	cfg := application.Config.GetConfig()
	server := mcp.NewServer(cfg.MCP, cfg.Matching, application.Probability, application.Matcher, application.Logger)

	application.Logger.WithField("server", cfg.MCP.ServerName).Info("Starting MCP server on stdio")
	err = server.Run(ctx)
	application.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("MCP server failed: %v", err)
	}
	log.Println("MCP server stopped")
}
