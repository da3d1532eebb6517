package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hla-match-prediction/internal/api"
	"github.com/hla-match-prediction/internal/app"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, app.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	cfg := application.Config.GetConfig()
	application.Logger.Infof("Starting HLA match prediction API on %s:%d", cfg.Server.Host, cfg.Server.Port)

	server := api.NewServer(application.Config, application.Probability, application.Matcher, application.Logger)
	for name, check := range application.HealthChecks() {
		server.AddHealthCheck(name, check)
	}

	err = server.Start(ctx)
	application.Close()
	if err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}
