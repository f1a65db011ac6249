package main

import (
	"context"
	"fmt"

	"github.com/protocard/protosync/internal/authority"
	"github.com/protocard/protosync/internal/config"
	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/internal/server"
	"github.com/protocard/protosync/internal/store"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	log := logger.NewLogger("protosync-authority")
	cfg, err := config.GetStructuredConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	log.Debug().Any("config", cfg).Msg("received configs")

	db, err := store.NewConnectSQLite(context.Background(), cfg.Authority, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error connecting database")
	}
	if err = db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("error running migrations")
	}

	repos := store.NewRepositories(db)
	hub := authority.NewHub(cfg.Authority.HeartbeatInterval, log)
	service := authority.NewService(repos, hub, log)
	handler := authority.NewHandler(service, hub, log)

	srv, err := server.NewServer(handler.Init(), hub, cfg.Authority, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating server")
	}

	srv.RunServer()
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}

	if buildDate == "" {
		buildDate = "N/A"
	}

	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
