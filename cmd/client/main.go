package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/protocard/protosync/internal/config"
	"github.com/protocard/protosync/internal/engine"
	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/internal/track"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	log := logger.NewLogger("protosync-client")
	cfg, err := config.GetStructuredConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	log.Debug().Any("config", cfg).Msg("received configs")

	eng, err := engine.New(cfg.Engine, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating sync engine")
	}

	eng.Subscribe(func(st track.State) {
		log.Info().
			Str("entity_id", st.EntityID.String()).
			Str("status", string(st.Status)).
			Str("error", st.ErrText).
			Msg("sync state changed")
	})

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGQUIT,
	)
	defer stop()

	eng.Start(ctx)
	log.Info().Int("protocards", len(eng.List())).Msg("session started")

	<-ctx.Done()

	eng.Stop()
	log.Info().Msg("session closed")
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
