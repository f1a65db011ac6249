package server

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/protocard/protosync/internal/config"
	"github.com/protocard/protosync/internal/logger"
)

// HubRunner is the long-running side of the websocket stream: it sends
// heartbeats and closes subscribers when the context ends.
type HubRunner interface {
	Run(ctx context.Context)
}

type server struct {
	httpServer *httpServer
	hub        HubRunner
	logger     *logger.Logger
}

// NewServer assembles the authority's HTTP server and stream hub lifecycle.
func NewServer(handler http.Handler, hub HubRunner, cfg config.Authority, logger *logger.Logger) (Server, error) {
	logger.Info().Msg("creating new server...")
	servers := new(server)

	if cfg.Address != "" {
		servers.httpServer = newHTTPServer(handler, cfg, logger)
	}
	if servers.httpServer == nil {
		return nil, errNoServersAreCreated
	}

	servers.hub = hub
	servers.logger = logger

	return servers, nil
}

func (s *server) RunServer() {
	if err := s.run(); err != nil {
		s.logger.Info().Msgf("Error running server: %v \n", err)
	}
}

func (s *server) Shutdown() {
	if s.httpServer != nil {
		s.httpServer.Shutdown()
	}
}

func (s *server) run() error {
	if s.httpServer == nil {
		return errNoServersAreCreated
	}

	idleConnectionsClosed := make(chan struct{})
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGQUIT,
	)
	defer stop()

	// listen for stop signals
	go func() {
		<-ctx.Done()

		s.Shutdown()

		close(idleConnectionsClosed)
	}()

	if s.hub != nil {
		s.logger.Info().Msg("Launching stream hub")
		go s.hub.Run(ctx)
	}

	s.logger.Info().Msg("Launching HTTP server")
	go s.httpServer.RunServer()

	<-idleConnectionsClosed
	s.logger.Info().Msg("server Shutdown gracefully")

	return nil
}
