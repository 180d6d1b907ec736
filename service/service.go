// Package service serves the collector's side endpoints: health, a live
// websocket feed of the collected events and prometheus metrics.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
)

const (
	HealthzPath = "/healthz"
	FeedPath    = "/ws"
)

type Service struct {
	Healthz *HealthzServer
	Feed    *Feed

	log      log.Logger
	server   *http.Server
	listener net.Listener
	metrics  *httputil.HTTPServer
}

func New(logger log.Logger, source StatusSource) *Service {
	if logger == nil {
		logger = log.Root()
	}
	logger = logger.New("component", "service")
	return &Service{
		Healthz: &HealthzServer{log: logger, source: source},
		Feed:    NewFeed(logger),
		log:     logger,
	}
}

// Handler routes the healthz and feed endpoints
func (s *Service) Handler() http.Handler {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc(HealthzPath, s.Healthz.Handle)
	hdlr.Handle(FeedPath, s.Feed)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(hdlr)
}

// Start binds addr and serves in the background. An empty addr disables
// the http endpoints.
func (s *Service) Start(ctx context.Context, addr string) error {
	s.log.Info("service starting")
	if addr == "" {
		return nil
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind service address %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: s.Handler()}

	go func() {
		s.log.Info("starting http server", "addr", listener.Addr().String())
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error serving http", "err", err)
			metrics.RecordErrorDetails("error serving http", err)
		}
	}()

	s.log.Info("service started")
	return nil
}

// StartMetrics exposes the metrics registry when enabled
func (s *Service) StartMetrics(cfg opmetrics.CLIConfig) error {
	if !cfg.Enabled {
		return nil
	}
	s.log.Info("Starting metrics server", "addr", cfg.ListenAddr, "port", cfg.ListenPort)
	server, err := opmetrics.StartServer(metrics.Registry, cfg.ListenAddr, cfg.ListenPort)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	s.log.Info("Started metrics server", "endpoint", server.Addr())
	s.metrics = server
	return nil
}

// Addr is the bound http address, or empty if the service is not serving
func (s *Service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Service) Shutdown(ctx context.Context) error {
	s.log.Info("service shutting down")
	var result error

	s.Feed.Close()
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop http server: %w", err))
		}
		s.log.Info("http server stopped")
	}
	if s.metrics != nil {
		if err := s.metrics.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		s.log.Info("metrics stopped")
	}

	s.log.Info("service stopped")
	return result
}
