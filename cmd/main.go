package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridmeter/internal/config"
	"gridmeter/internal/handlers"
	"gridmeter/internal/ledger"
	"gridmeter/internal/logger"
	"gridmeter/internal/repository"
	"gridmeter/internal/repository/db"
	"gridmeter/internal/sensor"
	"gridmeter/internal/server"
	"gridmeter/internal/service"

	"github.com/benbjohnson/clock"
)

func main() {
	// load config.yml
	cfg, err := config.Load()

	// init logger (info until the config says otherwise)
	level := logger.InfoLevel
	if cfg != nil && cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	log := logger.Get(level)
	if err != nil {
		log.Fatalw("error reading config", "err", err)
	}

	// open DB
	conn, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Fatalw("failed to close sqlite", "err", cerr)
		}
	}()

	// wire dependencies
	repos := repository.NewRepository(conn)
	clk := clock.New()
	health := ledger.NewHealth(clk, cfg.Sync.BaseDelay, cfg.Sync.MaxDelay, cfg.Sync.MaxConsecutiveErrors)
	lc := ledger.New(ledger.Config{
		BaseURL:            cfg.Sync.BaseURL,
		APIKey:             cfg.Sync.APIKey,
		DeviceID:           cfg.Device.ID,
		DeviceAddress:      cfg.Device.Address,
		DeviceType:         cfg.Device.Type,
		Zone:               cfg.Device.Zone,
		SharedSecret:       cfg.Device.SharedSecret,
		Timeout:            cfg.Sync.Timeout,
		RegisterMaxRetries: cfg.Sync.RegisterMaxRetries,
	}, log)
	reader := sensor.NewSimulatedReader(cfg.Sampler.NominalVoltage, cfg.Sampler.NominalFrequency)
	services := service.NewService(cfg, repos, reader, lc, health, clk, log)
	apiHandler := handlers.NewHandler(services, log)

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// register with the ledger in the background; the meter runs fine offline
	go func() {
		if rerr := lc.Register(ctx); rerr != nil {
			log.Warnw("ledger registration failed; continuing offline", "err", rerr)
		}
	}()

	// start the control loop
	go services.Orchestrator.Run(ctx)

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
