package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/rollmesh-go/internal/config"
	"github.com/yndnr/rollmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/rollmesh-go/internal/infra/confloader"
	"github.com/yndnr/rollmesh-go/internal/infra/shutdown"
	"github.com/yndnr/rollmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
	"github.com/yndnr/rollmesh-go/internal/telemetry/metric"
	"github.com/yndnr/rollmesh-go/internal/transport/relay"
)

func main() {
	app := &cli.App{
		Name:    "rollmesh-relay",
		Usage:   "Relay peer traffic over websockets",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Configuration file", EnvVars: []string{"ROLLMESH_CONFIG"}},
			&cli.StringFlag{Name: "addr", Usage: "Listen address"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve /metrics on a separate address"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.RelayConfig, error) {
	values := make(map[string]any)
	for flag, key := range map[string]string{
		"addr":         "server.addr",
		"metrics-addr": "metrics.addr",
		"log-level":    "log.level",
	} {
		if c.IsSet(flag) {
			values[key] = c.String(flag)
		}
	}

	cfg := config.DefaultRelay()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(c.String("config")),
		confloader.WithOverrides(values),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.VerifyRelay(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	metrics := metric.NewRegistry()
	server := relay.NewServer(config.ToRelayServerConfig(cfg, log, metrics))

	r := chi.NewRouter()
	r.Mount("/", server.Handler())
	if cfg.Metrics.Addr == "" {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	h := shutdown.NewHandler(15*time.Second, shutdown.WithLogger(log))
	h.OnShutdown("relay server", httpServer.Shutdown)

	if cfg.Server.TLSCertFile != "" {
		certs, err := tlsroots.NewWatcher(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile, tlsroots.WithLogger(log))
		if err != nil {
			return err
		}
		if err := certs.Start(); err != nil {
			log.Warn("certificate reload disabled", "error", err)
		}
		h.OnShutdown("certificate watcher", func(context.Context) error { return certs.Stop() })
		httpServer.TLSConfig = certs.ServerConfig()
	}

	if cfg.Metrics.Addr != "" {
		mr := chi.NewRouter()
		mr.Method(http.MethodGet, "/metrics", metrics.Handler())
		metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: mr, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
		h.OnShutdown("metrics server", metricsServer.Shutdown)
	}

	go func() {
		log.Info("relay listening", "addr", cfg.Server.Addr, "tls", httpServer.TLSConfig != nil, "version", buildinfo.Get().Version)
		var err error
		if httpServer.TLSConfig != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("relay server error", "error", err)
			h.Trigger()
		}
	}()

	if err := h.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("relay stopped")
	return nil
}
