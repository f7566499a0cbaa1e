package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/rollmesh-go/internal/config"
	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/rollmesh-go/internal/infra/confloader"
	"github.com/yndnr/rollmesh-go/internal/infra/shutdown"
	"github.com/yndnr/rollmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/rollmesh-go/internal/match"
	"github.com/yndnr/rollmesh-go/internal/sim/arena"
	"github.com/yndnr/rollmesh-go/internal/storage/journal"
	"github.com/yndnr/rollmesh-go/internal/storage/savegame"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
	"github.com/yndnr/rollmesh-go/internal/telemetry/metric"
	"github.com/yndnr/rollmesh-go/internal/transport"
	"github.com/yndnr/rollmesh-go/internal/transport/gossip"
	"github.com/yndnr/rollmesh-go/internal/transport/relay"
)

const binaryName = "rollmesh-peer"

func main() {
	app := &cli.App{
		Name:    binaryName,
		Usage:   "Play a rollback arena match",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Configuration file", EnvVars: []string{"ROLLMESH_CONFIG"}},
			&cli.StringFlag{Name: "id", Usage: "Peer ID, unique within the room"},
			&cli.StringFlag{Name: "name", Usage: "Display name"},
			&cli.StringFlag{Name: "room", Usage: "Room to join"},
			&cli.IntFlag{Name: "frames", Usage: "Stop after this many confirmed frames"},
			&cli.BoolFlag{Name: "bot", Usage: "Drive the local player with the bot script"},
			&cli.StringFlag{Name: "transport", Usage: "gossip or relay"},
			&cli.StringSliceFlag{Name: "seed", Usage: "Gossip seed host:port (repeatable)"},
			&cli.IntFlag{Name: "bind-port", Usage: "Gossip bind port"},
			&cli.StringFlag{Name: "relay-url", Usage: "Relay base URL"},
			&cli.StringFlag{Name: "data-dir", Aliases: []string{"d"}, Usage: "Save and journal directory"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve /metrics on this address"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// overrides maps the flags that were set to configuration keys.
func overrides(c *cli.Context) map[string]any {
	keys := map[string]string{
		"id":           "peer.id",
		"name":         "peer.name",
		"room":         "peer.room",
		"frames":       "peer.frames",
		"bot":          "peer.bot",
		"transport":    "transport.kind",
		"seed":         "transport.gossip.seeds",
		"bind-port":    "transport.gossip.bind_port",
		"relay-url":    "transport.relay.url",
		"data-dir":     "storage.data_dir",
		"metrics-addr": "metrics.addr",
		"log-level":    "log.level",
	}
	values := make(map[string]any)
	for flag, key := range keys {
		if c.IsSet(flag) {
			values[key] = c.Value(flag)
		}
	}
	if c.IsSet("seed") {
		values["transport.gossip.seeds"] = c.StringSlice("seed")
	}
	return values
}

func loadConfig(c *cli.Context) (*config.PeerConfig, *confloader.Loader, error) {
	cfg := config.DefaultPeer()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(c.String("config")),
		confloader.WithOverrides(overrides(c)),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.EnsurePeerID(cfg); err != nil {
		return nil, nil, err
	}
	if err := config.VerifyPeer(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, loader, nil
}

func run(c *cli.Context) error {
	cfg, loader, err := loadConfig(c)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	log.Info("starting "+binaryName,
		"version", buildinfo.Get().Version,
		"peer_id", cfg.Peer.ID,
		"room", cfg.Peer.Room,
		"transport", cfg.Transport.Kind)

	h := shutdown.NewHandler(10*time.Second, shutdown.WithLogger(log))

	if path := c.String("config"); path != "" {
		stop, err := watchLogLevel(path, loader, log)
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			h.OnShutdown("config watcher", func(context.Context) error { return stop() })
		}
	}

	metrics := metric.NewRegistry()
	if cfg.Metrics.Addr != "" {
		srv := metricsServer(cfg.Metrics.Addr, metrics)
		go func() {
			log.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
		h.OnShutdown("metrics server", srv.Shutdown)
	}

	saveCfg, err := config.ToSaveConfig(cfg, config.SaveDir(cfg.Storage.DataDir))
	if err != nil {
		return err
	}
	saves, err := savegame.NewManager(saveCfg)
	if err != nil {
		return err
	}

	var jrnl *journal.Journal
	if cfg.Storage.Journal {
		jrnl, err = journal.Open(journal.Config{Dir: config.JournalDir(cfg.Storage.DataDir), Logger: log})
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		h.OnShutdown("journal", func(context.Context) error { return jrnl.Close() })
	}

	ch, closeCh, err := openChannel(c.Context, cfg, log)
	if err != nil {
		return err
	}
	h.OnShutdown("transport", func(context.Context) error { return closeCh() })

	sessCfg, err := config.ToSessionConfig(cfg)
	if err != nil {
		return err
	}
	input := match.Idle
	if cfg.Peer.Bot {
		input = arena.BotInput
	}
	runner, err := match.New(match.Config{
		Channel:      ch,
		Session:      sessCfg,
		Lobby:        config.ToLobbyConfig(cfg, log, metrics),
		TickInterval: cfg.FrameDuration(),
		MaxFrames:    cfg.Peer.Frames,
		Input:        input,
		Saves:        saves,
		Resume:       cfg.Lobby.Resume,
		Journal:      jrnl,
		Logger:       log,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	runCtx := logger.WithPeerID(logger.WithLogger(h.Context(), log), cfg.Peer.ID)

	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer h.Trigger()
		res, err := runner.Run(runCtx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				runErr = err
			}
			return
		}
		fields := []any{"confirmed", int(res.Confirmed), "kills", res.Kills}
		if res.Save != nil {
			fields = append(fields, "save_id", res.Save.ID)
		}
		logger.L(logger.WithMatchID(runCtx, string(res.MatchID))).Info("match finished", fields...)
	}()
	// Registered last so it runs first: the match saves before the
	// journal and transport close.
	h.OnShutdown("match", func(ctx context.Context) error {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := h.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	<-done
	return runErr
}

// watchLogLevel reloads the configuration file on change and applies its
// log level. Other settings take effect on the next start.
func watchLogLevel(path string, loader *confloader.Loader, log logger.Logger) (func() error, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		next := config.DefaultPeer()
		if err := loader.Reload(next); err != nil {
			log.Warn("config reload failed", "error", err)
			return
		}
		changed, err := logger.SetLevel(next.Log.Level)
		switch {
		case err != nil:
			log.Warn("config reload ignored", "error", err)
		case changed:
			log.Info("log level changed", "level", logger.GetLevel())
		}
	})
	w.StartAsync()
	return w.Stop, nil
}

func metricsServer(addr string, metrics *metric.Registry) *http.Server {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

func openChannel(ctx context.Context, cfg *config.PeerConfig, log logger.Logger) (transport.Channel, func() error, error) {
	id := domain.PeerID(cfg.Peer.ID)
	switch cfg.Transport.Kind {
	case config.TransportRelay:
		pool, err := tlsroots.LoadPool(cfg.Transport.Relay.CAFile)
		if err != nil {
			return nil, nil, err
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := relay.Dial(dialCtx, relay.ClientConfig{
			URL:       cfg.Transport.Relay.URL,
			Room:      cfg.Peer.Room,
			ID:        id,
			UserAgent: buildinfo.UserAgent(binaryName),
			Dialer: &websocket.Dialer{
				HandshakeTimeout: 10 * time.Second,
				TLSClientConfig:  pool.ClientConfig(),
			},
			Logger: log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dial relay: %w", err)
		}
		return client, client.Close, nil

	default:
		g := cfg.Transport.Gossip
		node, err := gossip.New(gossip.Config{
			ID:            id,
			Room:          cfg.Peer.Room,
			BindAddr:      g.BindAddr,
			BindPort:      g.BindPort,
			AdvertiseAddr: g.AdvertiseAddr,
			Seeds:         g.Seeds,
			Profile:       g.Profile,
			Logger:        log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("start gossip: %w", err)
		}
		log.Info("gossip listening", "addr", node.Addr())
		return node, func() error {
			if err := node.Leave(time.Second); err != nil {
				log.Warn("gossip leave failed", "error", err)
			}
			return node.Shutdown()
		}, nil
	}
}
