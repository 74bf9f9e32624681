package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowkit/flowkit-editor/internal/api"
	"github.com/flowkit/flowkit-editor/internal/backend"
	"github.com/flowkit/flowkit-editor/internal/catalog"
	"github.com/flowkit/flowkit-editor/internal/config"
	"github.com/flowkit/flowkit-editor/internal/db"
	"github.com/flowkit/flowkit-editor/internal/logging"
	"github.com/flowkit/flowkit-editor/internal/pipelines"
	"github.com/flowkit/flowkit-editor/internal/playback"
	"github.com/flowkit/flowkit-editor/internal/probe"
	"github.com/flowkit/flowkit-editor/internal/realtime"
	"github.com/flowkit/flowkit-editor/internal/session"
	"github.com/flowkit/flowkit-editor/internal/ui"
)

const sweepInterval = time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.MediaDir(), cfg.ResultsDir(), cfg.ExportDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting flowkit editor", "version", config.Version, "data_dir", cfg.DataDir(), "backend", cfg.Backend())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  FLOWKIT EDITOR v%-24s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Backend:    %-45s ║\n", cfg.Backend())
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalogSvc := catalog.NewService(repo, cfg.MediaDir(), logger)
	playbackSvc := playback.NewServer(logger)
	prober := probe.NewFFprobe("", logger)

	client, doctor := newBackend(ctx, cfg, logger)

	snapshots, closeSnapshots, err := newSnapshots(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	sessions := session.NewManager(session.Deps{
		Backend:   client,
		Jobs:      catalogSvc,
		Durations: catalogSvc,
		Snapshots: snapshots,
		Bus:       hub,
		MediaDir:  cfg.MediaDir(),
		Logger:    logger,
	}, cfg.SessionTTL())
	sessions.StartJanitor(ctx, sweepInterval)

	serverCfg := api.ServerConfig{
		Port:           cfg.Port(),
		MediaDir:       cfg.MediaDir(),
		ResultsDir:     cfg.ResultsDir(),
		ExportDir:      cfg.ExportDir(),
		BackendMode:    cfg.Backend(),
		CatalogService: catalogSvc,
		Repository:     repo,
		Backend:        client,
		Sessions:       sessions,
		Hub:            hub,
		Playback:       playbackSvc,
		Doctor:         doctor,
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	}
	if prober.Available() {
		serverCfg.Prober = prober
	}
	apiServer := api.NewServer(serverCfg)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Sessions: sessions,
			Addr:     apiServer.Addr(),
			Logger:   logger,
			OnQuit:   quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	// snapshots survive so sessions can be restored after a restart
	sessions.Shutdown()
	cancel()

	logger.Info("shutdown complete")
	return nil
}

// newBackend selects the analysis and render backend. The doctor is only set for
// the local pipelines.
func newBackend(ctx context.Context, cfg *config.EnvConfig, logger *slog.Logger) (backend.Client, *pipelines.CachedDoctor) {
	switch cfg.Backend() {
	case config.BackendStub:
		logger.Info("using stub backend")
		return backend.NewStubClient(cfg.ResultsDir(), logger), nil

	case config.BackendLocal:
		pipeCfg := pipelines.DefaultConfig(cfg.DataDir(), logger)
		pipeCfg.PythonPath = cfg.PipelinesPython()
		pipeCfg.ModuleName = cfg.PipelinesModule()
		pipeCfg.AnalyzeTimeout = cfg.PipelinesTimeoutAnalyze()
		pipeCfg.RenderTimeout = cfg.PipelinesTimeoutRender()

		runner, err := pipelines.NewRunner(pipeCfg)
		if err != nil {
			logger.Warn("pipeline runner unavailable, falling back to stub backend", "error", err)
			return backend.NewStubClient(cfg.ResultsDir(), logger), nil
		}
		doctor := pipelines.NewCachedDoctor(runner, logger)

		initCtx, initCancel := context.WithTimeout(ctx, pipeCfg.DoctorTimeout)
		defer initCancel()
		if caps, err := doctor.Refresh(initCtx); err != nil {
			logger.Warn("initial doctor probe failed", "error", err)
		} else {
			logger.Info("pipeline capabilities detected",
				"analyze", caps.HasAnalyze,
				"render", caps.HasRender,
				"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total),
			)
		}
		return pipelines.NewLocalBackend(runner, doctor, cfg.MediaDir(), cfg.ResultsDir(), logger), doctor

	default:
		logger.Info("using http backend", "url", cfg.BackendURL())
		return backend.NewHTTPClient(cfg.BackendURL(), cfg.BackendToken(), cfg.ResultsDir(), logger), nil
	}
}

// newSnapshots keeps session snapshots in redis when an address is configured.
func newSnapshots(ctx context.Context, cfg *config.EnvConfig, logger *slog.Logger) (session.SnapshotStore, func(), error) {
	if cfg.RedisAddr() == "" {
		return session.NewMemorySnapshots(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr(), err)
	}

	logger.Info("session snapshots stored in redis", "addr", cfg.RedisAddr())
	return session.NewRedisSnapshots(rdb, cfg.SessionTTL()), func() { rdb.Close() }, nil
}

func ensureAuthToken(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
