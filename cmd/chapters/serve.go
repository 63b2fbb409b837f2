package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heimdex/chapter-agent/internal/api"
	"github.com/heimdex/chapter-agent/internal/chapterfmt"
	"github.com/heimdex/chapter-agent/internal/config"
	"github.com/heimdex/chapter-agent/internal/db"
	"github.com/heimdex/chapter-agent/internal/fetch"
	"github.com/heimdex/chapter-agent/internal/logging"
	"github.com/heimdex/chapter-agent/internal/session"
	"github.com/heimdex/chapter-agent/internal/store"
	"github.com/heimdex/chapter-agent/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chapter agent API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runServe(cmd.Context(), cfg, headless || cfg.Headless())
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "run without the system tray icon")
	return cmd
}

func runServe(parent context.Context, cfg config.Config, headless bool) error {
	startTime := time.Now()

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting chapter agent",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := store.NewRepository(database.Conn(), logging.WithComponent(logger, "store"))

	deviceID, err := ensureDeviceID(parent, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(parent, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	printBanner(cfg.Port(), authToken, deviceID)

	sessions := session.NewManager(session.ManagerConfig{
		Images:  repo,
		Fetcher: fetch.NewClient(cfg.FetchTimeout(), cfg.MaxImageBytes(), logging.WithComponent(logger, "fetch")),
		ExportOptions: chapterfmt.ExportOptions{
			IncludeImageLinks: cfg.ImageBaseURL() != "",
			ImageBaseURL:      cfg.ImageBaseURL(),
		},
		Logger: logging.WithComponent(logger, "session"),
	})
	reaper := session.NewReaper(sessions, cfg.SessionTTL(), logging.WithComponent(logger, "reaper"))

	apiServer := api.NewServer(api.ServerConfig{
		Port:          cfg.Port(),
		Sessions:      sessions,
		Repository:    repo,
		Reaper:        reaper,
		MaxImageBytes: cfg.MaxImageBytes(),
		Logger:        logging.WithComponent(logger, "api"),
		StartTime:     startTime,
		DeviceID:      deviceID,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var tray *ui.Tray
	if headless {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Sessions: sessions,
			Reaper:   reaper,
			Logger:   logging.WithComponent(logger, "tray"),
			OnQuit:   cancel,
		})
		go tray.Run(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reaper.Start(gctx)
		return nil
	})

	g.Go(func() error {
		return apiServer.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if tray != nil {
			tray.Quit()
		}
		err := apiServer.Shutdown(shutdownCtx)
		sessions.CloseAll(shutdownCtx)
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("agent stopped: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func printBanner(port int, authToken, deviceID string) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  CHAPTER AGENT v%-25s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", port)
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
}

type configStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

func ensureDeviceID(ctx context.Context, repo configStore) (string, error) {
	return ensureSecret(ctx, repo, store.ConfigKeyDeviceID, 16)
}

func ensureAuthToken(ctx context.Context, repo configStore) (string, error) {
	return ensureSecret(ctx, repo, store.ConfigKeyAuthToken, 32)
}

// ensureSecret returns the stored value for key, generating and storing a
// random hex value of n bytes on first use.
func ensureSecret(ctx context.Context, repo configStore, key string, n int) (string, error) {
	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := hex.EncodeToString(buf)

	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}
