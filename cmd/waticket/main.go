// Package main is the entry point for the support desk core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"

	"github.com/supportdesk/waticket/internal/config"
	"github.com/supportdesk/waticket/internal/ingest"
	"github.com/supportdesk/waticket/internal/realtime"
	"github.com/supportdesk/waticket/internal/session"
	"github.com/supportdesk/waticket/internal/store"
	"github.com/supportdesk/waticket/internal/whatsmeow"
	"github.com/supportdesk/waticket/pkg/api"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	// A .env next to the binary seeds the environment before viper reads it.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("support desk starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
	)

	for _, dir := range []string{filepath.Dir(cfg.StorePath), cfg.SessionDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			logger.Error("failed to create data directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	storeDB, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer storeDB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	hub := realtime.NewHub(logger)
	registry := session.NewRegistry(logger)

	monitor := session.NewMonitor(registry,
		cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.ReconnectMaxRetries, logger)
	defer monitor.Stop()

	pipeline := ingest.NewPipeline(storeDB.Contacts, storeDB.Tickets, storeDB.Messages,
		hub, monitor, logger)

	manager := session.NewManager(storeDB.Accounts, registry, hub, pipeline,
		whatsmeow.NewFactory(cfg.SessionDir, logger), cfg.LaunchArgList(), logger)
	manager.SetMonitor(monitor)

	go renderQRCodes(hub, filepath.Dir(cfg.StorePath), logger)

	startStoredSessions(ctx, manager, storeDB.Accounts, logger)

	router := mux.NewRouter()
	api.NewServer(storeDB.Accounts, storeDB.Tickets, manager, monitor, logger).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr)
		errChan <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	teardownSessions(context.Background(), manager, storeDB.Accounts, logger)

	logger.Info("support desk stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// startStoredSessions reconnects every account that was connected when
// the desk last shut down.
func startStoredSessions(ctx context.Context, manager *session.Manager, accounts store.AccountRepository, logger *slog.Logger) {
	stored, err := accounts.List(ctx)
	if err != nil {
		logger.Error("failed to list accounts", "error", err)
		return
	}

	for _, account := range stored {
		if account.Status != store.StatusConnected {
			continue
		}
		account := account
		go func() {
			logger.Info("restoring session", "account", account.ID, "name", account.Name)
			if _, err := manager.Initialize(ctx, &account); err != nil {
				logger.Error("failed to restore session",
					"account", account.ID, "error", err)
			}
		}()
	}
}

func teardownSessions(ctx context.Context, manager *session.Manager, accounts store.AccountRepository, logger *slog.Logger) {
	stored, err := accounts.List(ctx)
	if err != nil {
		logger.Error("failed to list accounts for teardown", "error", err)
		return
	}
	for _, account := range stored {
		if _, err := manager.GetSession(account.ID); err == nil {
			manager.Teardown(account.ID)
		}
	}
}

// renderQRCodes watches session broadcasts and surfaces pairing QR codes
// to the operator: half-block rendering on stderr plus a scannable PNG.
func renderQRCodes(hub *realtime.Hub, dataDir string, logger *slog.Logger) {
	conn, err := hub.Subscribe()
	if err != nil {
		logger.Error("failed to subscribe for QR rendering", "error", err)
		return
	}
	defer conn.Close()

	for evt := range conn.Events() {
		if evt.Name != realtime.EventWhatsappSession {
			continue
		}
		payload, ok := evt.Payload.(realtime.SessionPayload)
		if !ok || payload.Session == nil || payload.Session.QRCode == "" {
			continue
		}
		if payload.Session.Status != store.StatusQRCode {
			continue
		}

		qrPath := filepath.Join(dataDir, fmt.Sprintf("qrcode-%d.png", payload.Session.ID))
		if err := qrcode.WriteFile(payload.Session.QRCode, qrcode.Medium, 256, qrPath); err != nil {
			logger.Error("failed to save QR code", "account", payload.Session.ID, "error", err)
		} else {
			logger.Info("QR code saved, scan it with the phone",
				"account", payload.Session.ID, "path", qrPath)
		}

		fmt.Fprintf(os.Stderr, "\nScan with WhatsApp on the phone for account %q:\n",
			payload.Session.Name)
		qrterminal.GenerateHalfBlock(payload.Session.QRCode, qrterminal.L, os.Stderr)
		fmt.Fprintln(os.Stderr)
	}
}
