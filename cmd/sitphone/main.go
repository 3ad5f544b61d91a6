// Command sitphone is the phone-side Sit bridge.
//
// It serves the pairing websocket the watch dials and the local endpoints the
// phone UI glue uses to publish flow, token, and notification-settings
// updates onto the sync channel.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sit-app/sit/internal/bridge"
	"github.com/sit-app/sit/internal/lockfile"
	"github.com/sit-app/sit/internal/store"
	"github.com/sit-app/sit/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for phone bridge state
	DefaultStateDir = "/var/lib/sit/phone"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "phone.db"
	// DefaultAddr is the default bridge listen address
	DefaultAddr = ":8787"
	// DefaultTokenExpiryHours bounds issued pairing tokens
	DefaultTokenExpiryHours = 24
)

// Config holds environment configuration.
type Config struct {
	StateDir     string
	Addr         string
	DeviceSecret string
	TokenExpiry  time.Duration
}

func main() {
	initializeLogger()
	config := loadEnvironmentConfig()

	stateDir := flag.String("state-dir", config.StateDir, "Directory for bridge state")
	addr := flag.String("addr", config.Addr, "Bridge listen address")
	flag.Parse()

	if config.DeviceSecret == "" {
		slog.Error("sitphone: SIT_DEVICE_SECRET is required")
		os.Exit(1)
	}

	lock, err := lockfile.Acquire(*stateDir)
	if err != nil {
		slog.Error("sitphone: failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := store.NewSQLiteStore(store.WithDSN(filepath.Join(*stateDir, DefaultDBFileName)))
	if err != nil {
		slog.Error("sitphone: failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := bridge.New(bridge.Config{
		Addr:         *addr,
		DeviceSecret: config.DeviceSecret,
		TokenExpiry:  config.TokenExpiry,
	}, st)

	slog.Info("sitphone: starting bridge", "addr", *addr, "stateDir", *stateDir)
	if err := server.Run(ctx); err != nil {
		slog.Error("sitphone: bridge stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("sitphone: exited")
}

func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("SIT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("sitphone: no .env file loaded", "error", err)
	}
	expiryHours := util.ParseIntEnv("SIT_TOKEN_EXPIRY_HOURS", DefaultTokenExpiryHours)
	return Config{
		StateDir:     util.GetenvDefault("SIT_STATE_DIR", DefaultStateDir),
		Addr:         util.GetenvDefault("SIT_BRIDGE_ADDR", DefaultAddr),
		DeviceSecret: os.Getenv("SIT_DEVICE_SECRET"),
		TokenExpiry:  time.Duration(expiryHours) * time.Hour,
	}
}
