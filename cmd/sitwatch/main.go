// Command sitwatch is the watch-side Sit agent.
//
// It owns the durable response queue, the voice-note store, and the watch end
// of the phone sync link. Responses captured by flow-runner or timer code are
// handed to the coordinator; the queue drains at launch and whenever the
// phone link or network comes back.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sit-app/sit/internal/apiclient"
	"github.com/sit-app/sit/internal/lockfile"
	"github.com/sit-app/sit/internal/models"
	"github.com/sit-app/sit/internal/responder"
	"github.com/sit-app/sit/internal/store"
	"github.com/sit-app/sit/internal/syncchannel"
	"github.com/sit-app/sit/internal/util"
	"github.com/sit-app/sit/internal/voicenotes"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for watch state data
	DefaultStateDir = "/var/lib/sit/watch"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "sit.db"
	// DefaultAPIBaseURL is the Sit backend the submission client talks to
	DefaultAPIBaseURL = "http://localhost:8080"
	// DefaultBridgeWSURL is the phone bridge pairing endpoint
	DefaultBridgeWSURL = "ws://localhost:8787/v1/pair/ws"
)

// Config holds environment configuration.
type Config struct {
	StateDir    string
	APIBaseURL  string
	BridgeWSURL string
	PairToken   string
	DeviceID    string
}

func main() {
	initializeLogger()
	config := loadEnvironmentConfig()

	stateDir := flag.String("state-dir", config.StateDir, "Directory for queue database and voice notes")
	apiURL := flag.String("api-url", config.APIBaseURL, "Sit backend base URL")
	bridgeURL := flag.String("bridge-url", config.BridgeWSURL, "Phone bridge websocket URL")
	pairToken := flag.String("pair-token", config.PairToken, "Pairing token for the phone bridge")
	flag.Parse()

	lock, err := lockfile.Acquire(*stateDir)
	if err != nil {
		slog.Error("sitwatch: failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := store.NewSQLiteStore(store.WithDSN(filepath.Join(*stateDir, DefaultDBFileName)))
	if err != nil {
		slog.Error("sitwatch: failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	voices, err := voicenotes.New(*stateDir)
	if err != nil {
		slog.Error("sitwatch: failed to create voice-note store", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := syncchannel.NewWSTransport(*bridgeURL, *pairToken)
	channel := syncchannel.New(st, transport, syncchannel.Handlers{
		OnFlow: func(f models.FlowDefinition) {
			slog.Info("sitwatch: flow updated from phone", "flowID", f.ID, "name", f.Name)
		},
		OnToken: func(string) {
			slog.Info("sitwatch: auth token updated from phone")
		},
		OnSettings: func(s models.NotificationSettings) {
			slog.Info("sitwatch: notification settings updated from phone", "perDay", s.PerDay, "start", s.StartHour, "end", s.EndHour)
		},
		OnLivePrompt: func(text string) {
			slog.Info("sitwatch: live prompt from phone", "text", text)
		},
	})

	client := apiclient.NewClient(*apiURL, channel.CachedToken)
	coordinator := responder.New(st, voices, client, responder.WithPendingObserver(func(n int) {
		slog.Info("sitwatch: pending responses", "count", n)
	}))

	transport.SetHandlers(channel.HandleMessage, func(up bool) {
		if up {
			channel.Flush()
			coordinator.DrainQueue(ctx)
		}
	})
	go transport.Run(ctx)

	seedCacheIfEmpty(ctx, channel, client, st)

	// Launch drain: deliver anything left over from the previous run.
	coordinator.DrainQueue(ctx)

	slog.Info("sitwatch: running", "stateDir", *stateDir, "deviceID", config.DeviceID, "pending", coordinator.PendingCount())
	<-ctx.Done()
	slog.Info("sitwatch: shutting down")
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
		slog.Debug("sitwatch: no .env file loaded", "error", err)
	}
	return Config{
		StateDir:    util.GetenvDefault("SIT_STATE_DIR", DefaultStateDir),
		APIBaseURL:  util.GetenvDefault("SIT_API_BASE_URL", DefaultAPIBaseURL),
		BridgeWSURL: util.GetenvDefault("SIT_BRIDGE_WS_URL", DefaultBridgeWSURL),
		PairToken:   os.Getenv("SIT_PAIR_TOKEN"),
		DeviceID:    util.GetenvDefault("SIT_DEVICE_ID", util.GenerateRandomID("watch_", 16)),
	}
}

// seedCacheIfEmpty fetches the profile once at startup when the watch has a
// token but no cached flow yet, so a freshly logged-in watch can run flows
// before the phone link ever comes up.
func seedCacheIfEmpty(ctx context.Context, channel *syncchannel.Channel, client *apiclient.Client, st store.StateCache) {
	if channel.CachedToken() == "" {
		return
	}
	if _, ok := channel.CachedFlow(); ok {
		return
	}
	profile, err := client.FetchProfile(ctx)
	if err != nil {
		slog.Warn("sitwatch: profile fetch failed, continuing with cached state", "error", err)
		return
	}
	if data, err := json.Marshal(profile.NotificationSettings); err == nil {
		if err := st.PutSlot(store.SlotNotificationSettings, data); err != nil {
			slog.Warn("sitwatch: failed to cache notification settings", "error", err)
		}
	}
	if profile.Flow != nil {
		if data, err := json.Marshal(profile.Flow); err == nil {
			if err := st.PutSlot(store.SlotFlow, data); err != nil {
				slog.Warn("sitwatch: failed to cache flow", "error", err)
			}
		}
	}
	slog.Info("sitwatch: cache seeded from profile")
}
