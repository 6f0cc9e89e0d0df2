package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tether-sh/tether/internal/authfile"
	"github.com/tether-sh/tether/internal/config"
	"github.com/tether-sh/tether/internal/hub"
	"github.com/tether-sh/tether/internal/journal"
	"github.com/tether-sh/tether/internal/logger"
	"github.com/tether-sh/tether/internal/session"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "tetherd",
		Short: "tether agent daemon",
		Long:  "tetherd keeps this machine's terminal sessions reachable through a tether hub.",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return run(configPath)
		},
	}
	root.Flags().String("config", defaultConfigPath(), "path to config file")
	root.Version = version

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/tether/tetherd.yaml"
	}
	return "tetherd.yaml"
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	agentID := cfg.Hub.AgentID
	if agentID == "" {
		host, _ := os.Hostname()
		agentID = host + "-" + uuid.NewString()[:8]
	}

	// The journal is optional; session lifecycle still logs without it.
	var onEvent func(session.Event)
	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer store.Close()
		onEvent = func(ev session.Event) {
			if err := store.Record(ev); err != nil {
				slog.Warn("journal write failed", "session", ev.SessionID, "err", err)
			}
		}
	}

	registry := session.NewRegistry(session.Options{
		ScrollbackBytes: cfg.Session.ScrollbackBytes,
		ReapInterval:    cfg.Session.ReapInterval(),
		OnEvent:         onEvent,
	})
	defer registry.KillAll()

	auth := authfile.NewService()
	defer auth.Close()

	hostname, _ := os.Hostname()
	client := &hub.Client{
		HubURL:   cfg.Hub.URL,
		AgentID:  agentID,
		Secret:   []byte(cfg.Hub.Secret),
		Hostname: hostname,
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		Version:  version,

		Registry: registry,
		Auth:     auth,

		HeartbeatInterval: cfg.Hub.HeartbeatInterval(),
		InitialAttempts:   cfg.Hub.InitialAttempts,
		BackoffBase:       cfg.Hub.BackoffBase(),
		BackoffMax:        cfg.Hub.BackoffMax(),
		RemoteCloseDelay:  cfg.Hub.RemoteCloseDelay(),
		LocalCloseDelay:   cfg.Hub.LocalCloseDelay(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.StartReaper(ctx)

	// SIGHUP cycles the hub connection without touching sessions.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			slog.Info("SIGHUP received, cycling hub connection")
			client.Disconnect("operator requested reconnect")
		}
	}()

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("tetherd %s, agent %s, hub %s\n", version, agentID, cfg.Hub.URL)
	}
	slog.Info("tetherd starting", "version", version, "agent", agentID, "hub", cfg.Hub.URL)

	err = client.Run(ctx)
	if ctx.Err() != nil {
		slog.Info("shutting down")
		return nil
	}
	return err
}
