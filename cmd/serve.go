package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vendaflow/vendaflow/internal/bus"
	"github.com/vendaflow/vendaflow/internal/channels/whatsapp"
	"github.com/vendaflow/vendaflow/internal/config"
	"github.com/vendaflow/vendaflow/internal/engine"
	"github.com/vendaflow/vendaflow/internal/flow"
	"github.com/vendaflow/vendaflow/internal/gateway"
	"github.com/vendaflow/vendaflow/internal/guard"
	"github.com/vendaflow/vendaflow/internal/identity"
	"github.com/vendaflow/vendaflow/internal/queue"
	"github.com/vendaflow/vendaflow/internal/store"
	filestore "github.com/vendaflow/vendaflow/internal/store/file"
	pgstore "github.com/vendaflow/vendaflow/internal/store/pg"
	sqlitestore "github.com/vendaflow/vendaflow/internal/store/sqlite"
	"github.com/vendaflow/vendaflow/internal/telemetry"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Verbose && logLevel != slog.LevelDebug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceShutdown, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without traces", "error", err)
	}

	conversations, err := openStore(cfg.Store)
	if err != nil {
		slog.Error("failed to open conversation store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}

	bots := guard.NewBotGuard(botConfig(cfg.Guard))
	greetings := guard.NewGreetingGuard(cfg.Guard.GreetingTTL())
	machine := flow.NewMachine(nil, nil, nil)

	var channel *whatsapp.Channel
	var sender bus.Sender
	if cfg.Channels.WhatsApp.Enabled {
		channel, err = whatsapp.New(whatsapp.Config{
			BridgeURL:         cfg.Channels.WhatsApp.BridgeURL,
			OutboundPerMinute: cfg.Channels.WhatsApp.OutboundPerMinute,
		})
		if err != nil {
			slog.Error("failed to create whatsapp channel", "error", err)
			os.Exit(1)
		}
		sender = channel
	} else {
		slog.Warn("no channel enabled, outbound actions are logged only")
		sender = logSender{}
	}

	processor := engine.New(conversations, machine, bots, greetings, sender)
	dispatcher := queue.NewDispatcher(ctx, processor.Process)

	ingestor := gateway.NewIngestor(
		identity.Normalizer{DefaultCountryCode: cfg.Identity.DefaultCountryCode},
		dispatcher,
		gateway.IngestConfig{
			ReplayWindow:     time.Duration(cfg.Ingest.ReplayWindowMinutes) * time.Minute,
			ReplayMaxEntries: cfg.Ingest.ReplayMaxEntries,
			StaleAfter:       time.Duration(cfg.Ingest.StaleAfterMinutes) * time.Minute,
		},
	)

	if channel != nil {
		channel.SetReceiver(ingestor)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start whatsapp channel", "error", err)
			os.Exit(1)
		}
	}

	server := gateway.NewServer(gateway.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPM:   cfg.Server.RateLimitRPM,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}, ingestor)
	if err := server.Start(); err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}

	slog.Info("vendaflow started",
		"version", Version,
		"run_id", uuid.NewString(),
		"store", cfg.Store.Driver,
		"whatsapp", cfg.Channels.WhatsApp.Enabled)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Stop the inbound surfaces together, then drain what they already
	// accepted.
	var g errgroup.Group
	g.Go(func() error { return server.Stop(shutdownCtx) })
	if channel != nil {
		g.Go(func() error { return channel.Stop(shutdownCtx) })
	}
	if err := g.Wait(); err != nil {
		slog.Warn("inbound shutdown error", "error", err)
	}
	// Let queued messages finish before the store closes.
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		slog.Warn("dispatcher drain incomplete", "error", err)
	}
	if err := conversations.Close(); err != nil {
		slog.Warn("store close error", "error", err)
	}
	if traceShutdown != nil {
		if err := traceShutdown(shutdownCtx); err != nil {
			slog.Warn("trace flush error", "error", err)
		}
	}
	slog.Info("shutdown complete")
}

// openStore selects the conversation store backend from config.
func openStore(cfg config.StoreConfig) (store.ConversationStore, error) {
	switch cfg.Driver {
	case "", "file":
		return filestore.New(cfg.Path)
	case "sqlite":
		return sqlitestore.New(cfg.Path)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("VENDAFLOW_POSTGRES_DSN environment variable is not set")
		}
		return pgstore.New(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// botConfig maps file-level guard settings onto the guard package config.
func botConfig(g config.GuardConfig) guard.BotConfig {
	return guard.BotConfig{
		Weights:              g.Weights,
		BlockThreshold:       g.BlockThreshold,
		MinHumanReplyLatency: time.Duration(g.MinHumanReplyLatencyMS) * time.Millisecond,
		BurstWindow:          time.Duration(g.BurstWindowSeconds) * time.Second,
		BurstLimit:           g.BurstLimit,
		BlockDuration:        time.Duration(g.BlockDurationHours) * time.Hour,
		CannedPhrases:        g.CannedPhrases,
	}
}

// logSender is the dry-run sender used when no channel is enabled.
type logSender struct{}

func (logSender) Send(_ context.Context, a bus.OutboundAction) error {
	slog.Info("outbound (dry-run)", "contact", a.Contact, "type", string(a.Type), "payload", a.Payload)
	return nil
}
