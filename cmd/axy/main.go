package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozmos-labs/axy/internal/agent"
	"github.com/kozmos-labs/axy/internal/journal"
	"github.com/kozmos-labs/axy/internal/kozmos"
	"github.com/kozmos-labs/axy/internal/llm"
	"github.com/kozmos-labs/axy/internal/notify"
	"github.com/kozmos-labs/axy/pkg/governor"
	"github.com/kozmos-labs/axy/pkg/semdup"
	_ "modernc.org/sqlite"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("axy %s (%s)\n", version, commit)
		os.Exit(0)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cp := *configPath
	if cp == "" {
		cp = os.Getenv("AXY_CONFIG_PATH")
	}
	cfg, err := agent.LoadConfig(cp)
	if err != nil {
		slog.Error("failed to load config", "path", cp, "error", err)
		os.Exit(1)
	}

	slog.Info("axy starting",
		"version", version,
		"name", cfg.Name,
		"base_url", cfg.BaseURL,
	)

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Reply generation provider
	var provider llm.Provider
	switch cfg.LLM.Provider {
	case "anthropic-compat":
		provider = llm.NewAnthropicCompat(cfg.LLM.Provider, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	default:
		provider = llm.NewAnthropic(cfg.LLM.APIKey, cfg.LLM.Model)
	}

	gov := governor.New(governorConfig(cfg))
	a := agent.New(cfg, kozmos.NewClient(cfg.BaseURL), provider, gov)

	// Outcome journal
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			slog.Error("failed to open journal", "path", cfg.JournalPath, "error", err)
			os.Exit(1)
		}
		defer j.Close()
		a.Journal = j
	}

	// Semantic duplicate archive
	if cfg.Archive.Enabled {
		store, err := semdup.NewStore(ctx, cfg.Archive.PostgresURL)
		if err != nil {
			slog.Error("failed to connect archive store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			slog.Error("failed to init archive schema", "error", err)
			os.Exit(1)
		}
		archive := semdup.NewArchive(store, semdup.NewEmbedClient(cfg.Archive.TEIURL), cfg.Archive.DistanceCutoff)
		a.Archive = archive
		gov.AttachArchive(archive)
		slog.Info("semantic archive enabled", "tei", cfg.Archive.TEIURL)
	}

	// Operator notifications
	if cfg.Matrix.Enabled {
		n, err := notify.New(ctx, notify.Config{
			Homeserver: cfg.Matrix.Homeserver,
			UserID:     cfg.Matrix.UserID,
			Password:   cfg.Matrix.Password,
			ServerName: cfg.Matrix.ServerName,
			RoomID:     cfg.Matrix.RoomID,
			DataDir:    cfg.Matrix.DataDir,
		})
		if err != nil {
			slog.Warn("matrix notifier unavailable", "error", err)
		} else {
			a.Notifier = n
		}
	}

	if err := a.Claim(ctx); err != nil {
		slog.Error("claim failed", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("agent error", "error", err)
		os.Exit(1)
	}

	slog.Info("axy stopped")
}

func governorConfig(cfg *agent.Config) governor.Config {
	gc := governor.Config{
		HourlyCap:          cfg.Governor.HourlyCap,
		LocalWindow:        cfg.Governor.LocalWindow,
		GlobalWindow:       cfg.Governor.GlobalWindow,
		DuplicateThreshold: cfg.Governor.DuplicateThreshold,
	}
	if cfg.Governor.MinGap != "" {
		if d, err := time.ParseDuration(cfg.Governor.MinGap); err == nil {
			gc.MinGap = d
		}
	}
	return gc
}
