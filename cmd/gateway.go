package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/icotes/agenthub/internal/agentsvc"
	"github.com/icotes/agenthub/internal/broker"
	"github.com/icotes/agenthub/internal/capability"
	"github.com/icotes/agenthub/internal/chat"
	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/internal/gateway"
	"github.com/icotes/agenthub/internal/memory"
	"github.com/icotes/agenthub/internal/providers"
	"github.com/icotes/agenthub/internal/telemetry"
	"github.com/icotes/agenthub/internal/tools"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the WebSocket gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
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
	if err := os.MkdirAll(cfg.Workspace.Root, 0755); err != nil {
		slog.Error("workspace unavailable", "root", cfg.Workspace.Root, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}

	bus := broker.New()

	router := execctx.NewRouter(cfg.Workspace.Root)
	toolReg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(toolReg, router, cfg); err != nil {
		slog.Error("tool registration failed", "error", err)
		os.Exit(1)
	}
	caps := capability.NewRegistry()
	if err := capability.RegisterBuiltins(caps, router, cfg); err != nil {
		slog.Error("capability registration failed", "error", err)
		os.Exit(1)
	}

	mem, err := memory.NewManager(cfg.Memory)
	if err != nil {
		slog.Error("memory backend failed", "error", err)
		os.Exit(1)
	}

	images := &providers.ImageResolver{
		MediaDir:      filepath.Join(cfg.Workspace.Root, chat.MediaSubdir),
		WorkspaceRoot: cfg.Workspace.Root,
	}

	agents := agentsvc.NewService(cfg, images, bus)
	agents.SetCapabilities(caps)
	agents.SetMemory(mem)
	agents.SetTools(toolReg)

	chatSvc, err := chat.NewService(cfg, agents, bus)
	if err != nil {
		slog.Error("chat service failed", "error", err)
		os.Exit(1)
	}

	// Warm the default agent so the first message does not pay creation
	// latency and connecting clients see agent_status available.
	if _, err := agents.Default(ctx); err != nil {
		slog.Warn("default agent unavailable", "error", err)
	}

	server := gateway.NewServer(cfg, chatSvc, agents, bus)
	if err := server.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
	}

	agents.StopAll()
	if err := chatSvc.Close(); err != nil {
		slog.Warn("chat flush failed", "error", err)
	}
	bus.Close()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(flushCtx); err != nil {
		slog.Warn("telemetry flush failed", "error", err)
	}
}
