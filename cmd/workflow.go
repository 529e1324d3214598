package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/titanous/json5"

	"github.com/icotes/agenthub/internal/agentsvc"
	"github.com/icotes/agenthub/internal/broker"
	"github.com/icotes/agenthub/internal/capability"
	"github.com/icotes/agenthub/internal/chat"
	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/internal/memory"
	"github.com/icotes/agenthub/internal/providers"
	"github.com/icotes/agenthub/internal/tools"
	"github.com/icotes/agenthub/internal/workflow"
)

func workflowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflow <file>",
		Short: "Run a workflow definition to completion",
		Long:  "Loads a JSON5 workflow definition, runs its task DAG on service-owned agents, and prints the final state.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runWorkflow(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
		},
	}
}

func runWorkflow(path string) error {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Workspace.Root, 0755); err != nil {
		return fmt.Errorf("workspace unavailable: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}
	var wfCfg workflow.Config
	if err := json5.Unmarshal(data, &wfCfg); err != nil {
		return fmt.Errorf("parse workflow %s: %w", path, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := broker.New()
	defer bus.Close()

	router := execctx.NewRouter(cfg.Workspace.Root)
	toolReg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(toolReg, router, cfg); err != nil {
		return fmt.Errorf("tool registration: %w", err)
	}
	caps := capability.NewRegistry()
	if err := capability.RegisterBuiltins(caps, router, cfg); err != nil {
		return fmt.Errorf("capability registration: %w", err)
	}
	mem, err := memory.NewManager(cfg.Memory)
	if err != nil {
		return fmt.Errorf("memory backend: %w", err)
	}
	images := &providers.ImageResolver{
		MediaDir:      filepath.Join(cfg.Workspace.Root, chat.MediaSubdir),
		WorkspaceRoot: cfg.Workspace.Root,
	}

	agents := agentsvc.NewService(cfg, images, bus)
	agents.SetCapabilities(caps)
	agents.SetMemory(mem)
	agents.SetTools(toolReg)
	defer agents.StopAll()

	bus.Subscribe("workflow-cli", "workflow.*", func(ev broker.Event) {
		payload, _ := ev.Payload.(map[string]interface{})
		taskID, _ := payload["task_id"].(string)
		detail, _ := payload["detail"].(string)
		line := ev.Topic
		if taskID != "" {
			line += " " + taskID
		}
		if detail != "" {
			line += ": " + detail
		}
		fmt.Fprintln(os.Stderr, line)
	})

	id, err := agents.CreateWorkflow(wfCfg)
	if err != nil {
		return err
	}
	runErr := agents.ExecuteWorkflow(ctx, id)

	state, err := agents.WorkflowState(id)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return runErr
}
