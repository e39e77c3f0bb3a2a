// ============================================================================
// States Agent CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra-based command line interface for the states agent.
//
// Command Structure:
//   states-agent                    # Root command
//   ├── run                         # Start the agent (worker + control surface)
//   │   └── --config, -c           # Specify config file
//   ├── load                        # Push a recipe to a running agent
//   │   ├── --addr                # Control surface address
//   │   └── --file, -f            # Recipe JSON file
//   ├── status                      # Query a running agent's version report
//   │   └── --addr                # Control surface address
//   ├── --version                   # Display version information
//   └── --help                      # Display help information
//
// run Command:
//   Starts the agent in-process:
//   1. Load config file
//   2. Construct module set, checksum store, metrics
//   3. Construct the States Worker and start its recipe loop
//   4. Serve the gRPC control surface (Load/Abort/Kill/StateDone/IsWaiting/GetVersion)
//   5. Start the Prometheus metrics server, if enabled
//   6. Listen for SIGINT/SIGTERM and shut down gracefully
//
// load Command:
//   Reads a recipe (version + states) from a JSON file and calls the
//   control surface's Load over gRPC.
//
// status Command:
//   Calls GetVersion over gRPC and prints the worker's current state.
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/opslink/states-agent/internal/checksum"
	"github.com/opslink/states-agent/internal/config"
	"github.com/opslink/states-agent/internal/metrics"
	"github.com/opslink/states-agent/internal/moduleset"
	"github.com/opslink/states-agent/internal/rpc"
	"github.com/opslink/states-agent/internal/worker"
	"github.com/opslink/states-agent/pkg/types"
)

var (
	configFile string
	addr       string
)

// BuildCLI assembles the root command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "states-agent",
		Short: "States Agent: a remote configuration worker",
		Long: `States Agent executes an ordered recipe of declarative
configuration states, coordinates cross-host synchronisation through a
Wait Barrier, and reports per-state outcomes to a Manager.`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildLoadCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the states agent",
		Long:  "Start the worker's recipe loop, control surface, and metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}
}

func runAgent(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.AgentID == "" {
		cfg.AgentID = rpc.NewAgentID()
	}

	log := slog.Default().With("component", "cli", "agent_id", cfg.AgentID)
	log.Info("starting states agent", "config", configFile, "listen_addr", cfg.RPC.ListenAddr)

	col := metrics.NewCollector()

	var manager worker.Manager
	if cfg.RPC.ManagerAddr != "" {
		cc, err := grpc.NewClient(cfg.RPC.ManagerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to dial manager at %s: %w", cfg.RPC.ManagerAddr, err)
		}
		manager = rpc.NewReportClient(cc, 5*time.Second)
	}

	checksums := checksum.NewStore(filepath.Join(cfg.Global.Watch, "checksum_store.json"))
	if err := checksums.Load(); err != nil {
		log.Warn("checksum store not loaded, starting empty", "error", err)
	}

	w := worker.New(worker.Config{
		AgentID:      cfg.AgentID,
		Manager:      manager,
		Modules:      moduleset.New(cfg.Module),
		Checksums:    checksums,
		Metrics:      col,
		DelaySeconds: cfg.Salt.DelayMinutes * 60,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(runCtx)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	lis, err := net.Listen("tcp", cfg.RPC.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.RPC.ListenAddr, err)
	}
	grpcServer := grpc.NewServer()
	rpc.RegisterControlServer(grpcServer, &rpc.ControlServer{Worker: w})
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("control surface stopped", "error", err)
		}
	}()

	log.Info("states agent started", "listen_addr", cfg.RPC.ListenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received, stopping")
	w.Abort(false, true)
	grpcServer.GracefulStop()
	if err := checksums.Save(); err != nil {
		log.Error("failed to save checksum store", "error", err)
	}
	if manager != nil {
		manager.Stop()
	}
	log.Info("states agent stopped")
	return nil
}

func buildLoadCommand() *cobra.Command {
	var recipeFile string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Push a recipe to a running agent",
		Long:  "Read a recipe (version + states) from a JSON file and load it into a running agent's control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			if recipeFile == "" {
				return fmt.Errorf("recipe file is required (use --file or -f)")
			}
			return loadRecipe(cmd.Context(), recipeFile)
		},
	}

	cmd.Flags().StringVarP(&recipeFile, "file", "f", "", "JSON file containing {\"version\":..., \"states\":[...]}")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7373", "control surface address")
	cmd.MarkFlagRequired("file")

	return cmd
}

func loadRecipe(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read recipe file: %w", err)
	}

	var recipe types.Recipe
	if err := json.Unmarshal(data, &recipe); err != nil {
		return fmt.Errorf("failed to parse recipe file: %w", err)
	}

	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to agent at %s: %w", addr, err)
	}
	defer cc.Close()

	client := rpc.NewControlClient(cc)
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Load(callCtx, recipe.Version, recipe.States); err != nil {
		return fmt.Errorf("failed to load recipe: %w", err)
	}

	fmt.Printf("loaded recipe %s (%d states) into agent at %s\n", recipe.Version, len(recipe.States), addr)
	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running agent's status",
		Long:  "Query the control surface's GetVersion and print the worker's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7373", "control surface address")
	return cmd
}

func showStatus(ctx context.Context) error {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to agent at %s: %w", addr, err)
	}
	defer cc.Close()

	client := rpc.NewControlClient(cc)
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	report, err := client.GetVersion(callCtx)
	if err != nil {
		return fmt.Errorf("failed to query status: %w", err)
	}

	waiting, err := client.IsWaiting(callCtx)
	if err != nil {
		return fmt.Errorf("failed to query wait state: %w", err)
	}

	fmt.Println("States Agent Status")
	fmt.Printf("  address:      %s\n", addr)
	fmt.Printf("  version:      %s\n", report.Version)
	fmt.Printf("  recipe_count: %d\n", report.RecipeCount)
	fmt.Printf("  running:      %t\n", report.Running)
	fmt.Printf("  waiting:      %t\n", waiting)
	fmt.Printf("  aborted:      %t\n", report.Aborted)
	return nil
}
