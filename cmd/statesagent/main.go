// ============================================================================
// States Agent - Main Entry Point
// ============================================================================
//
// File: cmd/statesagent/main.go
// Purpose: Application entry point, re-exec dispatch, and CLI initialization.
//
// Responsibilities:
//   1. Re-exec dispatch - recognize the hidden Child Executor subcommand
//      before Cobra ever sees argv, since it is not a user-facing command.
//   2. Version Management - inject build info via ldflags
//   3. Panic Recovery - catch unexpected panics gracefully
//   4. CLI Setup - build and run the Cobra command tree
//
// Version Injection:
//   go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
//
// Usage:
//   ./states-agent --help              # Show help
//   ./states-agent run                 # Start the agent
//   ./states-agent load -f recipe.json # Push a recipe to a running agent
//   ./states-agent status              # View agent status
//
// ============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/opslink/states-agent/internal/cli"
	"github.com/opslink/states-agent/internal/executor"
	"github.com/opslink/states-agent/internal/worker"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// The Child Executor re-exec branch: StartChildExecutor spawns this
	// same binary with argv[1] == worker.ReexecSubcommand. Intercept it
	// here, before Cobra parses anything, since it is an internal
	// implementation detail, not a user-facing command.
	if len(os.Args) > 1 && os.Args[1] == worker.ReexecSubcommand {
		os.Exit(runChild())
	}

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runChild reads one state descriptor from stdin, executes it through the
// compiled-in module registry, and writes the result to stdout as JSON.
func runChild() int {
	stdin, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "childexec: read stdin: %v\n", err)
		return 1
	}
	return worker.RunChildMain(context.Background(), executor.New(), stdin, os.Stdout)
}
