package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/agent42/internal/agent"
	"github.com/jkaninda/agent42/internal/gateway/cli"
	"github.com/jkaninda/agent42/internal/llm"
)

// Exit codes for the run command.
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitProviderError = 2
	ExitMaxRounds     = 3
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a single turn and exit",
	Long: `Send one request to the agent, print the streamed answer and the tool
calls it makes, then exit.

Examples:
  agent42 run "list files in /workspace"
  agent42 run "add a unit test for parse.go" --config ./agent42.yaml

Exit codes:
  0  success
  1  failure
  2  every model provider failed
  3  the tool round limit was reached`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOnce,
}

func runOnce(_ *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return fmt.Errorf("prompt is required")
	}

	logger := newLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer := cli.NewPrinter(os.Stdout)
	_, err = sc.Session.Send(ctx, prompt, printer)
	if err == nil {
		printer.EndTurn()
		sc.Cleanup()
		return nil
	}

	printer.PrintError(err)
	code := ExitFailure
	var perr *llm.ProviderError
	switch {
	case errors.As(err, &perr):
		code = ExitProviderError
	case errors.Is(err, agent.ErrMaxRounds):
		code = ExitMaxRounds
	}
	// os.Exit skips deferred calls.
	sc.Cleanup()
	stop()
	os.Exit(code)
	return nil
}
