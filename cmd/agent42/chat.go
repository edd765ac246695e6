package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/agent42/internal/config"
	"github.com/jkaninda/agent42/internal/gateway"
	"github.com/jkaninda/agent42/internal/gateway/cli"
)

var (
	configPath string
	verbose    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session (default)",
	Long: `Start an interactive session in the terminal. Each line is sent to the
model as one turn; tool calls and their results are printed as they run.

Type /reset to clear the conversation and exit (or Ctrl-D) to quit.
When http.enabled is set, the ops server (health, metrics, audit) runs
alongside the session.`,
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: $AGENT42_CONFIG or ~/.agent42/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}

// newLogger writes JSON logs to stderr at warn level so they do not
// interleave with the model output. --verbose switches to text at debug.
func newLogger() *slog.Logger {
	if verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("config loaded",
		slog.String("provider", cfg.Providers.Default),
		slog.String("sandbox", cfg.Sandbox.Type),
	)
	return cfg, nil
}

// runChat runs the REPL, plus the ops server when enabled.
func runChat(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer := cli.NewPrinter(os.Stdout)
	printer.PrintWelcome(sc.LLMProvider.Name(), sc.Workspace.Root)

	repl := cli.NewGateway(sc.Session, os.Stdin, printer, logger)
	gateways := []gateway.Gateway{repl}
	if sc.OpsServer != nil {
		gateways = append(gateways, sc.OpsServer)
	}

	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// The session ends with the REPL, on a signal, or when the ops server fails.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
			runErr = fmt.Errorf("gateway: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return runErr
}
