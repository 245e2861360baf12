package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okatkov/gptrelay/pkg/gptrelay/gateway"
	"github.com/okatkov/gptrelay/pkg/gptrelay/relay"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `gptrelay serve` command that runs the HTTP server.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the gptrelay HTTP server and answer queries on /gpt/{text}.

Examples:
  gptrelay serve
  gptrelay serve --config ./config.yaml
  GPTRELAY_PORT=8080 gptrelay serve`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg, os.Stdout)
	slog.SetDefault(logger)
	if configPath != "" {
		logger.Info("config loaded", "path", configPath)
	} else {
		logger.Info("no config file found, using defaults and environment")
	}

	relay.ResolveAPIKey(cfg, logger)

	mode := cfg.EffectiveMode()
	prompt := relay.LoadPromptFile(cfg.PromptFile, relay.DefaultPromptFor(mode), logger)

	client := relay.NewClient(cfg, logger)
	store := relay.NewConversationStore(prompt, cfg.Conversation.HistoryLimit, cfg.Conversation.EffectiveTTL(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartPruner(ctx)

	gw := gateway.New(client, store, cfg, prompt, logger)
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}

	logger.Info("gptrelay running. Press Ctrl+C to stop.",
		"model", cfg.Model,
		"fallback_model", cfg.FallbackModel,
		"mode", mode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := gw.Stop(shutdownCtx); err != nil {
			logger.Error("error stopping gateway", "error", err)
		}
		cancelShutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// resolveConfig loads configuration from the --config flag, a discovered
// file, or environment-only defaults. Every setting is optional.
func resolveConfig(cmd *cobra.Command) (*relay.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath != "" {
		cfg, err := relay.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := relay.FindConfigFile(); found != "" {
		cfg, err := relay.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return relay.LoadConfigFromEnv(), "", nil
}

// buildLogger creates the slog logger per config and the --verbose flag.
func buildLogger(cmd *cobra.Command, cfg *relay.Config, out *os.File) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
