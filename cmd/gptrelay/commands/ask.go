package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/okatkov/gptrelay/pkg/gptrelay/relay"
	"github.com/spf13/cobra"
)

// newAskCmd creates `gptrelay ask`, a one-off query from the terminal that
// goes through the same retry and fallback path as the HTTP route.
func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send a single query and print the reply",
		Long: `Send one query to the configured model and print the reply to stdout.

Examples:
  gptrelay ask "what is the capital of Nauru"
  gptrelay ask --model gpt-4o-mini "summarize RFC 1149"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}
	cmd.Flags().String("model", "", "override the primary model")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// Logs go to stderr so the reply on stdout stays clean for piping.
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	relay.ResolveAPIKey(cfg, logger)
	if override, _ := cmd.Flags().GetString("model"); override != "" {
		cfg.Model = override
	}

	prompt := relay.LoadPromptFile(cfg.PromptFile, relay.DefaultPromptFor(relay.ModeSingle), logger)
	client := relay.NewClient(cfg, logger)
	query := strings.Join(args, " ")

	deadline := time.Duration(cfg.Server.Effective().ResponseDeadlineMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	resp, err := client.Complete(ctx, relay.BuildSingleShotPayload(prompt, query))
	if err != nil {
		return fmt.Errorf("query failed: %s", relay.RedactSecret(err.Error(), cfg.API.APIKey))
	}

	fmt.Println(resp.Content)
	return nil
}
