package commands

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates `gptrelay health`, which probes a running instance.
// Exits non-zero when the instance is unreachable or unhealthy, so it works
// as a container healthcheck.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a running instance's health endpoint",
		RunE:  runHealth,
	}
	cmd.Flags().String("address", "", "base URL of the instance (default http://localhost:<port>)")
	return cmd
}

func runHealth(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		cfg, _, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		addr = fmt.Sprintf("http://localhost:%d", cfg.Server.Effective().Port)
	}
	addr = strings.TrimRight(addr, "/")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/healthz")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}
