// Package gateway exposes the relay over HTTP: the query route, a liveness
// root and a health endpoint for orchestration probes.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/okatkov/gptrelay/pkg/gptrelay/relay"
)

// Gateway is the HTTP front end of the relay.
type Gateway struct {
	client        *relay.Client
	conversations *relay.ConversationStore
	mode          string
	prompt        string // single-mode prefix context
	apiKey        string // for redaction only, never written out
	port          int
	deadline      time.Duration
	server        *http.Server
	logger        *slog.Logger
	startedAt     time.Time
}

// New creates a Gateway wired to the client and conversation store. The
// prompt is the loaded prompt text; chat mode carries it inside the store
// already, single mode wraps it around each query.
func New(client *relay.Client, conversations *relay.ConversationStore, cfg *relay.Config, prompt string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	server := cfg.Server.Effective()
	return &Gateway{
		client:        client,
		conversations: conversations,
		mode:          cfg.EffectiveMode(),
		prompt:        prompt,
		apiKey:        cfg.API.APIKey,
		port:          server.Port,
		deadline:      time.Duration(server.ResponseDeadlineMs) * time.Millisecond,
		logger:        logger.With("component", "gateway"),
	}
}

// routes builds the handler chain.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.handleRoot)
	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/gpt/", g.handleQuery)
	return g.securityHeadersMiddleware(g.requestLogMiddleware(mux))
}

// Start begins serving in the background. Use Stop to shut down.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", g.port),
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()

	g.logger.Info("gateway started",
		"address", g.server.Addr,
		"mode", g.mode)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}
