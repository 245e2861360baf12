package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okatkov/gptrelay/pkg/gptrelay/relay"
)

// rootBody is the fixed liveness reply on "/".
const rootBody = "gptrelay is running\n"

// maxReplyChars caps the reply length. The transport the replies are relayed
// into rejects longer messages, so overlong model output is cut to its first
// maxReplyChars characters.
const maxReplyChars = 1000

// conversationHeader names the caller's conversation. Requests without it
// share the default conversation.
const conversationHeader = "X-Conversation-ID"

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error struct {
		Message        string `json:"message"`
		Code           int    `json:"code"`
		UpstreamStatus int    `json:"upstream_status,omitempty"`
	} `json:"error"`
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) writeError(w http.ResponseWriter, message string, code, upstreamStatus int) {
	var resp errorResponse
	resp.Error.Message = message
	resp.Error.Code = code
	resp.Error.UpstreamStatus = upstreamStatus
	g.writeJSON(w, code, resp)
}

// handleRoot answers the liveness check on "/" for any method. Unknown
// paths land here too and get a 404.
func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		g.writeError(w, "not found", http.StatusNotFound, 0)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, rootBody)
}

// handleHealth implements GET /healthz.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed, 0)
		return
	}
	uptime := time.Since(g.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"mode":          g.mode,
		"uptime":        uptime,
		"conversations": g.conversations.Count(),
	})
}

// handleQuery implements GET /gpt/{text}: run the query through the model
// orchestration and answer with the trimmed plain-text reply.
//
// The upstream work is detached from the request context. When the response
// deadline fires the caller gets 504, but the in-flight turn keeps running
// and a late success still completes the conversation normally.
func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed, 0)
		return
	}

	// The path arrives percent-decoded, so spaces and punctuation in the
	// query text come through as-is.
	text := strings.TrimPrefix(r.URL.Path, "/gpt/")
	if strings.TrimSpace(text) == "" {
		g.writeError(w, "query text required", http.StatusBadRequest, 0)
		return
	}

	type result struct {
		reply string
		err   error
	}
	results := make(chan result, 1)

	callCtx := context.WithoutCancel(r.Context())
	go func() {
		reply, err := g.answer(callCtx, text, r.Header.Get(conversationHeader))
		results <- result{reply, err}
	}()

	deadline := time.NewTimer(g.deadline)
	defer deadline.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			g.writeFailure(w, res.err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, truncateReply(res.reply, maxReplyChars))
	case <-deadline.C:
		g.logger.Warn("response deadline exceeded",
			"deadline_ms", g.deadline.Milliseconds(),
			"path", r.URL.Path)
		g.writeError(w, "response deadline exceeded", http.StatusGatewayTimeout, 0)
	}
}

// answer routes the query through chat or single mode.
func (g *Gateway) answer(ctx context.Context, text, conversationKey string) (string, error) {
	if g.mode == relay.ModeSingle {
		resp, err := g.client.Complete(ctx, relay.BuildSingleShotPayload(g.prompt, text))
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	conv := g.conversations.GetOrCreate(conversationKey)
	return conv.Turn(text, func(payload []relay.Exchange) (string, error) {
		resp, err := g.client.Complete(ctx, payload)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
}

// writeFailure maps an orchestration error onto the transport: 503 for
// upstream statuses that mean "try again later", 500 for everything else,
// client timeouts included. Diagnostics are redacted before they leave.
func (g *Gateway) writeFailure(w http.ResponseWriter, err error) {
	message := relay.RedactSecret(err.Error(), g.apiKey)

	var apiErr *relay.APIError
	if errors.As(err, &apiErr) {
		code := http.StatusInternalServerError
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			code = http.StatusServiceUnavailable
		}
		if code == http.StatusServiceUnavailable && apiErr.RetryAfterSec > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfterSec))
		}
		g.logger.Error("upstream call failed",
			"upstream_status", apiErr.StatusCode,
			"kind", relay.Classify(err).String(),
			"error", message)
		g.writeError(w, message, code, apiErr.StatusCode)
		return
	}

	if errors.Is(err, relay.ErrClientTimeout) {
		g.logger.Error("upstream call timed out", "error", message)
		g.writeError(w, message, http.StatusInternalServerError, 0)
		return
	}

	g.logger.Error("request failed", "error", message)
	g.writeError(w, message, http.StatusInternalServerError, 0)
}

// truncateReply cuts a reply to its first max characters, counting runes so
// multi-byte text is never split mid-character.
func truncateReply(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
