package relay

import (
	"strings"
	"time"
)

// Mode selects how queries are turned into completion payloads.
const (
	// ModeChat keeps a sliding window of past turns and sends it as context.
	ModeChat = "chat"
	// ModeSingle sends each query alone, wrapped in a fixed prompt template.
	ModeSingle = "single"
)

// Config is the root configuration for the relay service.
type Config struct {
	// Model is the primary completion model id.
	Model string `yaml:"model"`

	// FallbackModel is tried once when the primary model fails through its
	// whole retry sequence. Empty or equal to Model disables fallback.
	FallbackModel string `yaml:"fallback_model"`

	// Mode is "chat" (per-caller conversation context) or "single"
	// (stateless one-shot queries).
	Mode string `yaml:"mode"`

	// PromptFile is the path of an optional prompt text file. In chat mode
	// it seeds the system message, in single mode it is the prefix context
	// wrapped around each query.
	PromptFile string `yaml:"prompt_file"`

	API          APIConfig          `yaml:"api"`
	Retry        RetryConfig        `yaml:"retry"`
	Conversation ConversationConfig `yaml:"conversation"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// APIConfig configures the upstream completion endpoint.
type APIConfig struct {
	// BaseURL is the API base, e.g.:
	//   - OpenAI: https://api.openai.com/v1
	//   - Any OpenAI-compatible gateway: http://localhost:8080/v1
	BaseURL string `yaml:"base_url"`

	// APIKey is the bearer credential. Prefer the OS keyring or the
	// GPTRELAY_API_KEY environment variable over a literal value here.
	APIKey string `yaml:"api_key,omitempty"`

	// CallTimeoutMs bounds one whole upstream invocation, retries and
	// backoff waits included, not each individual attempt.
	CallTimeoutMs int `yaml:"call_timeout_ms"`

	// Temperature is the sampling temperature forwarded upstream.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the completion length requested from the model.
	MaxTokens int `yaml:"max_tokens"`
}

// RetryConfig tunes the retry and backoff behavior for upstream calls.
type RetryConfig struct {
	// MaxRetries is the retry budget after the initial attempt, so a call
	// makes at most MaxRetries+1 attempts.
	MaxRetries int `yaml:"max_retries"`

	// BaseDelayMs is the delay before the first retry.
	BaseDelayMs int `yaml:"base_delay_ms"`

	// BackoffFactor multiplies the delay on each further retry.
	BackoffFactor float64 `yaml:"backoff_factor"`

	// JitterMaxMs is the upper bound of the random extra delay added to
	// every backoff wait.
	JitterMaxMs int `yaml:"jitter_max_ms"`

	// RetryOnStatusCodes lists the HTTP statuses considered transient.
	RetryOnStatusCodes []int `yaml:"retry_on_status_codes"`
}

// ConversationConfig tunes chat-mode history retention.
type ConversationConfig struct {
	// HistoryLimit is the number of completed user/assistant pairs kept
	// per conversation.
	HistoryLimit int `yaml:"history_limit"`

	// TTL is how long an idle conversation survives before pruning,
	// in time.ParseDuration syntax ("24h", "30m").
	TTL string `yaml:"ttl"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the TCP port the gateway listens on.
	Port int `yaml:"port"`

	// ResponseDeadlineMs bounds how long a request handler waits for an
	// answer before giving up with 504. The upstream work itself is not
	// cancelled by this deadline.
	ResponseDeadlineMs int `yaml:"response_deadline_ms"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// DefaultConfig returns the built-in defaults. Every field can be overridden
// by config file or environment; none is required to start.
func DefaultConfig() *Config {
	return &Config{
		Model:         "primary-model",
		FallbackModel: "fallback-model",
		Mode:          ModeChat,
		PromptFile:    "prompt.txt",
		API: APIConfig{
			BaseURL:       "https://api.openai.com/v1",
			CallTimeoutMs: 20000,
			Temperature:   0.7,
			MaxTokens:     1024,
		},
		Retry: DefaultRetryConfig(),
		Conversation: ConversationConfig{
			HistoryLimit: 6,
			TTL:          "24h",
		},
		Server: ServerConfig{
			Port:               3000,
			ResponseDeadlineMs: 25000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultRetryConfig returns the retry defaults used when the config leaves
// them unset.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:         3,
		BaseDelayMs:        400,
		BackoffFactor:      2,
		JitterMaxMs:        200,
		RetryOnStatusCodes: []int{408, 409, 425, 429, 500, 502, 503, 504},
	}
}

// Effective returns a copy of the retry config with defaults applied to
// zero fields.
func (r RetryConfig) Effective() RetryConfig {
	def := DefaultRetryConfig()
	out := r
	if out.MaxRetries == 0 {
		out.MaxRetries = def.MaxRetries
	}
	if out.BaseDelayMs == 0 {
		out.BaseDelayMs = def.BaseDelayMs
	}
	if out.BackoffFactor == 0 {
		out.BackoffFactor = def.BackoffFactor
	}
	if out.JitterMaxMs == 0 {
		out.JitterMaxMs = def.JitterMaxMs
	}
	if len(out.RetryOnStatusCodes) == 0 {
		out.RetryOnStatusCodes = def.RetryOnStatusCodes
	}
	return out
}

// Effective returns a copy of the API config with defaults applied to
// zero fields.
func (a APIConfig) Effective() APIConfig {
	out := a
	if out.BaseURL == "" {
		out.BaseURL = "https://api.openai.com/v1"
	}
	if out.CallTimeoutMs == 0 {
		out.CallTimeoutMs = 20000
	}
	if out.Temperature == 0 {
		out.Temperature = 0.7
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 1024
	}
	return out
}

// Effective returns a copy of the server config with defaults applied to
// zero fields.
func (s ServerConfig) Effective() ServerConfig {
	out := s
	if out.Port == 0 {
		out.Port = 3000
	}
	if out.ResponseDeadlineMs == 0 {
		out.ResponseDeadlineMs = 25000
	}
	return out
}

// EffectiveTTL parses the conversation TTL, falling back to the default on
// absence or a malformed value.
func (c ConversationConfig) EffectiveTTL() time.Duration {
	if c.TTL == "" {
		return DefaultConversationTTL
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return DefaultConversationTTL
	}
	return d
}

// EffectiveMode normalizes the mode selector. Anything that is not "single"
// runs in chat mode.
func (c *Config) EffectiveMode() string {
	if strings.ToLower(strings.TrimSpace(c.Mode)) == ModeSingle {
		return ModeSingle
	}
	return ModeChat
}
