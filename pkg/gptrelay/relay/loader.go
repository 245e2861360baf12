package relay

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?error} and $VAR
// references inside the config file.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads and processes a config file:
//  1. loads .env files into the process environment
//  2. expands ${VAR} references in the raw YAML
//  3. parses the YAML over the built-in defaults
//  4. applies GPTRELAY_* environment overrides
//  5. resolves the API key from the environment when the file has none
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Audit the raw parse, before expansion, so a key sourced from the
	// environment is not mistaken for one written into the file.
	if rawCfg, rawErr := ParseConfig(data); rawErr == nil {
		auditSecrets(rawCfg, path)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	resolveSecrets(cfg)
	checkFilePermissions(path)

	return cfg, nil
}

// LoadConfigFromEnv builds the effective config without a file: defaults,
// .env files, and environment overrides. Every setting is optional.
func LoadConfigFromEnv() *Config {
	loadEnvFiles(".")
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	resolveSecrets(cfg)
	return cfg
}

// ParseConfig unmarshals YAML over the defaults, so absent keys keep their
// default values.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// loadEnvFiles loads .env and .env.local from dir into the process
// environment. Missing files are fine.
func loadEnvFiles(dir string) {
	for _, name := range []string{".env", ".env.local"} {
		_ = godotenv.Load(filepath.Join(dir, name))
	}
}

// expandEnvVars substitutes environment variable references in the raw
// config text. ${VAR:?message} fails the load when VAR is unset.
func expandEnvVars(content string) (string, error) {
	var failure error
	out := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)

		name := groups[1]
		if name == "" {
			name = groups[4] // bare $VAR form
		}
		value, set := os.LookupEnv(name)

		switch groups[2] {
		case "-":
			if !set || value == "" {
				return groups[3]
			}
		case "?":
			if !set || value == "" {
				msg := groups[3]
				if msg == "" {
					msg = "required variable is not set"
				}
				if failure == nil {
					failure = fmt.Errorf("config references %s: %s", name, msg)
				}
				return match
			}
		}
		return value
	})
	if failure != nil {
		return "", failure
	}
	return out, nil
}

// applyEnvOverrides overlays documented GPTRELAY_* variables onto cfg.
// Environment wins over file values.
func applyEnvOverrides(cfg *Config) {
	setEnvString("GPTRELAY_MODEL", &cfg.Model)
	setEnvString("GPTRELAY_FALLBACK_MODEL", &cfg.FallbackModel)
	setEnvString("GPTRELAY_MODE", &cfg.Mode)
	setEnvString("GPTRELAY_PROMPT_FILE", &cfg.PromptFile)
	setEnvString("GPTRELAY_BASE_URL", &cfg.API.BaseURL)
	setEnvString("GPTRELAY_CONVERSATION_TTL", &cfg.Conversation.TTL)
	setEnvString("GPTRELAY_LOG_LEVEL", &cfg.Logging.Level)
	setEnvString("GPTRELAY_LOG_FORMAT", &cfg.Logging.Format)
	setEnvInt("GPTRELAY_PORT", &cfg.Server.Port)
	setEnvInt("GPTRELAY_RESPONSE_DEADLINE_MS", &cfg.Server.ResponseDeadlineMs)
	setEnvInt("GPTRELAY_CALL_TIMEOUT_MS", &cfg.API.CallTimeoutMs)
	setEnvInt("GPTRELAY_MAX_TOKENS", &cfg.API.MaxTokens)
	setEnvInt("GPTRELAY_MAX_RETRIES", &cfg.Retry.MaxRetries)
	setEnvInt("GPTRELAY_HISTORY_LIMIT", &cfg.Conversation.HistoryLimit)
}

func setEnvString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// setEnvInt parses an integer variable into dst, ignoring unset or
// malformed values.
func setEnvInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer environment variable", "name", name, "value", v)
		return
	}
	*dst = n
}

// resolveSecrets fills the API key from well-known environment variables
// when the config value is empty or an unexpanded reference.
func resolveSecrets(cfg *Config) {
	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		for _, envVar := range []string{"GPTRELAY_API_KEY", "OPENAI_API_KEY"} {
			if val := os.Getenv(envVar); val != "" {
				cfg.API.APIKey = val
				return
			}
		}
		cfg.API.APIKey = ""
	}
}

// auditSecrets warns when the config file carries a literal credential.
func auditSecrets(cfg *Config, path string) {
	if looksLikeRealKey(cfg.API.APIKey) {
		slog.Warn("API key is written in the config file. Use 'gptrelay config set-key' or the GPTRELAY_API_KEY environment variable instead.",
			"path", path,
			"hint", "api_key: ${GPTRELAY_API_KEY}")
	}
}

// IsEnvReference reports whether the value still looks like an unexpanded
// environment variable reference.
func IsEnvReference(value string) bool {
	return strings.HasPrefix(value, "${") || strings.HasPrefix(value, "$")
}

// looksLikeRealKey reports whether value is plausibly a live credential
// rather than a placeholder.
func looksLikeRealKey(value string) bool {
	if value == "" || IsEnvReference(value) {
		return false
	}
	if strings.HasPrefix(value, "sk-") {
		return true
	}
	return len(value) > 20
}

// checkFilePermissions warns when the config file is readable by group or
// other users.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file is readable by other users",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path))
	}
}

// SaveConfigToFile writes cfg as YAML with a commented header. An existing
// file is backed up to path.bak first. Credentials are replaced by an
// environment reference so they never land on disk.
func SaveConfigToFile(cfg *Config, path string) error {
	out := *cfg
	if out.API.APIKey != "" && !IsEnvReference(out.API.APIKey) {
		out.API.APIKey = "${GPTRELAY_API_KEY}"
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := "# gptrelay configuration.\n# Values support ${VAR}, ${VAR:-default} and ${VAR:?message} expansion.\n"
	content := []byte(header + string(data))

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			return fmt.Errorf("backing up existing config: %w", err)
		}
	}

	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile returns the first config file found in the conventional
// locations, or "" when none exists.
func FindConfigFile() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		"config.yaml",
		"config.yml",
		"gptrelay.yaml",
		"gptrelay.yml",
	}
	if home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".config", "gptrelay", "config.yaml"),
			filepath.Join(home, ".gptrelay.yaml"),
		)
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
