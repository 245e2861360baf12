package relay

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// The upstream credential lives, in order of preference, in:
//  1. the OS keyring (Linux: Secret Service, macOS: Keychain, Windows:
//     Credential Manager), written by `gptrelay config set-key`
//  2. the GPTRELAY_API_KEY or OPENAI_API_KEY environment variable
//  3. the config file (plaintext on disk, warned about at load)

const (
	keyringService = "gptrelay"
	keyringAPIKey  = "api_key"
)

// StoreAPIKey saves the upstream credential in the OS keyring.
func StoreAPIKey(value string) error {
	return keyring.Set(keyringService, keyringAPIKey, value)
}

// DeleteAPIKey removes the upstream credential from the OS keyring.
func DeleteAPIKey() error {
	return keyring.Delete(keyringService, keyringAPIKey)
}

// apiKeyFromKeyring returns the stored credential, or "" when the keyring
// is unavailable or holds none.
func apiKeyFromKeyring() string {
	val, err := keyring.Get(keyringService, keyringAPIKey)
	if err != nil {
		return ""
	}
	return val
}

// KeyringAvailable probes whether an OS keyring backend is usable.
func KeyringAvailable() bool {
	const probe = "__gptrelay_test__"
	if err := keyring.Set(keyringService, probe, "1"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

// ResolveAPIKey fills cfg.API.APIKey through the priority chain. A missing
// credential is tolerated: the service starts and upstream calls fail with
// their natural auth error.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if val := apiKeyFromKeyring(); val != "" {
		cfg.API.APIKey = val
		logger.Debug("API key loaded from OS keyring")
		return
	}
	if cfg.API.APIKey != "" && !IsEnvReference(cfg.API.APIKey) {
		logger.Debug("API key loaded from config/env")
		return
	}
	cfg.API.APIKey = ""
	logger.Warn("no API key found; upstream calls will fail until one is set",
		"hint", "gptrelay config set-key, or export GPTRELAY_API_KEY")
}

// ReadPassword prompts for a secret without echoing it. Falls back to plain
// stdin when no terminal is attached (pipes, CI).
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		buf := make([]byte, 512)
		n, readErr := os.Stdin.Read(buf)
		if readErr != nil {
			return "", fmt.Errorf("reading input: %w", readErr)
		}
		return trimNewlines(string(buf[:n])), nil
	}
	fmt.Println()
	return strings.TrimSpace(string(data)), nil
}

func trimNewlines(s string) string {
	return strings.TrimRight(s, "\r\n")
}

// RedactSecret masks every occurrence of secret inside s. Upstream error
// bodies can echo the bearer token back; nothing that leaves this process
// in logs or responses may contain it.
func RedactSecret(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "[redacted]")
}

// MaskSecret returns a display-safe form of a credential for `config show`.
func MaskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
