package relay

import (
	"log/slog"
	"os"
	"strings"
)

// DefaultChatPrompt seeds chat-mode conversations when no prompt file exists.
const DefaultChatPrompt = "You are a helpful assistant. Answer clearly and concisely."

// DefaultSinglePrefix is the built-in prefix context for single mode.
const DefaultSinglePrefix = "Answer the following question accurately and concisely."

// singleShotSystem is the fixed system message used for every single-mode
// query.
const singleShotSystem = "You are a helpful assistant that answers one question at a time."

// answerCue closes a single-mode prompt so the model replies immediately
// after the question.
const answerCue = "\nAnswer:"

// DefaultPromptFor returns the built-in prompt text for a mode.
func DefaultPromptFor(mode string) string {
	if mode == ModeSingle {
		return DefaultSinglePrefix
	}
	return DefaultChatPrompt
}

// LoadPromptFile reads the optional prompt file once at startup. Absence or
// unreadability is tolerated: the fallback text is used and the miss logged.
func LoadPromptFile(path, fallback string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("prompt file not found, using built-in default", "path", path)
		} else {
			logger.Warn("prompt file unreadable, using built-in default", "path", path, "error", err)
		}
		return fallback
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		logger.Warn("prompt file is empty, using built-in default", "path", path)
		return fallback
	}
	logger.Info("prompt loaded", "path", path, "chars", len(text))
	return text
}

// BuildSingleShotPayload assembles the stateless two-message payload for
// single mode: a fixed system message plus the prefix context, the query
// and an answer cue concatenated into one user message.
func BuildSingleShotPayload(prefix, query string) []Exchange {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString(answerCue)

	return []Exchange{
		{Role: RoleSystem, Content: singleShotSystem},
		{Role: RoleUser, Content: b.String()},
	}
}
