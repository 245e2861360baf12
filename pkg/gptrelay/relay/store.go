package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultConversationTTL is how long an idle conversation survives before
// the pruner removes it.
const DefaultConversationTTL = 24 * time.Hour

// DefaultConversationKey is the identity used for requests that carry none.
const DefaultConversationKey = "default"

// ConversationStore keeps conversations keyed by caller identity, so
// unrelated dialogues never share a window.
type ConversationStore struct {
	conversations map[string]*Conversation
	systemPrompt  string
	historyLimit  int
	ttl           time.Duration
	logger        *slog.Logger
	mu            sync.RWMutex
}

// NewConversationStore creates a store whose conversations are seeded with
// systemPrompt and bounded to historyLimit pairs.
func NewConversationStore(systemPrompt string, historyLimit int, ttl time.Duration, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &ConversationStore{
		conversations: make(map[string]*Conversation),
		systemPrompt:  systemPrompt,
		historyLimit:  historyLimit,
		ttl:           ttl,
		logger:        logger.With("component", "conversations"),
	}
}

// GetOrCreate returns the conversation for key, creating it on first use.
// An empty key maps to DefaultConversationKey.
func (cs *ConversationStore) GetOrCreate(key string) *Conversation {
	if key == "" {
		key = DefaultConversationKey
	}

	cs.mu.RLock()
	if conv, exists := cs.conversations[key]; exists {
		cs.mu.RUnlock()
		return conv
	}
	cs.mu.RUnlock()

	cs.mu.Lock()
	defer cs.mu.Unlock()

	// Double-check after taking the write lock.
	if conv, exists := cs.conversations[key]; exists {
		return conv
	}

	conv := NewConversation(cs.systemPrompt, cs.historyLimit)
	cs.conversations[key] = conv
	cs.logger.Debug("conversation created", "key", key)
	return conv
}

// Count returns the number of live conversations.
func (cs *ConversationStore) Count() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.conversations)
}

// Prune removes conversations idle past the TTL and returns how many went.
func (cs *ConversationStore) Prune() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cutoff := time.Now().Add(-cs.ttl)
	pruned := 0
	for key, conv := range cs.conversations {
		if conv.LastActive().Before(cutoff) {
			delete(cs.conversations, key)
			pruned++
		}
	}
	if pruned > 0 {
		cs.logger.Info("idle conversations pruned",
			"pruned", pruned,
			"remaining", len(cs.conversations))
	}
	return pruned
}

// StartPruner runs Prune on a timer until ctx is cancelled.
func (cs *ConversationStore) StartPruner(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cs.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cs.Prune()
			case <-ctx.Done():
				return
			}
		}
	}()
}
