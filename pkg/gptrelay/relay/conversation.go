package relay

import (
	"sync"
	"time"
)

// Roles for Exchange entries, matching the completion API wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Exchange is one utterance in a dialogue: who spoke and what was said.
// It doubles as the wire format of a chat completion message.
type Exchange struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationEntry is a completed user/assistant pair.
type ConversationEntry struct {
	UserMessage       string
	AssistantResponse string
	Timestamp         time.Time
}

// DefaultHistoryLimit is the number of completed pairs a conversation keeps
// when the config does not say otherwise.
const DefaultHistoryLimit = 6

// Conversation holds the system prompt and a sliding window of the most
// recent turns for one caller. The flattened form (system + pairs + at most
// one staged user message) never exceeds 1 + 2*historyLimit exchanges;
// overflow evicts the oldest pair as a unit. The system exchange is never
// evicted.
//
// History only ever contains completed pairs: a user message stays staged
// until its reply arrives, and is discarded when the call fails.
type Conversation struct {
	system       string
	historyLimit int

	mu         sync.RWMutex
	entries    []ConversationEntry
	pending    string
	hasPending bool
	createdAt  time.Time
	lastActive time.Time

	// turnMu serializes whole turns, so concurrent requests on the same
	// conversation cannot interleave their append/call/append sequences.
	turnMu sync.Mutex
}

// NewConversation creates a conversation seeded with the system prompt.
func NewConversation(systemPrompt string, historyLimit int) *Conversation {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	now := time.Now()
	return &Conversation{
		system:       systemPrompt,
		historyLimit: historyLimit,
		createdAt:    now,
		lastActive:   now,
	}
}

// AppendUser stages a user message, evicting the oldest completed pair when
// the window is full. A stale staged message from an earlier failed turn is
// replaced, never stacked.
func (c *Conversation) AppendUser(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.historyLimit {
		c.entries = c.entries[1:]
	}
	c.pending = text
	c.hasPending = true
	c.lastActive = time.Now()
}

// AppendAssistant completes the staged message into a pair. The window was
// already adjusted when the user message was staged, so no eviction happens
// here. Without a staged message this is a no-op.
func (c *Conversation) AppendAssistant(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasPending {
		return
	}
	c.entries = append(c.entries, ConversationEntry{
		UserMessage:       c.pending,
		AssistantResponse: text,
		Timestamp:         time.Now(),
	})
	c.pending = ""
	c.hasPending = false
	c.lastActive = time.Now()
}

// DiscardPending drops a staged user message whose call never produced a
// reply, keeping the stored history pairs-only.
func (c *Conversation) DiscardPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = ""
	c.hasPending = false
}

// Snapshot returns the exchange sequence to send upstream: the system
// exchange, the completed pairs oldest first, and the staged user message
// when one exists.
func (c *Conversation) Snapshot() []Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Exchange, 0, 2*len(c.entries)+2)
	out = append(out, Exchange{Role: RoleSystem, Content: c.system})
	for _, entry := range c.entries {
		out = append(out,
			Exchange{Role: RoleUser, Content: entry.UserMessage},
			Exchange{Role: RoleAssistant, Content: entry.AssistantResponse})
	}
	if c.hasPending {
		out = append(out, Exchange{Role: RoleUser, Content: c.pending})
	}
	return out
}

// Len returns the flattened exchange count: system + pairs + staged message.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 1 + 2*len(c.entries)
	if c.hasPending {
		n++
	}
	return n
}

// Entries returns a copy of the completed pairs, oldest first.
func (c *Conversation) Entries() []ConversationEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ConversationEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// LastActive returns when the conversation last saw a message.
func (c *Conversation) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

// Turn runs one user-to-assistant exchange: stage the message, call with
// the snapshot, and either record the reply or discard the staged message
// on failure. Turns on the same conversation run one at a time, so
// concurrent callers serialize here instead of interleaving history.
func (c *Conversation) Turn(text string, call func(payload []Exchange) (string, error)) (string, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	c.AppendUser(text)
	reply, err := call(c.Snapshot())
	if err != nil {
		c.DiscardPending()
		return "", err
	}
	c.AppendAssistant(reply)
	return reply, nil
}
