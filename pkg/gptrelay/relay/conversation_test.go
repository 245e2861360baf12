package relay

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConversationSlidingWindow(t *testing.T) {
	t.Parallel()

	conv := NewConversation("be helpful", 2)
	for i := 1; i <= 3; i++ {
		conv.AppendUser(fmt.Sprintf("q%d", i))
		conv.AppendAssistant(fmt.Sprintf("r%d", i))
	}

	want := []Exchange{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "q2"},
		{Role: RoleAssistant, Content: "r2"},
		{Role: RoleUser, Content: "q3"},
		{Role: RoleAssistant, Content: "r3"},
	}
	if got := conv.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
}

func TestConversationLengthBound(t *testing.T) {
	t.Parallel()

	const limit = 2
	tests := []struct {
		pairs int
		want  int
	}{
		{0, 1},
		{1, 3},
		{2, 5},
		{3, 5},
		{10, 5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d pairs", tt.pairs), func(t *testing.T) {
			t.Parallel()
			conv := NewConversation("sys", limit)
			for i := 0; i < tt.pairs; i++ {
				conv.AppendUser(fmt.Sprintf("q%d", i))
				conv.AppendAssistant(fmt.Sprintf("r%d", i))
			}
			if got := conv.Len(); got != tt.want {
				t.Errorf("Len() after %d pairs = %d, want %d", tt.pairs, got, tt.want)
			}
		})
	}
}

func TestConversationSystemSurvivesEviction(t *testing.T) {
	t.Parallel()

	conv := NewConversation("the system prompt", 2)
	for i := 0; i < 10; i++ {
		conv.AppendUser("q")
		conv.AppendAssistant("r")
	}

	snap := conv.Snapshot()
	if snap[0].Role != RoleSystem || snap[0].Content != "the system prompt" {
		t.Errorf("Snapshot()[0] = %v, want the untouched system exchange", snap[0])
	}
}

func TestConversationStagedMessageInSnapshot(t *testing.T) {
	t.Parallel()

	conv := NewConversation("sys", 3)
	conv.AppendUser("hello")

	snap := conv.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() length = %d, want 2", len(snap))
	}
	last := snap[len(snap)-1]
	if last.Role != RoleUser || last.Content != "hello" {
		t.Errorf("last exchange = %v, want the staged user message", last)
	}
}

func TestConversationStagedMessageReplaced(t *testing.T) {
	t.Parallel()

	conv := NewConversation("sys", 3)
	conv.AppendUser("first try")
	conv.AppendUser("second try")

	if got := conv.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2 (staged messages never stack)", got)
	}
	snap := conv.Snapshot()
	if snap[1].Content != "second try" {
		t.Errorf("staged = %q, want %q", snap[1].Content, "second try")
	}
}

func TestConversationAssistantWithoutStagedIsNoOp(t *testing.T) {
	t.Parallel()

	conv := NewConversation("sys", 3)
	conv.AppendAssistant("stray reply")
	if got := conv.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestConversationTurnRecordsPair(t *testing.T) {
	t.Parallel()

	conv := NewConversation("sys", 3)
	reply, err := conv.Turn("hello", func(payload []Exchange) (string, error) {
		last := payload[len(payload)-1]
		if last.Role != RoleUser || last.Content != "hello" {
			t.Errorf("payload ends with %v, want the staged user message", last)
		}
		return "hi there", nil
	})
	if err != nil {
		t.Fatalf("Turn returned error: %v", err)
	}
	if reply != "hi there" {
		t.Errorf("reply = %q, want %q", reply, "hi there")
	}
	if got := conv.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}

	entries := conv.Entries()
	if len(entries) != 1 || entries[0].UserMessage != "hello" || entries[0].AssistantResponse != "hi there" {
		t.Errorf("Entries() = %v, want the completed pair", entries)
	}
}

func TestConversationFailedTurnLeavesNoTrace(t *testing.T) {
	t.Parallel()

	conv := NewConversation("sys", 3)
	wantErr := errors.New("upstream down")

	_, err := conv.Turn("doomed", func([]Exchange) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if got := conv.Len(); got != 1 {
		t.Errorf("Len() after failed turn = %d, want 1", got)
	}

	_, err = conv.Turn("next", func(payload []Exchange) (string, error) {
		for _, m := range payload {
			if m.Content == "doomed" {
				t.Errorf("failed query leaked into a later payload")
			}
		}
		return "fine", nil
	})
	if err != nil {
		t.Fatalf("Turn returned error: %v", err)
	}
}

func TestConversationConcurrentTurnsSerialize(t *testing.T) {
	t.Parallel()

	conv := NewConversation("sys", 6)

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = conv.Turn(fmt.Sprintf("q%d", n), func([]Exchange) (string, error) {
				cur := active.Add(1)
				if cur > peak.Load() {
					peak.Store(cur)
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return "r", nil
			})
		}(i)
	}
	wg.Wait()

	if got := peak.Load(); got != 1 {
		t.Errorf("concurrent turns = %d, want 1", got)
	}
	if got := conv.Len(); got != 1+2*4 {
		t.Errorf("Len() = %d, want %d", got, 1+2*4)
	}
}
