package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"qawakun/storage"
	"qawakun/store"
)

type scriptedCompleter struct {
	reply    string
	err      error
	lastSeen []store.ChatMessage
}

func (s *scriptedCompleter) Complete(_ context.Context, messages []store.ChatMessage) (string, error) {
	s.lastSeen = messages
	return s.reply, s.err
}

func TestReplyPersistsBothTurns(t *testing.T) {
	st := store.New(storage.NewMemDB())
	completer := &scriptedCompleter{reply: "greetings, traveler"}
	engine := NewEngine(st, completer, "You are Qawakun.", nil)

	answer, err := engine.Reply(context.Background(), "wallet:0xabc", "hello")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if answer != "greetings, traveler" {
		t.Fatalf("unexpected answer %q", answer)
	}

	history, err := st.Conversation("wallet:0xabc")
	if err != nil {
		t.Fatalf("load transcript: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", history)
	}
}

func TestReplyIncludesPersonaAndContext(t *testing.T) {
	st := store.New(storage.NewMemDB())
	if err := st.PutContextText("The island is waking."); err != nil {
		t.Fatalf("seed context: %v", err)
	}
	completer := &scriptedCompleter{reply: "ok"}
	engine := NewEngine(st, completer, "You are Qawakun.", nil)

	if _, err := engine.Reply(context.Background(), "fid:7", "hi"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if len(completer.lastSeen) == 0 || completer.lastSeen[0].Role != "system" {
		t.Fatalf("expected system turn first, got %+v", completer.lastSeen)
	}
	sys := completer.lastSeen[0].Content
	if !strings.Contains(sys, "You are Qawakun.") || !strings.Contains(sys, "The island is waking.") {
		t.Fatalf("system prompt missing sections: %q", sys)
	}
}

func TestReplyRejectsEmptyMessage(t *testing.T) {
	st := store.New(storage.NewMemDB())
	engine := NewEngine(st, &scriptedCompleter{}, "persona", nil)
	if _, err := engine.Reply(context.Background(), "id", "   "); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestReplyWindowsLongHistories(t *testing.T) {
	st := store.New(storage.NewMemDB())
	var history []store.ChatMessage
	for i := 0; i < 60; i++ {
		history = append(history, store.ChatMessage{Role: "user", Content: fmt.Sprintf("turn %d", i)})
	}
	if err := st.PutConversation("id", history); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	completer := &scriptedCompleter{reply: "ok"}
	engine := NewEngine(st, completer, "persona", nil)
	if _, err := engine.Reply(context.Background(), "id", "latest"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	// system turn plus capped history
	if len(completer.lastSeen) != defaultHistoryWindow+1 {
		t.Fatalf("expected %d prompt turns, got %d", defaultHistoryWindow+1, len(completer.lastSeen))
	}

	stored, err := st.Conversation("id")
	if err != nil {
		t.Fatalf("load transcript: %v", err)
	}
	if len(stored) != 62 {
		t.Fatalf("full transcript should be retained, got %d turns", len(stored))
	}
}

func TestHTTPCompleter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "pong"}},
			},
		})
	}))
	defer server.Close()

	c := NewHTTPCompleter(server.URL, "key", "test-model")
	answer, err := c.Complete(context.Background(), []store.ChatMessage{{Role: "user", Content: "ping"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if answer != "pong" {
		t.Fatalf("unexpected answer %q", answer)
	}
}

func TestHTTPCompleterErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "bad model"},
		})
	}))
	defer server.Close()

	c := NewHTTPCompleter(server.URL, "key", "test-model")
	if _, err := c.Complete(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "bad model") {
		t.Fatalf("expected model error, got %v", err)
	}
}
