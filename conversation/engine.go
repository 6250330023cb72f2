// Package conversation maintains per-identity chat transcripts and produces
// in-character replies through a language model.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"qawakun/store"
)

// defaultHistoryWindow caps how many stored turns are replayed to the model.
const defaultHistoryWindow = 40

// Engine drives the narrative chat for wallets and social identities.
type Engine struct {
	store     *store.Store
	completer Completer
	persona   string
	window    int
	logger    *slog.Logger
}

// NewEngine wires the transcript store and model client together. The
// persona is the fixed character prompt prepended to every exchange.
func NewEngine(st *store.Store, completer Completer, persona string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		completer: completer,
		persona:   persona,
		window:    defaultHistoryWindow,
		logger:    logger.With("component", "conversation"),
	}
}

// Reply appends the user's turn to the identity's transcript, asks the model
// for the next turn, persists both and returns the assistant text.
func (e *Engine) Reply(ctx context.Context, identity, userText string) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "", errors.New("conversation: empty message")
	}
	history, err := e.store.Conversation(identity)
	if err != nil {
		return "", fmt.Errorf("conversation: load transcript: %w", err)
	}
	history = append(history, store.ChatMessage{Role: "user", Content: userText})

	prompt := make([]store.ChatMessage, 0, len(history)+1)
	prompt = append(prompt, store.ChatMessage{Role: "system", Content: e.systemPrompt()})
	prompt = append(prompt, tail(history, e.window)...)

	answer, err := e.completer.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	history = append(history, store.ChatMessage{Role: "assistant", Content: answer})

	if err := e.store.PutConversation(identity, history); err != nil {
		return "", fmt.Errorf("conversation: persist transcript: %w", err)
	}
	e.logger.Debug("turn recorded", "identity", identity, "turns", len(history))
	return answer, nil
}

// History returns the stored transcript for an identity.
func (e *Engine) History(identity string) ([]store.ChatMessage, error) {
	return e.store.Conversation(identity)
}

// systemPrompt combines the persona with the operator-managed narrative
// context and game options, when present.
func (e *Engine) systemPrompt() string {
	parts := []string{e.persona}
	if text, err := e.store.ContextText(); err == nil && strings.TrimSpace(text) != "" {
		parts = append(parts, "Current world context:\n"+text)
	}
	if raw, err := e.store.GameOptions(); err == nil && len(raw) > 0 {
		parts = append(parts, "Game options:\n"+string(raw))
	}
	return strings.Join(parts, "\n\n")
}

func tail(messages []store.ChatMessage, n int) []store.ChatMessage {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
