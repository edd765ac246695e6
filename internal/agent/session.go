package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jkaninda/agent42/internal/llm"
)

// Session owns one conversation across turns. Send calls are serialized.
type Session struct {
	ID string

	agent        *Agent
	systemPrompt string

	mu   sync.Mutex
	conv Conversation
}

// NewSession starts a conversation seeded with systemPrompt.
// An empty prompt falls back to DefaultSystemPrompt.
func NewSession(agent *Agent, systemPrompt string) *Session {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	id := uuid.New().String()
	agent.sessionID = id
	return &Session{
		ID:           id,
		agent:        agent,
		systemPrompt: systemPrompt,
		conv:         Conversation{llm.SystemMessage(systemPrompt)},
	}
}

// Send appends text as a user message and runs one turn. It returns the
// final assistant text.
//
// The conversation returned by the turn is kept even when the turn fails:
// it is always consistent, so the next Send continues from it.
func (s *Session) Send(ctx context.Context, text string, cb Callbacks) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := append(s.conv.Clone(), llm.UserMessage(text))
	next, err := s.agent.RunTurn(ctx, conv, cb)
	s.conv = next
	if err != nil {
		return "", err
	}
	return lastAssistantText(next), nil
}

// Conversation returns a snapshot of the history.
func (s *Session) Conversation() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Clone()
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conv)
}

// Reset drops everything but the system prompt.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv = Conversation{llm.SystemMessage(s.systemPrompt)}
	s.agent.lastUsage = 0
}

func lastAssistantText(conv Conversation) string {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == llm.RoleAssistant {
			return conv[i].Content
		}
	}
	return ""
}
