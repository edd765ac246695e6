package contextmgr

import (
	"github.com/tiktoken-go/tokenizer"

	"github.com/jkaninda/agent42/internal/llm"
)

// charsPerToken is the fallback ratio when no codec is available.
const charsPerToken = 4

// messageOverhead approximates the role and framing tokens of one message.
const messageOverhead = 4

// TokenCounter estimates token counts with the cl100k encoding.
// All providers are approximated with the same encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a counter; if the codec cannot be loaded it falls
// back to a character-based estimate.
func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if tc == nil || tc.codec == nil {
		return len(text) / charsPerToken
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / charsPerToken
	}
	return n
}

// Message estimates one message including tool-call names and arguments.
func (tc *TokenCounter) Message(m llm.Message) int {
	n := messageOverhead + tc.Count(m.Content)
	for _, call := range m.ToolCalls {
		n += tc.Count(call.Name) + tc.Count(call.Arguments)
	}
	return n
}

// Conversation estimates the total size of a conversation.
func (tc *TokenCounter) Conversation(conv []llm.Message) int {
	total := 0
	for _, m := range conv {
		total += tc.Message(m)
	}
	return total
}
