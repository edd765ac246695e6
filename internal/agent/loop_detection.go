package agent

import (
	"crypto/sha256"
	"fmt"
	"slices"

	"github.com/jkaninda/agent42/internal/llm"
)

// toolCallSignature identifies a call by name and a hash of its arguments.
func toolCallSignature(call llm.ToolCall) string {
	h := sha256.Sum256([]byte(call.Name + "\x00" + call.Arguments))
	return fmt.Sprintf("%s:%x", call.Name, h[:8])
}

// recentSignatures returns up to count signatures of the most recent tool
// calls, oldest first.
func recentSignatures(conv Conversation, count int) []string {
	var sigs []string
	for i := len(conv) - 1; i >= 0 && len(sigs) < count; i-- {
		msg := conv[i]
		if msg.Role != llm.RoleAssistant {
			continue
		}
		for j := len(msg.ToolCalls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, toolCallSignature(msg.ToolCalls[j]))
		}
	}
	slices.Reverse(sigs)
	return sigs
}

// DetectLoop reports whether the last window tool calls repeat a pattern
// of length 1, 2 or 3.
func DetectLoop(conv Conversation, window int) bool {
	if window <= 1 {
		return false
	}
	sigs := recentSignatures(conv, window)
	if len(sigs) < window {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		if repeats(sigs, patternLen) {
			return true
		}
	}
	return false
}

func repeats(sigs []string, patternLen int) bool {
	for i := patternLen; i < len(sigs); i++ {
		if sigs[i] != sigs[i%patternLen] {
			return false
		}
	}
	return true
}
