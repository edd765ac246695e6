package contextmgr

import (
	"fmt"

	"github.com/jkaninda/agent42/internal/llm"
)

// ValidatePairing checks that every tool message answers exactly one call of
// the assistant message directly before its group, and that no call is left
// without a result.
func ValidatePairing(conv []llm.Message) error {
	var (
		open     map[string]bool // call ID -> answered
		openedAt int
	)
	closeGroup := func() error {
		for id, answered := range open {
			if !answered {
				return fmt.Errorf("tool call %q at index %d has no result", id, openedAt)
			}
		}
		open = nil
		return nil
	}

	for i, m := range conv {
		if m.Role == llm.RoleTool {
			if open == nil {
				return fmt.Errorf("orphan tool result %q at index %d", m.ToolCallID, i)
			}
			answered, ok := open[m.ToolCallID]
			if !ok {
				return fmt.Errorf("tool result %q at index %d matches no call of message %d", m.ToolCallID, i, openedAt)
			}
			if answered {
				return fmt.Errorf("duplicate tool result %q at index %d", m.ToolCallID, i)
			}
			open[m.ToolCallID] = true
			continue
		}

		if err := closeGroup(); err != nil {
			return err
		}
		if m.Role == llm.RoleAssistant && m.HasToolCalls() {
			open = make(map[string]bool, len(m.ToolCalls))
			openedAt = i
			for _, call := range m.ToolCalls {
				open[call.ID] = false
			}
		}
	}
	return closeGroup()
}
