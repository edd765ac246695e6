// Package contextmgr keeps a conversation inside the model's context window.
//
// MaybeCompact is called at the top of every streaming round. It first prunes
// stale tool output and, if that is not enough, replaces older history with a
// model-written summary. Both steps build a new slice; the input conversation
// is never modified, so a failure leaves the caller with a usable history.
package contextmgr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/agent42/internal/llm"
	"github.com/jkaninda/agent42/internal/tools"
)

// Config controls when and how the conversation is shortened.
type Config struct {
	ContextLimit     int     // Model context window in tokens. 0 = 128000.
	Threshold        float64 // Fraction of ContextLimit that triggers compaction. 0 = 0.85.
	RetainTail       int     // Most recent messages kept verbatim. 0 = 6.
	PruneProtect     int     // Recent tool output tokens never pruned. 0 = 40000.
	PruneMinimum     int     // Prune only when at least this many tokens are reclaimable. 0 = 20000.
	SummaryMaxTokens int     // Output cap for the summary request. 0 = 4096.
	ToolOutputChars  int     // Per-result cap when rendering the transcript. 0 = 4000.
}

// Action is what MaybeCompact did.
type Action int

const (
	ActionNone Action = iota
	ActionPruned
	ActionCompacted
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionPruned:
		return "pruned"
	case ActionCompacted:
		return "compacted"
	case ActionFailed:
		return "failed"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Outcome describes a MaybeCompact call. Err is a *CompactionError when
// Action is ActionFailed.
type Outcome struct {
	Action       Action
	TokensBefore int
	TokensAfter  int
	Err          error
}

// Manager decides when to shorten a conversation and performs it.
type Manager struct {
	cfg      Config
	provider llm.Provider
	counter  *TokenCounter
	logger   *slog.Logger
}

// New creates a Manager that summarizes through provider.
func New(provider llm.Provider, cfg Config, logger *slog.Logger) *Manager {
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = 128000
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.85
	}
	if cfg.RetainTail <= 0 {
		cfg.RetainTail = 6
	}
	if cfg.PruneProtect <= 0 {
		cfg.PruneProtect = 40000
	}
	if cfg.PruneMinimum <= 0 {
		cfg.PruneMinimum = 20000
	}
	if cfg.SummaryMaxTokens <= 0 {
		cfg.SummaryMaxTokens = 4096
	}
	if cfg.ToolOutputChars <= 0 {
		cfg.ToolOutputChars = 4000
	}
	return &Manager{
		cfg:      cfg,
		provider: provider,
		counter:  NewTokenCounter(),
		logger:   logger,
	}
}

// Trigger is the token count at which the conversation gets shortened.
func (m *Manager) Trigger() int {
	return int(float64(m.cfg.ContextLimit) * m.cfg.Threshold)
}

// Estimate returns the estimated token size of conv.
func (m *Manager) Estimate(conv []llm.Message) int {
	return m.counter.Conversation(conv)
}

// MaybeCompact shortens conv when it has grown past the trigger.
// usageTokens is the size the provider last reported; when non-zero it is
// preferred over the local estimate.
func (m *Manager) MaybeCompact(ctx context.Context, conv []llm.Message, usageTokens int) ([]llm.Message, Outcome) {
	tokens := usageTokens
	if tokens <= 0 {
		tokens = m.Estimate(conv)
	}
	out := Outcome{Action: ActionNone, TokensBefore: tokens, TokensAfter: tokens}
	if tokens < m.Trigger() {
		return conv, out
	}

	m.logger.InfoContext(ctx, "context over threshold",
		slog.Int("tokens", tokens),
		slog.Int("trigger", m.Trigger()),
		slog.Int("messages", len(conv)),
	)

	if pruned, reclaimed := m.Prune(conv); reclaimed > 0 {
		after := tokens - reclaimed
		m.logger.InfoContext(ctx, "pruned tool output",
			slog.Int("reclaimed_tokens", reclaimed),
			slog.Int("tokens_after", after),
		)
		if after < m.Trigger() {
			out.Action = ActionPruned
			out.TokensAfter = after
			return pruned, out
		}
		conv = pruned
		out.Action = ActionPruned
		out.TokensAfter = after
	}

	compacted, err := m.Compact(ctx, conv)
	if err != nil {
		m.logger.WarnContext(ctx, "compaction failed, continuing uncompacted", slog.Any("error", err))
		out.Action = ActionFailed
		out.Err = err
		// Pruning already succeeded and keeps pairing intact.
		return conv, out
	}
	out.Action = ActionCompacted
	out.TokensAfter = m.Estimate(compacted)
	m.logger.InfoContext(ctx, "conversation compacted",
		slog.Int("messages_before", len(conv)),
		slog.Int("messages_after", len(compacted)),
		slog.Int("tokens_after", out.TokensAfter),
	)
	return compacted, out
}

// Prune replaces tool output older than the last two user messages with a
// placeholder. The most recent PruneProtect tokens of tool output are kept,
// and nothing happens unless at least PruneMinimum tokens can be reclaimed.
// It returns the new conversation and the number of tokens reclaimed.
func (m *Manager) Prune(conv []llm.Message) ([]llm.Message, int) {
	var (
		userTurns int
		seen      int
		reclaim   int
		targets   []int
	)
scan:
	for i := len(conv) - 1; i > 0; i-- {
		msg := conv[i]
		switch msg.Role {
		case llm.RoleUser:
			userTurns++
		case llm.RoleTool:
			if userTurns < 2 {
				continue
			}
			if msg.Content == ClearedOutput {
				// Everything before an earlier prune is already cleared.
				break scan
			}
			n := m.counter.Count(msg.Content)
			seen += n
			if seen > m.cfg.PruneProtect {
				reclaim += n
				targets = append(targets, i)
			}
		}
	}
	if reclaim < m.cfg.PruneMinimum {
		return conv, 0
	}

	pruned := make([]llm.Message, len(conv))
	copy(pruned, conv)
	for _, i := range targets {
		pruned[i].Content = ClearedOutput
		reclaim -= m.counter.Count(ClearedOutput)
	}
	return pruned, reclaim
}

// Compact replaces everything between the system message (if any) and the
// retained tail with a summary written by the provider. The boundary is
// moved back so the tail never starts with a tool result.
func (m *Manager) Compact(ctx context.Context, conv []llm.Message) ([]llm.Message, error) {
	n := len(conv)
	head := 0
	if n > 0 && conv[0].Role == llm.RoleSystem {
		head = 1
	}
	boundary := max(n-m.cfg.RetainTail, head)
	for boundary > head && boundary < n && conv[boundary].Role == llm.RoleTool {
		boundary--
	}
	if boundary <= head {
		return nil, &CompactionError{Reason: "nothing to summarize"}
	}

	summary, _, err := llm.Summarize(ctx, m.provider, []llm.Message{
		llm.SystemMessage(summarySystemPrompt),
		llm.UserMessage(m.transcript(conv[head:boundary]) + "\n\n" + summaryRequestPrompt),
	}, m.cfg.SummaryMaxTokens)
	if err != nil {
		return nil, &CompactionError{Reason: "summary request", Err: err}
	}
	if summary == "" {
		return nil, &CompactionError{Reason: "empty summary"}
	}

	result := make([]llm.Message, 0, 2+n-boundary)
	result = append(result, conv[:head]...)
	result = append(result, llm.UserMessage(SummaryPrefix+"\n"+summary+"\n\n"+continuePrompt))
	result = append(result, conv[boundary:]...)

	if before, after := m.Estimate(conv), m.Estimate(result); after >= before {
		return nil, &CompactionError{Reason: fmt.Sprintf("summary did not shrink the conversation (%d >= %d tokens)", after, before)}
	}
	if err := ValidatePairing(result); err != nil {
		return nil, &CompactionError{Reason: "invalid result", Err: err}
	}
	return result, nil
}

// transcript renders history as plain text so the summary request carries
// no tool-call structure of its own.
func (m *Manager) transcript(msgs []llm.Message) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleTool:
			content := msg.Content
			if len(content) > m.cfg.ToolOutputChars {
				content = tools.CutUTF8(content, m.cfg.ToolOutputChars) + "\n[truncated]"
			}
			status := "result"
			if msg.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "\n[tool %s %s]\n%s\n", status, msg.ToolCallID, content)
		default:
			fmt.Fprintf(&b, "\n[%s]\n", msg.Role)
			if msg.Content != "" {
				b.WriteString(msg.Content)
				b.WriteByte('\n')
			}
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(&b, "[tool call %s %s] %s\n", call.ID, call.Name, call.Arguments)
			}
		}
	}
	return b.String()
}
