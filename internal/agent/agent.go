// Package agent runs the autonomous turn loop: stream a model response,
// execute the tool calls it asks for, feed the results back and repeat until
// the model answers without calling a tool.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/agent42/internal/contextmgr"
	"github.com/jkaninda/agent42/internal/llm"
	"github.com/jkaninda/agent42/internal/observability"
	"github.com/jkaninda/agent42/internal/tools"
)

// DefaultMaxRounds is the safety guard against unbounded tool use within one turn.
const DefaultMaxRounds = 50

// DefaultLoopWindow is how many recent tool calls are inspected for repetition.
const DefaultLoopWindow = 10

// ErrMaxRounds is returned when a turn exceeds its tool round budget.
var ErrMaxRounds = errors.New("maximum tool rounds reached")

// Conversation is the ordered message history of a session.
// The first message is the system prompt.
type Conversation []llm.Message

// Clone returns a copy that can be appended to without touching c.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// State is a turn loop state.
type State int

const (
	StateStreaming State = iota
	StateDispatching
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateDispatching:
		return "dispatching"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Callbacks receives progress while a turn runs. Calls are made
// synchronously from the turn's goroutine.
type Callbacks interface {
	OnTextDelta(text string)
	OnToolStart(call llm.ToolCall)
	OnToolEnd(result tools.Result)
}

// NopCallbacks ignores every event.
type NopCallbacks struct{}

func (NopCallbacks) OnTextDelta(string) {}

func (NopCallbacks) OnToolStart(llm.ToolCall) {}

func (NopCallbacks) OnToolEnd(tools.Result) {}

// ToolDispatcher executes a single tool call.
type ToolDispatcher interface {
	Schemas() []llm.ToolSchema
	Dispatch(ctx context.Context, call llm.ToolCall) *tools.Result
}

// Compactor keeps the conversation inside the context window.
type Compactor interface {
	MaybeCompact(ctx context.Context, conv []llm.Message, usageTokens int) ([]llm.Message, contextmgr.Outcome)
}

// ToolExecution is the audit record of one dispatched tool call.
type ToolExecution struct {
	SessionID  string
	ToolCallID string
	Tool       string
	Arguments  string
	Status     tools.Status
	IsError    bool
	Output     string
	Duration   time.Duration
	StartedAt  time.Time
}

// AuditRecorder persists tool executions. Failures are logged, never fatal.
type AuditRecorder interface {
	RecordToolExecution(ctx context.Context, exec *ToolExecution) error
}

// Agent runs turns against one provider and one dispatcher.
// An Agent serves one conversation at a time: it remembers the last
// provider-reported usage for the next context check.
type Agent struct {
	provider   llm.Provider
	dispatcher ToolDispatcher
	logger     *slog.Logger
	compactor  Compactor                    // nil = no compaction
	obs        *observability.Observability // nil = observability disabled
	audit      AuditRecorder                // nil = no audit trail
	sessionID  string
	maxRounds  int // 0 = DefaultMaxRounds
	maxTokens  int // 0 = provider default
	loopWindow int // 0 = DefaultLoopWindow, <0 disabled

	lastUsage int
}

// New creates an agent backed by the given provider and dispatcher.
func New(provider llm.Provider, dispatcher ToolDispatcher, logger *slog.Logger) *Agent {
	return &Agent{
		provider:   provider,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// WithCompactor attaches a context manager, run at the top of every round.
func (a *Agent) WithCompactor(c Compactor) *Agent {
	a.compactor = c
	return a
}

// WithObservability attaches tracing and metrics.
func (a *Agent) WithObservability(obs *observability.Observability) *Agent {
	a.obs = obs
	return a
}

// WithAudit records every tool execution under sessionID.
func (a *Agent) WithAudit(rec AuditRecorder, sessionID string) *Agent {
	a.audit = rec
	a.sessionID = sessionID
	return a
}

// WithMaxRounds sets the tool round budget per turn.
func (a *Agent) WithMaxRounds(n int) *Agent {
	a.maxRounds = n
	return a
}

// WithMaxTokens caps each model response.
func (a *Agent) WithMaxTokens(n int) *Agent {
	a.maxTokens = n
	return a
}

// WithLoopDetection sets the loop detection window. Negative disables it.
func (a *Agent) WithLoopDetection(window int) *Agent {
	a.loopWindow = window
	return a
}

func (a *Agent) rounds() int {
	if a.maxRounds <= 0 {
		return DefaultMaxRounds
	}
	return a.maxRounds
}

func (a *Agent) window() int {
	if a.loopWindow == 0 {
		return DefaultLoopWindow
	}
	return a.loopWindow
}
