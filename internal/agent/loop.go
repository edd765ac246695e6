package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/agent42/internal/contextmgr"
	"github.com/jkaninda/agent42/internal/llm"
	"github.com/jkaninda/agent42/internal/observability"
	"github.com/jkaninda/agent42/internal/tools"
)

// auditOutputLimit caps the tool output stored in an audit record.
const auditOutputLimit = 4096

// RunTurn drives the conversation until the model replies without tool
// calls. The returned conversation is a new slice; conv is never modified.
//
// Tool failures never end a turn. A stream failure returns *llm.ProviderError
// with the conversation as it was before the failed request, so it can be
// used for the next turn as is.
func (a *Agent) RunTurn(ctx context.Context, conv Conversation, cb Callbacks) (Conversation, error) {
	if cb == nil {
		cb = NopCallbacks{}
	}

	ctx, span := a.obs.TracerOrNil().Tracer().Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("agent.provider", a.provider.Name()),
			attribute.String("agent.session_id", a.sessionID),
			attribute.Int("agent.messages", len(conv)),
		))
	defer span.End()

	start := time.Now()
	conv = conv.Clone()
	state := StateStreaming
	rounds := 0
	var reply llm.Message

	finish := func(status string, err error) (Conversation, error) {
		a.obs.MetricsOrNil().RecordTurn(status, rounds, time.Since(start))
		span.SetAttributes(
			attribute.Int("agent.rounds", rounds),
			attribute.String("agent.status", status),
		)
		observability.RecordError(span, err)
		return conv, err
	}

	for {
		switch state {
		case StateStreaming:
			if err := ctx.Err(); err != nil {
				return finish("cancelled", err)
			}
			if rounds >= a.rounds() {
				a.logger.WarnContext(ctx, "max tool rounds reached",
					slog.Int("max_rounds", a.rounds()),
					slog.String("session_id", a.sessionID),
				)
				return finish("max_rounds", ErrMaxRounds)
			}
			rounds++

			conv = a.compact(ctx, conv)

			msg, err := a.stream(ctx, conv, cb)
			if err != nil {
				if ctx.Err() != nil {
					return finish("cancelled", ctx.Err())
				}
				return finish("provider_error", err)
			}
			reply = msg
			if reply.HasToolCalls() {
				conv = append(conv, reply)
				state = StateDispatching
			} else {
				state = StateDone
			}

		case StateDispatching:
			a.logger.InfoContext(ctx, "executing tool calls",
				slog.Int("round", rounds),
				slog.Int("tool_calls", len(reply.ToolCalls)),
				slog.String("session_id", a.sessionID),
			)
			conv = a.dispatch(ctx, conv, reply.ToolCalls, cb)
			conv = a.checkLoop(ctx, conv)
			state = StateStreaming

		case StateDone:
			conv = append(conv, reply)
			return finish("done", nil)
		}
	}
}

// compact runs the context manager. A failure is logged and the
// conversation continues uncompacted.
func (a *Agent) compact(ctx context.Context, conv Conversation) Conversation {
	if a.compactor == nil {
		return conv
	}
	next, outcome := a.compactor.MaybeCompact(ctx, conv, a.lastUsage)
	if outcome.Action == contextmgr.ActionNone {
		return conv
	}
	a.obs.MetricsOrNil().RecordCompaction(outcome.Action.String())
	trace.SpanFromContext(ctx).AddEvent("context."+outcome.Action.String(), trace.WithAttributes(
		attribute.Int("tokens_before", outcome.TokensBefore),
		attribute.Int("tokens_after", outcome.TokensAfter),
	))
	if outcome.Err != nil {
		a.logger.WarnContext(ctx, "context compaction failed",
			slog.String("error", outcome.Err.Error()),
			slog.String("session_id", a.sessionID),
		)
	}
	// Usage reported before a rewrite no longer describes the conversation.
	if outcome.Action == contextmgr.ActionPruned || outcome.Action == contextmgr.ActionCompacted {
		a.lastUsage = 0
	}
	return next
}

// stream requests one model response. The provider runs in its own goroutine
// and the events are consumed here, text deltas forwarded as they arrive.
// Tool-call fragments are assembled once the stream has ended.
func (a *Agent) stream(ctx context.Context, conv Conversation, cb Callbacks) (llm.Message, error) {
	ctx, span := a.obs.TracerOrNil().Tracer().Start(ctx, "agent.stream")
	defer span.End()

	req := &llm.Request{
		Messages:  conv,
		Tools:     a.dispatcher.Schemas(),
		MaxTokens: a.maxTokens,
	}

	events := make(chan llm.StreamEvent)
	asm := llm.NewAssembler()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.provider.StreamMessage(gctx, req, events)
	})
	g.Go(func() error {
		for ev := range events {
			asm.Add(ev)
			if ev.Type == llm.EventTextDelta && ev.Text != "" {
				cb.OnTextDelta(ev.Text)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		var perr *llm.ProviderError
		if !errors.As(err, &perr) {
			perr = &llm.ProviderError{Provider: a.provider.Name(), Err: err}
		}
		observability.RecordError(span, perr)
		a.logger.ErrorContext(ctx, "model stream failed",
			slog.String("provider", perr.Provider),
			slog.String("error", perr.Err.Error()),
		)
		return llm.Message{}, perr
	}

	if usage := asm.Usage(); usage.Total() > 0 {
		a.lastUsage = usage.Total()
		span.SetAttributes(
			attribute.Int("llm.input_tokens", usage.InputTokens),
			attribute.Int("llm.output_tokens", usage.OutputTokens),
		)
	}
	msg := asm.Message()
	span.SetAttributes(attribute.Int("llm.tool_calls", len(msg.ToolCalls)))
	return msg, nil
}

// dispatch executes calls in order and appends one tool message per call.
// Once ctx is cancelled the remaining calls get cancelled results so that
// every call is still answered.
func (a *Agent) dispatch(ctx context.Context, conv Conversation, calls []llm.ToolCall, cb Callbacks) Conversation {
	tracer := a.obs.TracerOrNil().Tracer()
	for _, call := range calls {
		cb.OnToolStart(call)

		started := time.Now()
		var res *tools.Result
		if ctx.Err() != nil {
			res = tools.ErrorResult(tools.StatusCancelled, "Error: tool call cancelled")
			res.ToolCallID = call.ID
			res.Tool = call.Name
		} else {
			tctx, span := tracer.Start(ctx, "agent.tool",
				trace.WithAttributes(
					attribute.String("tool.name", call.Name),
					attribute.String("tool.call_id", call.ID),
				))
			res = a.dispatcher.Dispatch(tctx, call)
			span.SetAttributes(attribute.String("tool.status", string(res.Status)))
			span.End()
		}

		cb.OnToolEnd(*res)
		conv = append(conv, llm.ToolMessage(call.ID, res.Content, res.IsError))
		a.record(ctx, call, res, started)
	}
	return conv
}

// record writes the audit entry for one tool call.
func (a *Agent) record(ctx context.Context, call llm.ToolCall, res *tools.Result, started time.Time) {
	if a.audit == nil {
		return
	}
	output := tools.CutUTF8(res.Content, auditOutputLimit)
	exec := &ToolExecution{
		SessionID:  a.sessionID,
		ToolCallID: call.ID,
		Tool:       call.Name,
		Arguments:  call.Arguments,
		Status:     res.Status,
		IsError:    res.IsError,
		Output:     output,
		Duration:   res.Duration,
		StartedAt:  started,
	}
	// The audit write must not be skipped because the turn was cancelled.
	if err := a.audit.RecordToolExecution(context.WithoutCancel(ctx), exec); err != nil {
		a.logger.WarnContext(ctx, "failed to record tool execution",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()),
		)
	}
}

// checkLoop appends a steering message when the recent tool calls repeat.
func (a *Agent) checkLoop(ctx context.Context, conv Conversation) Conversation {
	window := a.window()
	if window < 0 || !DetectLoop(conv, window) {
		return conv
	}
	a.logger.WarnContext(ctx, "tool call loop detected",
		slog.Int("window", window),
		slog.String("session_id", a.sessionID),
	)
	a.obs.MetricsOrNil().RecordLoop()
	return append(conv, llm.UserMessage(fmt.Sprintf(
		"Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", window)))
}
