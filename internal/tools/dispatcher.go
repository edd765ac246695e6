package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/agent42/internal/llm"
)

// Dispatcher maps a tool call to its implementation and normalizes the outcome.
// Dispatch never returns an error: every failure becomes an is_error result
// so the model can observe it and recover.
type Dispatcher struct {
	shell          Shell
	files          Files
	validators     map[Kind]*validator
	maxOutputChars int
	logger         *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxOutputChars caps the content returned to the model. Zero disables the cap.
func WithMaxOutputChars(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxOutputChars = n }
}

// NewDispatcher creates a dispatcher over the shell and file implementations.
func NewDispatcher(shell Shell, files Files, logger *slog.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		shell:          shell,
		files:          files,
		validators:     make(map[Kind]*validator, len(Kinds)),
		maxOutputChars: DefaultMaxOutputChars,
		logger:         logger,
	}
	for _, k := range Kinds {
		v, err := newValidator(k)
		if err != nil {
			return nil, err
		}
		d.validators[k] = v
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Schemas returns the tool schemas to advertise to the model.
func (d *Dispatcher) Schemas() []llm.ToolSchema {
	return Schemas()
}

// Dispatch executes one tool call and returns its result.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall) *Result {
	start := time.Now()
	res := d.dispatch(ctx, call)
	res.ToolCallID = call.ID
	res.Tool = call.Name
	res.Duration = time.Since(start)
	res.Content = TruncateOutput(res.Content, d.maxOutputChars)
	if res.Status == "" {
		res.Status = StatusOK
		if res.IsError {
			res.Status = StatusError
		}
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, call llm.ToolCall) *Result {
	kind, ok := ParseKind(call.Name)
	if !ok {
		d.logger.WarnContext(ctx, "unknown tool requested", slog.String("tool", call.Name))
		return ErrorResult(StatusError, "Unknown tool: %s", call.Name)
	}

	if err := d.validators[kind].validate(call.Arguments); err != nil {
		d.logger.WarnContext(ctx, "tool arguments rejected",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()),
		)
		return ErrorResult(StatusError, "Error: %v", err)
	}

	var (
		res *Result
		err error
	)
	switch kind {
	case KindBash:
		var p BashParams
		if err = decode(call, &p); err == nil {
			res, err = d.shell.Run(ctx, p)
		}
	case KindReadFile:
		var p ReadFileParams
		if err = decode(call, &p); err == nil {
			res, err = d.files.Read(ctx, p)
		}
	case KindWriteFile:
		var p WriteFileParams
		if err = decode(call, &p); err == nil {
			res, err = d.files.Write(ctx, p)
		}
	default:
		panic(fmt.Sprintf("unhandled tool kind %s", kind))
	}

	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			err = &ToolExecutionError{Tool: call.Name, Err: err}
		}
		d.logger.WarnContext(ctx, "tool execution failed",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()),
		)
		return ErrorResult(StatusError, "Error: %v", err)
	}
	return res
}

func decode(call llm.ToolCall, v any) error {
	args := call.Arguments
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return &ValidationError{Tool: call.Name, Problems: []string{err.Error()}}
	}
	return nil
}
