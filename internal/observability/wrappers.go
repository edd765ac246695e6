package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/agent42/internal/llm"
	"github.com/jkaninda/agent42/internal/sandbox"
	"github.com/jkaninda/agent42/internal/tools"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics, tracing and anomaly detection.
// Events are forwarded unchanged; usage events are observed on the way through.
type InstrumentedProvider struct {
	inner   llm.Provider
	model   string
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedProvider wraps a streaming provider with observability.
func NewInstrumentedProvider(inner llm.Provider, model string, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   inner,
		model:   model,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) StreamMessage(ctx context.Context, req *llm.Request, events chan<- llm.StreamEvent) error {
	provider := p.inner.Name()

	span := trace.SpanFromContext(ctx)
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "llm.stream_message",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
				attribute.String("llm.model", p.model),
				attribute.Int("llm.messages", len(req.Messages)),
			))
		defer span.End()
	}

	inner := make(chan llm.StreamEvent)
	var usage llm.Usage
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		defer close(events)
		for ev := range inner {
			if ev.Type == llm.EventUsage && ev.Usage != nil {
				usage = *ev.Usage
			}
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
	}()

	start := time.Now()
	err := p.inner.StreamMessage(ctx, req, inner)
	<-forwarded
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, context.Canceled) {
			status = "cancelled"
		}
		if p.tracer != nil {
			RecordError(span, err)
		}
	}
	if p.tracer != nil {
		span.SetAttributes(
			attribute.Int("llm.input_tokens", usage.InputTokens),
			attribute.Int("llm.output_tokens", usage.OutputTokens),
		)
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, p.model, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, p.model).Observe(duration)
		p.metrics.LLMTokensUsed.WithLabelValues(provider, p.model, "input").Add(float64(usage.InputTokens))
		p.metrics.LLMTokensUsed.WithLabelValues(provider, p.model, "output").Add(float64(usage.OutputTokens))
	}

	p.anomaly.Record("llm_request", err)

	return err
}

// --- InstrumentedSandbox ---

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics, tracing and anomaly detection.
type InstrumentedSandbox struct {
	inner       sandbox.Sandbox
	sandboxType string // "process" or "docker"
	metrics     *MetricsCollector
	tracer      trace.Tracer
	anomaly     *AnomalyDetector
}

// NewInstrumentedSandbox wraps a sandbox with observability.
func NewInstrumentedSandbox(inner sandbox.Sandbox, sandboxType string, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:       inner,
		sandboxType: sandboxType,
		metrics:     metrics,
		tracer:      tracer,
		anomaly:     anomaly,
	}
}

func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	span := trace.SpanFromContext(ctx)
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "sandbox.execute",
			trace.WithAttributes(
				attribute.String("sandbox.type", s.sandboxType),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := s.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		status = string(sandbox.StatusTimeout)
	case errors.Is(err, sandbox.ErrCancelled):
		status = string(sandbox.StatusCancelled)
	case err != nil:
		status = "error"
	case result != nil && result.ExitCode != 0:
		status = "nonzero_exit"
		if s.tracer != nil {
			span.SetAttributes(attribute.Int("sandbox.exit_code", result.ExitCode))
		}
	}
	if err != nil && s.tracer != nil {
		RecordError(span, err)
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(s.sandboxType, status).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues(s.sandboxType).Observe(duration)
	}

	// Timeouts and non-zero exits are normal command outcomes, not backend failures.
	var backendErr error
	if err != nil && !errors.Is(err, sandbox.ErrTimeout) && !errors.Is(err, sandbox.ErrCancelled) {
		backendErr = err
	}
	s.anomaly.Record("sandbox_"+s.sandboxType, backendErr)

	return result, err
}

// --- InstrumentedDispatcher ---

// ToolDispatcher is the dispatch surface used by the turn loop.
type ToolDispatcher interface {
	Schemas() []llm.ToolSchema
	Dispatch(ctx context.Context, call llm.ToolCall) *tools.Result
}

// InstrumentedDispatcher records one span and one metric sample per tool call.
type InstrumentedDispatcher struct {
	inner   ToolDispatcher
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedDispatcher wraps a dispatcher with observability.
func NewInstrumentedDispatcher(inner ToolDispatcher, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedDispatcher {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedDispatcher{inner: inner, metrics: metrics, tracer: tracer, anomaly: anomaly}
}

func (d *InstrumentedDispatcher) Schemas() []llm.ToolSchema { return d.inner.Schemas() }

func (d *InstrumentedDispatcher) Dispatch(ctx context.Context, call llm.ToolCall) *tools.Result {
	span := trace.SpanFromContext(ctx)
	if d.tracer != nil {
		ctx, span = d.tracer.Start(ctx, "tool.dispatch",
			trace.WithAttributes(
				attribute.String("tool.name", call.Name),
				attribute.String("tool.call_id", call.ID),
			))
		defer span.End()
	}

	res := d.inner.Dispatch(ctx, call)

	if d.tracer != nil {
		span.SetAttributes(
			attribute.String("tool.status", string(res.Status)),
			attribute.Bool("tool.is_error", res.IsError),
		)
	}
	if d.metrics != nil {
		d.metrics.ToolExecutionsTotal.WithLabelValues(call.Name, string(res.Status)).Inc()
		d.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(res.Duration.Seconds())
	}
	if d.anomaly != nil {
		if res.IsError {
			d.anomaly.RecordError("tool_" + call.Name)
		} else {
			d.anomaly.RecordSuccess("tool_" + call.Name)
		}
	}
	return res
}

func statusCode(code int) string {
	return strconv.Itoa(code)
}
