// Package httpapi implements the operations HTTP server for agent42:
// liveness, readiness, Prometheus metrics and read access to the tool
// execution audit trail.
//
// The server binds to loopback by default and carries no authentication;
// expose it through a reverse proxy if it must be reachable remotely.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/agent42/internal/agent"
	"github.com/jkaninda/agent42/internal/observability"
	"github.com/jkaninda/okapi"
)

const maxListLimit = 1000

// ErrorBody is the standard error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// AuditLister reads recorded tool executions, newest first.
type AuditLister interface {
	ListToolExecutions(ctx context.Context, sessionID string, limit int) ([]agent.ToolExecution, error)
}

// Config configures the ops server.
type Config struct {
	ListenAddr string // e.g., "127.0.0.1:9042"

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /healthz and /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the ops HTTP server.
type Gateway struct {
	config Config
	audit  AuditLister // nil = audit endpoint disabled.
	logger *slog.Logger
	server *http.Server
	okapi  *okapi.Okapi
}

// NewGateway creates the ops server.
func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		config: cfg,
		logger: logger,
		okapi:  okapi.New(),
	}
}

// WithAudit exposes the tool execution audit trail under /v1/tool-executions.
func (g *Gateway) WithAudit(audit AuditLister) *Gateway {
	g.audit = audit
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	if g.audit != nil {
		g.okapi.Get("/v1/tool-executions", g.handleToolExecutions,
			okapi.DocSummary("List recorded tool executions, newest first"),
			okapi.DocTags("Audit"),
			okapi.DocResponse([]ToolExecutionResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("ops server starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("ops server stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// HealthResponse is the JSON response when no health checker is configured.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness reports that the process is up.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	return c.OK(g.config.HealthChecker.CheckHealth())
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// ToolExecutionResponse is one audit row.
type ToolExecutionResponse struct {
	SessionID  string    `json:"session_id"`
	ToolCallID string    `json:"tool_call_id"`
	Tool       string    `json:"tool"`
	Arguments  string    `json:"arguments"`
	Status     string    `json:"status"`
	IsError    bool      `json:"is_error"`
	Output     string    `json:"output"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// handleToolExecutions serves GET /v1/tool-executions?session_id=&limit=.
func (g *Gateway) handleToolExecutions(c *okapi.Context) error {
	query := c.Request().URL.Query()
	limit := 100
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			return c.JSON(http.StatusBadRequest, ErrorBody{Error: "limit must be between 1 and 1000"})
		}
		limit = n
	}

	execs, err := g.audit.ListToolExecutions(c.Context(), query.Get("session_id"), limit)
	if err != nil {
		g.logger.ErrorContext(c.Context(), "listing tool executions failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, ErrorBody{Error: "listing tool executions failed"})
	}

	resp := make([]ToolExecutionResponse, len(execs))
	for i, e := range execs {
		resp[i] = ToolExecutionResponse{
			SessionID:  e.SessionID,
			ToolCallID: e.ToolCallID,
			Tool:       e.Tool,
			Arguments:  e.Arguments,
			Status:     string(e.Status),
			IsError:    e.IsError,
			Output:     e.Output,
			DurationMS: e.Duration.Milliseconds(),
			StartedAt:  e.StartedAt,
		}
	}
	return c.OK(resp)
}
