package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaninda/agent42/internal/agent"
	"github.com/jkaninda/agent42/internal/observability"
	"github.com/jkaninda/agent42/internal/tools"
)

type fakeAudit struct {
	execs     []agent.ToolExecution
	err       error
	sessionID string
	limit     int
}

func (f *fakeAudit) ListToolExecutions(_ context.Context, sessionID string, limit int) ([]agent.ToolExecution, error) {
	f.sessionID = sessionID
	f.limit = limit
	return f.execs, f.err
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// startGateway runs g until the test ends and waits for /healthz.
func startGateway(t *testing.T, g *Gateway) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = g.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = g.Stop(context.Background())
	})

	base := "http://" + g.config.ListenAddr
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			resp.Body.Close()
			return base
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server did not start on %s", g.config.ListenAddr)
	return ""
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGateway_HealthAndReadiness(t *testing.T) {
	health := observability.NewHealthChecker(discardLogger())
	var failing atomic.Bool
	failing.Store(true)
	health.AddCheck("sandbox", func(context.Context) error {
		if failing.Load() {
			return errors.New("docker daemon unreachable")
		}
		return nil
	})

	g := NewGateway(Config{ListenAddr: freeAddr(t), HealthChecker: health}, discardLogger())
	base := startGateway(t, g)

	code, body := get(t, base+"/healthz")
	if code != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("healthz = %d %s", code, body)
	}

	code, body = get(t, base+"/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("readyz code = %d, want 503", code)
	}
	if !strings.Contains(body, "docker daemon unreachable") {
		t.Errorf("readyz body = %s", body)
	}

	failing.Store(false)
	code, _ = get(t, base+"/readyz")
	if code != http.StatusOK {
		t.Errorf("readyz code = %d, want 200", code)
	}
}

func TestGateway_Metrics(t *testing.T) {
	metrics := observability.NewMetricsCollector()
	metrics.RecordTurn("done", 2, time.Second)

	g := NewGateway(Config{
		ListenAddr:      freeAddr(t),
		MetricsRegistry: metrics.Registry,
		Metrics:         metrics,
	}, discardLogger())
	base := startGateway(t, g)

	code, body := get(t, base+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics code = %d", code)
	}
	if !strings.Contains(body, `agent42_agent_turns_total{status="done"} 1`) {
		t.Errorf("metrics output missing turn counter:\n%s", body)
	}
}

func TestGateway_ToolExecutions(t *testing.T) {
	audit := &fakeAudit{execs: []agent.ToolExecution{{
		SessionID:  "s1",
		ToolCallID: "c1",
		Tool:       "bash",
		Arguments:  `{"command":"ls"}`,
		Status:     tools.StatusOK,
		Output:     "main.go",
		Duration:   250 * time.Millisecond,
	}}}
	g := NewGateway(Config{ListenAddr: freeAddr(t)}, discardLogger()).WithAudit(audit)
	base := startGateway(t, g)

	code, body := get(t, fmt.Sprintf("%s/v1/tool-executions?session_id=s1&limit=5", base))
	if code != http.StatusOK {
		t.Fatalf("code = %d, body %s", code, body)
	}
	var resp []ToolExecutionResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	if len(resp) != 1 || resp[0].Tool != "bash" || resp[0].DurationMS != 250 {
		t.Errorf("got %+v", resp)
	}
	if audit.sessionID != "s1" || audit.limit != 5 {
		t.Errorf("lister called with session %q limit %d", audit.sessionID, audit.limit)
	}

	code, _ = get(t, base+"/v1/tool-executions?limit=abc")
	if code != http.StatusBadRequest {
		t.Errorf("bad limit code = %d, want 400", code)
	}
}

func TestGateway_ToolExecutionsFailure(t *testing.T) {
	audit := &fakeAudit{err: errors.New("database is locked")}
	g := NewGateway(Config{ListenAddr: freeAddr(t)}, discardLogger()).WithAudit(audit)
	base := startGateway(t, g)

	code, body := get(t, base+"/v1/tool-executions")
	if code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", code)
	}
	if strings.Contains(body, "locked") {
		t.Errorf("internal error leaked: %s", body)
	}
	if audit.limit != 100 {
		t.Errorf("default limit = %d, want 100", audit.limit)
	}
}
