package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/agent42/internal/config"
)

// AnomalyDetector warns when an operation's error rate crosses a threshold
// within a sliding window.
type AnomalyDetector struct {
	mu            sync.Mutex
	errorCounts   map[string]*slidingWindow
	successCounts map[string]*slidingWindow
	threshold     float64
	window        time.Duration
	logger        *slog.Logger
}

type slidingWindow struct {
	entries []time.Time
	window  time.Duration
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	windowSecs := cfg.WindowSeconds
	if windowSecs <= 0 {
		windowSecs = 300
	}
	return &AnomalyDetector{
		errorCounts:   make(map[string]*slidingWindow),
		successCounts: make(map[string]*slidingWindow),
		threshold:     cfg.ErrorRateThreshold,
		window:        time.Duration(windowSecs) * time.Second,
		logger:        logger,
	}
}

// Record is a convenience for RecordError / RecordSuccess.
func (a *AnomalyDetector) Record(operation string, err error) {
	if err != nil {
		a.RecordError(operation)
		return
	}
	a.RecordSuccess(operation)
}

// RecordError records a failed operation and checks the error rate.
func (a *AnomalyDetector) RecordError(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.getOrCreateWindow(a.errorCounts, operation).add(time.Now())
	a.checkErrorRate(operation)
}

// RecordSuccess records a successful operation.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.getOrCreateWindow(a.successCounts, operation).add(time.Now())
}

// ErrorRate returns the current error rate and sample count for an operation.
func (a *AnomalyDetector) ErrorRate(operation string) (float64, int) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rate(operation)
}

// Must be called with a.mu held.
func (a *AnomalyDetector) rate(operation string) (float64, int) {
	errs := a.getOrCreateWindow(a.errorCounts, operation).count()
	total := errs + a.getOrCreateWindow(a.successCounts, operation).count()
	if total == 0 {
		return 0, 0
	}
	return float64(errs) / float64(total), total
}

// checkErrorRate logs when the error rate exceeds the threshold.
// Must be called with a.mu held.
func (a *AnomalyDetector) checkErrorRate(operation string) {
	if a.threshold <= 0 {
		return
	}
	rate, total := a.rate(operation)
	if total < 5 {
		return // Not enough data.
	}
	if rate > a.threshold && a.logger != nil {
		a.logger.Warn("anomaly detected: high error rate",
			slog.String("operation", operation),
			slog.Float64("error_rate", rate),
			slog.Float64("threshold", a.threshold),
			slog.Int("samples", total),
		)
	}
}

func (a *AnomalyDetector) getOrCreateWindow(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.window}
		m[key] = w
	}
	return w
}

func (w *slidingWindow) add(now time.Time) {
	w.entries = append(w.entries, now)
	w.prune(now)
}

func (w *slidingWindow) count() int {
	w.prune(time.Now())
	return len(w.entries)
}

// prune removes entries older than the window duration.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
