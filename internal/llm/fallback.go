package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackProvider wraps multiple providers and tries them in order.
// A provider is only abandoned if it failed before emitting any event;
// a stream that broke halfway is returned as an error.
type FallbackProvider struct {
	providers []Provider
	logger    *slog.Logger
}

// NewFallbackProvider creates a provider that tries each provider in order.
// At least one provider is required.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) *FallbackProvider {
	if len(providers) == 0 {
		panic("FallbackProvider requires at least one provider")
	}
	return &FallbackProvider{
		providers: providers,
		logger:    logger,
	}
}

// StreamMessage tries each provider in order, forwarding the events of the first that answers.
func (f *FallbackProvider) StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error {
	defer close(events)

	var lastErr error
	for i, p := range f.providers {
		inner := make(chan StreamEvent)
		errCh := make(chan error, 1)
		go func() {
			errCh <- p.StreamMessage(ctx, req, inner)
		}()

		forwarded := 0
		for ev := range inner {
			forwarded++
			events <- ev
		}
		err := <-errCh
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "provider fallback succeeded",
					slog.String("provider", p.Name()),
					slog.Int("attempt", i+1),
				)
			}
			return nil
		}
		if forwarded > 0 || ctx.Err() != nil {
			return err
		}

		lastErr = err
		f.logger.WarnContext(ctx, "provider failed, trying next",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
			slog.Int("attempt", i+1),
			slog.Int("remaining", len(f.providers)-i-1),
		)
	}
	return fmt.Errorf("all %d providers failed, last error: %w", len(f.providers), lastErr)
}

// Name returns a composite name indicating fallback configuration.
func (f *FallbackProvider) Name() string {
	return f.providers[0].Name() + "+fallback"
}
