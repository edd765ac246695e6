// Package cli implements the interactive terminal REPL for agent42.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jkaninda/agent42/internal/agent"
)

// Gateway is the interactive command-line interface over one session.
type Gateway struct {
	session *agent.Session
	printer *Printer
	in      io.Reader
	logger  *slog.Logger
	done    chan struct{} // closed by Stop to signal shutdown
}

// NewGateway creates a REPL reading from in and rendering through printer.
func NewGateway(session *agent.Session, in io.Reader, printer *Printer, logger *slog.Logger) *Gateway {
	return &Gateway{
		session: session,
		printer: printer,
		in:      in,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start runs the REPL. Blocks until ctx is cancelled, Stop is called,
// input ends, or the user types "exit".
//
// A failed turn is reported and the REPL waits for the next input; the
// session keeps the conversation the turn returned.
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(g.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(g.printer.out, "> ")

		// Check for context cancellation or Stop signal between prompts.
		select {
		case <-ctx.Done():
			g.printer.PrintInfo("\nbye")
			return nil
		case <-g.done:
			g.printer.PrintInfo("\nbye")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			g.printer.PrintInfo("bye")
			return nil
		case "/reset":
			g.session.Reset()
			g.printer.PrintInfo("conversation cleared")
			continue
		}

		g.turn(ctx, line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	g.printer.PrintInfo("\nbye")
	return nil
}

// turn runs one user request. An interrupted turn ends the REPL at the
// next prompt check.
func (g *Gateway) turn(ctx context.Context, line string) {
	g.logger.DebugContext(ctx, "cli request",
		slog.String("session_id", g.session.ID),
		slog.Int("messages", g.session.Len()),
	)

	_, err := g.session.Send(ctx, line, g.printer)
	switch {
	case err == nil:
		g.printer.EndTurn()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		g.printer.PrintInfo("\ninterrupted")
	default:
		g.logger.ErrorContext(ctx, "turn failed",
			slog.String("session_id", g.session.ID),
			slog.String("error", err.Error()),
		)
		g.printer.PrintError(err)
	}
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}
