package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/jkaninda/agent42/internal/agent"
	"github.com/jkaninda/agent42/internal/llm"
	"github.com/jkaninda/agent42/internal/tools"
)

// maxResultLines is how much of a tool result is echoed to the terminal.
const maxResultLines = 12

// Printer renders turn progress. It implements agent.Callbacks.
type Printer struct {
	out io.Writer

	bold  *color.Color
	faint *color.Color
	tool  *color.Color
	ok    *color.Color
	fail  *color.Color
	warn  *color.Color

	// inText is set while a streamed answer is being printed.
	inText bool
}

// NewPrinter writes to out. Colour is disabled unless out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	p := &Printer{
		out:   out,
		bold:  color.New(color.Bold),
		faint: color.New(color.Faint),
		tool:  color.New(color.FgCyan, color.Bold),
		ok:    color.New(color.FgGreen),
		fail:  color.New(color.FgRed),
		warn:  color.New(color.FgYellow),
	}
	if !isTerminal(out) {
		for _, c := range []*color.Color{p.bold, p.faint, p.tool, p.ok, p.fail, p.warn} {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var _ agent.Callbacks = (*Printer)(nil)

// OnTextDelta streams answer text as it arrives.
func (p *Printer) OnTextDelta(text string) {
	p.inText = true
	fmt.Fprint(p.out, text)
}

// OnToolStart prints the tool name and its arguments.
func (p *Printer) OnToolStart(call llm.ToolCall) {
	p.endText()
	fmt.Fprintf(p.out, "\n%s %s\n", p.tool.Sprintf("[%s]", call.Name), p.faint.Sprint(formatArguments(call.Arguments)))
}

// OnToolEnd prints the head of the tool result.
func (p *Printer) OnToolEnd(res tools.Result) {
	body := truncateLines(res.Content, maxResultLines)
	if res.IsError {
		fmt.Fprintf(p.out, "%s\n", p.fail.Sprint(indent(body)))
		return
	}
	fmt.Fprintf(p.out, "%s\n", p.ok.Sprint(indent(body)))
}

// EndTurn terminates the streamed answer line.
func (p *Printer) EndTurn() {
	p.endText()
	fmt.Fprintln(p.out)
}

func (p *Printer) endText() {
	if p.inText {
		fmt.Fprintln(p.out)
		p.inText = false
	}
}

// PrintWelcome prints the REPL banner.
func (p *Printer) PrintWelcome(provider, workspace string) {
	fmt.Fprintf(p.out, "%s (provider: %s, workspace: %s)\n", p.bold.Sprint("agent42"), provider, workspace)
	fmt.Fprintln(p.out, p.faint.Sprint(`Type your request. "/reset" clears the conversation, "exit" quits.`))
	fmt.Fprintln(p.out)
}

// PrintInfo prints a status line.
func (p *Printer) PrintInfo(format string, args ...any) {
	p.endText()
	fmt.Fprintln(p.out, p.faint.Sprintf(format, args...))
}

// PrintError prints a failed turn. Provider failures name the provider.
func (p *Printer) PrintError(err error) {
	p.endText()
	var perr *llm.ProviderError
	switch {
	case errors.As(err, &perr):
		fmt.Fprintf(p.out, "%s %v\n", p.fail.Sprintf("provider %s failed:", perr.Provider), perr.Err)
	case errors.Is(err, agent.ErrMaxRounds):
		fmt.Fprintln(p.out, p.warn.Sprintf("Stopped: %v. Send a follow-up to continue.", err))
	default:
		fmt.Fprintln(p.out, p.fail.Sprintf("Error: %v", err))
	}
}

func formatArguments(args string) string {
	args = strings.TrimSpace(args)
	if args == "" || args == "{}" {
		return "()"
	}
	return truncateLines(args, 3)
}

func truncateLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-n)
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
