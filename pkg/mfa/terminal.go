package mfa

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// TerminalPrompter reads MFA codes from an interactive terminal.
//
// One reader goroutine owns the input for the prompter's lifetime and hands
// lines to whichever prompt is open, so a prompt abandoned on cancellation
// does not swallow the next line.
type TerminalPrompter struct {
	in         *os.File
	out        io.Writer
	isTerminal func(fd int) bool

	once  sync.Once
	lines chan string
}

// NewTerminalPrompter prompts on out and reads codes from in.
func NewTerminalPrompter(in *os.File, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: in, out: out, isTerminal: term.IsTerminal}
}

func (p *TerminalPrompter) readLines() {
	p.lines = make(chan string)
	go func() {
		defer close(p.lines)
		reader := bufio.NewReader(p.in)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				p.lines <- line
			}
			if err != nil {
				return
			}
		}
	}()
}

// Prompt implements Prompter. A non-terminal input, closed input or an empty
// line counts as cancellation.
func (p *TerminalPrompter) Prompt(ctx context.Context, req PendingRequest) (string, error) {
	if !p.isTerminal(int(p.in.Fd())) {
		return "", fmt.Errorf("%w: input is not a terminal", ErrCancelled)
	}
	p.once.Do(p.readLines)

	fmt.Fprintf(p.out, "MFA code for %s (empty to cancel): ", req.Label)

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", fmt.Errorf("%w: input closed", ErrCancelled)
		}
		code := strings.TrimSpace(line)
		if code == "" {
			return "", ErrCancelled
		}
		return code, nil
	}
}
