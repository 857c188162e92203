package infra

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// TerminalOperator implements domain.Operator by asking on a terminal.
// Without an interactive stdin every question is answered "no", so a
// detached agent in manual mode aborts instead of hanging.
type TerminalOperator struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// NewTerminalOperator creates an operator bound to stdin/stderr.
func NewTerminalOperator() *TerminalOperator {
	fd := os.Stdin.Fd()
	return &TerminalOperator{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stderr,
		interactive: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}
}

// NewScriptedOperator creates an operator reading answers from in.
func NewScriptedOperator(in io.Reader, out io.Writer) *TerminalOperator {
	return &TerminalOperator{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: true,
	}
}

// ConfirmRetry prints the failure and reads a y/n answer. Only "y" or "yes"
// (any case) confirms.
func (o *TerminalOperator) ConfirmRetry(stage string, cause error) bool {
	if !o.interactive {
		return false
	}
	if cause != nil {
		fmt.Fprintf(o.out, "%s failed: %v\n", stage, cause)
	} else {
		fmt.Fprintf(o.out, "%s failed\n", stage)
	}
	fmt.Fprint(o.out, "Retry? [y/N]: ")

	line, err := o.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Ensure TerminalOperator implements domain.Operator.
var _ domain.Operator = (*TerminalOperator)(nil)
