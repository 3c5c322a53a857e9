package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// TerminalConfirmer asks the user on an interactive terminal whether a
// flagged action may proceed. Anything other than an explicit yes declines.
type TerminalConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

var _ Confirmer = (*TerminalConfirmer)(nil)

func NewTerminalConfirmer(in io.Reader, out io.Writer) *TerminalConfirmer {
	return &TerminalConfirmer{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Confirm prompts for the flagged action and reads a single y/n line.
func (c *TerminalConfirmer) Confirm(ctx context.Context, action schemas.Action) (bool, error) {
	fmt.Fprintf(c.out, "\nThe model wants to perform a sensitive action (%s).\n", action.Name)
	fmt.Fprintf(c.out, "Reason: %s\n", action.Safety.Explain())
	fmt.Fprint(c.out, "Proceed? [y/N]: ")

	type answer struct {
		line string
		err  error
	}
	answerCh := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		answerCh <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-answerCh:
		if a.err != nil && a.line == "" {
			return false, fmt.Errorf("failed to read confirmation: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// AutoApprover waves every flagged action through. It backs the
// auto-approve configuration switch and logs each approval so the decision
// stays visible.
type AutoApprover struct {
	logger *zap.Logger
}

var _ Confirmer = (*AutoApprover)(nil)

func NewAutoApprover(logger *zap.Logger) *AutoApprover {
	return &AutoApprover{logger: logger.Named("auto_approver")}
}

func (a *AutoApprover) Confirm(_ context.Context, action schemas.Action) (bool, error) {
	a.logger.Warn("Auto-approving sensitive action",
		zap.String("action", action.Name),
		zap.String("reason", action.Safety.Explain()),
	)
	return true, nil
}
