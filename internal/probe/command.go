package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/CO3302Group3/convoy/internal/executor"
)

// Command checks readiness by running a command and inspecting its exit
// code. Exit code 0 means ready.
type Command struct {
	Argv []string
	Exec executor.Executor
}

func (c *Command) Check(ctx context.Context) error {
	// The single-attempt timeout is carried by ctx; pass zero so the
	// executor doesn't layer a second deadline on top.
	res, err := c.Exec.Run(ctx, executor.Command{Argv: c.Argv}, 0)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		if msg != "" {
			return fmt.Errorf("exit code %d: %s", res.ExitCode, msg)
		}
		return fmt.Errorf("exit code %d", res.ExitCode)
	}
	return nil
}
