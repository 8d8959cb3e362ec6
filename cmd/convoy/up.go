package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CO3302Group3/convoy/internal/server"
)

var detach bool

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Bring the stack up, waiting until every service is ready",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := loadStack()
		if err != nil {
			return err
		}

		c := daemonClient()
		created, err := c.CreateStack(cmd.Context(), stack)
		if err != nil {
			return err
		}

		if detach {
			fmt.Printf("%s  %s\n", created.ID, created.Name)
			return nil
		}

		var outcome server.EventType
		err = c.Events(cmd.Context(), created.ID, func(e server.Event) bool {
			printEvent(e)
			if e.Terminal() {
				outcome = e.Type
				return true
			}
			return false
		})
		if err != nil {
			return err
		}

		switch outcome {
		case server.EventRunUp:
			return nil
		case server.EventRunAborted:
			return errAborted
		default:
			return fmt.Errorf("bring-up did not complete")
		}
	},
}

func init() {
	upCmd.Flags().BoolVarP(&detach, "detach", "d", false, "submit the stack and return without waiting")
}

// printEvent renders a lifecycle event as a single human-readable line.
func printEvent(e server.Event) {
	switch e.Type {
	case server.EventRunStarted:
		fmt.Printf("%s bringing up %s\n", dim("•"), bold(e.Stack))
	case server.EventStageStarted:
		fmt.Printf("%s\n", dim(fmt.Sprintf("─ stage %d ─", e.Stage)))
	case server.EventStageReady:
		// stage boundary already visible from the service lines
	case server.EventServiceStarting:
		fmt.Printf("  %-20s %s\n", e.Service, phaseLabel("starting", e.Attempt))
	case server.EventServiceChecking:
		fmt.Printf("  %-20s %s\n", e.Service, dim("waiting for healthy"))
	case server.EventServiceReady:
		fmt.Printf("  %-20s %s\n", e.Service, green("ready"))
	case server.EventServiceFailed:
		fmt.Printf("  %-20s %s  %s\n", e.Service, red("failed"), dim(e.Error))
	case server.EventServiceRetrying:
		fmt.Printf("  %-20s %s\n", e.Service, yellow("retrying"))
	case server.EventServiceAborted:
		fmt.Printf("  %-20s %s\n", e.Service, red("aborted"))
	case server.EventRunUp:
		fmt.Printf("%s %s is up\n", green("✓"), bold(e.Stack))
	case server.EventRunAborted:
		fmt.Printf("%s %s aborted: %s\n", red("✗"), bold(e.Stack), e.Error)
	case server.EventRunCancelled:
		fmt.Printf("%s %s cancelled\n", yellow("!"), bold(e.Stack))
	}
}

func phaseLabel(phase string, attempt int) string {
	if attempt > 1 {
		return fmt.Sprintf("%s (attempt %d)", phase, attempt)
	}
	return phase
}
