package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CO3302Group3/convoy/internal/server"
)

var statusCmd = &cobra.Command{
	Use:   "status [stack]",
	Short: "Show the current phase of every service in a stack",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := daemonClient()

		if len(args) == 0 {
			// No stack named: try the local stack file, otherwise list all.
			if stack, err := loadStack(); err == nil {
				st, err := c.GetStack(cmd.Context(), stack.Name)
				if err != nil {
					return err
				}
				printStackStatus(st)
				return nil
			}

			stacks, err := c.ListStacks(cmd.Context())
			if err != nil {
				return err
			}
			if len(stacks) == 0 {
				fmt.Println("no stacks")
				return nil
			}
			for i, st := range stacks {
				if i > 0 {
					fmt.Println()
				}
				printStackStatus(st)
			}
			return nil
		}

		st, err := c.GetStack(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printStackStatus(st)
		return nil
	},
}

func printStackStatus(st server.StackStatus) {
	fmt.Printf("%s  %s  %s\n\n", bold(st.Name), dim(st.ID), colorOutcome(string(st.Outcome)))

	fmt.Printf("  %-6s %-20s %-12s %-9s %s\n",
		dim("STAGE"), dim("SERVICE"), dim("PHASE"), dim("ATTEMPTS"), dim("SINCE"))
	for _, svc := range st.Services {
		// Pad before coloring so ANSI codes don't skew the columns.
		phase := colorPhase(fmt.Sprintf("%-12s", svc.Phase))
		fmt.Printf("  %-6d %-20s %s %-9d %s\n",
			svc.Stage+1,
			svc.Name,
			phase,
			svc.Attempts,
			dim(humanSince(svc.LastTransition)))
		if svc.LastError != "" {
			fmt.Printf("  %-6s %-20s %s\n", "", "", red(svc.LastError))
		}
	}
}

func humanSince(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t).Round(time.Second)
	if d < time.Second {
		return "just now"
	}
	return d.String() + " ago"
}
