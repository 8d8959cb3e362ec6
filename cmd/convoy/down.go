package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var downTimeout time.Duration

var downCmd = &cobra.Command{
	Use:   "down [stack]",
	Short: "Stop the stack in reverse dependency order",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := resolveStackKey(cmd, args)
		if err != nil {
			return err
		}

		c := daemonClient()
		if err := c.Down(cmd.Context(), key, downTimeout); err != nil {
			return err
		}
		fmt.Printf("%s %s is down\n", green("✓"), bold(key))
		return nil
	},
}

func init() {
	downCmd.Flags().DurationVar(&downTimeout, "timeout", 60*time.Second, "teardown deadline")
}

// resolveStackKey picks the stack to operate on: the positional argument if
// given, the stack file's name if one loads, otherwise the single active
// stack on the daemon.
func resolveStackKey(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if stack, err := loadStack(); err == nil {
		return stack.Name, nil
	}

	stacks, err := daemonClient().ListStacks(cmd.Context())
	if err != nil {
		return "", err
	}
	switch len(stacks) {
	case 0:
		return "", fmt.Errorf("no stacks found")
	case 1:
		return stacks[0].Name, nil
	default:
		return "", fmt.Errorf("multiple stacks active, name one explicitly")
	}
}
