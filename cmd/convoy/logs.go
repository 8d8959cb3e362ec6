package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	logsFollow bool
	logsStack  string
)

var logsCmd = &cobra.Command{
	Use:   "logs <service>",
	Short: "Print the captured output of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := logsStack
		if key == "" {
			var err error
			key, err = resolveStackKey(cmd, nil)
			if err != nil {
				return err
			}
		}

		return daemonClient().Logs(cmd.Context(), key, args[0], logsFollow, os.Stdout)
	},
}

func init() {
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "stream new output as it arrives")
	logsCmd.Flags().StringVar(&logsStack, "stack", "", "stack name or instance ID")
}
