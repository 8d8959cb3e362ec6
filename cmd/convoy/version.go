package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set via -ldflags at release time; falls back to module info.
var version = ""

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the convoy version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := version
		if v == "" {
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
				v = info.Main.Version
			} else {
				v = "(devel)"
			}
		}
		fmt.Println("convoy", v)
	},
}
