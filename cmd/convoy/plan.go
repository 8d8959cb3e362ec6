package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CO3302Group3/convoy/internal/graph"
	"github.com/CO3302Group3/convoy/internal/spec"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Validate the stack and print the staged bring-up order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := loadStack()
		if err != nil {
			return err
		}

		if errs := spec.Validate(stack); len(errs) > 0 {
			return fmt.Errorf("stack validation failed:\n  %s", strings.Join(errs, "\n  "))
		}

		g := graph.New()
		for _, name := range sortedNames(stack.Services) {
			if err := g.Add(name, stack.Services[name].DependsOn); err != nil {
				return err
			}
		}
		plan, err := g.ComputePlan()
		if err != nil {
			return err
		}

		fmt.Printf("%s (%d services, %d stages)\n\n",
			bold(stack.Name), len(stack.Services), len(plan.Stages))
		for i, stage := range plan.Stages {
			fmt.Printf("  %s  %s\n",
				dim(fmt.Sprintf("stage %d", i+1)),
				strings.Join(stage, ", "))
		}
		return nil
	},
}

func sortedNames(services map[string]spec.Service) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
