package cli

import (
	"context"
	"strings"

	"fieldsync/backend"

	"github.com/spf13/cobra"
)

// TaskIDCompletion completes task ids for the rider, with their status as description
func TaskIDCompletion(load func(ctx context.Context) ([]backend.Task, error)) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		tasks, err := load(cmd.Context())
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}

		var completions []string
		for _, t := range tasks {
			if backend.IsTerminal(t.Type, t.Status) {
				continue
			}
			if strings.HasPrefix(t.ID, toComplete) {
				completions = append(completions, t.ID+"\t"+string(t.Status)+" "+t.CustomerName)
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}

// ActionCompletion completes action names, case-insensitively
func ActionCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, a := range backend.AllActionTypes() {
		name := strings.ToLower(string(a))
		if strings.HasPrefix(name, strings.ToLower(toComplete)) {
			completions = append(completions, name)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}
