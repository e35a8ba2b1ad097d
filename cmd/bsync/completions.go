package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
)

// rootLabelCompletions provides dynamic tab completion for root labels known to
// the agent's state file, with their entry counts.
func rootLabelCompletions(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	// This completion function is for the first argument only.
	if len(args) != 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	provider, err := lib.NewFileProvider(configPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	statePath := provider.Get("client", "state_file")
	if statePath == "" {
		statePath = lib.DefaultStatePath
	}

	// A corrupt state file simply yields no suggestions.
	snapshot, _ := lib.LoadSnapshot(statePath)
	counts := make(map[string]int)
	var labels []string
	for _, e := range snapshot.Entries() {
		if counts[e.RootLabel] == 0 {
			labels = append(labels, e.RootLabel)
		}
		counts[e.RootLabel]++
	}

	// Create a list of suggestions.
	suggestions := make([]string, 0, len(labels))
	for _, label := range labels {
		suggestions = append(suggestions, fmt.Sprintf("%s\t%d entries", label, counts[label]))
	}
	return suggestions, cobra.ShellCompDirectiveNoFileComp
}
