package main

import (
	"github.com/spf13/cobra"
)

// newRootCommand builds the sprintrunner root command. All subsystem wiring
// lives in the subcommands; the root only holds shared flags and help text.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sprintrunner",
		Short: "Drives sprint batches through the BMAD create-story/dev/review pipeline",
		Long: `sprintrunner orchestrates one sprint batch at a time: it selects
unfinished (neither done nor blocked) stories from a sprint manifest, drives each through a fixed
create-story, tech-spec, dev, and code-review phase sequence via a
subagent runner, and serves a dashboard over HTTP for monitoring and
control.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newSettingsCommand())
	return root
}
