package main

import (
	"slide_analyzer/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slidectl",
		Short: "Administer the slide analysis service",
		Long: `slidectl applies the database schema, issues service tokens and
inspects analysis tasks and input resolution.

Connection settings come from the same environment variables as the API.`,
		SilenceUsage: true,
	}

	debug := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logrus.SetOutput(cmd.ErrOrStderr())
		if *debug {
			logrus.SetLevel(logrus.DebugLevel)
		}
		cfg = config.Load()
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newTokenCommand())
	cmd.AddCommand(newTasksCommand())
	cmd.AddCommand(newResolveCommand())

	return cmd
}
