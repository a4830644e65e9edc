package main

import (
	"fmt"

	"slide_analyzer/internal/resolver"

	"github.com/spf13/cobra"
)

func newResolveCommand() *cobra.Command {
	var inputDir string

	cmd := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Show which input file a requested name resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputDir == "" {
				inputDir = cfg.Storage.InputDir
			}
			resolved, err := resolver.New(inputDir).Resolve(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resolved)
			return nil
		},
	}

	cmd.Flags().StringVar(&inputDir, "input-dir", "", "Input directory (defaults to INPUT_DIR)")

	return cmd
}
