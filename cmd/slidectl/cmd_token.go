package main

import (
	"errors"
	"fmt"
	"time"

	"slide_analyzer/internal/auth"

	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
		secret  string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token for the mutating API routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = cfg.JWT.Secret
			}
			if secret == "" {
				return errors.New("no signing secret: set JWT_SECRET or pass --secret")
			}

			token, err := auth.IssueToken(subject, ttl, secret)
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Name of the calling service")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to JWT_SECRET)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
