package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vovarama1992/pixode-support/internal/identity"
)

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Dashboard token tooling",
	}
	cmd.AddCommand(buildTokenIssueCmd())
	return cmd
}

func buildTokenIssueCmd() *cobra.Command {
	var (
		id     string
		name   string
		role   string
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a dashboard token with the server's JWT secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := identity.ParseRole(role)
			if !r.IsAgentCapable() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: role %q cannot work the queue\n", role)
			}
			tok, err := identity.NewJWTResolver(secret, ttl).Issue(id, name, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "User id (token subject)")
	cmd.Flags().StringVar(&name, "name", "", "Display name shown to customers")
	cmd.Flags().StringVar(&role, "role", string(identity.RoleEmployee), "CEO, Co-Founder, Admin or Employee")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret (or set JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime, 0 for no expiry")
	cmd.MarkFlagRequired("id")
	return cmd
}
