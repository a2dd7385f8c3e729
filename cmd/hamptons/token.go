package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hamptons/attendance-engine/auth"
	"github.com/hamptons/attendance-engine/config"
)

func newTokenCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Admin API bearer tokens",
	}

	var subject, role string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed bearer token for the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.envFile)
			if err != nil {
				return err
			}
			if !cfg.AuthEnabled() {
				return auth.ErrMissingSecret
			}
			token, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL).Issue(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "user the token identifies (recorded as approver)")
	issue.Flags().StringVar(&role, "role", "admin", "role claim")
	_ = issue.MarkFlagRequired("subject")

	cmd.AddCommand(issue)
	return cmd
}
