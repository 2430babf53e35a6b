package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"warden/pkg/platform/middleware/auth"
)

func newTokenCmd(load configLoader) *cobra.Command {
	var (
		operator string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.HTTP.AdminJWTKey == "" {
				return errors.New("http.admin_jwt_key is not configured")
			}
			signer, err := auth.NewHMAC(cfg.HTTP.AdminJWTKey)
			if err != nil {
				return err
			}
			token, err := signer.IssueToken(operator, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "console", "operator named in the token: console or a player identifier")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
