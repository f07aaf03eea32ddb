package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kevin07696/subscription-checkout/internal/adapters/secrets"
	"github.com/kevin07696/subscription-checkout/internal/auth"
)

func tokenCmd(flags *globalFlags) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the checkout API",
		Long: `Signs a bearer token for --user with the session signing key, for
calling /api/v1/checkout/* from scripts. Send it as "Authorization: Bearer <token>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			userID, err := e.requireUser()
			if err != nil {
				return err
			}

			key, err := secrets.Resolve(cmd.Context(), e.secrets, e.cfg.Session.SigningKey, e.cfg.Session.SigningKeySecretPath)
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenManager([]byte(key), e.cfg.Session.TokenIssuer, ttl)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(userID)
			if err != nil {
				return err
			}

			if ok, err := e.printJSON(map[string]interface{}{
				"token":     token,
				"userId":    userID,
				"expiresAt": time.Now().Add(ttl).UTC(),
			}); ok || err != nil {
				return err
			}
			fmt.Fprintln(e.out, token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
