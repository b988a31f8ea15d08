package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/auth"
)

func newIssueTokenCmd() *cobra.Command {
	var (
		userID   string
		username string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a credential with JWT_SECRET",
		Long: `Issues a bearer credential for scripted access to the proxy. The signing
secret is read from JWT_SECRET (a .env file in the working directory is honoured).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			r := auth.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q (want normal, editor or admin)", role)
			}

			tokens, err := auth.NewTokenService(secret, ttl)
			if err != nil {
				return err
			}
			token, exp, err := tokens.Issue(auth.Identity{UserID: userID, Username: username, Role: r})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "users.id of the subject")
	cmd.Flags().StringVar(&username, "username", "", "username carried in the credential")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleNormal), "normal, editor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "validity window")
	cmd.MarkFlagRequired("user-id")
	return cmd
}
