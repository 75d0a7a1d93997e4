package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagEmail    string
	flagPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print the auth token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if flagEmail == "" || flagPassword == "" {
			return errors.New("--email and --password are required")
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		auth, err := newClient().Login(ctx, flagEmail, flagPassword)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "logged in as %s\n", auth.User.DisplayName(auth.User.Email))
		fmt.Fprintln(cmd.OutOrStdout(), auth.Token)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&flagEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&flagPassword, "password", "", "account password")
}
