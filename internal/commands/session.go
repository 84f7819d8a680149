package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gaborage/twinclient/auth"
)

type loginOptions struct {
	email    string
	password string
}

func newLoginCommand(rt *app) *cobra.Command {
	opts := &loginOptions{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		Example: `  twinctl login --email clinician@twin.dev
  echo "$PASSWORD" | twinctl login --email clinician@twin.dev`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("password required: pass --password or pipe it on stdin")
				}
				opts.password = strings.TrimRight(line, "\r\n")
			}

			session, release, err := rt.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			state := session.Auth.Login(cmd.Context(), opts.email, opts.password)
			if !state.IsAuthenticated {
				return errors.New(state.Error)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", state.User.Username, state.User.Role)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "Account password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCommand(rt *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session locally and on the backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, release, err := rt.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			session.Auth.Logout(cmd.Context())
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return err
		},
	}
}

func newWhoamiCommand(rt *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Restore the session and show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, release, err := rt.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			state := session.Auth.Initialize(cmd.Context())
			if !state.IsAuthenticated {
				if state.Error != "" {
					return errors.New(state.Error)
				}
				return errors.New("not logged in")
			}
			return printJSON(cmd.OutOrStdout(), struct {
				*auth.User
				State string `json:"state"`
			}{state.User, session.Auth.State().String()})
		},
	}
}

func newTokenCommand(rt *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, refreshing it when needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, release, err := rt.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			token, err := session.Auth.EnsureValidToken(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}
