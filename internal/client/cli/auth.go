package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

type credentials struct {
	email string
}

// prompt fills in the email when it was not passed as a flag and reads the
// password from the terminal. The caller wipes the password.
func (o *RootOptions) prompt(cmd *cobra.Command, c *credentials) ([]byte, error) {
	w := cmd.OutOrStdout()
	if c.email == "" {
		email, err := getSimpleText(o.in, "Enter email", w)
		if err != nil {
			return nil, err
		}
		c.email = email
	}
	if c.email == "" {
		return nil, errors.New("email is required")
	}
	return getPassword(w)
}

func newRegisterCommand(opts *RootOptions) *cobra.Command {
	creds := &credentials{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := opts.prompt(cmd, creds)
			if err != nil {
				return err
			}
			defer clear(password)

			resp, err := opts.client.Register(cmd.Context(), creds.email, string(password))
			if err != nil {
				return err
			}
			return opts.output(cmd, resp, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "registered %s (personal workspace %s)\n", resp.AccountID, resp.WorkspaceID)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&creds.email, "email", "e", "", "account email")
	return cmd
}

func newLoginCommand(opts *RootOptions) *cobra.Command {
	creds := &credentials{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session locally",
		Long: `Sign in and store the session locally.

Signing in as a different account removes the previous account's local data,
including changes that were never pushed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := opts.prompt(cmd, creds)
			if err != nil {
				return err
			}
			defer clear(password)

			sess, err := opts.client.Login(cmd.Context(), creds.email, string(password))
			if err != nil {
				return err
			}
			view := map[string]any{"accountId": sess.AccountID, "email": sess.Email, "expiresAt": sess.ExpiresAt}
			return opts.output(cmd, view, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "signed in as %s (%s)\n", sess.Email, sess.AccountID)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&creds.email, "email", "e", "", "account email")
	return cmd
}

func newLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the account's local data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}
