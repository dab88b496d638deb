package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/threatscope/console/internal/auth"
	"github.com/threatscope/console/internal/mlclient"
)

func newLoginCmd(c *cli) *cobra.Command {
	var email, password string
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the backend and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if email == "" || password == "" {
				return errors.New("--email and a password (--password or --password-stdin) are required")
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			sess, err := a.ML.Login(cmd.Context(), mlclient.Credentials{Email: email, Password: password})
			if err != nil {
				return err
			}
			if err := a.Auth.Save(cmd.Context(), *sess); err != nil {
				return err
			}
			c.printer(cmd).Message(fmt.Sprintf("Logged in as %s.", sess.User.Username))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Auth.Clear(cmd.Context()); err != nil {
				return err
			}
			c.printer(cmd).Message("Logged out.")
			return nil
		},
	}
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			u, err := a.Auth.User(cmd.Context())
			if err != nil && !errors.Is(err, auth.ErrNotLoggedIn) {
				return err
			}
			c.printer(cmd).User(u)
			return nil
		},
	}
}

func newUsersCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the backend's accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			users, err := a.ML.Users(cmd.Context())
			if err != nil {
				return err
			}
			c.printer(cmd).Users(users)
			return nil
		},
	}
}

func newHistoryCmd(c *cli) *cobra.Command {
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past scans and usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			if a.DB == nil {
				return errRequiresDatabase("history")
			}
			var userID string
			if !all {
				u, err := a.Auth.User(cmd.Context())
				if err != nil {
					return fmt.Errorf("%w; log in or pass --all", err)
				}
				userID = u.ID
			}
			scans, err := a.DB.ListScans(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			stats, err := a.DB.DashboardStats(cmd.Context(), userID)
			if err != nil {
				return err
			}
			c.printer(cmd).History(scans, stats)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of scans to list")
	cmd.Flags().BoolVar(&all, "all", false, "include every user's scans")
	return cmd
}
