package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/lsattracker/internal/model"
	"github.com/pavelanni/lsattracker/internal/store"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(userAddCmd(), userListCmd(), userSetActiveCmd("disable", false), userSetActiveCmd("enable", true))
	return cmd
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	db, err := store.New(setup(cmd).GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func userAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := setup(cmd)
			password := v.GetString("password")
			if password == "" {
				return fmt.Errorf("password is required: set --password flag or LSATTRACKER_PASSWORD env var")
			}
			db, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			existing, err := db.GetUserByUsername(args[0])
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("user %q already exists", args[0])
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			name := v.GetString("display-name")
			if name == "" {
				name = args[0]
			}
			id, err := db.CreateUser(model.User{
				Username:     args[0],
				DisplayName:  name,
				PasswordHash: string(hash),
				Active:       true,
			})
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", args[0], id)
			return nil
		},
	}
	commonFlags(cmd.Flags())
	cmd.Flags().String("password", "", "Password (or set LSATTRACKER_PASSWORD)")
	cmd.Flags().String("display-name", "", "Display name (defaults to the username)")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			users, err := db.ListUsers()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tDISPLAY NAME\tACTIVE\tCREATED")
			for _, u := range users {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.DisplayName,
					strconv.FormatBool(u.Active), u.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
	commonFlags(cmd.Flags())
	return cmd
}

func userSetActiveCmd(use string, active bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " USERNAME",
		Short: fmt.Sprintf("%s an account", map[bool]string{true: "Enable", false: "Disable"}[active]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := db.GetUserByUsername(args[0])
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("unknown user %q", args[0])
			}
			if err := db.SetUserActive(u.ID, active); err != nil {
				return fmt.Errorf("update user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd user %s\n", use, args[0])
			return nil
		},
	}
	commonFlags(cmd.Flags())
	return cmd
}
