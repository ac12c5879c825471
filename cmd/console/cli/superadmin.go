package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msspconsole/console/internal/service"
)

func newSuperadminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "superadmin",
		Short: "Manage the main superadmin",
	}

	cmd.AddCommand(newSuperadminBootstrapCmd(a))

	return cmd
}

// ---------- superadmin bootstrap ----------

func newSuperadminBootstrapCmd(a *app) *cobra.Command {
	var (
		username string
		password string
		email    string
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the single main superadmin account",
		Long: `Create the main superadmin. There is exactly one; running the command
again after it exists fails. The account enrolls in MFA on first login.`,
		Example: `  console superadmin bootstrap --username root
  console superadmin bootstrap --username root --password 'correct horse' --email soc@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				pw, err := readPassword(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				password = pw
			}
			return runBootstrap(cmd.Context(), a, cmd, username, password, email)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username of the main superadmin (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&email, "email", "", "Email address (default: <username>@example.com)")
	cmd.MarkFlagRequired("username")

	return cmd
}

func runBootstrap(ctx context.Context, a *app, cmd *cobra.Command, username, password, email string) error {
	if err := checkPassword(password); err != nil {
		return err
	}
	rt, err := a.resolve(false)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	st, err := openStore(rt)
	if err != nil {
		return err
	}
	defer st.Close()

	u, err := service.NewAccountService(st, rt.BcryptCost).Bootstrap(ctx, username, password, email)
	if errors.Is(err, service.ErrAlreadyBootstrapped) {
		return fmt.Errorf("a main superadmin already exists")
	}
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created main superadmin %q\n", u.Username)
	fmt.Fprintln(cmd.OutOrStdout(), "MFA enrollment happens on first login.")
	return nil
}
