package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/service"
	"github.com/msspconsole/console/internal/store"
)

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin and superadmin accounts",
		Long:  "Create, list, and delete console accounts directly in the store.",
	}

	cmd.AddCommand(newAdminCreateCmd(a))
	cmd.AddCommand(newAdminListCmd(a))
	cmd.AddCommand(newAdminDeleteCmd(a))

	return cmd
}

// parseManagedRole accepts the roles the CLI may create or delete.
func parseManagedRole(s string) (model.Role, error) {
	role, err := model.ParseRole(s)
	if err != nil {
		return model.RoleUnknown, err
	}
	if role == model.RoleMainSuperAdmin {
		return model.RoleUnknown, fmt.Errorf("use 'console superadmin bootstrap' for the main superadmin")
	}
	return role, nil
}

// ---------- admin create ----------

func newAdminCreateCmd(a *app) *cobra.Command {
	var (
		in   service.NewAccount
		role string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an admin or superadmin account",
		Example: `  console admin create --username jdoe --name "Jane Doe" --email jdoe@example.com \
      --organization SOC --city Lyon --state ARA
  console admin create --role superadmin --username lead ...  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseManagedRole(role)
			if err != nil {
				return err
			}
			if in.Password == "" {
				pw, err := readPassword(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				in.Password = pw
			}
			if err := checkPassword(in.Password); err != nil {
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

			u, err := service.NewAccountService(st, rt.BcryptCost).Create(cmd.Context(), in, r)
			switch {
			case errors.Is(err, store.ErrDuplicate):
				return fmt.Errorf("username or email already in use")
			case err != nil:
				return fmt.Errorf("create account: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q (id %d)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", model.RoleNameAdmin, "Account role: admin or superadmin")
	cmd.Flags().StringVar(&in.Username, "username", "", "Username (required)")
	cmd.Flags().StringVar(&in.Password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&in.Name, "name", "", "Display name (required)")
	cmd.Flags().StringVar(&in.Email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&in.Organization, "organization", "", "Organization (required)")
	cmd.Flags().StringVar(&in.City, "city", "", "City (required)")
	cmd.Flags().StringVar(&in.State, "state", "", "State (required)")
	for _, f := range []string{"username", "name", "email", "organization", "city", "state"} {
		cmd.MarkFlagRequired(f)
	}

	return cmd
}

// ---------- admin list ----------

func newAdminListCmd(a *app) *cobra.Command {
	var (
		jsonOutput bool
		role       string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List accounts of one role",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := model.ParseRole(role)
			if err != nil {
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

			users, err := st.ListUsersByRole(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(users)
			}
			if len(users) == 0 {
				fmt.Fprintf(out, "No %s accounts. Use 'console admin create' to create one.\n", r)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tNAME\tEMAIL\tMFA\tBLOCKED")
			for _, u := range users {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Name, u.Email, yesNo(u.HasMFA()), yesNo(u.Blocked))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&role, "role", model.RoleNameAdmin, "Role to list: admin, superadmin or main-superadmin")

	return cmd
}

// ---------- admin delete ----------

func newAdminDeleteCmd(a *app) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete an account and its client assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseManagedRole(role)
			if err != nil {
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

			u, err := st.FindByUsername(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("find account: %w", err)
			}
			if u == nil || u.Role != r {
				return fmt.Errorf("no %s named %q", r, args[0])
			}
			if err := service.NewAccountService(st, rt.BcryptCost).Delete(cmd.Context(), u.ID, r); err != nil {
				return fmt.Errorf("delete account: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %q\n", r, u.Username)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", model.RoleNameAdmin, "Account role: admin or superadmin")

	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
