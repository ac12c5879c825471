package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Long:  "Apply pending schema migrations to the configured store and exit. serve applies them too.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.resolve(false)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			st, err := openStore(rt)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("ping store: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Store schema is up to date (%s)\n", st.Driver())
			return nil
		},
	}
}
