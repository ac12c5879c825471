package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/msspconsole/console/internal/config"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	dataDir string
	dev     bool

	version string
	commit  string
	date    string
}

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	a := &app{v: viper.New(), version: version, commit: commit, date: date}

	cmd := &cobra.Command{
		Use:   "console",
		Short: "MSSP admin console backend",
		Long: `MSSP admin console backend.

Serves the console API: password and TOTP login, a cookie session, and
role-scoped management of clients, admins, and superadmins.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.ConfigureViper(a.v, a.cfgFile)
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./console.yaml)")
	cmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.console)")
	cmd.PersistentFlags().BoolVar(&a.dev, "dev", false, "Development mode (debug logging, non-Secure cookie, default JWT secret)")
	a.v.BindPFlag("database.data_dir", cmd.PersistentFlags().Lookup("data-dir"))

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newSuperadminCmd(a))
	cmd.AddCommand(newAdminCmd(a))
	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newOpenAPICmd(a))
	cmd.AddCommand(newVersionCmd(a))

	return cmd
}
