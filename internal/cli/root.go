package cli

import (
	"github.com/spf13/cobra"
)

// Command builds the root command and its subcommands.
func (app *App) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "veil",
		Short: "Autologging for experiment tracking",
		Long: `veil records commands as tracked runs.

Each 'veil run' opens a session run and records the command as a child run
of it, tagged with the repository's remote, commit and branch. Runs go to
the configured tracking URI (memory:// or an MLflow server over http/https).

Examples:
  veil run -- python train.py
  veil run --session sweep --param lr=0.01 -- python train.py --lr 0.01
  veil repo-info
  veil config show`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.loadConfig(cmd.Flags().Changed, cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&app.opts.configPath, "config", "c", "", "config file (default is ./veil.yaml or $XDG_CONFIG_HOME/veil/config.yaml)")
	flags.StringVar(&app.opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&app.opts.logFormat, "log-format", "", "log format: text or json (default text on a terminal)")
	flags.StringVar(&app.opts.trackingURI, "tracking-uri", "", "tracking URI, e.g. memory://default or http://localhost:5000")
	flags.StringVar(&app.opts.experiment, "experiment", "", "experiment that receives the runs")
	flags.BoolVar(&app.opts.disable, "disable", false, "run without recording anything")

	cmd.AddCommand(app.newRunCmd())
	cmd.AddCommand(app.newRepoInfoCmd())
	cmd.AddCommand(app.newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}
