package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veil-org/veil/pkg/config"
)

func (app *App) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage veil configuration",
	}
	cmd.AddCommand(app.newConfigInitCmd())
	cmd.AddCommand(app.newConfigShowCmd())
	return cmd
}

func (app *App) newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a default config file",
		Long: `Write a default config file to PATH, the --config path, or the
default location. An existing file is left untouched.`,
		Args: cobra.MaximumNArgs(1),
		// Loading would fail on the very file this command creates.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.opts.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = config.DefaultConfigPath()
			}

			written, err := config.InitConfig(path)
			if err != nil {
				return err
			}
			if !written {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at: %s\n", path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config initialized at: %s\n", path)
			return nil
		},
	}
}

func (app *App) newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after applying the config file, environment
variables and flags. The tracking token is redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(cmd.OutOrStdout(), app.cfg.String())
			return nil
		},
	}
}
