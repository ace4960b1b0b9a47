package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	verrors "github.com/veil-org/veil/pkg/errors"
	"github.com/veil-org/veil/pkg/repoinfo"
)

func (app *App) newRepoInfoCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "repo-info [PATH]",
		Short: "Show the repository metadata attached to runs",
		Long: `Show the git remote, commit and branch that veil tags runs with.

PATH defaults to the configured repo.path. Parent directories are searched
for the repository. Missing values are left out.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.cfg.Repo.Path
			if len(args) == 1 {
				path = args[0]
			}
			info := repoinfo.NewGitProbe(path, app.logger).Probe(cmd.Context())
			return printInfo(cmd, info, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func printInfo(cmd *cobra.Command, info repoinfo.Info, output string) error {
	w := cmd.OutOrStdout()
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "yaml":
		data, err := yaml.Marshal(info)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "text":
		if info == (repoinfo.Info{}) {
			fmt.Fprintln(w, "No repository metadata found")
			return nil
		}
		tags := info.Tags()
		for _, k := range sortedKeys(tags) {
			v := tags[k]
			if v == "" {
				v = "-"
			}
			fmt.Fprintf(w, "%s: %s\n", k, v)
		}
		return nil
	default:
		return verrors.Commandf(verrors.ErrCommandInvalidArgs, "unknown output format %q", output).
			WithSuggestion("Use text, json or yaml")
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
