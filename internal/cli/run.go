package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/veil-org/veil/pkg/autolog"
	verrors "github.com/veil-org/veil/pkg/errors"
	"github.com/veil-org/veil/pkg/tracking"
)

// ExitError carries the exit status of a tracked command that exited
// non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.Code)
}

// runOptions hold the flags of the run command.
type runOptions struct {
	session     string
	sessionTags []string
	name        string
	tags        []string
	params      []string
	logParams   []string
	noParams    bool
}

func (app *App) newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Run a command as a tracked run",
		Long: `Run COMMAND inside a session and record it as a child run.

--param values are logged as run parameters; COMMAND's own arguments are
never logged. The child run ends FAILED when COMMAND exits non-zero, and
veil exits with COMMAND's status.

The command sees MLFLOW_TRACKING_URI, MLFLOW_EXPERIMENT_ID and MLFLOW_RUN_ID
for the child run.

Examples:
  veil run -- python train.py
  veil run --session sweep --session-tag team=vision -- ./train.sh
  veil run --name fit --param lr=0.01 --param epochs=3 -- python fit.py
  veil run --param lr=0.01 --log-param lr --tag stage=dev -- make train`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runTracked(cmd, opts, args)
		},
	}
	// COMMAND's own flags must not be parsed as veil flags.
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().StringVar(&opts.session, "session", "veil", "session run name")
	cmd.Flags().StringArrayVar(&opts.sessionTags, "session-tag", nil, "session tag as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.name, "name", "", "child run name (default: command base name)")
	cmd.Flags().StringArrayVar(&opts.tags, "tag", nil, "child run tag as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.params, "param", nil, "parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.logParams, "log-param", nil, "only log this parameter (repeatable)")
	cmd.Flags().BoolVar(&opts.noParams, "no-params", false, "do not log any parameter")
	cmd.MarkFlagsMutuallyExclusive("log-param", "no-params")

	return cmd
}

func (app *App) runTracked(cmd *cobra.Command, opts *runOptions, argv []string) error {
	ctx := cmd.Context()

	sessionTags, err := parsePairs("session-tag", opts.sessionTags)
	if err != nil {
		return err
	}
	tags, err := parsePairs("tag", opts.tags)
	if err != nil {
		return err
	}
	params, err := parsePairs("param", opts.params)
	if err != nil {
		return err
	}

	if err := app.setupAutolog(ctx); err != nil {
		return err
	}

	runOpts := autolog.RunOptions{
		Name:    opts.name,
		LogTags: tags,
	}
	if runOpts.Name == "" {
		runOpts.Name = filepath.Base(argv[0])
	}
	switch {
	case opts.noParams:
		runOpts.LogParams = []string{}
	case len(opts.logParams) > 0:
		runOpts.LogParams = opts.logParams
	}

	client := app.autologger.Client()
	inv, err := app.autologger.Run(runOpts, func(ctx context.Context, args autolog.Args) (any, error) {
		return nil, execCommand(ctx, cmd, client, args)
	})
	if err != nil {
		return err
	}

	args := autolog.Args{Keyword: make(map[string]any, len(params))}
	for _, a := range argv {
		args.Positional = append(args.Positional, a)
	}
	for k, v := range params {
		args.Keyword[k] = v
	}

	runErr := app.autologger.WithSession(ctx, opts.session, sessionTags, func(ctx context.Context, _ *autolog.Session) error {
		_, err := inv.Invoke(ctx, args)
		return err
	})

	app.printSummary(cmd.ErrOrStderr())
	return runErr
}

// execCommand runs the positional arguments as a process wired to the
// command's streams.
func execCommand(ctx context.Context, cmd *cobra.Command, client tracking.Client, args autolog.Args) error {
	argv := make([]string, len(args.Positional))
	for i, a := range args.Positional {
		argv[i] = fmt.Sprint(a)
	}

	proc := exec.CommandContext(ctx, argv[0], argv[1:]...)
	proc.Stdin = cmd.InOrStdin()
	proc.Stdout = cmd.OutOrStdout()
	proc.Stderr = cmd.ErrOrStderr()
	proc.Env = os.Environ()
	if run := client.ActiveRun(); run != nil {
		proc.Env = append(proc.Env,
			"MLFLOW_TRACKING_URI="+client.TrackingURI(),
			"MLFLOW_EXPERIMENT_ID="+run.ExperimentID,
			"MLFLOW_RUN_ID="+run.ID,
		)
	}

	err := proc.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		return &ExitError{Code: exitErr.ExitCode()}
	default:
		return verrors.Wrap(err, verrors.ErrCommandFailed, verrors.CategoryCommand, "failed to start command").
			WithContext("command", argv[0])
	}
}

// parsePairs parses key=value flag values.
func parsePairs(flag string, values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, verrors.Commandf(verrors.ErrCommandInvalidArgs, "--%s expects key=value, got %q", flag, v).
				WithContext("flag", flag)
		}
		out[key] = value
	}
	return out, nil
}

// printSummary lists the runs of an in-memory tracking target, which
// would otherwise be lost when veil exits.
func (app *App) printSummary(w io.Writer) {
	if app.fluent == nil || app.autologger == nil || !app.autologger.Enabled() {
		return
	}
	store, ok := app.fluent.Registry().MemoryStoreFor(app.autologger.TrackingURI())
	if !ok {
		return
	}
	runs := store.Runs()
	if len(runs) == 0 {
		return
	}

	fmt.Fprintf(w, "\nRuns recorded in %s:\n", app.autologger.TrackingURI())
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  RUN ID\tNAME\tSTATUS\tPARENT\tPARAMS")
	for _, r := range runs {
		parent := r.ParentID()
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", r.Info.ID, r.Info.Name, r.Info.Status, parent, formatParams(r.Params))
	}
	tw.Flush()
}

func formatParams(params map[string]string) string {
	if len(params) == 0 {
		return "-"
	}
	keys := sortedKeys(params)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	return strings.Join(parts, " ")
}
