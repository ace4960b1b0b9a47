// Package cli implements the veil command line.
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/veil-org/veil/pkg/autolog"
	"github.com/veil-org/veil/pkg/config"
	verrors "github.com/veil-org/veil/pkg/errors"
	"github.com/veil-org/veil/pkg/logging"
	"github.com/veil-org/veil/pkg/telemetry"
	"github.com/veil-org/veil/pkg/tracking"
)

// Version is set at build time.
var Version = "0.1.0-dev"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	logLevel    string
	logFormat   string
	trackingURI string
	experiment  string
	disable     bool
}

// App holds the state built for one command invocation.
type App struct {
	opts globalOptions

	cfg        *config.Config
	logger     *slog.Logger
	providers  *telemetry.Providers
	fluent     *tracking.Fluent
	autologger *autolog.Autologger
}

// New returns an App with nothing loaded yet.
func New() *App {
	return &App{}
}

// Execute builds the command tree, runs it with args and releases
// telemetry resources.
func Execute(ctx context.Context, args []string) error {
	app := New()
	defer func() {
		if err := app.Close(context.WithoutCancel(ctx)); err != nil {
			app.log().Warn("telemetry shutdown failed", "error", err)
		}
	}()

	cmd := app.Command()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// Close flushes and stops the telemetry providers, if any were started.
func (app *App) Close(ctx context.Context) error {
	if app.providers == nil {
		return nil
	}
	err := app.providers.Shutdown(ctx)
	app.providers = nil
	return err
}

func (app *App) log() *slog.Logger {
	if app.logger == nil {
		return slog.Default()
	}
	return app.logger
}

// loadConfig resolves the configuration: file, environment, then flags.
// An explicit --config must exist; the default path may be missing.
func (app *App) loadConfig(changed func(string) bool, logOut io.Writer) error {
	var (
		cfg *config.Config
		err error
	)
	if changed("config") {
		cfg, err = config.Load(app.opts.configPath)
	} else {
		cfg, err = config.LoadOrDefault(config.DefaultConfigPath())
	}
	if err != nil {
		return err
	}

	if changed("log-level") {
		cfg.Log.Level = app.opts.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = app.opts.logFormat
	}
	if changed("tracking-uri") {
		cfg.Autolog.TrackingURI = app.opts.trackingURI
	}
	if changed("experiment") {
		cfg.Autolog.ExperimentName = app.opts.experiment
	}
	if app.opts.disable {
		cfg.Autolog.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	app.cfg = cfg
	app.logger = logging.New(cfg.Log.Level, logFormat(cfg.Log.Format, logOut), logOut)
	return nil
}

// logFormat picks text for terminals and JSON otherwise unless a format is
// configured.
func logFormat(configured string, w io.Writer) string {
	if configured != "" {
		return strings.ToLower(configured)
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "json"
}

// setupAutolog builds the instrumented tracking client and the Autologger.
func (app *App) setupAutolog(ctx context.Context) error {
	if app.cfg == nil {
		return verrors.Internal(errors.New("configuration not loaded"), verrors.ErrInternal, "cannot set up autolog")
	}
	cfg := app.cfg

	providers, err := telemetry.NewProviders(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.Insecure)
	if err != nil {
		return verrors.ConfigWrap(err, verrors.ErrConfigInvalid, "failed to set up telemetry").
			WithContext("endpoint", cfg.Telemetry.OTLPEndpoint)
	}
	app.providers = providers

	fluent, err := tracking.NewFluent(cfg.Autolog.TrackingURI, tracking.WithRegistry(cfg.Registry()))
	if err != nil {
		return err
	}
	client, err := telemetry.InstrumentClient(fluent, providers.TracerProvider, providers.MeterProvider)
	if err != nil {
		return verrors.Internal(err, verrors.ErrInternal, "failed to instrument tracking client")
	}

	al, err := autolog.New(client,
		autolog.WithLogger(app.logger),
		autolog.WithProbe(cfg.Probe(app.logger)),
	)
	if err != nil {
		return err
	}
	if err := cfg.Apply(al); err != nil {
		return err
	}

	app.fluent = fluent
	app.autologger = al
	app.logger.DebugContext(ctx, "autolog configured",
		"tracking_uri", al.TrackingURI(),
		"experiment", al.ExperimentName(),
		"enabled", al.Enabled())
	return nil
}
