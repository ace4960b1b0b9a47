package autolog

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/veil-org/veil/pkg/tracking"
)

// EnvTrackingURI names the environment variable read for the default
// tracking URI.
const EnvTrackingURI = "MLFLOW_TRACKING_URI"

// DefaultTrackingURI is used when EnvTrackingURI is unset or invalid.
const DefaultTrackingURI = "memory://default"

var (
	defaultMu sync.RWMutex
	defaultAL *Autologger
)

func newDefault() *Autologger {
	uri := os.Getenv(EnvTrackingURI)
	if uri == "" {
		uri = DefaultTrackingURI
	}
	client, err := tracking.NewFluent(uri)
	if err != nil {
		slog.Warn("ignoring invalid tracking URI from environment", "env", EnvTrackingURI, "uri", uri, "error", err)
		client, _ = tracking.NewFluent(DefaultTrackingURI)
	}
	a, _ := New(client)
	return a
}

// Default returns the process-wide Autologger, creating it on first use.
// It records to $MLFLOW_TRACKING_URI, or to an in-memory store.
func Default() *Autologger {
	defaultMu.RLock()
	a := defaultAL
	defaultMu.RUnlock()
	if a != nil {
		return a
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultAL == nil {
		defaultAL = newDefault()
	}
	return defaultAL
}

// SetDefault replaces the process-wide Autologger. nil drops it; the next
// Default call builds a fresh one from the environment.
func SetDefault(a *Autologger) {
	defaultMu.Lock()
	defaultAL = a
	defaultMu.Unlock()
}

// SetAutologEnabled enables or disables the default Autologger.
func SetAutologEnabled(enabled bool) { Default().SetEnabled(enabled) }

// IsAutologEnabled reports whether the default Autologger is enabled.
func IsAutologEnabled() bool { return Default().Enabled() }

// SetTrackingURI sets the default Autologger's tracking URI.
func SetTrackingURI(uri string) error { return Default().SetTrackingURI(uri) }

// TrackingURI returns the default Autologger's tracking URI.
func TrackingURI() string { return Default().TrackingURI() }

// SetExperimentName sets the default Autologger's experiment name.
func SetExperimentName(name string) error { return Default().SetExperimentName(name) }

// ExperimentName returns the default Autologger's experiment name.
func ExperimentName() string { return Default().ExperimentName() }

// StartSession creates a session on the default Autologger.
func StartSession(name string, tags map[string]string) (*Session, error) {
	return Default().StartSession(name, tags)
}

// WithSession runs fn inside a session on the default Autologger.
func WithSession(ctx context.Context, name string, tags map[string]string, fn func(context.Context, *Session) error) error {
	return Default().WithSession(ctx, name, tags, fn)
}

// NewRun wraps fn with the default Autologger.
func NewRun(opts RunOptions, fn Func) (*RunInvocation, error) {
	return Default().Run(opts, fn)
}
