// Package autolog wraps functions so that calling them records tracking runs.
//
// An Autologger holds the tracking target (URI and experiment name) and the
// current Session. A Session brackets a parent run; a RunInvocation wraps a
// function and, when invoked inside a session, opens a child run under the
// session's run, tags it, logs its keyword arguments as parameters and
// closes it. All tracking calls happen under an isolation guard that points
// the shared client at the Autologger's target and restores the client's
// previous URI, experiment and active run afterwards.
package autolog

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	verrors "github.com/veil-org/veil/pkg/errors"
	"github.com/veil-org/veil/pkg/logging"
	"github.com/veil-org/veil/pkg/repoinfo"
	"github.com/veil-org/veil/pkg/tracking"
)

// Autologger is the configuration holder and factory for sessions and runs.
// Concurrent use from several goroutines is not supported: sessions and runs
// share one tracking client and one current-session pointer.
type Autologger struct {
	client tracking.Client
	probe  repoinfo.Prober
	logger *slog.Logger

	enabled        bool
	trackingURI    string
	experimentName string
	current        *Session

	mu sync.RWMutex
}

// Option configures an Autologger.
type Option func(*Autologger) error

// WithEnabled sets the initial enabled flag.
func WithEnabled(enabled bool) Option {
	return func(a *Autologger) error {
		a.enabled = enabled
		return nil
	}
}

// WithTrackingURI sets the tracking URI runs are recorded to.
func WithTrackingURI(uri string) Option {
	return func(a *Autologger) error {
		return a.SetTrackingURI(uri)
	}
}

// WithExperimentName sets the experiment runs are recorded in.
func WithExperimentName(name string) Option {
	return func(a *Autologger) error {
		return a.SetExperimentName(name)
	}
}

// WithProbe sets the repository metadata probe. A nil probe reports no
// metadata.
func WithProbe(p repoinfo.Prober) Option {
	return func(a *Autologger) error {
		if p == nil {
			p = repoinfo.Static(repoinfo.Info{})
		}
		a.probe = p
		return nil
	}
}

// WithLogger sets the logger. Without one, the logger carried by the call
// context (or slog.Default) is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Autologger) error {
		a.logger = logger
		return nil
	}
}

// New creates an enabled Autologger targeting the client's current tracking
// URI and the default experiment.
func New(client tracking.Client, opts ...Option) (*Autologger, error) {
	if client == nil {
		return nil, verrors.Validation(verrors.ErrValidationEmptyValue, "client", "tracking client is required")
	}
	a := &Autologger{
		client:         client,
		enabled:        true,
		trackingURI:    client.TrackingURI(),
		experimentName: tracking.DefaultExperimentName,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.probe == nil {
		a.probe = repoinfo.NewGitProbe(".", a.logger)
	}
	return a, nil
}

// Client returns the tracking client the Autologger drives.
func (a *Autologger) Client() tracking.Client { return a.client }

func (a *Autologger) log(ctx context.Context) *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return logging.FromContext(ctx)
}

// Enabled reports whether tracking calls are made.
func (a *Autologger) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// SetEnabled turns tracking on or off. Sessions already entered keep the
// run they allocated.
func (a *Autologger) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()
}

// TrackingURI returns the URI runs are recorded to.
func (a *Autologger) TrackingURI() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.trackingURI
}

// SetTrackingURI changes the URI runs are recorded to. The URI must carry
// a scheme; on error the previous value is kept.
func (a *Autologger) SetTrackingURI(uri string) error {
	if err := tracking.ValidateTrackingURI(uri); err != nil {
		return err
	}
	a.mu.Lock()
	a.trackingURI = uri
	a.mu.Unlock()
	return nil
}

// ExperimentName returns the experiment runs are recorded in.
func (a *Autologger) ExperimentName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.experimentName
}

// SetExperimentName changes the experiment runs are recorded in. Blank
// names are rejected and the previous value is kept.
func (a *Autologger) SetExperimentName(name string) error {
	if strings.TrimSpace(name) == "" {
		return verrors.Validation(verrors.ErrValidationEmptyValue, "experiment_name", "experiment name must not be empty")
	}
	a.mu.Lock()
	a.experimentName = name
	a.mu.Unlock()
	return nil
}

// CurrentSession returns the innermost entered session, or nil.
func (a *Autologger) CurrentSession() *Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

func (a *Autologger) setCurrent(s *Session) {
	a.mu.Lock()
	a.current = s
	a.mu.Unlock()
}

// StartSession creates a session bound to a. The session does nothing until
// it is entered.
func (a *Autologger) StartSession(name string, tags map[string]string) (*Session, error) {
	if err := validateTags(tags); err != nil {
		return nil, err
	}
	return &Session{
		autologger: a,
		name:       name,
		tags:       copyTags(tags),
		state:      StateCreated,
	}, nil
}

// WithSession enters a new session, runs fn and exits the session with fn's
// error. A panic in fn exits the session as failed and is re-raised.
func (a *Autologger) WithSession(ctx context.Context, name string, tags map[string]string, fn func(context.Context, *Session) error) (err error) {
	s, err := a.StartSession(name, tags)
	if err != nil {
		return err
	}
	if err := s.Enter(ctx); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if exitErr := s.Exit(ctx, panicError{value: r}); exitErr != nil {
				a.log(ctx).WarnContext(ctx, "session exit failed after panic", "session", name, "error", exitErr)
			}
			panic(r)
		}
	}()

	fnErr := fn(ctx, s)
	exitErr := s.Exit(ctx, fnErr)
	if fnErr != nil {
		if exitErr != nil {
			a.log(ctx).WarnContext(ctx, "session exit failed", "session", name, "error", exitErr)
		}
		return fnErr
	}
	return exitErr
}

func validateTags(tags map[string]string) error {
	for k := range tags {
		if strings.TrimSpace(k) == "" {
			return verrors.Validation(verrors.ErrValidationEmptyValue, "log_tags", "tag keys must not be empty")
		}
	}
	return nil
}

func copyTags(tags map[string]string) map[string]string {
	result := make(map[string]string, len(tags))
	for k, v := range tags {
		result[k] = v
	}
	return result
}
