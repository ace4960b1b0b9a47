package tracking

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	verrors "github.com/veil-org/veil/pkg/errors"
)

// Fluent is the process-local tracking client. It holds the tracking URI,
// the active experiment id and a stack of active runs, and resolves the
// Store for the current URI through a Registry.
//
// Fluent guards its own fields, but callers that interleave runs from several
// goroutines still share a single run stack.
type Fluent struct {
	registry     *Registry
	uri          string
	experimentID string
	stack        []*RunHandle
	mu           sync.Mutex
}

// FluentOption configures a Fluent client.
type FluentOption func(*Fluent)

// WithRegistry sets the registry used to resolve stores.
func WithRegistry(r *Registry) FluentOption {
	return func(f *Fluent) {
		f.registry = r
	}
}

// NewFluent creates a client pointed at uri with the default experiment active.
func NewFluent(uri string, opts ...FluentOption) (*Fluent, error) {
	f := &Fluent{experimentID: DefaultExperimentID}
	for _, opt := range opts {
		opt(f)
	}
	if f.registry == nil {
		f.registry = DefaultRegistry(0, "")
	}
	if err := f.SetTrackingURI(uri); err != nil {
		return nil, err
	}
	return f, nil
}

// Registry returns the registry the client resolves stores from.
func (f *Fluent) Registry() *Registry { return f.registry }

// Store returns the store for the current tracking URI.
func (f *Fluent) Store() (Store, error) {
	f.mu.Lock()
	uri := f.uri
	f.mu.Unlock()
	return f.registry.Open(uri)
}

// MemoryStore returns the memory store behind the current URI, if the URI
// uses the memory scheme and has been opened.
func (f *Fluent) MemoryStore() (*MemoryStore, bool) {
	if _, err := f.Store(); err != nil {
		return nil, false
	}
	return f.registry.MemoryStoreFor(f.TrackingURI())
}

// ValidateTrackingURI checks that uri parses and carries a scheme.
func ValidateTrackingURI(uri string) error {
	if strings.TrimSpace(uri) == "" {
		return verrors.Validation(verrors.ErrValidationEmptyValue, "tracking_uri", "tracking URI must not be empty")
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return verrors.Validationf(verrors.ErrValidationInvalidURI, "tracking_uri", "invalid tracking URI %q", uri).
			WithContext("value", uri)
	}
	return nil
}

// SetTrackingURI points the client at a new tracking URI. The store is
// opened lazily on the next call that needs it.
func (f *Fluent) SetTrackingURI(uri string) error {
	if err := ValidateTrackingURI(uri); err != nil {
		return err
	}
	f.mu.Lock()
	f.uri = uri
	f.mu.Unlock()
	return nil
}

// TrackingURI returns the current tracking URI.
func (f *Fluent) TrackingURI() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uri
}

// ActiveExperimentID returns the id new runs are created in.
func (f *Fluent) ActiveExperimentID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.experimentID
}

// SetExperiment activates an experiment. A name reference creates the
// experiment when it does not exist; an id reference must exist.
func (f *Fluent) SetExperiment(ctx context.Context, ref ExperimentRef) (*Experiment, error) {
	store, err := f.Store()
	if err != nil {
		return nil, err
	}

	var exp *Experiment
	switch {
	case ref.Name != "":
		exp, err = store.GetExperimentByName(ctx, ref.Name)
		if err != nil {
			return nil, err
		}
		if exp == nil {
			exp, err = store.CreateExperiment(ctx, ref.Name)
			if err != nil {
				return nil, err
			}
		}
	case ref.ID != "":
		exp, err = store.GetExperiment(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, verrors.Validation(verrors.ErrValidationEmptyValue, "experiment", "experiment name or id is required")
	}

	f.mu.Lock()
	f.experimentID = exp.ID
	f.mu.Unlock()
	return exp, nil
}

// ActiveRun returns the innermost active run, or nil.
func (f *Fluent) ActiveRun() *RunHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.stack) == 0 {
		return nil
	}
	h := *f.stack[len(f.stack)-1]
	return &h
}

// StartRun resumes the run named by opts.RunID, or creates a new run in the
// active experiment, and pushes it on the run stack.
func (f *Fluent) StartRun(ctx context.Context, opts StartRunOptions) (*RunHandle, error) {
	active := f.ActiveRun()
	if active != nil && !opts.Nested {
		return nil, verrors.Trackingf(verrors.ErrRunAlreadyActive, "run %q is already active", active.ID).
			WithContext("run_id", active.ID)
	}

	store, err := f.Store()
	if err != nil {
		return nil, err
	}

	var handle *RunHandle
	if opts.RunID != "" {
		run, err := store.GetRun(ctx, opts.RunID)
		if err != nil {
			return nil, err
		}
		if err := store.UpdateRun(ctx, opts.RunID, StatusRunning, nil); err != nil {
			return nil, err
		}
		handle = &RunHandle{
			ID:           run.Info.ID,
			Name:         run.Info.Name,
			ExperimentID: run.Info.ExperimentID,
			ParentID:     run.ParentID(),
			Status:       StatusRunning,
		}
	} else {
		tags := make(map[string]string)
		if active != nil {
			tags[TagParentRunID] = active.ID
		}
		info, err := store.CreateRun(ctx, CreateRunRequest{
			ExperimentID: f.ActiveExperimentID(),
			Name:         opts.RunName,
			StartTime:    time.Now(),
			Tags:         tags,
		})
		if err != nil {
			return nil, err
		}
		handle = &RunHandle{
			ID:           info.ID,
			Name:         info.Name,
			ExperimentID: info.ExperimentID,
			ParentID:     tags[TagParentRunID],
			Status:       info.Status,
		}
	}

	f.mu.Lock()
	f.stack = append(f.stack, handle)
	f.mu.Unlock()

	h := *handle
	return &h, nil
}

// EndRun ends the innermost active run with status and pops it. It is a
// no-op when no run is active. An empty status means StatusFinished; a
// terminal status also records the end time.
func (f *Fluent) EndRun(ctx context.Context, status RunStatus) error {
	active := f.ActiveRun()
	if active == nil {
		return nil
	}
	if status == "" {
		status = StatusFinished
	}
	if !status.IsValid() {
		return verrors.Validationf(verrors.ErrValidationTypeMismatch, "status", "unknown run status %q", status)
	}

	store, err := f.Store()
	if err != nil {
		return err
	}

	var end *time.Time
	if status.IsTerminal() {
		now := time.Now()
		end = &now
	}
	if err := store.UpdateRun(ctx, active.ID, status, end); err != nil {
		return err
	}

	f.mu.Lock()
	if n := len(f.stack); n > 0 && f.stack[n-1].ID == active.ID {
		f.stack = f.stack[:n-1]
	}
	f.mu.Unlock()
	return nil
}

// SetTag sets a tag on the active run.
func (f *Fluent) SetTag(ctx context.Context, key, value string) error {
	return f.SetTags(ctx, map[string]string{key: value})
}

// SetTags sets tags on the active run.
func (f *Fluent) SetTags(ctx context.Context, tags map[string]string) error {
	active, store, err := f.activeStore()
	if err != nil {
		return err
	}
	return store.SetTags(ctx, active.ID, tags)
}

// LogParam logs a parameter on the active run.
func (f *Fluent) LogParam(ctx context.Context, key, value string) error {
	active, store, err := f.activeStore()
	if err != nil {
		return err
	}
	return store.LogParam(ctx, active.ID, key, value)
}

func (f *Fluent) activeStore() (*RunHandle, Store, error) {
	active := f.ActiveRun()
	if active == nil {
		return nil, nil, verrors.Tracking(verrors.ErrNoActiveRun, "no active run")
	}
	store, err := f.Store()
	if err != nil {
		return nil, nil, err
	}
	return active, store, nil
}

var _ Client = (*Fluent)(nil)
