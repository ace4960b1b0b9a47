package tracking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Call is one recorded client call.
type Call struct {
	Op     string
	Detail string
}

func (c Call) String() string {
	if c.Detail == "" {
		return c.Op
	}
	return c.Op + "(" + c.Detail + ")"
}

// Recorder wraps a Client and records every call in order.
type Recorder struct {
	Client
	calls []Call
	mu    sync.Mutex
}

// NewRecorder wraps inner.
func NewRecorder(inner Client) *Recorder {
	return &Recorder{Client: inner}
}

func (r *Recorder) record(op, detail string) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: op, Detail: detail})
	r.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Call, len(r.calls))
	copy(result, r.calls)
	return result
}

// Ops returns the recorded operation names.
func (r *Recorder) Ops() []string {
	calls := r.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Count returns how many times op was called.
func (r *Recorder) Count(op string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset clears the recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *Recorder) StartRun(ctx context.Context, opts StartRunOptions) (*RunHandle, error) {
	detail := opts.RunName
	if opts.RunID != "" {
		detail = "id=" + opts.RunID
	}
	if opts.Nested {
		detail += ",nested"
	}
	r.record("StartRun", detail)
	return r.Client.StartRun(ctx, opts)
}

func (r *Recorder) EndRun(ctx context.Context, status RunStatus) error {
	r.record("EndRun", string(status))
	return r.Client.EndRun(ctx, status)
}

func (r *Recorder) ActiveRun() *RunHandle {
	r.record("ActiveRun", "")
	return r.Client.ActiveRun()
}

func (r *Recorder) SetTrackingURI(uri string) error {
	r.record("SetTrackingURI", uri)
	return r.Client.SetTrackingURI(uri)
}

func (r *Recorder) TrackingURI() string {
	r.record("TrackingURI", "")
	return r.Client.TrackingURI()
}

func (r *Recorder) SetExperiment(ctx context.Context, ref ExperimentRef) (*Experiment, error) {
	detail := "name=" + ref.Name
	if ref.Name == "" {
		detail = "id=" + ref.ID
	}
	r.record("SetExperiment", detail)
	return r.Client.SetExperiment(ctx, ref)
}

func (r *Recorder) ActiveExperimentID() string {
	r.record("ActiveExperimentID", "")
	return r.Client.ActiveExperimentID()
}

func (r *Recorder) SetTag(ctx context.Context, key, value string) error {
	r.record("SetTag", key+"="+value)
	return r.Client.SetTag(ctx, key, value)
}

func (r *Recorder) SetTags(ctx context.Context, tags map[string]string) error {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r.record("SetTags", strings.Join(keys, ","))
	return r.Client.SetTags(ctx, tags)
}

func (r *Recorder) LogParam(ctx context.Context, key, value string) error {
	r.record("LogParam", fmt.Sprintf("%s=%s", key, value))
	return r.Client.LogParam(ctx, key, value)
}

var _ Client = (*Recorder)(nil)
