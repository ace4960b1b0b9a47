package autolog

import (
	"context"
	"fmt"

	"github.com/veil-org/veil/pkg/tracking"
)

// panicError carries a recovered panic value to code that expects an error.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// clientState is what the guard changed on the client and must put back.
type clientState struct {
	// cleared is set once no run of the caller's is active, so any run
	// active at restore time was left behind by op.
	cleared       bool
	pausedRunID   string
	uri           string
	uriSet        bool
	experimentID  string
	experimentSet bool
}

// Isolated runs op with the client pointed at the Autologger's tracking URI
// and experiment, then restores the client's previous URI, experiment and
// active run. The guard is only active while tracking is enabled and a
// session is current; otherwise op runs directly.
//
// Restoration also happens when op fails or panics. op's error is returned
// unchanged; a restoration error is returned only when op succeeded. A
// panic is re-raised after restoration.
func (a *Autologger) Isolated(ctx context.Context, op func(context.Context) error) error {
	if !a.Enabled() || a.CurrentSession() == nil {
		return op(ctx)
	}
	return a.isolate(ctx, op)
}

func (a *Autologger) isolate(ctx context.Context, op func(context.Context) error) (err error) {
	c := a.client
	var saved clientState

	defer func() {
		r := recover()
		restoreErr := a.restore(ctx, saved)
		if r != nil {
			panic(r)
		}
		if err == nil {
			err = restoreErr
		}
	}()

	if run := c.ActiveRun(); run != nil {
		if err := c.EndRun(ctx, tracking.StatusRunning); err != nil {
			return err
		}
		saved.pausedRunID = run.ID
	}
	saved.cleared = true

	saved.uri = c.TrackingURI()
	if err := c.SetTrackingURI(a.TrackingURI()); err != nil {
		return err
	}
	saved.uriSet = true

	saved.experimentID = c.ActiveExperimentID()
	if _, err := c.SetExperiment(ctx, tracking.ByName(a.ExperimentName())); err != nil {
		return err
	}
	saved.experimentSet = true

	return op(ctx)
}

// restore undoes what the guard changed. Runs op left active are paused
// first, while the client still points at the server they live on. The URI
// goes back before the experiment because experiment ids belong to the
// server they came from. Every step is attempted; the first failure is
// returned.
func (a *Autologger) restore(ctx context.Context, saved clientState) error {
	c := a.client
	var first error
	note := func(step string, err error) {
		if err == nil {
			return
		}
		a.log(ctx).WarnContext(ctx, "failed to restore tracking client state", "step", step, "error", err)
		if first == nil {
			first = err
		}
	}

	if saved.cleared {
		note("leftover_runs", a.pauseLeftovers(ctx))
	}
	if saved.uriSet {
		note("tracking_uri", c.SetTrackingURI(saved.uri))
	}
	if saved.experimentSet {
		_, err := c.SetExperiment(ctx, tracking.ByID(saved.experimentID))
		note("experiment", err)
	}
	if saved.pausedRunID != "" {
		_, err := c.StartRun(ctx, tracking.StartRunOptions{RunID: saved.pausedRunID})
		note("active_run", err)
	}
	return first
}

// pauseLeftovers ends every active run with RUNNING, innermost first.
func (a *Autologger) pauseLeftovers(ctx context.Context) error {
	c := a.client
	seen := map[string]bool{}
	for run := c.ActiveRun(); run != nil && !seen[run.ID]; run = c.ActiveRun() {
		seen[run.ID] = true
		if err := c.EndRun(ctx, tracking.StatusRunning); err != nil {
			return err
		}
		a.log(ctx).DebugContext(ctx, "paused run left active", "run_id", run.ID)
	}
	return nil
}
