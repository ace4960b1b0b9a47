package autolog

import (
	"context"

	verrors "github.com/veil-org/veil/pkg/errors"
	"github.com/veil-org/veil/pkg/tracking"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	StateCreated SessionState = iota
	StateEntered
	StateExited
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateEntered:
		return "entered"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Session brackets a parent run. Runs invoked while the session is current
// are recorded as children of the session's run and inherit its tags.
// A Session is single-use.
type Session struct {
	autologger *Autologger
	name       string
	tags       map[string]string
	runID      string
	parent     *Session
	state      SessionState
}

// Name returns the session name; empty means the run gets a generated name.
func (s *Session) Name() string { return s.name }

// Tags returns a copy of the default tags for nested runs.
func (s *Session) Tags() map[string]string { return copyTags(s.tags) }

// SetTags replaces the default tags. Only allowed before Enter.
func (s *Session) SetTags(tags map[string]string) error {
	if s.state != StateCreated {
		return s.stateError("set tags on")
	}
	if err := validateTags(tags); err != nil {
		return err
	}
	s.tags = copyTags(tags)
	return nil
}

// RunID returns the id of the session's run. It is empty unless the session
// is entered and tracking was enabled at Enter.
func (s *Session) RunID() string { return s.runID }

// State returns the lifecycle state.
func (s *Session) State() SessionState { return s.state }

// Parent returns the session that was current when s was entered.
func (s *Session) Parent() *Session { return s.parent }

func (s *Session) stateError(action string) error {
	return verrors.Validationf(verrors.ErrSessionStateInvalid, "session", "cannot %s a session in state %s", action, s.state).
		WithContext("session", s.name)
}

// Enter makes s the current session. With tracking enabled it allocates the
// session's run by starting it and immediately pausing it, which leaves the
// client without an active run so the run can later be resumed by id.
// If the tracking calls fail, s is popped again and the client error is
// returned.
func (s *Session) Enter(ctx context.Context) error {
	if s.state != StateCreated {
		return s.stateError("enter")
	}
	a := s.autologger

	s.parent = a.CurrentSession()
	a.setCurrent(s)
	s.state = StateEntered

	if !a.Enabled() {
		a.log(ctx).DebugContext(ctx, "session entered without tracking", "session", s.name)
		return nil
	}

	var runID string
	err := a.Isolated(ctx, func(ctx context.Context) error {
		run, err := a.client.StartRun(ctx, tracking.StartRunOptions{RunName: s.name})
		if err != nil {
			return err
		}
		runID = run.ID
		if err := a.client.EndRun(ctx, tracking.StatusRunning); err != nil {
			// The session will not be entered; close its run instead of
			// leaving it open on the server.
			if endErr := a.client.EndRun(ctx, tracking.StatusFailed); endErr != nil {
				a.log(ctx).WarnContext(ctx, "failed to end run of session that could not be entered",
					"session", s.name, "run_id", runID, "error", endErr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		a.setCurrent(s.parent)
		s.parent = nil
		s.state = StateCreated
		return err
	}

	s.runID = runID
	a.log(ctx).DebugContext(ctx, "session entered", "session", s.name, "run_id", runID)
	return nil
}

// Exit ends the session's run, FAILED when cause is non-nil and FINISHED
// otherwise, and makes the parent session current again. The run id is
// cleared and the parent restored even when the tracking calls fail.
func (s *Session) Exit(ctx context.Context, cause error) error {
	if s.state != StateEntered {
		return s.stateError("exit")
	}
	a := s.autologger

	if cur := a.CurrentSession(); cur != s {
		a.log(ctx).WarnContext(ctx, "exiting a session that is not current", "session", s.name)
	}

	var err error
	if s.runID != "" && a.Enabled() {
		status := tracking.StatusFinished
		if cause != nil {
			status = tracking.StatusFailed
		}
		runID := s.runID
		err = a.Isolated(ctx, func(ctx context.Context) error {
			if _, err := a.client.StartRun(ctx, tracking.StartRunOptions{RunID: runID}); err != nil {
				return err
			}
			return a.client.EndRun(ctx, status)
		})
		a.log(ctx).DebugContext(ctx, "session exited", "session", s.name, "run_id", runID, "status", status)
	}

	s.runID = ""
	a.setCurrent(s.parent)
	s.state = StateExited
	return err
}
