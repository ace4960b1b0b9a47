package autolog

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"

	verrors "github.com/veil-org/veil/pkg/errors"
	"github.com/veil-org/veil/pkg/tracking"
)

// Args are the arguments of one invocation. Only keyword arguments are
// candidates for parameter logging.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// Kw builds keyword-only Args from alternating keys and values. Keys that
// are not strings are formatted with fmt.Sprint; a trailing key without a
// value is dropped.
func Kw(pairs ...any) Args {
	kw := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			key = fmt.Sprint(pairs[i])
		}
		kw[key] = pairs[i+1]
	}
	return Args{Keyword: kw}
}

// Func is a function that can be wrapped in a RunInvocation.
type Func func(ctx context.Context, args Args) (any, error)

// RunOptions configure a RunInvocation.
type RunOptions struct {
	// Name of the child run. Empty uses the wrapped function's name.
	Name string
	// LogParams selects the keyword arguments logged as parameters:
	// nil logs all of them, an empty non-nil slice logs none, otherwise
	// only the listed names are logged.
	LogParams []string
	// LogTags are set on the child run, overriding session tags.
	LogTags map[string]string
}

// RunInvocation wraps a function so that each call inside a session is
// recorded as a child run of the session's run. It is immutable.
type RunInvocation struct {
	autologger *Autologger
	name       string
	logParams  []string
	logTags    map[string]string
	fn         Func
}

// Run wraps fn. Invalid options fail here, before any tracking call.
func (a *Autologger) Run(opts RunOptions, fn Func) (*RunInvocation, error) {
	if fn == nil {
		return nil, verrors.Validation(verrors.ErrValidationNilFunction, "fn", "run target must be a non-nil function")
	}
	for _, p := range opts.LogParams {
		if strings.TrimSpace(p) == "" {
			return nil, verrors.Validation(verrors.ErrValidationEmptyValue, "log_params", "parameter names must not be empty")
		}
	}
	if err := validateTags(opts.LogTags); err != nil {
		return nil, err
	}

	var params []string
	if opts.LogParams != nil {
		params = make([]string, len(opts.LogParams))
		copy(params, opts.LogParams)
	}

	name := opts.Name
	if name == "" {
		name = funcName(fn)
	}

	return &RunInvocation{
		autologger: a,
		name:       name,
		logParams:  params,
		logTags:    copyTags(opts.LogTags),
		fn:         fn,
	}, nil
}

// MustRun is like Run but panics on invalid options.
func (a *Autologger) MustRun(opts RunOptions, fn Func) *RunInvocation {
	r, err := a.Run(opts, fn)
	if err != nil {
		panic(err)
	}
	return r
}

// Name returns the child run name.
func (r *RunInvocation) Name() string { return r.name }

// LogParams returns a copy of the parameter selection; nil means all.
func (r *RunInvocation) LogParams() []string {
	if r.logParams == nil {
		return nil
	}
	result := make([]string, len(r.logParams))
	copy(result, r.logParams)
	return result
}

// LogTags returns a copy of the run tags.
func (r *RunInvocation) LogTags() map[string]string { return copyTags(r.logTags) }

// Invoke calls the wrapped function. Outside a session, with tracking
// disabled, or in a session entered while tracking was disabled, the
// function is called directly. Otherwise the session's run is
// resumed, a child run is opened, tagged and given the selected keyword
// arguments as parameters, the function is called, and both runs are
// closed again. The child ends FAILED when the function returns an error
// or panics.
//
// The function's error is returned unchanged. Tracking errors before the
// call abort it.
func (r *RunInvocation) Invoke(ctx context.Context, args Args) (any, error) {
	a := r.autologger
	session := a.CurrentSession()
	if !a.Enabled() || session == nil || session.RunID() == "" {
		return r.fn(ctx, args)
	}

	var result any
	err := a.Isolated(ctx, func(ctx context.Context) error {
		var err error
		result, err = r.tracked(ctx, session, args)
		return err
	})
	return result, err
}

func (r *RunInvocation) tracked(ctx context.Context, session *Session, args Args) (any, error) {
	a := r.autologger
	c := a.client

	if _, err := c.StartRun(ctx, tracking.StartRunOptions{RunID: session.RunID()}); err != nil {
		return nil, err
	}
	tags := r.mergeTags(ctx, session)

	child, err := c.StartRun(ctx, tracking.StartRunOptions{RunName: r.name, Nested: true})
	if err != nil {
		r.endQuietly(ctx, tracking.StatusRunning)
		return nil, err
	}
	a.log(ctx).DebugContext(ctx, "child run started", "run", r.name, "run_id", child.ID, "parent_run_id", session.RunID())

	if err := r.record(ctx, tags, args); err != nil {
		r.endQuietly(ctx, tracking.StatusFailed)
		r.endQuietly(ctx, tracking.StatusRunning)
		return nil, err
	}

	out := r.call(ctx, args)

	status := tracking.StatusFinished
	if out.err != nil || out.panicked {
		status = tracking.StatusFailed
	}
	endErr := c.EndRun(ctx, status)
	if endErr == nil {
		endErr = c.EndRun(ctx, tracking.StatusRunning)
	}
	a.log(ctx).DebugContext(ctx, "child run ended", "run", r.name, "run_id", child.ID, "status", status)

	if out.panicked {
		panic(out.panicValue)
	}
	if out.err != nil {
		if endErr != nil {
			a.log(ctx).WarnContext(ctx, "failed to close runs", "run", r.name, "error", endErr)
		}
		return out.result, out.err
	}
	return out.result, endErr
}

func (r *RunInvocation) record(ctx context.Context, tags map[string]string, args Args) error {
	c := r.autologger.client
	if err := c.SetTags(ctx, tags); err != nil {
		return err
	}
	for _, key := range r.paramsToLog(args.Keyword) {
		if err := c.LogParam(ctx, key, fmt.Sprint(args.Keyword[key])); err != nil {
			return err
		}
	}
	return nil
}

type outcome struct {
	result     any
	err        error
	panicked   bool
	panicValue any
}

func (r *RunInvocation) call(ctx context.Context, args Args) (out outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out.panicked = true
			out.panicValue = rec
		}
	}()
	out.result, out.err = r.fn(ctx, args)
	return out
}

// endQuietly ends the active run during cleanup, logging any failure.
func (r *RunInvocation) endQuietly(ctx context.Context, status tracking.RunStatus) {
	if err := r.autologger.client.EndRun(ctx, status); err != nil {
		r.autologger.log(ctx).WarnContext(ctx, "failed to end run during cleanup", "run", r.name, "error", err)
	}
}

// mergeTags layers session tags, run tags and repository tags. A repository
// field that could not be determined removes the key.
func (r *RunInvocation) mergeTags(ctx context.Context, session *Session) map[string]string {
	tags := session.Tags()
	for k, v := range r.logTags {
		tags[k] = v
	}
	for k, v := range r.autologger.probe.Probe(ctx).Tags() {
		if v == "" {
			delete(tags, k)
			continue
		}
		tags[k] = v
	}
	return tags
}

// paramsToLog returns the keyword names to log, sorted.
func (r *RunInvocation) paramsToLog(kw map[string]any) []string {
	if r.logParams != nil && len(r.logParams) == 0 {
		return nil
	}
	var allowed map[string]bool
	if r.logParams != nil {
		allowed = make(map[string]bool, len(r.logParams))
		for _, p := range r.logParams {
			allowed[p] = true
		}
	}

	keys := make([]string, 0, len(kw))
	for k := range kw {
		if allowed == nil || allowed[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// funcName returns the declared name of fn without its package path.
// Methods are named Type.Method whatever the receiver; closures take the
// name of the function that declares them.
func funcName(fn Func) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	name = receiverParens.Replace(name)

	parts := strings.Split(name, ".")
	for len(parts) > 1 && isClosureSegment(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".")
}

var receiverParens = strings.NewReplacer("(*", "", "(", "", ")", "", "[...]", "")

// isClosureSegment matches the funcN and N suffixes the compiler gives
// anonymous functions.
func isClosureSegment(s string) bool {
	s = strings.TrimPrefix(s, "func")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
