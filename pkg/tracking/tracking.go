// Package tracking provides the experiment-tracking client used by autolog.
//
// Client is a fluent-style facade: it holds the process-local tracking URI,
// the active experiment and a stack of active runs, and forwards run and
// experiment CRUD to a Store chosen by the URI scheme. Stores exist for an
// in-process memory backend and for an MLflow-compatible REST server.
package tracking

import (
	"context"
	"time"
)

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "RUNNING"
	StatusScheduled RunStatus = "SCHEDULED"
	StatusFinished  RunStatus = "FINISHED"
	StatusFailed    RunStatus = "FAILED"
	StatusKilled    RunStatus = "KILLED"
)

// IsValid returns true if this is a known run status.
func (s RunStatus) IsValid() bool {
	switch s {
	case StatusRunning, StatusScheduled, StatusFinished, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for statuses that close a run.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

// Reserved tag keys.
const (
	TagRunName     = "mlflow.runName"
	TagParentRunID = "mlflow.parentRunId"
	TagGitRepoURL  = "mlflow.source.git.repoURL"
	TagGitCommit   = "mlflow.source.git.commit"
	TagGitBranch   = "mlflow.source.git.branch"
)

// Default experiment present in every store.
const (
	DefaultExperimentID   = "0"
	DefaultExperimentName = "Default"
)

// RunHandle identifies a run known to the client.
type RunHandle struct {
	ID           string    `json:"run_id"`
	Name         string    `json:"run_name"`
	ExperimentID string    `json:"experiment_id"`
	ParentID     string    `json:"parent_run_id,omitempty"`
	Status       RunStatus `json:"status"`
}

// Experiment is a named grouping of runs.
type Experiment struct {
	ID   string `json:"experiment_id"`
	Name string `json:"name"`
}

// StartRunOptions selects between resuming a run by id and creating one.
type StartRunOptions struct {
	// RunID resumes an existing run when set.
	RunID string
	// RunName names a newly created run. Ignored when resuming.
	RunName string
	// Nested allows starting while another run is active; a new run then
	// records the active run as its parent.
	Nested bool
}

// ExperimentRef selects an experiment by name or by id.
// A name reference creates the experiment if it does not exist.
type ExperimentRef struct {
	Name string
	ID   string
}

// ByName references an experiment by name.
func ByName(name string) ExperimentRef { return ExperimentRef{Name: name} }

// ByID references an experiment by id.
func ByID(id string) ExperimentRef { return ExperimentRef{ID: id} }

// Client is the tracking facade consumed by autolog. Implementations keep
// process-local state; they are not safe for concurrent use.
type Client interface {
	StartRun(ctx context.Context, opts StartRunOptions) (*RunHandle, error)
	// EndRun ends the active run. An empty status means StatusFinished.
	// Ending with StatusRunning pauses the run so it can be resumed by id.
	EndRun(ctx context.Context, status RunStatus) error
	ActiveRun() *RunHandle

	SetTrackingURI(uri string) error
	TrackingURI() string

	SetExperiment(ctx context.Context, ref ExperimentRef) (*Experiment, error)
	ActiveExperimentID() string

	SetTag(ctx context.Context, key, value string) error
	SetTags(ctx context.Context, tags map[string]string) error
	LogParam(ctx context.Context, key, value string) error
}

// Run is the stored state of a run.
type Run struct {
	Info   RunInfo           `json:"info"`
	Tags   map[string]string `json:"tags"`
	Params map[string]string `json:"params"`
}

// RunInfo holds run metadata.
type RunInfo struct {
	ID           string     `json:"run_id"`
	Name         string     `json:"run_name"`
	ExperimentID string     `json:"experiment_id"`
	Status       RunStatus  `json:"status"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

// ParentID returns the parent run id recorded in the run's tags.
func (r *Run) ParentID() string {
	return r.Tags[TagParentRunID]
}

// CreateRunRequest contains the fields of a new run.
type CreateRunRequest struct {
	ExperimentID string
	Name         string
	StartTime    time.Time
	Tags         map[string]string
}

// Store is the server side of tracking: run and experiment CRUD without
// any notion of an "active" run.
type Store interface {
	CreateRun(ctx context.Context, req CreateRunRequest) (*RunInfo, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	UpdateRun(ctx context.Context, runID string, status RunStatus, endTime *time.Time) error
	SetTags(ctx context.Context, runID string, tags map[string]string) error
	LogParam(ctx context.Context, runID, key, value string) error

	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	// GetExperimentByName returns nil, nil when no experiment has the name.
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)
	CreateExperiment(ctx context.Context, name string) (*Experiment, error)
}
