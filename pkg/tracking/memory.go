package tracking

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	verrors "github.com/veil-org/veil/pkg/errors"
)

// MemoryStore keeps experiments and runs in process memory.
// It is safe for concurrent use.
type MemoryStore struct {
	experiments map[string]*Experiment
	runs        map[string]*Run
	order       []string
	nextExpID   int
	mu          sync.RWMutex
}

// NewMemoryStore creates a store holding only the default experiment.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: map[string]*Experiment{
			DefaultExperimentID: {ID: DefaultExperimentID, Name: DefaultExperimentName},
		},
		runs:      make(map[string]*Run),
		nextExpID: 1,
	}
}

func newRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateRun adds a RUNNING run to an existing experiment.
func (m *MemoryStore) CreateRun(_ context.Context, req CreateRunRequest) (*RunInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.experiments[req.ExperimentID]; !ok {
		return nil, verrors.Trackingf(verrors.ErrExperimentNotFound, "experiment %q does not exist", req.ExperimentID).
			WithContext("experiment_id", req.ExperimentID)
	}

	id := newRunID()
	name := req.Name
	if name == "" {
		name = "run-" + id[:8]
	}
	start := req.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	run := &Run{
		Info: RunInfo{
			ID:           id,
			Name:         name,
			ExperimentID: req.ExperimentID,
			Status:       StatusRunning,
			StartTime:    start,
		},
		Tags:   make(map[string]string, len(req.Tags)+1),
		Params: make(map[string]string),
	}
	for k, v := range req.Tags {
		run.Tags[k] = v
	}
	run.Tags[TagRunName] = name

	m.runs[id] = run
	m.order = append(m.order, id)

	info := run.Info
	return &info, nil
}

// GetRun returns a copy of the run.
func (m *MemoryStore) GetRun(_ context.Context, runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, runNotFound(runID)
	}
	return copyRun(run), nil
}

// UpdateRun sets the status and, for terminal statuses, the end time.
func (m *MemoryStore) UpdateRun(_ context.Context, runID string, status RunStatus, endTime *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return runNotFound(runID)
	}
	run.Info.Status = status
	if endTime != nil {
		t := *endTime
		run.Info.EndTime = &t
	} else if status == StatusRunning {
		run.Info.EndTime = nil
	}
	return nil
}

// SetTags sets or overwrites tags on a run.
func (m *MemoryStore) SetTags(_ context.Context, runID string, tags map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return runNotFound(runID)
	}
	for k, v := range tags {
		run.Tags[k] = v
	}
	return nil
}

// LogParam records a parameter. Re-logging the same value is accepted;
// a different value for an existing key is a conflict.
func (m *MemoryStore) LogParam(_ context.Context, runID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return runNotFound(runID)
	}
	if old, exists := run.Params[key]; exists && old != value {
		return verrors.Trackingf(verrors.ErrParamConflict, "param %q already logged with value %q", key, old).
			WithContext("run_id", runID)
	}
	run.Params[key] = value
	return nil
}

// GetExperiment returns an experiment by id.
func (m *MemoryStore) GetExperiment(_ context.Context, id string) (*Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.experiments[id]
	if !ok {
		return nil, verrors.Trackingf(verrors.ErrExperimentNotFound, "experiment %q does not exist", id).
			WithContext("experiment_id", id)
	}
	e := *exp
	return &e, nil
}

// GetExperimentByName returns nil, nil when no experiment has the name.
func (m *MemoryStore) GetExperimentByName(_ context.Context, name string) (*Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, exp := range m.experiments {
		if exp.Name == name {
			e := *exp
			return &e, nil
		}
	}
	return nil, nil
}

// CreateExperiment adds an experiment. Names are unique.
func (m *MemoryStore) CreateExperiment(_ context.Context, name string) (*Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, exp := range m.experiments {
		if exp.Name == name {
			return nil, verrors.Trackingf(verrors.ErrTrackingRequestFailed, "experiment %q already exists", name)
		}
	}
	id := strconv.Itoa(m.nextExpID)
	m.nextExpID++
	exp := &Experiment{ID: id, Name: name}
	m.experiments[id] = exp
	e := *exp
	return &e, nil
}

// Runs returns copies of all runs in creation order.
func (m *MemoryStore) Runs() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Run, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, copyRun(m.runs[id]))
	}
	return result
}

// Run returns a copy of one run, or nil if unknown.
func (m *MemoryStore) Run(id string) *Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil
	}
	return copyRun(run)
}

// ExperimentByName returns the experiment with the given name, or nil.
func (m *MemoryStore) ExperimentByName(name string) *Experiment {
	exp, _ := m.GetExperimentByName(context.Background(), name)
	return exp
}

// RunsNamed returns copies of the runs with the given name, in creation order.
func (m *MemoryStore) RunsNamed(name string) []*Run {
	var result []*Run
	for _, r := range m.Runs() {
		if r.Info.Name == name {
			result = append(result, r)
		}
	}
	return result
}

// Experiments returns copies of all experiments.
func (m *MemoryStore) Experiments() []Experiment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Experiment, 0, len(m.experiments))
	for _, exp := range m.experiments {
		result = append(result, *exp)
	}
	return result
}

func copyRun(r *Run) *Run {
	c := &Run{
		Info:   r.Info,
		Tags:   make(map[string]string, len(r.Tags)),
		Params: make(map[string]string, len(r.Params)),
	}
	if r.Info.EndTime != nil {
		t := *r.Info.EndTime
		c.Info.EndTime = &t
	}
	for k, v := range r.Tags {
		c.Tags[k] = v
	}
	for k, v := range r.Params {
		c.Params[k] = v
	}
	return c
}

func runNotFound(runID string) error {
	return verrors.Trackingf(verrors.ErrRunNotFound, "run %q does not exist", runID).
		WithContext("run_id", runID)
}
