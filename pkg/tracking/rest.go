package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	verrors "github.com/veil-org/veil/pkg/errors"
)

const apiPrefix = "/api/2.0/mlflow/"

// RESTStore talks to an MLflow-compatible tracking server over REST API 2.0.
type RESTStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// RESTConfig holds configuration for a REST tracking store.
type RESTConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Token   string        `yaml:"token"`
}

// NewRESTStore creates a REST store.
func NewRESTStore(cfg RESTConfig) *RESTStore {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		base = "http://localhost:5000"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RESTStore{
		baseURL: base,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the server address without the API prefix.
func (s *RESTStore) BaseURL() string { return s.baseURL }

type restTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type restRunInfo struct {
	RunID        string `json:"run_id"`
	RunName      string `json:"run_name"`
	ExperimentID string `json:"experiment_id"`
	Status       string `json:"status"`
	StartTime    int64  `json:"start_time,omitempty"`
	EndTime      int64  `json:"end_time,omitempty"`
}

type restRun struct {
	Info restRunInfo `json:"info"`
	Data struct {
		Tags   []restTag `json:"tags"`
		Params []restTag `json:"params"`
	} `json:"data"`
}

type restExperiment struct {
	ExperimentID string `json:"experiment_id"`
	Name         string `json:"name"`
}

type restError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// requestError is returned for non-2xx responses.
type requestError struct {
	Status    int
	ErrorCode string
	Message   string
}

func (e *requestError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.ErrorCode, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (s *RESTStore) do(ctx context.Context, method, endpoint string, query url.Values, in, out any) error {
	target := s.baseURL + apiPrefix + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return verrors.Internal(err, verrors.ErrInternal, "failed to encode tracking request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return verrors.TrackingWrap(err, verrors.ErrTrackingRequestFailed, "failed to build tracking request").
			WithContext("endpoint", endpoint)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return verrors.TrackingWrap(err, verrors.ErrTrackingRequestFailed, "tracking server unreachable").
			WithContext("endpoint", endpoint).
			WithContext("server", s.baseURL)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return verrors.TrackingWrap(err, verrors.ErrTrackingRequestFailed, "failed to read tracking response").
			WithContext("endpoint", endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		re := &requestError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var apiErr restError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.ErrorCode != "" {
			re.ErrorCode = apiErr.ErrorCode
			re.Message = apiErr.Message
		}
		ve := verrors.TrackingWrap(re, verrors.ErrTrackingRequestFailed, "tracking server rejected request").
			WithContext("endpoint", endpoint).
			WithContext("status", strconv.Itoa(resp.StatusCode))
		if re.ErrorCode != "" {
			ve.WithContext("error_code", re.ErrorCode)
		}
		return ve
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return verrors.TrackingWrap(err, verrors.ErrTrackingRequestFailed, "failed to decode tracking response").
			WithContext("endpoint", endpoint)
	}
	return nil
}

// serverErrorCode returns the MLflow error_code carried by err, if any.
func serverErrorCode(err error) string {
	ve, ok := verrors.AsVeilError(err)
	if !ok {
		return ""
	}
	return ve.Context["error_code"]
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func tagsToList(tags map[string]string) []restTag {
	list := make([]restTag, 0, len(tags))
	for k, v := range tags {
		list = append(list, restTag{Key: k, Value: v})
	}
	return list
}

func (r *restRun) toRun() *Run {
	run := &Run{
		Info: RunInfo{
			ID:           r.Info.RunID,
			Name:         r.Info.RunName,
			ExperimentID: r.Info.ExperimentID,
			Status:       RunStatus(r.Info.Status),
			StartTime:    fromMillis(r.Info.StartTime),
		},
		Tags:   make(map[string]string, len(r.Data.Tags)),
		Params: make(map[string]string, len(r.Data.Params)),
	}
	if r.Info.EndTime != 0 {
		t := fromMillis(r.Info.EndTime)
		run.Info.EndTime = &t
	}
	for _, t := range r.Data.Tags {
		run.Tags[t.Key] = t.Value
	}
	for _, p := range r.Data.Params {
		run.Params[p.Key] = p.Value
	}
	if run.Info.Name == "" {
		run.Info.Name = run.Tags[TagRunName]
	}
	return run
}

// CreateRun creates a run through runs/create.
func (s *RESTStore) CreateRun(ctx context.Context, req CreateRunRequest) (*RunInfo, error) {
	start := req.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	tags := make(map[string]string, len(req.Tags)+1)
	for k, v := range req.Tags {
		tags[k] = v
	}
	if req.Name != "" {
		tags[TagRunName] = req.Name
	}

	in := map[string]any{
		"experiment_id": req.ExperimentID,
		"start_time":    toMillis(start),
		"tags":          tagsToList(tags),
	}
	if req.Name != "" {
		in["run_name"] = req.Name
	}

	var out struct {
		Run restRun `json:"run"`
	}
	if err := s.do(ctx, http.MethodPost, "runs/create", nil, in, &out); err != nil {
		return nil, err
	}
	info := out.Run.toRun().Info
	return &info, nil
}

// GetRun fetches a run through runs/get.
func (s *RESTStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	var out struct {
		Run restRun `json:"run"`
	}
	err := s.do(ctx, http.MethodGet, "runs/get", url.Values{"run_id": {runID}}, nil, &out)
	if err != nil {
		if serverErrorCode(err) == "RESOURCE_DOES_NOT_EXIST" {
			return nil, verrors.TrackingWrap(err, verrors.ErrRunNotFound, fmt.Sprintf("run %q does not exist", runID)).
				WithContext("run_id", runID)
		}
		return nil, err
	}
	return out.Run.toRun(), nil
}

// UpdateRun sets status and end time through runs/update.
func (s *RESTStore) UpdateRun(ctx context.Context, runID string, status RunStatus, endTime *time.Time) error {
	in := map[string]any{
		"run_id": runID,
		"status": string(status),
	}
	if endTime != nil {
		in["end_time"] = toMillis(*endTime)
	}
	return s.do(ctx, http.MethodPost, "runs/update", nil, in, nil)
}

// SetTags sets tags through runs/log-batch.
func (s *RESTStore) SetTags(ctx context.Context, runID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	in := map[string]any{
		"run_id": runID,
		"tags":   tagsToList(tags),
	}
	return s.do(ctx, http.MethodPost, "runs/log-batch", nil, in, nil)
}

// LogParam logs a parameter through runs/log-parameter.
func (s *RESTStore) LogParam(ctx context.Context, runID, key, value string) error {
	in := map[string]any{
		"run_id": runID,
		"key":    key,
		"value":  value,
	}
	return s.do(ctx, http.MethodPost, "runs/log-parameter", nil, in, nil)
}

// GetExperiment fetches an experiment through experiments/get.
func (s *RESTStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	var out struct {
		Experiment restExperiment `json:"experiment"`
	}
	err := s.do(ctx, http.MethodGet, "experiments/get", url.Values{"experiment_id": {id}}, nil, &out)
	if err != nil {
		if serverErrorCode(err) == "RESOURCE_DOES_NOT_EXIST" {
			return nil, verrors.TrackingWrap(err, verrors.ErrExperimentNotFound, fmt.Sprintf("experiment %q does not exist", id)).
				WithContext("experiment_id", id)
		}
		return nil, err
	}
	return &Experiment{ID: out.Experiment.ExperimentID, Name: out.Experiment.Name}, nil
}

// GetExperimentByName fetches an experiment through experiments/get-by-name.
// A RESOURCE_DOES_NOT_EXIST reply yields nil, nil.
func (s *RESTStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var out struct {
		Experiment restExperiment `json:"experiment"`
	}
	err := s.do(ctx, http.MethodGet, "experiments/get-by-name", url.Values{"experiment_name": {name}}, nil, &out)
	if err != nil {
		if serverErrorCode(err) == "RESOURCE_DOES_NOT_EXIST" {
			return nil, nil
		}
		return nil, err
	}
	return &Experiment{ID: out.Experiment.ExperimentID, Name: out.Experiment.Name}, nil
}

// CreateExperiment creates an experiment through experiments/create.
func (s *RESTStore) CreateExperiment(ctx context.Context, name string) (*Experiment, error) {
	var out struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := s.do(ctx, http.MethodPost, "experiments/create", nil, map[string]any{"name": name}, &out); err != nil {
		return nil, err
	}
	return &Experiment{ID: out.ExperimentID, Name: name}, nil
}
