// Package api contains the JSON request/response structs of the MLflow
// tracking REST API (version 2.0) that mlpipe reads and writes.
// This package is shared between the tracking stores and the CLI.
package api

import "time"

// RunStatus is the lifecycle state of a tracked run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusScheduled RunStatus = "SCHEDULED"
	RunStatusFinished  RunStatus = "FINISHED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusKilled    RunStatus = "KILLED"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusFinished, RunStatusFailed, RunStatusKilled:
		return true
	}
	return false
}

// LifecycleActive is the lifecycle stage of experiments and runs that have
// not been deleted.
const LifecycleActive = "active"

// Experiment groups runs and owns their default artifact location.
type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty"`
	CreationTime     int64  `json:"creation_time,omitempty"`
	LastUpdateTime   int64  `json:"last_update_time,omitempty"`
}

// RunInfo is the metadata of a run. Times are Unix milliseconds.
type RunInfo struct {
	RunID          string    `json:"run_id"`
	RunUUID        string    `json:"run_uuid,omitempty"`
	RunName        string    `json:"run_name,omitempty"`
	ExperimentID   string    `json:"experiment_id"`
	UserID         string    `json:"user_id,omitempty"`
	Status         RunStatus `json:"status"`
	StartTime      int64     `json:"start_time,omitempty"`
	EndTime        int64     `json:"end_time,omitempty"`
	ArtifactURI    string    `json:"artifact_uri,omitempty"`
	LifecycleStage string    `json:"lifecycle_stage,omitempty"`
}

// Param is a single run parameter.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunTag is a single run tag.
type RunTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunData holds the logged params and tags of a run.
type RunData struct {
	Params []Param  `json:"params,omitempty"`
	Tags   []RunTag `json:"tags,omitempty"`
}

// Run is a run with its data.
type Run struct {
	Info RunInfo `json:"info"`
	Data RunData `json:"data"`
}

// ParamMap returns the run params keyed by name.
func (r *Run) ParamMap() map[string]string {
	m := make(map[string]string, len(r.Data.Params))
	for _, p := range r.Data.Params {
		m[p.Key] = p.Value
	}
	return m
}

// Tag returns the value of the named tag, or "" when unset.
func (r *Run) Tag(key string) string {
	for _, t := range r.Data.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// GetExperimentByNameResponse is the response body of
// GET /experiments/get-by-name.
type GetExperimentByNameResponse struct {
	Experiment Experiment `json:"experiment"`
}

// CreateExperimentRequest is the request body of POST /experiments/create.
type CreateExperimentRequest struct {
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
}

// CreateExperimentResponse is the response body of POST /experiments/create.
type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

// CreateRunRequest is the request body of POST /runs/create.
type CreateRunRequest struct {
	ExperimentID string   `json:"experiment_id"`
	RunName      string   `json:"run_name,omitempty"`
	StartTime    int64    `json:"start_time"`
	Tags         []RunTag `json:"tags,omitempty"`
}

// CreateRunResponse is the response body of POST /runs/create.
type CreateRunResponse struct {
	Run Run `json:"run"`
}

// UpdateRunRequest is the request body of POST /runs/update.
type UpdateRunRequest struct {
	RunID   string    `json:"run_id"`
	Status  RunStatus `json:"status"`
	EndTime int64     `json:"end_time,omitempty"`
}

// UpdateRunResponse is the response body of POST /runs/update.
type UpdateRunResponse struct {
	RunInfo RunInfo `json:"run_info"`
}

// GetRunResponse is the response body of GET /runs/get.
type GetRunResponse struct {
	Run Run `json:"run"`
}

// LogBatchRequest is the request body of POST /runs/log-batch.
type LogBatchRequest struct {
	RunID  string   `json:"run_id"`
	Params []Param  `json:"params,omitempty"`
	Tags   []RunTag `json:"tags,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Error codes returned by the tracking server.
const (
	ErrorCodeResourceDoesNotExist = "RESOURCE_DOES_NOT_EXIST"
	ErrorCodeResourceAlreadyExist = "RESOURCE_ALREADY_EXISTS"
	ErrorCodeInvalidParameter     = "INVALID_PARAMETER_VALUE"
)

// Well-known run tags set by the launcher.
const (
	TagSourceName        = "mlflow.source.name"
	TagSourceType        = "mlflow.source.type"
	TagProjectEntryPoint = "mlflow.project.entryPoint"
	TagProjectBackend    = "mlflow.project.backend"
	TagRunName           = "mlflow.runName"
	TagUser              = "mlflow.user"
	TagDockerImage       = "mlflow.docker.image.name"
)

// Millis converts t to Unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts Unix milliseconds to a time. Zero means unset and
// returns nil.
func FromMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}
