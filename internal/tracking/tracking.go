// Package tracking defines the store that records experiment runs, their
// parameters and where their artifacts live.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mlpipe/pkg/api"
)

// ErrNotFound is returned when an experiment or run does not exist.
var ErrNotFound = errors.New("not found")

// CreateRunOptions describes a new run.
type CreateRunOptions struct {
	ExperimentID string
	RunName      string
	StartTime    time.Time
	Tags         map[string]string
}

// Store handles the persistence of experiments and runs.
type Store interface {
	// GetExperimentByName returns ErrNotFound when no active experiment has the name.
	GetExperimentByName(ctx context.Context, name string) (*api.Experiment, error)

	// CreateExperiment creates an experiment and returns its ID.
	CreateExperiment(ctx context.Context, name string) (string, error)

	// CreateRun inserts a RUNNING run and assigns its artifact URI.
	CreateRun(ctx context.Context, opts CreateRunOptions) (*api.RunInfo, error)

	// UpdateRun sets the run status and end time.
	UpdateRun(ctx context.Context, runID string, status api.RunStatus, endTime time.Time) error

	// GetRun returns a run with its params and tags.
	GetRun(ctx context.Context, runID string) (*api.Run, error)

	// LogParams records run parameters.
	LogParams(ctx context.Context, runID string, params map[string]string) error

	Close() error
}

// EnsureExperiment returns the ID of the named experiment, creating it when
// it does not exist yet.
func EnsureExperiment(ctx context.Context, s Store, name string) (string, error) {
	exp, err := s.GetExperimentByName(ctx, name)
	if err == nil {
		return exp.ExperimentID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("failed to look up experiment %q: %w", name, err)
	}

	id, err := s.CreateExperiment(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to create experiment %q: %w", name, err)
	}
	return id, nil
}

// RunArtifactURI is the artifact URI of a run under an experiment's
// artifact location.
func RunArtifactURI(artifactLocation, runID string) string {
	return strings.TrimSuffix(artifactLocation, "/") + "/" + runID + "/artifacts"
}

// Kind classifies a tracking URI.
type Kind int

const (
	KindFile Kind = iota
	KindREST
	KindPostgres
)

// KindOf returns the store kind a tracking URI selects. URIs without a
// recognized scheme are local directories.
func KindOf(uri string) Kind {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return KindREST
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return KindPostgres
	default:
		return KindFile
	}
}
