package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"mlpipe/pkg/api"
)

// MockStore implements Store for testing experiment lookups.
type MockStore struct {
	Experiments map[string]string
	GetErr      error
	CreateErr   error
	Created     []string
}

func (m *MockStore) GetExperimentByName(ctx context.Context, name string) (*api.Experiment, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	id, ok := m.Experiments[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &api.Experiment{ExperimentID: id, Name: name}, nil
}

func (m *MockStore) CreateExperiment(ctx context.Context, name string) (string, error) {
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	m.Created = append(m.Created, name)
	return "17", nil
}

func (m *MockStore) CreateRun(ctx context.Context, opts CreateRunOptions) (*api.RunInfo, error) {
	return nil, nil
}

func (m *MockStore) UpdateRun(ctx context.Context, runID string, status api.RunStatus, endTime time.Time) error {
	return nil
}

func (m *MockStore) GetRun(ctx context.Context, runID string) (*api.Run, error) {
	return nil, ErrNotFound
}

func (m *MockStore) LogParams(ctx context.Context, runID string, params map[string]string) error {
	return nil
}

func (m *MockStore) Close() error { return nil }

func TestEnsureExperiment_Existing(t *testing.T) {
	s := &MockStore{Experiments: map[string]string{"churn": "3"}}

	id, err := EnsureExperiment(context.Background(), s, "churn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "3" {
		t.Errorf("got id %s, want 3", id)
	}
	if len(s.Created) != 0 {
		t.Errorf("expected no experiment to be created, got %v", s.Created)
	}
}

func TestEnsureExperiment_CreatesMissing(t *testing.T) {
	s := &MockStore{}

	id, err := EnsureExperiment(context.Background(), s, "churn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "17" {
		t.Errorf("got id %s, want 17", id)
	}
	if len(s.Created) != 1 || s.Created[0] != "churn" {
		t.Errorf("expected churn to be created, got %v", s.Created)
	}
}

func TestEnsureExperiment_LookupError(t *testing.T) {
	boom := errors.New("connection refused")
	s := &MockStore{GetErr: boom}

	_, err := EnsureExperiment(context.Background(), s, "churn")
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped lookup error, got %v", err)
	}
	if len(s.Created) != 0 {
		t.Error("must not create an experiment when lookup fails")
	}
}

func TestRunArtifactURI(t *testing.T) {
	tests := []struct {
		location, runID, want string
	}{
		{"file:///tmp/mlruns/0", "abc", "file:///tmp/mlruns/0/abc/artifacts"},
		{"s3://bucket/exp/", "abc", "s3://bucket/exp/abc/artifacts"},
	}
	for _, tt := range tests {
		if got := RunArtifactURI(tt.location, tt.runID); got != tt.want {
			t.Errorf("RunArtifactURI(%q, %q) = %q, want %q", tt.location, tt.runID, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := map[string]Kind{
		"http://localhost:5000":      KindREST,
		"https://mlflow.example.com": KindREST,
		"postgres://u@db/mlflow":     KindPostgres,
		"postgresql://u@db/mlflow":   KindPostgres,
		"file:///tmp/mlruns":         KindFile,
		"./mlruns":                   KindFile,
	}
	for uri, want := range tests {
		if got := KindOf(uri); got != want {
			t.Errorf("KindOf(%q) = %v, want %v", uri, got, want)
		}
	}
}
