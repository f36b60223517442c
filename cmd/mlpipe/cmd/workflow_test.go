package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mlpipe/internal/project"
	"mlpipe/internal/tracking/file"
	"mlpipe/pkg/api"
)

// testMLproject writes artifacts into the run's artifact directory under the
// file store, which the launcher exposes through the MLFLOW_* variables.
const testMLproject = `
name: churn
entry_points:
  download_data:
    parameters:
      data_url: {type: uri, default: "tt"}
    command: 'echo "downloaded {data_url}" > "$MLFLOW_TRACKING_URI/$MLFLOW_EXPERIMENT_ID/$MLFLOW_RUN_ID/artifacts/dataset.csv"'
  prepare_train_test:
    parameters:
      csv_path: path
    command: 'src={csv_path}; dst="$MLFLOW_TRACKING_URI/$MLFLOW_EXPERIMENT_ID/$MLFLOW_RUN_ID/artifacts"; cp "${src#file://}" "$dst/train.csv" && cp "${src#file://}" "$dst/test.csv"'
  train:
    parameters:
      csv_train_path: string
      csv_test_path: string
    command: 'a={csv_train_path}; b={csv_test_path}; cat "${a#file://}" "${b#file://}"'
  evaluate:
    parameters:
      model_run_uri: string
    command: 'echo "evaluating {model_run_uri}"'
`

// newTestProject writes an MLproject into a temp dir and returns the
// project dir and a tracking dir.
func newTestProject(t *testing.T, mlproject string) (string, string) {
	t.Helper()
	projectDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(projectDir, project.FileName), []byte(mlproject), 0o644); err != nil {
		t.Fatalf("failed to write MLproject: %v", err)
	}
	return projectDir, filepath.Join(t.TempDir(), "mlruns")
}

// runsByEntryPoint reads every run of the Default experiment.
func runsByEntryPoint(t *testing.T, trackingDir string) map[string]*api.Run {
	t.Helper()
	store, err := file.New(trackingDir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(trackingDir, "0"))
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	runs := make(map[string]*api.Run)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := store.GetRun(context.Background(), e.Name())
		if err != nil {
			t.Fatalf("GetRun(%s) failed: %v", e.Name(), err)
		}
		runs[run.Tag(api.TagProjectEntryPoint)] = run
	}
	return runs
}

func TestWorkflowCommand_DataURLDefault(t *testing.T) {
	flag := workflowCmd.Flags().Lookup("data-url")
	if flag == nil {
		t.Fatal("expected --data-url flag")
	}
	if flag.DefValue != "tt" {
		t.Errorf("expected default data url tt, got: %s", flag.DefValue)
	}
}

func TestTrainEvalCommand_DataPathDefault(t *testing.T) {
	flag := trainEvalCmd.Flags().Lookup("data-path")
	if flag == nil {
		t.Fatal("expected --data-path flag")
	}
	if flag.DefValue != "tt" {
		t.Errorf("expected default data path tt, got: %s", flag.DefValue)
	}
}

func TestWorkflowCommand_ChainsArtifacts(t *testing.T) {
	projectDir, trackingDir := newTestProject(t, testMLproject)

	out, err := execute(t, "workflow",
		"--project-dir", projectDir,
		"--tracking-uri", trackingDir,
		"--data-url", "https://example.com/churn.csv",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("workflow failed: %v\noutput:\n%s", err, out)
	}

	// train cats train.csv and test.csv, both copies of dataset.csv
	if got := strings.Count(out, "downloaded https://example.com/churn.csv"); got != 2 {
		t.Errorf("expected the dataset to reach train twice, got %d\noutput:\n%s", got, out)
	}

	runs := runsByEntryPoint(t, trackingDir)
	for _, ep := range []string{"download_data", "prepare_train_test", "train"} {
		run, ok := runs[ep]
		if !ok {
			t.Fatalf("expected a run for %s, got %v", ep, runs)
		}
		if run.Info.Status != api.RunStatusFinished {
			t.Errorf("expected %s FINISHED, got %s", ep, run.Info.Status)
		}
	}

	download := runs["download_data"]
	wantCSV := download.Info.ArtifactURI + "/dataset.csv"
	if got := runs["prepare_train_test"].ParamMap()["csv_path"]; got != wantCSV {
		t.Errorf("expected csv_path %s, got %s", wantCSV, got)
	}
	prepRoot := runs["prepare_train_test"].Info.ArtifactURI
	if got := runs["train"].ParamMap()["csv_test_path"]; got != prepRoot+"/test.csv" {
		t.Errorf("expected csv_test_path under %s, got %s", prepRoot, got)
	}
}

func TestTrainEvalCommand_StopsOnMissingParameters(t *testing.T) {
	projectDir, trackingDir := newTestProject(t, testMLproject)

	out, err := execute(t, "train-eval",
		"--project-dir", projectDir,
		"--tracking-uri", trackingDir,
		"--log-level", "error",
		"--data-path", "data/churn.csv",
	)
	if err == nil {
		t.Fatalf("expected train to fail without csv paths\noutput:\n%s", out)
	}
	if !strings.Contains(err.Error(), "csv_train_path") {
		t.Errorf("expected missing parameter error, got: %v", err)
	}
	if !strings.Contains(out, "skipped") {
		t.Errorf("expected evaluate to be reported as skipped, got:\n%s", out)
	}
}

func TestTrainEvalCommand_EndToEnd(t *testing.T) {
	const mlproject = `
name: churn
entry_points:
  train:
    parameters:
      data_path: path
    command: 'echo "training on {data_path}"'
  evaluate:
    parameters:
      model_run_uri: string
    command: 'echo "evaluating {model_run_uri}"'
`
	projectDir, trackingDir := newTestProject(t, mlproject)

	out, err := execute(t, "train-eval",
		"--project-dir", projectDir,
		"--tracking-uri", trackingDir,
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("train-eval failed: %v\noutput:\n%s", err, out)
	}

	runs := runsByEntryPoint(t, trackingDir)
	if !strings.Contains(out, "training on tt") {
		t.Errorf("expected default data path, got:\n%s", out)
	}
	want := "evaluating " + runs["train"].Info.ArtifactURI + "/classifier.keras"
	if !strings.Contains(out, want) {
		t.Errorf("expected %q in output, got:\n%s", want, out)
	}
	if runs["evaluate"].Info.Status != api.RunStatusFinished {
		t.Errorf("expected evaluate FINISHED, got %s", runs["evaluate"].Info.Status)
	}
}

func TestWorkflowCommand_StopsOnFailure(t *testing.T) {
	const mlproject = `
name: churn
entry_points:
  download_data:
    parameters:
      data_url: string
    command: "exit 3"
  prepare_train_test:
    parameters:
      csv_path: path
    command: "echo never"
  train:
    command: "echo never"
`
	projectDir, trackingDir := newTestProject(t, mlproject)

	out, err := execute(t, "workflow",
		"--project-dir", projectDir,
		"--tracking-uri", trackingDir,
		"--log-level", "error",
	)
	if err == nil {
		t.Fatal("expected workflow to fail")
	}
	if !strings.Contains(err.Error(), "exit code 3") {
		t.Errorf("expected exit code in error, got: %v", err)
	}
	if strings.Contains(out, "never") {
		t.Errorf("later steps must not run, got:\n%s", out)
	}

	runs := runsByEntryPoint(t, trackingDir)
	if len(runs) != 1 {
		t.Fatalf("expected a single run, got %d", len(runs))
	}
	if runs["download_data"].Info.Status != api.RunStatusFailed {
		t.Errorf("expected download_data FAILED, got %s", runs["download_data"].Info.Status)
	}
}
