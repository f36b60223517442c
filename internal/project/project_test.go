package project

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleProject = `
name: churn
docker_env:
  image: ghcr.io/acme/churn:latest
entry_points:
  download_data:
    parameters:
      data_url: {type: uri, default: "tt"}
    command: "python download.py --data-url {data_url}"
  prepare_train_test:
    parameters:
      csv_path: path
      test_size: {type: float, default: 0.2}
    command: "python prepare.py {csv_path} {test_size}"
  train:
    parameters:
      csv_train_path: string
      csv_test_path: string
    command: "python train.py --train {csv_train_path} --test {csv_test_path}"
  evaluate:
    parameters:
      model_run_uri:
        type: string
        default:
    command: "python evaluate.py {model_run_uri}"
`

func mustParse(t *testing.T) *Project {
	t.Helper()
	p, err := Parse([]byte(sampleProject))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return p
}

func TestParse_EntryPointsAndParameters(t *testing.T) {
	p := mustParse(t)

	if p.Name != "churn" {
		t.Errorf("got Name %s, want churn", p.Name)
	}
	if p.DockerEnv == nil || p.DockerEnv.Image != "ghcr.io/acme/churn:latest" {
		t.Errorf("unexpected docker env: %+v", p.DockerEnv)
	}
	if len(p.EntryPoints) != 4 {
		t.Fatalf("got %d entry points, want 4", len(p.EntryPoints))
	}

	prep := p.EntryPoints["prepare_train_test"]
	if prep.Name != "prepare_train_test" {
		t.Errorf("got entry point name %q", prep.Name)
	}
	if prep.Parameters["csv_path"].Type != TypePath {
		t.Errorf("got csv_path type %q, want path", prep.Parameters["csv_path"].Type)
	}
	if prep.Parameters["csv_path"].Default != nil {
		t.Error("short-form parameter should have no default")
	}
	if d := prep.Parameters["test_size"].Default; d == nil || *d != "0.2" {
		t.Errorf("unexpected test_size default: %v", d)
	}

	if p.EntryPoints["evaluate"].Parameters["model_run_uri"].Default != nil {
		t.Error("null default should leave the parameter required")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "entry_points: [",
		"no command":   "entry_points:\n  train:\n    parameters: {a: string}\n",
		"unknown type": "entry_points:\n  train:\n    parameters: {a: int}\n    command: x\n",
	}
	for name, doc := range tests {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoad_FromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(sampleProject), 0o644); err != nil {
		t.Fatalf("failed to write MLproject: %v", err)
	}

	p, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !filepath.IsAbs(p.Dir) {
		t.Errorf("expected absolute Dir, got %s", p.Dir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for missing MLproject")
	}
}

func TestEntryPoint_Lookup(t *testing.T) {
	p := mustParse(t)

	if _, err := p.EntryPoint("train"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	ep, err := p.EntryPoint("scripts/extra.py")
	if err != nil {
		t.Fatalf("unexpected error for script entry point: %v", err)
	}
	if ep.Command != "python scripts/extra.py" {
		t.Errorf("got command %q", ep.Command)
	}

	ep, err = p.EntryPoint("run.sh")
	if err != nil {
		t.Fatalf("unexpected error for shell entry point: %v", err)
	}
	if ep.Command != "bash run.sh" {
		t.Errorf("got command %q", ep.Command)
	}

	_, err = p.EntryPoint("deploy")
	if !errors.Is(err, ErrEntryPointNotFound) {
		t.Errorf("expected ErrEntryPointNotFound, got %v", err)
	}
}

func TestResolve_Defaults(t *testing.T) {
	p := mustParse(t)

	got, err := p.EntryPoints["download_data"].Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got["data_url"] != "tt" {
		t.Errorf("got data_url %q, want default tt", got["data_url"])
	}
}

func TestParse_LongFormDefaults(t *testing.T) {
	const doc = `
name: defaults
entry_points:
  main:
    parameters:
      alpha: {type: float, default: 0.1}
      url: {type: uri, default: "tt"}
      epochs:
        type: float
        default: 10
      empty: {type: string, default: ""}
      required: {type: path}
      null_default: {type: string, default: null}
    command: "python main.py"
`
	p, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	params := p.EntryPoints["main"].Parameters

	defaults := map[string]string{"alpha": "0.1", "url": "tt", "epochs": "10", "empty": ""}
	for name, want := range defaults {
		got := params[name].Default
		if got == nil {
			t.Errorf("%s: expected default %q, got none", name, want)
			continue
		}
		if *got != want {
			t.Errorf("%s: got default %q, want %q", name, *got, want)
		}
	}
	for _, name := range []string{"required", "null_default"} {
		if params[name].Default != nil {
			t.Errorf("%s: expected no default, got %q", name, *params[name].Default)
		}
	}
}

func TestResolve_MissingParameters(t *testing.T) {
	p := mustParse(t)

	_, err := p.EntryPoints["train"].Resolve(map[string]string{})
	var missing *MissingParametersError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingParametersError, got %v", err)
	}
	if strings.Join(missing.Names, ",") != "csv_test_path,csv_train_path" {
		t.Errorf("got missing %v", missing.Names)
	}
}

func TestResolve_FloatValidation(t *testing.T) {
	p := mustParse(t)
	ep := p.EntryPoints["prepare_train_test"]

	if _, err := ep.Resolve(map[string]string{"csv_path": "a.csv", "test_size": "lots"}); err == nil {
		t.Error("expected error for non-float test_size")
	}
	if _, err := ep.Resolve(map[string]string{"csv_path": "a.csv", "test_size": "0.3"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRender_SubstitutesAndQuotes(t *testing.T) {
	p := mustParse(t)
	ep := p.EntryPoints["train"]

	resolved, err := ep.Resolve(map[string]string{
		"csv_train_path": "/tmp/run 1/artifacts/train.csv",
		"csv_test_path":  "file:///tmp/run1/artifacts/test.csv",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := "python train.py --train '/tmp/run 1/artifacts/train.csv' --test file:///tmp/run1/artifacts/test.csv"
	if got := ep.Render(resolved); got != want {
		t.Errorf("got command\n  %s\nwant\n  %s", got, want)
	}
}

func TestRender_AppendsExtraParameters(t *testing.T) {
	p := mustParse(t)
	ep := p.EntryPoints["download_data"]

	resolved, err := ep.Resolve(map[string]string{"seed": "7", "note": "it's"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := `python download.py --data-url tt --note 'it'"'"'s' --seed 7`
	if got := ep.Render(resolved); got != want {
		t.Errorf("got command\n  %s\nwant\n  %s", got, want)
	}
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"":             "''",
		"plain":        "plain",
		"a b":          "'a b'",
		"$HOME":        "'$HOME'",
		"s3://b/k.csv": "s3://b/k.csv",
	}
	for in, want := range tests {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
