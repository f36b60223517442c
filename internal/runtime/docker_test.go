package runtime

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types/mount"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestContainerSpec_MountsProjectDir(t *testing.T) {
	dir := t.TempDir()

	cfg, host, err := containerSpec(StartOptions{
		Name:    "train",
		Image:   "python:3.11",
		Command: []string{"sh", "-c", "python train.py"},
		Env:     map[string]string{"MLFLOW_RUN_ID": "abc"},
		WorkDir: dir,
		Volumes: map[string]string{"/var/mlruns": "/mlflow/tmp/mlruns"},
	})
	if err != nil {
		t.Fatalf("containerSpec failed: %v", err)
	}

	if cfg.WorkingDir != ContainerProjectDir {
		t.Errorf("expected working dir %s, got %s", ContainerProjectDir, cfg.WorkingDir)
	}
	if len(cfg.Env) != 1 || cfg.Env[0] != "MLFLOW_RUN_ID=abc" {
		t.Errorf("unexpected env %v", cfg.Env)
	}
	if cfg.Labels[managedByLabel] != "mlpipe" || cfg.Labels["mlpipe/entry-point"] != "train" {
		t.Errorf("unexpected labels %v", cfg.Labels)
	}

	if len(host.Mounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(host.Mounts))
	}
	abs, _ := filepath.Abs(dir)
	want := mount.Mount{Type: mount.TypeBind, Source: abs, Target: ContainerProjectDir}
	if host.Mounts[0] != want {
		t.Errorf("got project mount %+v, want %+v", host.Mounts[0], want)
	}
	if host.Mounts[1].Source != "/var/mlruns" || host.Mounts[1].Target != "/mlflow/tmp/mlruns" {
		t.Errorf("unexpected volume mount %+v", host.Mounts[1])
	}
}

func TestContainerSpec_RequiresImage(t *testing.T) {
	if _, _, err := containerSpec(StartOptions{Command: []string{"true"}}); err == nil {
		t.Error("expected error without image")
	}
}

func TestContainerSpec_NoWorkDir(t *testing.T) {
	cfg, host, err := containerSpec(StartOptions{Image: "alpine", Command: []string{"true"}})
	if err != nil {
		t.Fatalf("containerSpec failed: %v", err)
	}
	if cfg.WorkingDir != "" || len(host.Mounts) != 0 {
		t.Errorf("expected no mounts, got %+v", host.Mounts)
	}
}
