package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MLFLOW_TRACKING_URI", "MLFLOW_TRACKING_TOKEN", "MLFLOW_EXPERIMENT_NAME",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "MLPIPE_BACKEND", "MLPIPE_PROJECT_DIR",
		"MLPIPE_RUN_TIMEOUT", "MLPIPE_METRICS_ADDR", "MLPIPE_KUBERNETES_NAMESPACE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TrackingURI != "./mlruns" {
		t.Errorf("expected TrackingURI ./mlruns, got %s", cfg.TrackingURI)
	}
	if cfg.ExperimentName != "Default" {
		t.Errorf("expected ExperimentName Default, got %s", cfg.ExperimentName)
	}
	if cfg.ProjectDir != "." {
		t.Errorf("expected ProjectDir ., got %s", cfg.ProjectDir)
	}
	if cfg.Backend != BackendLocal {
		t.Errorf("expected Backend local, got %s", cfg.Backend)
	}
	if cfg.RunTimeout != 0 {
		t.Errorf("expected RunTimeout 0, got %v", cfg.RunTimeout)
	}
	if cfg.KubernetesNamespace != "default" {
		t.Errorf("expected KubernetesNamespace default, got %s", cfg.KubernetesNamespace)
	}
	if cfg.KubernetesCPULimit != "500m" {
		t.Errorf("expected KubernetesCPULimit 500m, got %s", cfg.KubernetesCPULimit)
	}
	if cfg.KubernetesMemoryLimit != "256Mi" {
		t.Errorf("expected KubernetesMemoryLimit 256Mi, got %s", cfg.KubernetesMemoryLimit)
	}
	if cfg.OTELEndpoint != "" {
		t.Errorf("expected empty OTELEndpoint, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MLFLOW_TRACKING_URI", "http://tracking:5000")
	t.Setenv("MLFLOW_TRACKING_TOKEN", "secret")
	t.Setenv("MLFLOW_EXPERIMENT_NAME", "churn")
	t.Setenv("MLPIPE_BACKEND", "docker")
	t.Setenv("MLPIPE_RUN_TIMEOUT", "90s")
	t.Setenv("MLPIPE_METRICS_ADDR", ":6162")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TrackingURI != "http://tracking:5000" {
		t.Errorf("expected TrackingURI from env, got %s", cfg.TrackingURI)
	}
	if cfg.TrackingToken != "secret" {
		t.Errorf("expected TrackingToken from env, got %s", cfg.TrackingToken)
	}
	if cfg.ExperimentName != "churn" {
		t.Errorf("expected ExperimentName churn, got %s", cfg.ExperimentName)
	}
	if cfg.Backend != BackendDocker {
		t.Errorf("expected Backend docker, got %s", cfg.Backend)
	}
	if cfg.RunTimeout != 90*time.Second {
		t.Errorf("expected RunTimeout 90s, got %v", cfg.RunTimeout)
	}
	if cfg.MetricsAddr != ":6162" {
		t.Errorf("expected MetricsAddr :6162, got %s", cfg.MetricsAddr)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("MLPIPE_BACKEND", "slurm")

	_, err := Load("")
	if err == nil {
		t.Error("expected error for invalid backend")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "mlpipe-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
tracking_uri: "postgres://config-file/db"
experiment_name: "from-file"
backend: kubernetes
kubernetes_namespace: ml
run_timeout: 10m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TrackingURI != "postgres://config-file/db" {
		t.Errorf("expected TrackingURI from config file, got %s", cfg.TrackingURI)
	}
	if cfg.ExperimentName != "from-file" {
		t.Errorf("expected ExperimentName from-file, got %s", cfg.ExperimentName)
	}
	if cfg.Backend != BackendKubernetes {
		t.Errorf("expected Backend kubernetes, got %s", cfg.Backend)
	}
	if cfg.KubernetesNamespace != "ml" {
		t.Errorf("expected KubernetesNamespace ml, got %s", cfg.KubernetesNamespace)
	}
	if cfg.RunTimeout != 10*time.Minute {
		t.Errorf("expected RunTimeout 10m, got %v", cfg.RunTimeout)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
tracking_uri: "./from-file"
experiment_name: "from-file"
`)

	t.Setenv("MLFLOW_TRACKING_URI", "./from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TrackingURI != "./from-env" {
		t.Errorf("expected TrackingURI from env, got %s", cfg.TrackingURI)
	}
	if cfg.ExperimentName != "from-file" {
		t.Errorf("expected ExperimentName from file, got %s", cfg.ExperimentName)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	clearEnv(t)

	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}
