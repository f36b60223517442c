// Package config loads mlpipe settings from a config file, environment
// variables and bound command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backends accepted for running entry points.
const (
	BackendLocal      = "local"
	BackendDocker     = "docker"
	BackendKubernetes = "kubernetes"
)

// Config holds all configuration values for the application.
type Config struct {
	// Where runs are recorded: an http(s) tracking server, a postgres DSN,
	// a file:// URI or a plain directory.
	TrackingURI string `mapstructure:"tracking_uri"`

	// Bearer token sent to an http(s) tracking server
	TrackingToken string `mapstructure:"tracking_token"`

	// Requests per second allowed against the tracking server (0 = unlimited)
	TrackingRateLimit float64 `mapstructure:"tracking_rate_limit"`

	// Experiment the pipeline runs are recorded under
	ExperimentName string `mapstructure:"experiment_name"`

	// Default artifact root for experiments created in a postgres store
	ArtifactRoot string `mapstructure:"artifact_root"`

	// Directory holding the MLproject file
	ProjectDir string `mapstructure:"project_dir"`

	// Execution backend: local, docker or kubernetes
	Backend string `mapstructure:"backend"`

	// Upper bound on a single sub-run (0 = no limit)
	RunTimeout time.Duration `mapstructure:"run_timeout"`

	// Kubernetes backend settings
	KubernetesNamespace      string `mapstructure:"kubernetes_namespace"`
	KubernetesServiceAccount string `mapstructure:"kubernetes_service_account"`
	KubernetesCPULimit       string `mapstructure:"kubernetes_cpu_limit"`
	KubernetesMemoryLimit    string `mapstructure:"kubernetes_memory_limit"`

	// OTLP gRPC collector address; tracing is off when empty
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Address serving /metrics while a pipeline runs; off when empty
	MetricsAddr string `mapstructure:"metrics_addr"`

	LogLevel string `mapstructure:"log_level"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tracking_uri", "./mlruns")
	v.SetDefault("tracking_rate_limit", 0)
	v.SetDefault("experiment_name", "Default")
	v.SetDefault("artifact_root", "./mlartifacts")
	v.SetDefault("project_dir", ".")
	v.SetDefault("backend", BackendLocal)
	v.SetDefault("run_timeout", time.Duration(0))
	v.SetDefault("kubernetes_namespace", "default")
	v.SetDefault("kubernetes_service_account", "")
	v.SetDefault("kubernetes_cpu_limit", "500m")
	v.SetDefault("kubernetes_memory_limit", "256Mi")
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
}

// BindEnv maps config keys to environment variables. The tracking keys use
// the names the tracking tool itself reads.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("MLPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.BindEnv("tracking_uri", "MLFLOW_TRACKING_URI")
	v.BindEnv("tracking_token", "MLFLOW_TRACKING_TOKEN")
	v.BindEnv("experiment_name", "MLFLOW_EXPERIMENT_NAME")
	v.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// Load reads configuration from the optional config file at path, then the
// environment. Environment values override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.TrackingURI == "" {
		return nil, fmt.Errorf("tracking_uri is required (env: MLFLOW_TRACKING_URI)")
	}
	if cfg.ExperimentName == "" {
		return nil, fmt.Errorf("experiment_name is required (env: MLFLOW_EXPERIMENT_NAME)")
	}

	switch cfg.Backend {
	case BackendLocal, BackendDocker, BackendKubernetes:
	default:
		return nil, fmt.Errorf("invalid backend %q: must be one of %s, %s, %s",
			cfg.Backend, BackendLocal, BackendDocker, BackendKubernetes)
	}

	if cfg.TrackingRateLimit < 0 {
		return nil, fmt.Errorf("invalid tracking_rate_limit: %v", cfg.TrackingRateLimit)
	}
	if cfg.RunTimeout < 0 {
		return nil, fmt.Errorf("invalid run_timeout: %v", cfg.RunTimeout)
	}

	return &cfg, nil
}
