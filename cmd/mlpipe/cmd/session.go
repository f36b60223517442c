package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mlpipe/internal/config"
	"mlpipe/internal/launcher"
	"mlpipe/internal/logger"
	"mlpipe/internal/observability"
	"mlpipe/internal/pipeline"
	"mlpipe/internal/project"
	"mlpipe/internal/runtime"
	"mlpipe/internal/tracking"
	"mlpipe/internal/tracking/file"
	"mlpipe/internal/tracking/postgres"
	"mlpipe/internal/tracking/rest"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

const shutdownTimeout = 5 * time.Second

// session holds what a command needs to talk to the tracking store and
// launch runs. Close releases it.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   tracking.Store
	metrics *observability.StepMetrics

	closers []func(context.Context) error
}

// newSession loads the configuration and opens the tracking store. When
// withTelemetry is set it also starts tracing and the metrics server.
func newSession(cmd *cobra.Command, withTelemetry bool) (*session, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:    cfg,
		logger: logger.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel),
	}
	ctx := cmd.Context()

	if withTelemetry {
		if err := s.initTelemetry(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store = store
	s.closers = append(s.closers, func(context.Context) error { return store.Close() })

	return s, nil
}

func (s *session) initTelemetry(ctx context.Context) error {
	if s.cfg.OTELEndpoint != "" {
		shutdown, err := observability.InitTracer(ctx, "mlpipe", s.cfg.OTELEndpoint)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.closers = append(s.closers, shutdown)
	}

	if s.cfg.MetricsAddr != "" {
		handler, shutdown, err := observability.InitMetrics()
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		s.closers = append(s.closers, shutdown)

		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		server := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
		go func() {
			s.logger.Info("serving metrics", "addr", s.cfg.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server failed", "error", err)
			}
		}()
		s.closers = append(s.closers, server.Shutdown)
	}

	metrics, err := observability.NewStepMetrics(otel.Meter("mlpipe"))
	if err != nil {
		return fmt.Errorf("failed to create step metrics: %w", err)
	}
	s.metrics = metrics
	return nil
}

// openStore selects the store implementation from the tracking URI.
func openStore(ctx context.Context, cfg *config.Config) (tracking.Store, error) {
	switch tracking.KindOf(cfg.TrackingURI) {
	case tracking.KindREST:
		return rest.NewClient(cfg.TrackingURI, cfg.TrackingToken, cfg.TrackingRateLimit), nil
	case tracking.KindPostgres:
		store, err := postgres.New(ctx, cfg.TrackingURI, cfg.ArtifactRoot)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := file.New(cfg.TrackingURI)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func newRuntime(cfg *config.Config, log *slog.Logger) (runtime.Runtime, error) {
	switch cfg.Backend {
	case config.BackendDocker:
		return runtime.NewDockerRuntime(log)
	case config.BackendKubernetes:
		return runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace:          cfg.KubernetesNamespace,
			ServiceAccount:     cfg.KubernetesServiceAccount,
			DefaultCPULimit:    cfg.KubernetesCPULimit,
			DefaultMemoryLimit: cfg.KubernetesMemoryLimit,
		}, log)
	default:
		return runtime.NewExecRuntime(log), nil
	}
}

// subRunTracking returns the tracking URI handed to sub-runs and the host
// paths containers need mounted to reach it. A file store is passed by its
// absolute path and mounted at the same path inside docker containers.
func subRunTracking(cfg *config.Config, store tracking.Store) (string, map[string]string, error) {
	fs, ok := store.(*file.Store)
	if !ok {
		return cfg.TrackingURI, nil, nil
	}

	switch cfg.Backend {
	case config.BackendDocker:
		return fs.Root(), map[string]string{fs.Root(): fs.Root()}, nil
	case config.BackendKubernetes:
		return "", nil, fmt.Errorf("backend %s needs a remote tracking store, got directory %s", cfg.Backend, fs.Root())
	default:
		return fs.Root(), nil, nil
	}
}

// newLauncher loads the project and resolves the experiment runs are
// recorded under.
func (s *session) newLauncher(cmd *cobra.Command) (*launcher.Launcher, error) {
	proj, err := project.Load(s.cfg.ProjectDir)
	if err != nil {
		return nil, err
	}

	trackingURI, volumes, err := subRunTracking(s.cfg, s.store)
	if err != nil {
		return nil, err
	}

	expID, err := tracking.EnsureExperiment(cmd.Context(), s.store, s.cfg.ExperimentName)
	if err != nil {
		return nil, err
	}

	rt, err := newRuntime(s.cfg, s.logger)
	if err != nil {
		return nil, err
	}

	return launcher.New(launcher.Config{
		Project:      proj,
		Store:        s.store,
		Runtime:      rt,
		ExperimentID: expID,
		TrackingURI:  trackingURI,
		Backend:      s.cfg.Backend,
		Volumes:      volumes,
		Logs:         cmd.OutOrStdout(),
		Timeout:      s.cfg.RunTimeout,
		Logger:       s.logger,
	})
}

// Close shuts down everything the session opened, newest first.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pipelineLauncher adapts a Launcher to the interface the pipeline driver
// consumes.
type pipelineLauncher struct {
	*launcher.Launcher
}

func (p pipelineLauncher) Launch(ctx context.Context, entryPoint string, params map[string]string) (pipeline.RunHandle, error) {
	run, err := p.Launcher.Launch(ctx, entryPoint, params)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// runPipeline drives p to completion and prints a summary of the steps.
func runPipeline(cmd *cobra.Command, p pipeline.Pipeline) error {
	s, err := newSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.Close()

	l, err := s.newLauncher(cmd)
	if err != nil {
		return err
	}

	driver := pipeline.New(pipelineLauncher{l}, s.logger, s.metrics)
	results, err := driver.Run(cmd.Context(), p)
	printSteps(cmd.OutOrStdout(), p, results)
	return err
}
