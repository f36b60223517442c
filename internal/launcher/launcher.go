// Package launcher starts project entry points as tracked runs and waits
// for them to finish.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mlpipe/internal/config"
	"mlpipe/internal/logger"
	"mlpipe/internal/observability"
	"mlpipe/internal/project"
	"mlpipe/internal/runtime"
	"mlpipe/internal/tracking"
	"mlpipe/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Environment variables a sub-run reads to attach to its tracked run.
const (
	EnvRunID        = "MLFLOW_RUN_ID"
	EnvTrackingURI  = "MLFLOW_TRACKING_URI"
	EnvExperimentID = "MLFLOW_EXPERIMENT_ID"
)

// statusTimeout bounds the final status update of a run.
const statusTimeout = 10 * time.Second

// Config holds everything a Launcher needs. It replaces any notion of a
// process-wide active run.
type Config struct {
	Project      *project.Project
	Store        tracking.Store
	Runtime      runtime.Runtime
	ExperimentID string

	// TrackingURI is passed to sub-runs. It may differ from the URI the
	// store was opened with when runs execute inside containers.
	TrackingURI string

	// Backend is recorded on each run; docker and kubernetes require an image.
	Backend string

	// Volumes are extra host paths mounted into containers.
	Volumes map[string]string

	// Logs receives the output of every sub-run. Defaults to stdout.
	Logs io.Writer

	// Timeout bounds each sub-run; zero means no limit.
	Timeout time.Duration

	Logger *slog.Logger
}

// Launcher starts entry points of one project as runs of one experiment.
type Launcher struct {
	cfg    Config
	tracer trace.Tracer
}

// New validates cfg and creates a Launcher.
func New(cfg Config) (*Launcher, error) {
	if cfg.Project == nil {
		return nil, errors.New("project is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("tracking store is required")
	}
	if cfg.Runtime == nil {
		return nil, errors.New("runtime is required")
	}
	if cfg.ExperimentID == "" {
		return nil, errors.New("experiment ID is required")
	}
	if cfg.Backend == "" {
		cfg.Backend = config.BackendLocal
	}
	if cfg.Backend != config.BackendLocal && cfg.image() == "" {
		return nil, fmt.Errorf("backend %s requires docker_env.image in %s", cfg.Backend, project.FileName)
	}
	if cfg.Logs == nil {
		cfg.Logs = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("info")
	}

	return &Launcher{
		cfg:    cfg,
		tracer: otel.Tracer("mlpipe/launcher"),
	}, nil
}

func (c Config) image() string {
	if c.Project.DockerEnv == nil {
		return ""
	}
	return c.Project.DockerEnv.Image
}

// Launch starts the named entry point with params as a new run. It returns
// once the run is executing; use Wait on the result to block until it ends.
func (l *Launcher) Launch(ctx context.Context, entryPoint string, params map[string]string) (*SubmittedRun, error) {
	ep, err := l.cfg.Project.EntryPoint(entryPoint)
	if err != nil {
		return nil, err
	}
	resolved, err := ep.Resolve(params)
	if err != nil {
		return nil, err
	}
	command := ep.Render(resolved)

	spanCtx, span := l.tracer.Start(ctx, "run "+entryPoint,
		trace.WithAttributes(
			attribute.String("mlpipe.entry_point", entryPoint),
			attribute.String("mlpipe.backend", l.cfg.Backend),
			attribute.String("mlpipe.experiment_id", l.cfg.ExperimentID),
		),
	)

	run, err := l.start(spanCtx, ep, resolved, command)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	run.span = span
	return run, nil
}

func (l *Launcher) start(ctx context.Context, ep *project.EntryPoint, resolved map[string]string, command string) (*SubmittedRun, error) {
	info, err := l.cfg.Store.CreateRun(ctx, tracking.CreateRunOptions{
		ExperimentID: l.cfg.ExperimentID,
		RunName:      ep.Name,
		StartTime:    time.Now(),
		Tags:         l.tags(ep.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run for %q: %w", ep.Name, err)
	}

	ctx = logger.WithRunID(ctx, info.RunID)
	log := logger.FromContext(ctx, l.cfg.Logger).With("entry_point", ep.Name)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("mlpipe.run_id", info.RunID))

	if err := l.cfg.Store.LogParams(ctx, info.RunID, resolved); err != nil {
		l.setStatus(ctx, log, info.RunID, api.RunStatusFailed)
		return nil, fmt.Errorf("failed to log params for run %s: %w", info.RunID, err)
	}

	env := observability.TraceEnv(ctx)
	env[EnvRunID] = info.RunID
	env[EnvTrackingURI] = l.cfg.TrackingURI
	env[EnvExperimentID] = l.cfg.ExperimentID

	log.Info("launching run", "command", command, "backend", l.cfg.Backend)

	handle, err := l.cfg.Runtime.Start(ctx, runtime.StartOptions{
		Name:    ep.Name,
		Image:   l.cfg.image(),
		Command: []string{"sh", "-c", command},
		Env:     env,
		WorkDir: l.cfg.Project.Dir,
		Volumes: l.cfg.Volumes,
	})
	if err != nil {
		l.setStatus(ctx, log, info.RunID, api.RunStatusFailed)
		return nil, fmt.Errorf("failed to start run %s for %q: %w", info.RunID, ep.Name, err)
	}

	return &SubmittedRun{
		runID:      info.RunID,
		entryPoint: ep.Name,
		handle:     handle,
		launcher:   l,
		log:        log,
	}, nil
}

func (l *Launcher) tags(entryPoint string) map[string]string {
	source := l.cfg.Project.Dir
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}

	tags := map[string]string{
		api.TagSourceName:        source,
		api.TagSourceType:        "PROJECT",
		api.TagProjectEntryPoint: entryPoint,
		api.TagProjectBackend:    l.cfg.Backend,
		api.TagRunName:           entryPoint,
	}
	if user := os.Getenv("USER"); user != "" {
		tags[api.TagUser] = user
	}
	if image := l.cfg.image(); image != "" && l.cfg.Backend != config.BackendLocal {
		tags[api.TagDockerImage] = image
	}
	return tags
}

// setStatus records a terminal status. It runs even when ctx is cancelled.
func (l *Launcher) setStatus(ctx context.Context, log *slog.Logger, runID string, status api.RunStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()

	if err := l.cfg.Store.UpdateRun(ctx, runID, status, time.Now()); err != nil {
		log.Error("failed to update run status", "status", status, "error", err)
	}
}

// ArtifactRoot returns the artifact URI of a run.
func (l *Launcher) ArtifactRoot(ctx context.Context, runID string) (string, error) {
	run, err := l.cfg.Store.GetRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return run.Info.ArtifactURI, nil
}

// RunFailedError reports a run that ended without success.
type RunFailedError struct {
	RunID      string
	EntryPoint string
	ExitCode   int
	Err        error
}

func (e *RunFailedError) Error() string {
	msg := fmt.Sprintf("run %s (%s) failed with exit code %d", e.RunID, e.EntryPoint, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunFailedError) Unwrap() error {
	return e.Err
}

// SubmittedRun is a run whose process has been started.
type SubmittedRun struct {
	runID      string
	entryPoint string
	handle     runtime.Handle
	launcher   *Launcher
	log        *slog.Logger
	span       trace.Span

	once sync.Once
	err  error
}

// RunID returns the tracked run ID.
func (r *SubmittedRun) RunID() string {
	return r.runID
}

// Wait streams the run's output, blocks until it ends and records the final
// status. Calling Wait again returns the first result.
func (r *SubmittedRun) Wait(ctx context.Context) error {
	r.once.Do(func() {
		r.err = r.wait(ctx)
		if r.span != nil {
			if r.err != nil {
				r.span.RecordError(r.err)
				r.span.SetStatus(codes.Error, r.err.Error())
			}
			r.span.End()
		}
	})
	return r.err
}

func (r *SubmittedRun) wait(ctx context.Context) error {
	waitCtx := ctx
	timeout := r.launcher.cfg.Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	rc, err := r.handle.StreamLogs(waitCtx)
	if err != nil {
		r.log.Warn("failed to stream run output", "error", err)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			io.Copy(r.launcher.cfg.Logs, rc)
		}()
	}
	closeLogs := func() {
		if rc != nil {
			rc.Close()
			wg.Wait()
		}
	}

	result, err := r.handle.Wait(waitCtx)
	if err != nil {
		r.stop(ctx)
		closeLogs()

		if ctx.Err() != nil {
			r.log.Warn("run cancelled")
			r.launcher.setStatus(ctx, r.log, r.runID, api.RunStatusKilled)
			return fmt.Errorf("run %s (%s) cancelled: %w", r.runID, r.entryPoint, ctx.Err())
		}

		r.launcher.setStatus(ctx, r.log, r.runID, api.RunStatusFailed)
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			r.log.Error("run timed out", "timeout", timeout)
			return &RunFailedError{
				RunID:      r.runID,
				EntryPoint: r.entryPoint,
				ExitCode:   -1,
				Err:        fmt.Errorf("timed out after %v: %w", timeout, context.DeadlineExceeded),
			}
		}
		return fmt.Errorf("failed waiting for run %s (%s): %w", r.runID, r.entryPoint, err)
	}

	wg.Wait()
	if rc != nil {
		rc.Close()
	}

	if r.span != nil {
		r.span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
	}

	if result.ExitCode != 0 {
		r.log.Error("run failed", "exit_code", result.ExitCode)
		r.launcher.setStatus(ctx, r.log, r.runID, api.RunStatusFailed)
		return &RunFailedError{
			RunID:      r.runID,
			EntryPoint: r.entryPoint,
			ExitCode:   result.ExitCode,
			Err:        result.Error,
		}
	}

	r.log.Info("run finished")
	r.launcher.setStatus(ctx, r.log, r.runID, api.RunStatusFinished)
	return nil
}

func (r *SubmittedRun) stop(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()

	if err := r.handle.Stop(stopCtx); err != nil {
		r.log.Error("failed to stop run", "error", err)
	}
}
