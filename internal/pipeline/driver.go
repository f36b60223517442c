// Package pipeline runs a fixed sequence of entry points as tracked runs,
// feeding each step the artifact root of the step before it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mlpipe/internal/observability"
)

// Step outcome labels recorded in metrics.
const (
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// RunHandle is a launched run.
type RunHandle interface {
	RunID() string
	// Wait blocks until the run has ended and reports its failure.
	Wait(ctx context.Context) error
}

// Launcher starts runs and reports where they store artifacts.
type Launcher interface {
	Launch(ctx context.Context, entryPoint string, params map[string]string) (RunHandle, error)
	ArtifactRoot(ctx context.Context, runID string) (string, error)
}

// Step is one entry point invocation.
type Step struct {
	EntryPoint string
	// Params builds the step's parameters from the previous step's artifact
	// root, which is "" for the first step. Nil means no parameters.
	Params func(prevRoot string) Params
}

// Pipeline is an ordered list of steps.
type Pipeline struct {
	Name  string
	Steps []Step
}

// StepResult describes a completed step.
type StepResult struct {
	EntryPoint   string
	RunID        string
	ArtifactRoot string
	Duration     time.Duration
}

// Driver runs pipelines one step at a time.
type Driver struct {
	launcher Launcher
	logger   *slog.Logger
	metrics  *observability.StepMetrics
}

// New creates a Driver. metrics may be nil.
func New(launcher Launcher, logger *slog.Logger, metrics *observability.StepMetrics) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{launcher: launcher, logger: logger, metrics: metrics}
}

// Run executes the steps of p in order. A step is launched only after the
// previous one has finished and its artifact root is known. The first error
// stops the pipeline; results holds the steps completed before it.
func (d *Driver) Run(ctx context.Context, p Pipeline) ([]StepResult, error) {
	results := make([]StepResult, 0, len(p.Steps))
	root := ""

	for i, step := range p.Steps {
		log := d.logger.With("pipeline", p.Name, "step", i+1, "entry_point", step.EntryPoint)

		result, err := d.runStep(ctx, log, step, root)
		if err != nil {
			d.metrics.Record(ctx, step.EntryPoint, StatusFailed, result.Duration)
			log.Error("step failed", "error", err)
			return results, fmt.Errorf("pipeline %s: step %d (%s): %w", p.Name, i+1, step.EntryPoint, err)
		}
		d.metrics.Record(ctx, step.EntryPoint, StatusFinished, result.Duration)

		log.Info("step finished", "run_id", result.RunID, "artifact_root", result.ArtifactRoot, "duration", result.Duration)
		results = append(results, result)
		root = result.ArtifactRoot
	}

	return results, nil
}

func (d *Driver) runStep(ctx context.Context, log *slog.Logger, step Step, prevRoot string) (StepResult, error) {
	result := StepResult{EntryPoint: step.EntryPoint}

	var params map[string]string
	if step.Params != nil {
		params = step.Params(prevRoot).Values()
	}

	started := time.Now()
	fail := func(err error) (StepResult, error) {
		result.Duration = time.Since(started)
		return result, err
	}

	log.Info("launching step", "params", params)
	handle, err := d.launcher.Launch(ctx, step.EntryPoint, params)
	if err != nil {
		return fail(fmt.Errorf("launch: %w", err))
	}
	result.RunID = handle.RunID()

	if err := handle.Wait(ctx); err != nil {
		return fail(fmt.Errorf("run %s: %w", result.RunID, err))
	}

	root, err := d.launcher.ArtifactRoot(ctx, result.RunID)
	if err != nil {
		return fail(fmt.Errorf("artifact root: %w", err))
	}
	result.ArtifactRoot = root
	result.Duration = time.Since(started)

	return result, nil
}
