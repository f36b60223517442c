// Package file implements tracking.Store on a local directory using the
// mlruns layout: <root>/<experiment_id>/<run_id>/{meta.yaml,params,tags,artifacts}.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"mlpipe/internal/tracking"
	"mlpipe/pkg/api"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	metaFile   = "meta.yaml"
	paramsDir  = "params"
	tagsDir    = "tags"
	artifacts  = "artifacts"
	defaultExp = "0"
)

// Numeric run status codes as written to meta.yaml.
var statusCodes = map[api.RunStatus]int{
	api.RunStatusRunning:   1,
	api.RunStatusScheduled: 2,
	api.RunStatusFinished:  3,
	api.RunStatusFailed:    4,
	api.RunStatusKilled:    5,
}

type experimentMeta struct {
	ExperimentID     string `yaml:"experiment_id"`
	Name             string `yaml:"name"`
	ArtifactLocation string `yaml:"artifact_location"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	CreationTime     int64  `yaml:"creation_time"`
	LastUpdateTime   int64  `yaml:"last_update_time"`
}

type runMeta struct {
	RunID          string `yaml:"run_id"`
	RunUUID        string `yaml:"run_uuid"`
	RunName        string `yaml:"run_name"`
	ExperimentID   string `yaml:"experiment_id"`
	UserID         string `yaml:"user_id"`
	Status         int    `yaml:"status"`
	StartTime      int64  `yaml:"start_time"`
	EndTime        *int64 `yaml:"end_time"` // null while the run is active
	ArtifactURI    string `yaml:"artifact_uri"`
	LifecycleStage string `yaml:"lifecycle_stage"`
}

// Store is a tracking.Store backed by the local filesystem.
type Store struct {
	root string
	mu   sync.Mutex
}

// New opens the store rooted at uri (a file:// URI or a plain path),
// creating the directory and the Default experiment when missing.
func New(uri string) (*Store, error) {
	root, err := filepath.Abs(strings.TrimPrefix(uri, "file://"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tracking dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tracking dir: %w", err)
	}

	s := &Store{root: root}

	if _, err := os.Stat(filepath.Join(root, defaultExp, metaFile)); errors.Is(err, fs.ErrNotExist) {
		if err := s.writeExperiment(defaultExp, "Default"); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Root returns the absolute tracking directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) GetExperimentByName(ctx context.Context, name string) (*api.Experiment, error) {
	ids, err := s.experimentIDs()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		var meta experimentMeta
		if err := readYAML(filepath.Join(s.root, id, metaFile), &meta); err != nil {
			continue
		}
		if meta.Name == name && meta.LifecycleStage == api.LifecycleActive {
			return &api.Experiment{
				ExperimentID:     meta.ExperimentID,
				Name:             meta.Name,
				ArtifactLocation: meta.ArtifactLocation,
				LifecycleStage:   meta.LifecycleStage,
				CreationTime:     meta.CreationTime,
				LastUpdateTime:   meta.LastUpdateTime,
			}, nil
		}
	}

	return nil, fmt.Errorf("experiment %q: %w", name, tracking.ErrNotFound)
}

func (s *Store) CreateExperiment(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.GetExperimentByName(ctx, name); err == nil {
		return "", fmt.Errorf("experiment %q already exists", name)
	}

	ids, err := s.experimentIDs()
	if err != nil {
		return "", err
	}
	next := 0
	for _, id := range ids {
		if n, err := strconv.Atoi(id); err == nil && n >= next {
			next = n + 1
		}
	}

	id := strconv.Itoa(next)
	if err := s.writeExperiment(id, name); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) CreateRun(ctx context.Context, opts tracking.CreateRunOptions) (*api.RunInfo, error) {
	var exp experimentMeta
	if err := readYAML(filepath.Join(s.root, opts.ExperimentID, metaFile), &exp); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("experiment %s: %w", opts.ExperimentID, tracking.ErrNotFound)
		}
		return nil, err
	}

	runID := strings.ReplaceAll(uuid.New().String(), "-", "")
	runDir := filepath.Join(s.root, opts.ExperimentID, runID)
	for _, dir := range []string{paramsDir, tagsDir, artifacts} {
		if err := os.MkdirAll(filepath.Join(runDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create run dir: %w", err)
		}
	}

	startTime := opts.StartTime
	if startTime.IsZero() {
		startTime = time.Now()
	}

	meta := runMeta{
		RunID:          runID,
		RunUUID:        runID,
		RunName:        opts.RunName,
		ExperimentID:   opts.ExperimentID,
		UserID:         opts.Tags[api.TagUser],
		Status:         statusCodes[api.RunStatusRunning],
		StartTime:      api.Millis(startTime),
		ArtifactURI:    tracking.RunArtifactURI(exp.ArtifactLocation, runID),
		LifecycleStage: api.LifecycleActive,
	}
	if err := writeYAML(filepath.Join(runDir, metaFile), meta); err != nil {
		return nil, err
	}

	if err := writeKeyValues(filepath.Join(runDir, tagsDir), opts.Tags); err != nil {
		return nil, err
	}

	info := meta.info()
	return &info, nil
}

func (s *Store) UpdateRun(ctx context.Context, runID string, status api.RunStatus, endTime time.Time) error {
	code, ok := statusCodes[status]
	if !ok {
		return fmt.Errorf("invalid run status %q", status)
	}

	runDir, err := s.findRun(runID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var meta runMeta
	if err := readYAML(filepath.Join(runDir, metaFile), &meta); err != nil {
		return err
	}
	meta.Status = code
	if !endTime.IsZero() {
		end := api.Millis(endTime)
		meta.EndTime = &end
	}
	return writeYAML(filepath.Join(runDir, metaFile), meta)
}

func (s *Store) GetRun(ctx context.Context, runID string) (*api.Run, error) {
	runDir, err := s.findRun(runID)
	if err != nil {
		return nil, err
	}

	var meta runMeta
	if err := readYAML(filepath.Join(runDir, metaFile), &meta); err != nil {
		return nil, err
	}

	params, err := readKeyValues(filepath.Join(runDir, paramsDir))
	if err != nil {
		return nil, err
	}
	tags, err := readKeyValues(filepath.Join(runDir, tagsDir))
	if err != nil {
		return nil, err
	}

	run := &api.Run{Info: meta.info()}
	for _, k := range sortedKeys(params) {
		run.Data.Params = append(run.Data.Params, api.Param{Key: k, Value: params[k]})
	}
	for _, k := range sortedKeys(tags) {
		run.Data.Tags = append(run.Data.Tags, api.RunTag{Key: k, Value: tags[k]})
	}
	return run, nil
}

func (s *Store) LogParams(ctx context.Context, runID string, params map[string]string) error {
	runDir, err := s.findRun(runID)
	if err != nil {
		return err
	}

	dir := filepath.Join(runDir, paramsDir)
	existing, err := readKeyValues(dir)
	if err != nil {
		return err
	}
	// Params are immutable once logged
	for k, v := range params {
		if old, ok := existing[k]; ok && old != v {
			return fmt.Errorf("param %q already logged for run %s with value %q", k, runID, old)
		}
	}
	return writeKeyValues(dir, params)
}

// Close is a no-op; the store holds no open handles.
func (s *Store) Close() error {
	return nil
}

func (s *Store) writeExperiment(id, name string) error {
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create experiment dir: %w", err)
	}
	now := api.Millis(time.Now())
	return writeYAML(filepath.Join(dir, metaFile), experimentMeta{
		ExperimentID:     id,
		Name:             name,
		ArtifactLocation: "file://" + filepath.ToSlash(dir),
		LifecycleStage:   api.LifecycleActive,
		CreationTime:     now,
		LastUpdateTime:   now,
	})
}

func (s *Store) experimentIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (s *Store) findRun(runID string) (string, error) {
	if runID == "" || !filepath.IsLocal(runID) || strings.ContainsRune(runID, filepath.Separator) {
		return "", fmt.Errorf("run %q: %w", runID, tracking.ErrNotFound)
	}

	ids, err := s.experimentIDs()
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		dir := filepath.Join(s.root, id, runID)
		if _, err := os.Stat(filepath.Join(dir, metaFile)); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("run %s: %w", runID, tracking.ErrNotFound)
}

func (m runMeta) info() api.RunInfo {
	status := api.RunStatusRunning
	for s, code := range statusCodes {
		if code == m.Status {
			status = s
		}
	}
	var endTime int64
	if m.EndTime != nil {
		endTime = *m.EndTime
	}
	return api.RunInfo{
		RunID:          m.RunID,
		RunUUID:        m.RunUUID,
		RunName:        m.RunName,
		ExperimentID:   m.ExperimentID,
		UserID:         m.UserID,
		Status:         status,
		StartTime:      m.StartTime,
		EndTime:        endTime,
		ArtifactURI:    m.ArtifactURI,
		LifecycleStage: m.LifecycleStage,
	}
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// writeKeyValues stores each entry as a file named by its key.
func writeKeyValues(dir string, kv map[string]string) error {
	for k, v := range kv {
		if !filepath.IsLocal(k) {
			return fmt.Errorf("invalid key %q", k)
		}
		path := filepath.Join(dir, k)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(v), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", k, err)
		}
	}
	return nil
}

func readKeyValues(dir string) (map[string]string, error) {
	kv := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		kv[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	return kv, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
