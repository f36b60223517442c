package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mlpipe/internal/tracking"
	"mlpipe/pkg/api"

	"github.com/google/uuid"
)

// CreateRun inserts a RUNNING run and its tags in one transaction.
func (s *Store) CreateRun(ctx context.Context, opts tracking.CreateRunOptions) (*api.RunInfo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var location sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT artifact_location FROM experiments WHERE experiment_id = $1`,
		opts.ExperimentID,
	).Scan(&location)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %s: %w", opts.ExperimentID, tracking.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	startTime := opts.StartTime
	if startTime.IsZero() {
		startTime = time.Now()
	}

	runID := strings.ReplaceAll(uuid.New().String(), "-", "")
	info := api.RunInfo{
		RunID:          runID,
		RunUUID:        runID,
		RunName:        opts.RunName,
		ExperimentID:   opts.ExperimentID,
		UserID:         opts.Tags[api.TagUser],
		Status:         api.RunStatusRunning,
		StartTime:      api.Millis(startTime),
		ArtifactURI:    tracking.RunArtifactURI(location.String, runID),
		LifecycleStage: api.LifecycleActive,
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_uuid, name, experiment_id, user_id, status, start_time, artifact_uri, lifecycle_stage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		info.RunID, info.RunName, info.ExperimentID, info.UserID,
		info.Status, info.StartTime, info.ArtifactURI, info.LifecycleStage,
	); err != nil {
		return nil, err
	}

	if err := insertKeyValues(ctx, tx, "tags", runID, opts.Tags, false); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *Store) UpdateRun(ctx context.Context, runID string, status api.RunStatus, endTime time.Time) error {
	var end sql.NullInt64
	if !endTime.IsZero() {
		end = sql.NullInt64{Int64: api.Millis(endTime), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, end_time = $2 WHERE run_uuid = $3`,
		status, end, runID,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, tracking.ErrNotFound)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*api.Run, error) {
	query := `
		SELECT run_uuid, name, experiment_id::text, user_id, status, start_time, end_time, artifact_uri, lifecycle_stage
		FROM runs WHERE run_uuid = $1
	`

	var run api.Run
	var name, userID sql.NullString
	var start, end sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&run.Info.RunID, &name, &run.Info.ExperimentID, &userID,
		&run.Info.Status, &start, &end, &run.Info.ArtifactURI, &run.Info.LifecycleStage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, tracking.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	run.Info.RunUUID = run.Info.RunID
	run.Info.RunName = name.String
	run.Info.UserID = userID.String
	run.Info.StartTime = start.Int64
	run.Info.EndTime = end.Int64

	params, err := selectKeyValues(ctx, s.db, "params", runID)
	if err != nil {
		return nil, err
	}
	for _, kv := range params {
		run.Data.Params = append(run.Data.Params, api.Param{Key: kv[0], Value: kv[1]})
	}

	tags, err := selectKeyValues(ctx, s.db, "tags", runID)
	if err != nil {
		return nil, err
	}
	for _, kv := range tags {
		run.Data.Tags = append(run.Data.Tags, api.RunTag{Key: kv[0], Value: kv[1]})
	}

	return &run, nil
}

// LogParams inserts params. Params are immutable: re-logging an identical
// value is a no-op and a different value is an error.
func (s *Store) LogParams(ctx context.Context, runID string, params map[string]string) error {
	if len(params) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertKeyValues(ctx, tx, "params", runID, params, true); err != nil {
		return err
	}
	return tx.Commit()
}

// insertKeyValues writes kv rows for runID into table (params or tags) in
// key order. Existing keys are kept; when immutable is set, an existing key
// with a different value is an error.
func insertKeyValues(ctx context.Context, tx DBTransaction, table, runID string, kv map[string]string, immutable bool) error {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, run_uuid) VALUES ($1, $2, $3)
		ON CONFLICT (key, run_uuid) DO NOTHING
	`, table)
	for _, k := range keys {
		res, err := tx.ExecContext(ctx, query, k, kv[k], runID)
		if err != nil {
			return fmt.Errorf("failed to insert %s %q: %w", table, k, err)
		}
		if !immutable {
			continue
		}
		if n, err := res.RowsAffected(); err != nil || n > 0 {
			continue
		}

		var old sql.NullString
		err = tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND run_uuid = $2`, table),
			k, runID,
		).Scan(&old)
		if err != nil {
			return fmt.Errorf("failed to read %s %q: %w", table, k, err)
		}
		if old.String != kv[k] {
			return fmt.Errorf("param %q already logged for run %s with value %q", k, runID, old.String)
		}
	}
	return nil
}

func selectKeyValues(ctx context.Context, db DBTransaction, table, runID string) ([][2]string, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT key, value FROM %s WHERE run_uuid = $1 ORDER BY key`, table),
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out = append(out, [2]string{k, v.String})
	}
	return out, rows.Err()
}
