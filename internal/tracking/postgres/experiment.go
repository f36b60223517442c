package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mlpipe/internal/tracking"
	"mlpipe/pkg/api"
)

func (s *Store) GetExperimentByName(ctx context.Context, name string) (*api.Experiment, error) {
	query := `
		SELECT experiment_id::text, name, artifact_location, lifecycle_stage, creation_time, last_update_time
		FROM experiments WHERE name = $1 AND lifecycle_stage = $2
	`

	var exp api.Experiment
	var location sql.NullString
	var created, updated sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, name, api.LifecycleActive).Scan(
		&exp.ExperimentID, &exp.Name, &location, &exp.LifecycleStage, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %q: %w", name, tracking.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	exp.ArtifactLocation = location.String
	exp.CreationTime = created.Int64
	exp.LastUpdateTime = updated.Int64
	return &exp, nil
}

// CreateExperiment inserts the experiment and derives its artifact location
// from the generated ID.
func (s *Store) CreateExperiment(ctx context.Context, name string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := api.Millis(time.Now())

	var id string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO experiments (name, lifecycle_stage, creation_time, last_update_time)
		VALUES ($1, $2, $3, $3)
		RETURNING experiment_id::text
	`, name, api.LifecycleActive, now).Scan(&id)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE experiments SET artifact_location = $1 WHERE experiment_id = $2`,
		s.artifactRoot+"/"+id, id,
	); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}
