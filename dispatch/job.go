package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Job is one delivery of an event to one subscriber.
type Job struct {
	UID      string
	Event    string
	Payload  []byte
	Attempts int

	db *sql.DB
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("dispatch: decode %s payload: %w", j.Event, err)
	}
	return nil
}

// Step runs fn once per job, persisting its result. On a retried attempt a
// step that already completed is skipped and its stored result is returned,
// so side effects behind completed steps do not repeat. Step results must be
// JSON-marshallable; use a nil result for pure side-effect steps.
func (j *Job) Step(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	var stored []byte
	err := j.db.QueryRowContext(ctx,
		`SELECT result FROM dispatch_steps WHERE job_uid = ? AND step = ?`,
		j.UID, name,
	).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dispatch: load step %q: %w", name, err)
	}

	out, err := fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", name, err)
	}

	result, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal step %q result: %w", name, err)
	}
	if _, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO dispatch_steps (job_uid, step, result, completed_at) VALUES (?,?,?,?)`,
		j.UID, name, result, time.Now().UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("dispatch: persist step %q: %w", name, err)
	}
	return result, nil
}

// DecodeStep runs Step and unmarshals the result into v.
func (j *Job) DecodeStep(ctx context.Context, name string, v any, fn func(ctx context.Context) (any, error)) error {
	raw, err := j.Step(ctx, name, fn)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(raw, v)
}
