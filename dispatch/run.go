package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Run polls for visible jobs across all subscriptions and processes them.
// It blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	log := d.logger
	log.Info("dispatch: consumer started",
		"subscriptions", len(d.byName),
		"visibility", d.opts.Visibility,
		"poll", d.opts.PollInterval)

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("dispatch: consumer stopped")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// Drain processes visible jobs until none remain. Intended for tests and
// one-shot maintenance commands.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		processed, err := d.pollOnce(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	for {
		processed, err := d.pollOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Warn("dispatch: poll failed", "error", err)
			}
			return
		}
		if !processed {
			return
		}
	}
}

// pollOnce claims and processes at most one visible job. It reports whether
// a job was claimed.
func (d *Dispatcher) pollOnce(ctx context.Context) (bool, error) {
	job, sub, err := d.claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := d.logger.With("uid", job.UID, "event", job.Event, "subscriber", sub.Name, "attempt", job.Attempts)

	// Budget exhausted on a redelivery (previous holder crashed or timed
	// out without nacking).
	if job.Attempts > sub.MaxRetries+1 {
		d.fail(ctx, sub, job, errors.New("dispatch: retry budget exhausted"))
		return true, nil
	}

	err = sub.Handler(ctx, job)
	switch {
	case err == nil:
		if ackErr := d.ack(ctx, job.UID); ackErr != nil {
			log.Warn("dispatch: ack failed", "error", ackErr)
		}

	case errors.Is(err, ErrPermanent):
		log.Warn("dispatch: permanent failure", "error", err)
		d.fail(ctx, sub, job, err)

	case job.Attempts > sub.MaxRetries:
		log.Warn("dispatch: final attempt failed", "error", err)
		d.fail(ctx, sub, job, err)

	default:
		log.Warn("dispatch: attempt failed, will retry", "error", err)
		if nackErr := d.nack(ctx, job.UID, backoff(job.Attempts)); nackErr != nil {
			log.Warn("dispatch: nack failed", "error", nackErr)
		}
	}
	return true, nil
}

// claim atomically picks the oldest visible job for any subscription, marks
// it invisible for the visibility window, and returns it with its
// subscription. Returns nil, nil, nil if nothing is visible.
func (d *Dispatcher) claim(ctx context.Context) (*Job, *Subscription, error) {
	now := time.Now()
	hideUntil := now.Add(d.opts.Visibility).UnixMilli()

	row := d.db.QueryRowContext(ctx, `
		UPDATE dispatch_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE uid = (
			SELECT uid FROM dispatch_jobs
			WHERE visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING uid, subscriber, event, payload, attempts`,
		hideUntil, now.UnixMilli(),
	)

	var j Job
	var subscriber string
	err := row.Scan(&j.UID, &subscriber, &j.Event, &j.Payload, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	j.db = d.db

	sub := d.byName[subscriber]
	if sub == nil {
		// Row from a subscription this instance doesn't know. Leave it for
		// an instance that does, past the visibility window.
		d.logger.Warn("dispatch: claimed job for unknown subscriber", "subscriber", subscriber)
		return nil, nil, nil
	}
	return &j, sub, nil
}

// ack deletes a completed job and its step checkpoints.
func (d *Dispatcher) ack(ctx context.Context, uid string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM dispatch_jobs WHERE uid = ?`, uid); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, `DELETE FROM dispatch_steps WHERE job_uid = ?`, uid)
	return err
}

// nack schedules a job for redelivery after the given delay. Completed step
// checkpoints are kept so the retry resumes where it failed.
func (d *Dispatcher) nack(ctx context.Context, uid string, delay time.Duration) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE dispatch_jobs SET visible_at = ? WHERE uid = ?`,
		time.Now().Add(delay).UnixMilli(), uid,
	)
	return err
}

// fail runs the subscription's OnFailure hook once and discards the job.
func (d *Dispatcher) fail(ctx context.Context, sub *Subscription, job *Job, cause error) {
	if sub.OnFailure != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("dispatch: OnFailure panicked",
						"subscriber", sub.Name, "uid", job.UID, "panic", r)
				}
			}()
			sub.OnFailure(ctx, job, cause)
		}()
	}
	if err := d.ack(ctx, job.UID); err != nil {
		d.logger.Warn("dispatch: discard failed", "uid", job.UID, "error", err)
	}
}

// backoff returns the redelivery delay after the given attempt count.
func backoff(attempts int) time.Duration {
	d := time.Duration(1<<uint(attempts-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
