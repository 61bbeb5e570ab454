// Package dispatch implements durable event delivery backed by SQLite.
//
// Producers Emit named events; each subscriber of an event gets its own job
// row, claimed with a visibility timeout. A claimed job stays invisible for a
// configurable duration: if the worker crashes or exceeds the timeout the job
// reappears and another instance picks it up. Jobs carry an attempts counter;
// a job that exhausts its retry budget runs the subscription's OnFailure hook
// exactly once, synchronously, and is then discarded.
//
// Handlers can checkpoint expensive work with Job.Step: the step's result is
// persisted, so a retried attempt skips steps that already completed and
// resumes at the first incomplete one.
//
// Idempotency: a subscription may derive a key from the payload. While a job
// with that key is queued or in flight, re-emitting the same event is a
// no-op for that subscriber. Completed jobs release their key; protection
// against duplicate side effects across completed runs belongs to the
// handlers themselves (delete-then-insert writes, append-only records).
//
// The dispatcher is pure SQLite — no external broker, no cloud dependency.
package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docmind/idgen"
)

// ErrPermanent marks a handler failure that must not be retried. The job is
// discarded immediately and the subscription's OnFailure hook runs.
var ErrPermanent = errors.New("dispatch: permanent failure")

// Permanent wraps err so the dispatcher treats it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_jobs (
    uid         TEXT PRIMARY KEY,
    subscriber  TEXT NOT NULL,
    event       TEXT NOT NULL,
    idem_key    TEXT NOT NULL DEFAULT '',
    payload     BLOB,
    visible_at  INTEGER NOT NULL DEFAULT 0,  -- milliseconds since epoch
    created_at  INTEGER NOT NULL,            -- milliseconds since epoch
    attempts    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_dispatch_visible ON dispatch_jobs (subscriber, visible_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_dispatch_idem ON dispatch_jobs (subscriber, idem_key) WHERE idem_key != '';

CREATE TABLE IF NOT EXISTS dispatch_steps (
    job_uid      TEXT NOT NULL,
    step         TEXT NOT NULL,
    result       BLOB,
    completed_at INTEGER NOT NULL,
    PRIMARY KEY (job_uid, step)
);
`

// Options configures dispatcher behaviour.
type Options struct {
	// Visibility is how long a claimed job stays invisible. Default: 60s.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in the Run loop.
	// Default: 1s.
	PollInterval time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// NewID overrides job uid generation (tests).
	NewID idgen.Generator
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 60 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.NewID == nil {
		o.NewID = idgen.Default
	}
}

// Handler processes one delivered job. Return nil to complete the job,
// an error to retry it after the backoff, or a Permanent-wrapped error to
// fail it immediately.
type Handler func(ctx context.Context, job *Job) error

// FailureHook runs once when a job is discarded, either because its retry
// budget is exhausted or because the handler returned a permanent error.
// It must not retry; errors are logged and swallowed.
type FailureHook func(ctx context.Context, job *Job, cause error)

// Subscription binds a named consumer to an event.
type Subscription struct {
	// Name identifies the consumer; each (event, name) pair gets its own
	// job per emission. Must be unique across the dispatcher.
	Name string
	// Event is the event name to consume.
	Event string
	// MaxRetries is how many times a failed attempt is redelivered after
	// the first one. 0 means a single attempt.
	MaxRetries int
	// Key derives an idempotency key from the payload. Nil means every
	// emission produces a distinct job.
	Key func(payload []byte) string
	// Handler processes the job.
	Handler Handler
	// OnFailure is the optional terminal failure hook.
	OnFailure FailureHook
}

// Dispatcher routes emitted events to durable per-subscriber jobs.
type Dispatcher struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger
	subs   map[string][]*Subscription // event name → subscriptions
	byName map[string]*Subscription
}

// New creates a Dispatcher. Call EnsureSchema once at startup, Subscribe for
// each consumer, then Emit and Run.
func New(db *sql.DB, opts Options) *Dispatcher {
	opts.defaults()
	return &Dispatcher{
		db:     db,
		opts:   opts,
		logger: opts.Logger,
		subs:   make(map[string][]*Subscription),
		byName: make(map[string]*Subscription),
	}
}

// EnsureSchema creates the dispatch tables if they don't exist.
func (d *Dispatcher) EnsureSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Subscribe registers a consumer. Not safe to call after Run has started.
func (d *Dispatcher) Subscribe(sub Subscription) error {
	if sub.Name == "" || sub.Event == "" || sub.Handler == nil {
		return fmt.Errorf("dispatch: subscription needs name, event and handler")
	}
	if _, dup := d.byName[sub.Name]; dup {
		return fmt.Errorf("dispatch: duplicate subscription name %q", sub.Name)
	}
	s := &sub
	d.subs[sub.Event] = append(d.subs[sub.Event], s)
	d.byName[sub.Name] = s
	return nil
}

// Emit enqueues one job per subscriber of the event. Payload is marshalled
// to JSON. Emissions whose idempotency key collides with a queued or
// in-flight job for the same subscriber are silently dropped for that
// subscriber.
func (d *Dispatcher) Emit(ctx context.Context, event string, payload any) error {
	subs := d.subs[event]
	if len(subs) == 0 {
		d.logger.Debug("dispatch: event has no subscribers", "event", event)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatch: marshal %s payload: %w", event, err)
	}

	now := time.Now().UnixMilli()
	for _, sub := range subs {
		key := ""
		if sub.Key != nil {
			key = sub.Key(body)
		}
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO dispatch_jobs (uid, subscriber, event, idem_key, payload, visible_at, created_at)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT (subscriber, idem_key) WHERE idem_key != '' DO NOTHING`,
			d.opts.NewID(), sub.Name, event, key, body, now, now,
		)
		if err != nil {
			return fmt.Errorf("dispatch: enqueue %s for %s: %w", event, sub.Name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			d.logger.Debug("dispatch: duplicate emission dropped",
				"event", event, "subscriber", sub.Name, "key", key)
			continue
		}
		d.logger.Debug("dispatch: job enqueued", "event", event, "subscriber", sub.Name)
	}
	return nil
}

// Pending returns the number of queued and in-flight jobs for a subscriber.
func (d *Dispatcher) Pending(ctx context.Context, subscriber string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dispatch_jobs WHERE subscriber = ?`, subscriber,
	).Scan(&n)
	return n, err
}
