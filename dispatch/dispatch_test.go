package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/hazyhaar/docmind/dbopen"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *sql.DB) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	d := New(db, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err := d.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	return d, db
}

// makeAllVisible clears redelivery delays so Drain picks up nacked jobs.
func makeAllVisible(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := db.Exec(`UPDATE dispatch_jobs SET visible_at = 0`); err != nil {
		t.Fatal(err)
	}
}

type testPayload struct {
	DocumentID string `json:"documentId"`
	N          int    `json:"n"`
}

func TestEmitAndDrain(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	var got testPayload
	err := d.Subscribe(Subscription{
		Name:  "record",
		Event: "doc/created",
		Handler: func(ctx context.Context, job *Job) error {
			return job.Decode(&got)
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Emit(ctx, "doc/created", testPayload{DocumentID: "doc_1", N: 7}); err != nil {
		t.Fatal(err)
	}
	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if got.DocumentID != "doc_1" || got.N != 7 {
		t.Errorf("payload = %+v", got)
	}

	n, err := d.Pending(ctx, "record")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("pending = %d after drain", n)
	}
}

func TestEmitNoSubscribers(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if err := d.Emit(context.Background(), "nobody/listens", testPayload{}); err != nil {
		t.Fatal(err)
	}
}

func TestFanOut(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	calls := map[string]int{}
	for _, name := range []string{"first", "second"} {
		name := name
		err := d.Subscribe(Subscription{
			Name:  name,
			Event: "doc/created",
			Handler: func(ctx context.Context, job *Job) error {
				calls[name]++
				return nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if err := d.Emit(ctx, "doc/created", testPayload{DocumentID: "doc_1"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if calls["first"] != 1 || calls["second"] != 1 {
		t.Errorf("calls = %v", calls)
	}
}

func TestIdempotencyKeyDedupe(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	var calls int
	err := d.Subscribe(Subscription{
		Name:  "dedupe",
		Event: "doc/created",
		Key:   func(payload []byte) string { return "fixed-key" },
		Handler: func(ctx context.Context, job *Job) error {
			calls++
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Emit(ctx, "doc/created", testPayload{DocumentID: "doc_1"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Emit(ctx, "doc/created", testPayload{DocumentID: "doc_1"}); err != nil {
		t.Fatal(err)
	}

	n, err := d.Pending(ctx, "dedupe")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	// Completion releases the key.
	if err := d.Emit(ctx, "doc/created", testPayload{DocumentID: "doc_1"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 after re-emit", calls)
	}
}

func TestRetryThenFailureHook(t *testing.T) {
	d, db := newTestDispatcher(t)
	ctx := context.Background()

	var attempts, failures int
	var failCause error
	err := d.Subscribe(Subscription{
		Name:       "flaky",
		Event:      "doc/created",
		MaxRetries: 1,
		Handler: func(ctx context.Context, job *Job) error {
			attempts++
			return fmt.Errorf("provider down")
		},
		OnFailure: func(ctx context.Context, job *Job, cause error) {
			failures++
			failCause = cause
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Emit(ctx, "doc/created", testPayload{DocumentID: "doc_1"}); err != nil {
		t.Fatal(err)
	}

	// First attempt fails and is scheduled for redelivery.
	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if attempts != 1 || failures != 0 {
		t.Fatalf("attempts=%d failures=%d after first drain", attempts, failures)
	}

	// Second (final) attempt fails; the hook runs and the job is discarded.
	makeAllVisible(t, db)
	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if attempts != 2 || failures != 1 {
		t.Fatalf("attempts=%d failures=%d after second drain", attempts, failures)
	}
	if failCause == nil {
		t.Fatal("failure hook got nil cause")
	}

	makeAllVisible(t, db)
	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if attempts != 2 || failures != 1 {
		t.Fatalf("job ran again after discard: attempts=%d failures=%d", attempts, failures)
	}
}

func TestPermanentErrorSkipsRetry(t *testing.T) {
	d, db := newTestDispatcher(t)
	ctx := context.Background()

	var attempts, failures int
	err := d.Subscribe(Subscription{
		Name:       "strict",
		Event:      "doc/created",
		MaxRetries: 3,
		Handler: func(ctx context.Context, job *Job) error {
			attempts++
			return Permanent(errors.New("access denied"))
		},
		OnFailure: func(ctx context.Context, job *Job, cause error) {
			failures++
			if !errors.Is(cause, ErrPermanent) {
				t.Errorf("cause = %v, want ErrPermanent", cause)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Emit(ctx, "doc/created", testPayload{DocumentID: "doc_1"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	makeAllVisible(t, db)
	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if attempts != 1 || failures != 1 {
		t.Errorf("attempts=%d failures=%d, want 1/1", attempts, failures)
	}
}

func TestStepMemoization(t *testing.T) {
	d, db := newTestDispatcher(t)
	ctx := context.Background()

	var step1Runs, step2Runs int
	failFirst := true
	err := d.Subscribe(Subscription{
		Name:       "stepped",
		Event:      "doc/created",
		MaxRetries: 2,
		Handler: func(ctx context.Context, job *Job) error {
			var out string
			err := job.DecodeStep(ctx, "first", &out, func(ctx context.Context) (any, error) {
				step1Runs++
				return "first-result", nil
			})
			if err != nil {
				return err
			}
			if out != "first-result" {
				t.Errorf("step result = %q", out)
			}

			_, err = job.Step(ctx, "second", func(ctx context.Context) (any, error) {
				step2Runs++
				if failFirst {
					failFirst = false
					return nil, fmt.Errorf("transient")
				}
				return nil, nil
			})
			return err
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Emit(ctx, "doc/created", testPayload{DocumentID: "doc_1"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	makeAllVisible(t, db)
	if err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}

	if step1Runs != 1 {
		t.Errorf("step1Runs = %d, want 1 (memoized on retry)", step1Runs)
	}
	if step2Runs != 2 {
		t.Errorf("step2Runs = %d, want 2", step2Runs)
	}

	// Completed job cleans up its checkpoints.
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM dispatch_steps`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("dispatch_steps rows = %d, want 0", n)
	}
}

func TestSubscribeValidation(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if err := d.Subscribe(Subscription{Name: "x", Event: "e"}); err == nil {
		t.Fatal("expected error without handler")
	}
	ok := Subscription{Name: "x", Event: "e", Handler: func(ctx context.Context, job *Job) error { return nil }}
	if err := d.Subscribe(ok); err != nil {
		t.Fatal(err)
	}
	if err := d.Subscribe(ok); err == nil {
		t.Fatal("expected duplicate name error")
	}
}
