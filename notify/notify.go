// Package notify fans out pipeline completion events to configured webhook
// endpoints. Each POST carries a JSON envelope and an HMAC-SHA256 signature
// of the body so receivers can authenticate the sender.
//
// Delivery is best-effort with bounded retries per endpoint; a dead endpoint
// never blocks or fails the pipeline stage that triggered the notification.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Docmind-Signature"

// Endpoint is one webhook destination.
type Endpoint struct {
	URL    string `json:"url" yaml:"url"`
	Secret string `json:"secret" yaml:"secret"`
	// Events restricts delivery to the listed event names. Empty means all.
	Events []string `json:"events" yaml:"events"`
}

func (e *Endpoint) wants(event string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}

// envelope is the JSON body posted to endpoints.
type envelope struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// Options configures the fan-out.
type Options struct {
	// MaxRetries per endpoint per notification. Default: 3.
	MaxRetries int
	// Timeout per HTTP request. Default: 10s.
	Timeout time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Fanout delivers notifications to all configured endpoints.
type Fanout struct {
	endpoints []Endpoint
	opts      Options
	client    *http.Client
	logger    *slog.Logger
}

// New creates a Fanout.
func New(endpoints []Endpoint, opts Options) *Fanout {
	opts.defaults()
	return &Fanout{
		endpoints: endpoints,
		opts:      opts,
		client:    &http.Client{Timeout: opts.Timeout},
		logger:    opts.Logger,
	}
}

// Notify posts the event to every endpoint subscribed to it, in parallel.
// Failures are logged; the only returned error is a marshalling failure.
func (f *Fanout) Notify(ctx context.Context, event string, data any) error {
	body, err := json.Marshal(envelope{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", event, err)
	}

	var wg sync.WaitGroup
	for i := range f.endpoints {
		ep := &f.endpoints[i]
		if !ep.wants(event) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.post(ctx, ep, body); err != nil {
				f.logger.Warn("notify: delivery failed", "event", event, "url", ep.URL, "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (f *Fanout) post(ctx context.Context, ep *Endpoint, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if ep.Secret != "" {
			req.Header.Set(SignatureHeader, Sign(ep.Secret, body))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("all retries exhausted: %w", lastErr)
}

// Sign computes the signature header value for a body: "sha256=" followed by
// the hex HMAC-SHA256 under the shared secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the signature header value matches the body under
// the shared secret. Comparison is constant-time.
func Verify(secret string, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}
