package pipeline

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/docmind/dispatch"
	"github.com/hazyhaar/docmind/notify"
)

// RegisterNotifications subscribes the webhook fan-out to the pipeline's
// completion events. Each delivery gets its own durable job, so a slow
// webhook endpoint never holds up the stage that emitted the event.
func RegisterNotifications(d *dispatch.Dispatcher, f *notify.Fanout) error {
	events := []string{
		EventTextExtractCompleted,
		EventEmbedCompleted,
		EventAnalyzeCompleted,
	}
	for _, event := range events {
		event := event
		err := d.Subscribe(dispatch.Subscription{
			Name:       "notify." + event,
			Event:      event,
			MaxRetries: 1,
			Handler: func(ctx context.Context, job *dispatch.Job) error {
				var data json.RawMessage = job.Payload
				return f.Notify(ctx, event, data)
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
