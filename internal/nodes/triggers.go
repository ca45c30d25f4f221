package nodes

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/calatheahq/trellis/pkg/schema"
)

// cronParser is the 5-field parser shared by validation and execution.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ManualTrigger fires when a user starts the workflow by hand.
type ManualTrigger struct{}

func (t *ManualTrigger) Category() schema.NodeCategory { return schema.CategoryTrigger }
func (t *ManualTrigger) Subtype() string               { return schema.TriggerManual }

func (t *ManualTrigger) Validate(config map[string]any) []string { return nil }

func (t *ManualTrigger) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	return OK(map[string]any{
		"triggered": true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// WebhookTrigger represents an externally listening webhook. The engine does
// no live listening; executing the node yields a placeholder payload so
// downstream nodes have a deterministic shape to work with.
type WebhookTrigger struct{}

func (t *WebhookTrigger) Category() schema.NodeCategory { return schema.CategoryTrigger }
func (t *WebhookTrigger) Subtype() string               { return schema.TriggerWebhook }

func (t *WebhookTrigger) Validate(config map[string]any) []string { return nil }

func (t *WebhookTrigger) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	return OK(map[string]any{
		"triggered": true,
		"source":    "webhook",
		"payload":   map[string]any{},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ScheduleTrigger fires on a cron schedule. Actual scheduling is external;
// the handler validates the cron expression and echoes it on execution.
type ScheduleTrigger struct{}

func (t *ScheduleTrigger) Category() schema.NodeCategory { return schema.CategoryTrigger }
func (t *ScheduleTrigger) Subtype() string               { return schema.TriggerSchedule }

func (t *ScheduleTrigger) Validate(config map[string]any) []string {
	return checkCron(config)
}

func (t *ScheduleTrigger) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	if errs := checkCron(nc.Config); len(errs) > 0 {
		return Fail("%s", errs[0])
	}
	return OK(map[string]any{
		"triggered": true,
		"cron":      stringParam(nc.Config, "cron", ""),
	})
}

func checkCron(config map[string]any) []string {
	expr := stringParam(config, "cron", "")
	if expr == "" {
		return []string{"Cron expression is required"}
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return []string{"Invalid cron expression: " + err.Error()}
	}
	return nil
}
