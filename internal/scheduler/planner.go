// Package scheduler computes schedule previews for workflows with a cron
// trigger. There is no background cron daemon here: actual firing is owned
// by an external scheduler, and this package only answers "when would this
// expression run next".
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/calatheahq/trellis/pkg/schema"
)

// Planner parses standard 5-field cron expressions and projects upcoming
// run times. Safe for concurrent use; the parser is stateless.
type Planner struct {
	parser cron.Parser
}

// NewPlanner creates a Planner for minute-granularity cron expressions.
func NewPlanner() *Planner {
	return &Planner{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// NextRun returns the first fire time strictly after from.
func (p *Planner) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := p.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"Invalid cron expression: %v", err)
	}
	return sched.Next(from), nil
}

// Preview returns the next count fire times strictly after from.
func (p *Planner) Preview(cronExpr string, from time.Time, count int) ([]time.Time, error) {
	sched, err := p.parser.Parse(cronExpr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"Invalid cron expression: %v", err)
	}

	out := make([]time.Time, 0, count)
	next := from
	for i := 0; i < count; i++ {
		next = sched.Next(next)
		if next.IsZero() {
			break
		}
		out = append(out, next)
	}
	return out, nil
}
