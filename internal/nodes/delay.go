package nodes

import (
	"context"
	"math/rand"
	"time"

	"github.com/calatheahq/trellis/pkg/schema"
)

// Delay types.
const (
	delayFixed       = "fixed"
	delayRandom      = "random"
	delayExponential = "exponential"
)

// DelayHandler waits before passing control downstream. The wait is a
// cancellable select against the run's signal, never a bare sleep.
//
// random draws uniformly from [0.5x, 1.5x) of the planned delay;
// exponential draws planned*2^k with k in {0,1,2}.
type DelayHandler struct {
	// rand allows tests to pin the draw; nil uses the global source.
	rand *rand.Rand
}

func (h *DelayHandler) Category() schema.NodeCategory { return schema.CategoryAction }
func (h *DelayHandler) Subtype() string               { return schema.ActionDelay }

func (h *DelayHandler) Validate(config map[string]any) []string {
	var errs []string

	if plannedDelayMs(config) <= 0 {
		errs = append(errs, "A positive delay is required")
	}
	switch stringParam(config, "delayType", delayFixed) {
	case delayFixed, delayRandom, delayExponential:
	default:
		errs = append(errs, "Unsupported delay type: "+stringParam(config, "delayType", ""))
	}

	return errs
}

func (h *DelayHandler) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	if errs := h.Validate(nc.Config); len(errs) > 0 {
		return Fail("%s", errs[0])
	}

	planned := plannedDelayMs(nc.Config)
	delayType := stringParam(nc.Config, "delayType", delayFixed)
	actual := h.drawDelay(delayType, planned)

	startTime := time.Now().UTC()
	select {
	case <-time.After(time.Duration(actual) * time.Millisecond):
	case <-ctx.Done():
		return Cancelled()
	}
	endTime := time.Now().UTC()

	out := map[string]any{
		"delayType":      delayType,
		"actualDelayMs":  actual,
		"plannedDelayMs": planned,
		"unit":           stringParam(nc.Config, "unit", "ms"),
		"startTime":      startTime.Format(time.RFC3339Nano),
		"endTime":        endTime.Format(time.RFC3339Nano),
		"passthrough":    boolParam(nc.Config, "passthrough", false),
	}
	if boolParam(nc.Config, "passthrough", false) {
		out["passthroughData"] = nc.Input
	}
	return OK(out)
}

func (h *DelayHandler) drawDelay(delayType string, planned int) int {
	intn := rand.Intn
	if h.rand != nil {
		intn = h.rand.Intn
	}
	switch delayType {
	case delayRandom:
		// Uniform in [0.5x, 1.5x).
		half := planned / 2
		if half < 1 {
			half = 1
		}
		return planned - half + intn(2*half)
	case delayExponential:
		return planned * (1 << intn(3))
	default:
		return planned
	}
}

// plannedDelayMs resolves the delay from a direct delayMs or value+unit.
func plannedDelayMs(config map[string]any) int {
	if ms := intParam(config, "delayMs", 0); ms > 0 {
		return ms
	}
	value := intParam(config, "value", 0)
	if value <= 0 {
		return 0
	}
	switch stringParam(config, "unit", "ms") {
	case "seconds":
		return value * 1000
	case "minutes":
		return value * 60 * 1000
	case "hours":
		return value * 60 * 60 * 1000
	default: // "ms"
		return value
	}
}
