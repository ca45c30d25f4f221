package nodes

import (
	"context"
	"encoding/json"

	"github.com/calatheahq/trellis/internal/conditions"
	"github.com/calatheahq/trellis/pkg/schema"
)

// IfHandler evaluates a condition against the node's input and reports which
// branch ("true"/"false") downstream edges should follow.
type IfHandler struct{}

func (h *IfHandler) Category() schema.NodeCategory { return schema.CategoryLogic }
func (h *IfHandler) Subtype() string               { return schema.LogicIf }

func (h *IfHandler) Validate(config map[string]any) []string {
	return checkCondition(config)
}

func (h *IfHandler) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	if errs := checkCondition(nc.Config); len(errs) > 0 {
		return Fail("%s", errs[0])
	}

	cond, err := parseCondition(nc.Config)
	if err != nil {
		return Fail("Invalid condition: %v", err)
	}
	met := conditions.Evaluate(cond, nc.Input)
	branch := schema.BranchFalse
	if met {
		branch = schema.BranchTrue
	}
	return OK(map[string]any{
		"conditionMet": met,
		"branch":       branch,
	})
}

// FilterHandler applies the condition per item over an array input and
// passes the surviving items downstream.
type FilterHandler struct{}

func (h *FilterHandler) Category() schema.NodeCategory { return schema.CategoryLogic }
func (h *FilterHandler) Subtype() string               { return schema.LogicFilter }

func (h *FilterHandler) Validate(config map[string]any) []string {
	return checkCondition(config)
}

func (h *FilterHandler) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	if errs := checkCondition(nc.Config); len(errs) > 0 {
		return Fail("%s", errs[0])
	}

	cond, err := parseCondition(nc.Config)
	if err != nil {
		return Fail("Invalid condition: %v", err)
	}
	items, _ := nc.Input.([]any)

	filtered := make([]any, 0, len(items))
	for _, item := range items {
		if conditions.Evaluate(cond, item) {
			filtered = append(filtered, item)
		}
	}
	return OK(map[string]any{
		"filtered": filtered,
		"count":    len(filtered),
	})
}

// SwitchHandler is a placeholder: multi-way dispatch is an extension point
// and deliberately has no routing semantics yet. It returns a static shape
// so graphs containing a switch still execute.
type SwitchHandler struct{}

func (h *SwitchHandler) Category() schema.NodeCategory { return schema.CategoryLogic }
func (h *SwitchHandler) Subtype() string               { return schema.LogicSwitch }

func (h *SwitchHandler) Validate(config map[string]any) []string { return nil }

func (h *SwitchHandler) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	return OK(map[string]any{
		"switch":      true,
		"implemented": false,
	})
}

// LoopHandler is a placeholder: iteration is an extension point and
// deliberately has no repeat semantics yet.
type LoopHandler struct{}

func (h *LoopHandler) Category() schema.NodeCategory { return schema.CategoryLogic }
func (h *LoopHandler) Subtype() string               { return schema.LogicLoop }

func (h *LoopHandler) Validate(config map[string]any) []string { return nil }

func (h *LoopHandler) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	return OK(map[string]any{
		"loop":        true,
		"implemented": false,
	})
}

// checkCondition validates the condition triple shared by If and Filter.
func checkCondition(config map[string]any) []string {
	var errs []string

	cond := mapParam(config, "condition")
	if cond == nil {
		return []string{"Condition is required"}
	}
	if stringParam(cond, "field", "") == "" {
		errs = append(errs, "Condition field is required")
	}
	switch stringParam(cond, "operator", "") {
	case schema.OpEquals, schema.OpNotEquals, schema.OpContains, schema.OpGreaterThan, schema.OpLessThan:
	case "":
		errs = append(errs, "Condition operator is required")
	default:
		errs = append(errs, "Unsupported condition operator: "+stringParam(cond, "operator", ""))
	}
	if _, ok := cond["value"]; !ok {
		errs = append(errs, "Condition value is required")
	}

	return errs
}

func parseCondition(config map[string]any) (schema.Condition, error) {
	raw, err := json.Marshal(mapParam(config, "condition"))
	if err != nil {
		return schema.Condition{}, err
	}
	var cond schema.Condition
	if err := json.Unmarshal(raw, &cond); err != nil {
		return schema.Condition{}, err
	}
	return cond, nil
}
