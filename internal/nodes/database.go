package nodes

import (
	"context"
	"strings"
	"time"

	"github.com/calatheahq/trellis/pkg/schema"
)

// DatabaseHandler dispatches mock behavior per operation. The real database
// connector is an external collaborator; this handler only enforces the
// config contract and produces operation-shaped mock results.
type DatabaseHandler struct{}

func (h *DatabaseHandler) Category() schema.NodeCategory { return schema.CategoryAction }
func (h *DatabaseHandler) Subtype() string               { return schema.ActionDatabase }

func (h *DatabaseHandler) Validate(config map[string]any) []string {
	var errs []string

	credentialID := stringParam(config, "credentialId", "")
	connectionString := stringParam(config, "connectionString", "") // legacy
	if credentialID == "" && connectionString == "" {
		errs = append(errs, "A credential or connection string is required")
	}
	if stringParam(config, "query", "") == "" {
		errs = append(errs, "Query is required")
	}

	return errs
}

func (h *DatabaseHandler) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	if errs := h.Validate(nc.Config); len(errs) > 0 {
		return Fail("%s", errs[0])
	}

	query := stringParam(nc.Config, "query", "")
	operation := strings.ToLower(stringParam(nc.Config, "operation", "select"))
	executedAt := time.Now().UTC().Format(time.RFC3339)

	switch operation {
	case "select":
		return OK(map[string]any{
			"operation":  operation,
			"query":      query,
			"rows":       []any{},
			"rowCount":   0,
			"executedAt": executedAt,
		})
	case "insert":
		return OK(map[string]any{
			"operation":    operation,
			"query":        query,
			"insertedId":   1,
			"affectedRows": 1,
			"executedAt":   executedAt,
		})
	case "update", "delete":
		return OK(map[string]any{
			"operation":    operation,
			"query":        query,
			"affectedRows": 0,
			"executedAt":   executedAt,
		})
	default:
		return Fail("Unsupported operation: %s", operation)
	}
}
