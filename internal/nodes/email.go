package nodes

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/calatheahq/trellis/pkg/schema"
)

// emailAddrPattern is intentionally simple: user@domain.tld.
var emailAddrPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Known provider names the external dispatch layer understands.
var knownProviders = map[string]bool{
	"smtp":     true,
	"gmail":    true,
	"outlook":  true,
	"sendgrid": true,
}

// EmailHandler sends an email through an external provider. Provider
// dispatch (SMTP/Gmail/Outlook/SendGrid) is an external collaborator; when
// no provider is configured the handler runs in an explicit simulated mode
// and says so in its output rather than faking a real send.
type EmailHandler struct{}

func (h *EmailHandler) Category() schema.NodeCategory { return schema.CategoryAction }
func (h *EmailHandler) Subtype() string               { return schema.ActionEmail }

func (h *EmailHandler) Validate(config map[string]any) []string {
	var errs []string

	to := stringSliceParam(config, "to")
	if len(to) == 0 {
		errs = append(errs, "At least one recipient is required")
	}
	for _, addr := range to {
		if !emailAddrPattern.MatchString(addr) {
			errs = append(errs, "Invalid email address: "+addr)
		}
	}
	if stringParam(config, "subject", "") == "" {
		errs = append(errs, "Subject is required")
	}
	if stringParam(config, "body", "") == "" {
		errs = append(errs, "Body is required")
	}
	if provider := stringParam(config, "provider", ""); provider != "" && !knownProviders[provider] {
		errs = append(errs, "Unsupported email provider: "+provider)
	}

	return errs
}

func (h *EmailHandler) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	if errs := h.Validate(nc.Config); len(errs) > 0 {
		return Fail("%s", errs[0])
	}

	to := stringSliceParam(nc.Config, "to")
	subject := stringParam(nc.Config, "subject", "")
	provider := stringParam(nc.Config, "provider", "")

	out := map[string]any{
		"sent":      true,
		"to":        to,
		"subject":   subject,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if provider == "" {
		// No provider resolvable: explicit simulated mode, visible in the
		// output so callers and logs can tell it apart from a real send.
		out["simulated"] = true
		out["messageId"] = "simulated-" + uuid.NewString()
		return OK(out)
	}

	// Provider dispatch happens outside this engine; the handler records
	// which provider the send was routed to.
	out["provider"] = provider
	out["messageId"] = uuid.NewString()
	return OK(out)
}
