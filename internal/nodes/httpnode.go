package nodes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/calatheahq/trellis/pkg/schema"
)

// HTTPConfig configures the HTTP action handler.
type HTTPConfig struct {
	MaxResponseBody int64
	Client          *http.Client
}

const defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB

// Supported auth modes.
const (
	authNone   = "none"
	authBearer = "bearer"
	authBasic  = "basic"
	authAPIKey = "apiKey"
)

// HTTPHandler performs an HTTP request. The cancellation signal is threaded
// into the request context; network failures are converted to a failed
// Result, never surfaced as raw errors.
type HTTPHandler struct {
	config HTTPConfig
}

// NewHTTPHandler creates an HTTP action handler.
func NewHTTPHandler(cfg HTTPConfig) *HTTPHandler {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &HTTPHandler{config: cfg}
}

func (h *HTTPHandler) Category() schema.NodeCategory { return schema.CategoryAction }
func (h *HTTPHandler) Subtype() string               { return schema.ActionHTTP }

func (h *HTTPHandler) Validate(config map[string]any) []string {
	var errs []string

	rawURL := stringParam(config, "url", "")
	if rawURL == "" {
		errs = append(errs, "URL is required")
	} else if u, err := url.ParseRequestURI(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "Invalid URL: "+rawURL)
	}

	authType := stringParam(config, "authType", authNone)
	switch authType {
	case authNone:
	case authBearer, authBasic, authAPIKey:
		if stringParam(config, "authValue", "") == "" {
			errs = append(errs, "Auth value is required for "+authType+" authentication")
		}
	default:
		errs = append(errs, "Unsupported auth type: "+authType)
	}

	return errs
}

func (h *HTTPHandler) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	if errs := h.Validate(nc.Config); len(errs) > 0 {
		return Fail("%s", errs[0])
	}

	method := strings.ToUpper(stringParam(nc.Config, "method", "GET"))
	rawURL := stringParam(nc.Config, "url", "")

	var bodyReader io.Reader
	var contentType string
	if rawBody, ok := nc.Config["body"]; ok && rawBody != nil {
		if s, isStr := rawBody.(string); isStr {
			bodyReader = strings.NewReader(s)
		} else {
			b, err := json.Marshal(rawBody)
			if err != nil {
				return Fail("Failed to encode request body: %v", err)
			}
			bodyReader = strings.NewReader(string(b))
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return Fail("Failed to build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range mapParam(nc.Config, "headers") {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}
	h.applyAuth(req, nc.Config)

	start := time.Now()
	resp, err := h.config.Client.Do(req)
	if err != nil {
		if cancelled(ctx) {
			return Cancelled()
		}
		return Fail("Request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxResponseBody))
	if err != nil {
		return Fail("Failed to read response body: %v", err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	switch {
	case len(bodyBytes) == 0:
		parsedBody = nil
	case strings.Contains(respContentType, "application/json"):
		if err := json.Unmarshal(bodyBytes, &parsedBody); err != nil {
			parsedBody = string(bodyBytes)
		}
	default:
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return OK(map[string]any{
		"statusCode": resp.StatusCode,
		"status":     resp.Status,
		"headers":    respHeaders,
		"body":       parsedBody,
		"durationMs": time.Since(start).Milliseconds(),
	})
}

func (h *HTTPHandler) applyAuth(req *http.Request, config map[string]any) {
	value := stringParam(config, "authValue", "")
	switch stringParam(config, "authType", authNone) {
	case authBearer:
		req.Header.Set("Authorization", "Bearer "+value)
	case authBasic:
		// Value carries "username:password".
		username, password, found := strings.Cut(value, ":")
		if !found {
			username = value
		}
		req.SetBasicAuth(username, password)
	case authAPIKey:
		header := stringParam(config, "authHeader", "X-API-Key")
		req.Header.Set(header, value)
	}
}
