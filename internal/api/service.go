// Package api exposes the execution engine over HTTP: execute, stop,
// validate, webhook ingestion, and schedule preview.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/calatheahq/trellis/internal/engine"
	"github.com/calatheahq/trellis/internal/scheduler"
	"github.com/calatheahq/trellis/internal/validation"
	"github.com/calatheahq/trellis/internal/webhooks"
	"github.com/calatheahq/trellis/pkg/schema"
)

// Service wires the engine, validator, webhook inbox and schedule planner
// into HTTP handlers.
type Service struct {
	engine    *engine.Engine
	validator *validation.WorkflowValidator
	inbox     *webhooks.Inbox
	planner   *scheduler.Planner
	logger    *slog.Logger
}

// NewService creates the API service. A nil logger falls back to slog.Default.
func NewService(eng *engine.Engine, validator *validation.WorkflowValidator, inbox *webhooks.Inbox, planner *scheduler.Planner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: eng, validator: validator, inbox: inbox, planner: planner, logger: logger}
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers the workflow API under the given (already prefixed)
// router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("/validate", s.HandleValidateWorkflow).Methods("POST")
	router.HandleFunc("/{id}/execute", s.HandleExecuteWorkflow).Methods("POST")
	router.HandleFunc("/{id}/stop", s.HandleStopWorkflow).Methods("POST")
	router.HandleFunc("/{id}/schedule", s.HandleSchedulePreview).Methods("GET")
}

// LoadWebhookRoutes registers webhook ingestion on the root router, outside
// the /api prefix, so external callers hit a stable short path.
func (s *Service) LoadWebhookRoutes(rootRouter *mux.Router) {
	rootRouter.HandleFunc("/webhooks/{workflowId}", s.HandleWebhook).Methods("POST")
}

type executeRequest struct {
	Workflow    *schema.Workflow `json:"workflow"`
	StartNodeID string           `json:"startNodeId,omitempty"`
}

// HandleExecuteWorkflow runs the workflow in the request body and responds
// with the finalized execution record. Run failures are expressed in the
// record's status, not the HTTP status.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "invalid request body: "+err.Error())
		return
	}
	if req.Workflow == nil {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "workflow is required")
		return
	}
	// The path id is authoritative; the engine keys its run registry on it.
	req.Workflow.ID = id

	exec := s.engine.Execute(r.Context(), req.Workflow, engine.Options{StartNodeID: req.StartNodeID})
	writeJSON(w, http.StatusOK, exec)
}

// HandleStopWorkflow signals cancellation for the workflow's active run.
func (s *Service) HandleStopWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.engine.Stop(id) {
		writeError(w, http.StatusNotFound, schema.ErrCodeNotFound,
			"no active execution for workflow "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true, "workflowId": id})
}

type validateResponse struct {
	Valid    bool           `json:"valid"`
	Errors   []schema.Issue `json:"errors,omitempty"`
	Warnings []schema.Issue `json:"warnings,omitempty"`
}

// HandleValidateWorkflow runs the full validation pipeline on the workflow
// in the request body.
func (s *Service) HandleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf schema.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "invalid request body: "+err.Error())
		return
	}

	result := s.validator.Validate(&wf)
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:    result.Valid(),
		Errors:   result.Errors,
		Warnings: result.Warnings,
	})
}

// HandleWebhook stores the delivery in the inbox and responds 202. Receipt
// does not trigger a run; that wiring is a documented gap.
func (s *Service) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["workflowId"]

	var body any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "invalid JSON body")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	receipt := s.inbox.Record(workflowID, headers, body)
	s.logger.InfoContext(r.Context(), "webhook received",
		slog.String("workflow_id", workflowID), slog.String("receipt_id", receipt.ID))

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusAccepted, receipt)
}

type scheduleResponse struct {
	Cron string      `json:"cron"`
	Next []time.Time `json:"next"`
}

// HandleSchedulePreview projects the next fire times for a cron expression.
// No daemon fires these; the preview is informational.
func (s *Service) HandleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	cronExpr := r.URL.Query().Get("cron")
	if cronExpr == "" {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "cron query parameter is required")
		return
	}

	count := 5
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "count must be an integer between 1 and 100")
			return
		}
		count = n
	}

	next, err := s.planner.Preview(cronExpr, time.Now().UTC(), count)
	if err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrorCode(err), errMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{Cron: cronExpr, Next: next})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func errMessage(err error) string {
	var ee *schema.EngineError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return err.Error()
}
