// Package server exposes the enrichment trigger API: it admits requests,
// applies per-caller rate limits, and hands the actual work to durable
// workflows. It never runs an enrichment in the request path.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/store"
	"github.com/partsledger/partsledger/internal/throttle"
	"github.com/partsledger/partsledger/internal/workflow"
)

// WorkflowStarter launches and cancels durable enrichment runs. Satisfied
// by TemporalStarter in production and by fakes in tests.
type WorkflowStarter interface {
	StartSinglePart(ctx context.Context, input workflow.SinglePartInput) (string, error)
	StartBOM(ctx context.Context, input workflow.BOMInput) (string, error)
	Cancel(ctx context.Context, workflowID string) error
}

// TemporalStarter adapts a Temporal client to the WorkflowStarter surface.
type TemporalStarter struct {
	Client client.Client
}

func (t TemporalStarter) StartSinglePart(ctx context.Context, input workflow.SinglePartInput) (string, error) {
	return workflow.StartSinglePart(ctx, t.Client, input)
}

func (t TemporalStarter) StartBOM(ctx context.Context, input workflow.BOMInput) (string, error) {
	return workflow.StartBOM(ctx, t.Client, input)
}

func (t TemporalStarter) Cancel(ctx context.Context, workflowID string) error {
	if err := t.Client.CancelWorkflow(ctx, workflowID, ""); err != nil {
		return eris.Wrap(err, "server: cancel workflow")
	}
	return nil
}

// slotCounter is the slice of the concurrency throttle the status
// endpoint reads.
type slotCounter interface {
	CurrentCount(ctx context.Context) (int64, error)
	Max() int64
}

// rateChecker is the inbound rate limiter surface. A nil checker
// disables rate limiting.
type rateChecker interface {
	Check(ctx context.Context, identifier string, limit int64, window time.Duration) error
}

// Server is the HTTP trigger API.
type Server struct {
	starter WorkflowStarter
	jobs    store.JobStore
	slots   slotCounter
	limiter rateChecker
	rules   map[string]throttle.Rule
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimiter applies per-caller fixed-window rate limiting using the
// given rules, keyed by trigger source ("customer", "staff").
func WithRateLimiter(limiter rateChecker, rules map[string]throttle.Rule) Option {
	return func(s *Server) {
		s.limiter = limiter
		s.rules = rules
	}
}

// WithSlotCounter wires the concurrency gate into the status endpoint.
func WithSlotCounter(slots slotCounter) Option {
	return func(s *Server) { s.slots = slots }
}

// New builds the trigger API around a workflow starter and job store.
func New(starter WorkflowStarter, jobs store.JobStore, opts ...Option) *Server {
	s := &Server{
		starter: starter,
		jobs:    jobs,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Org-ID", "X-Trigger-Source"},
	}))
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.rateLimit).Post("/enrich", s.handleEnrich)
		r.With(s.rateLimit).Post("/enrich/bom", s.handleEnrichBOM)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/enrichments/{workflowID}/cancel", s.handleCancel)
		r.Get("/status", s.handleStatus)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until the context is cancelled or a termination signal
// arrives, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down trigger API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting trigger API", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

type enrichRequest struct {
	MPN          string `json:"mpn"`
	Manufacturer string `json:"manufacturer,omitempty"`
	OrgID        string `json:"org_id"`
	ProjectID    string `json:"project_id,omitempty"`
	Priority     string `json:"priority,omitempty"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MPN == "" || req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "mpn and org_id are required")
		return
	}

	input := workflow.SinglePartInput{
		MPN:          req.MPN,
		Manufacturer: req.Manufacturer,
		Context: model.EnrichmentContext{
			OrgID:     req.OrgID,
			ProjectID: req.ProjectID,
			Source:    triggerSource(r),
			Priority:  priorityOf(req.Priority),
		},
	}

	workflowID, err := s.starter.StartSinglePart(r.Context(), input)
	if err != nil {
		zap.L().Error("failed to start enrichment",
			zap.String("mpn", req.MPN), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to start enrichment")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": workflowID,
		"mpn":         req.MPN,
	})
}

type enrichBOMRequest struct {
	BOMID     string           `json:"bom_id"`
	OrgID     string           `json:"org_id"`
	ProjectID string           `json:"project_id,omitempty"`
	Priority  string           `json:"priority,omitempty"`
	Items     []model.LineItem `json:"items"`
}

func (s *Server) handleEnrichBOM(w http.ResponseWriter, r *http.Request) {
	var req enrichBOMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BOMID == "" || req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "bom_id and org_id are required")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	input := workflow.BOMInput{
		BOMID: req.BOMID,
		Items: req.Items,
		Context: model.EnrichmentContext{
			OrgID:     req.OrgID,
			ProjectID: req.ProjectID,
			BOMID:     req.BOMID,
			Source:    triggerSource(r),
			Priority:  priorityOf(req.Priority),
		},
	}

	workflowID, err := s.starter.StartBOM(r.Context(), input)
	if err != nil {
		zap.L().Error("failed to start BOM enrichment",
			zap.String("bom_id", req.BOMID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to start BOM enrichment")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"workflow_id": workflowID,
		"bom_id":      req.BOMID,
		"line_items":  len(req.Items),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		zap.L().Error("failed to load job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), orgID, limit)
	if err != nil {
		zap.L().Error("failed to list jobs", zap.String("org_id", orgID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	if err := s.starter.Cancel(r.Context(), workflowID); err != nil {
		zap.L().Error("failed to cancel enrichment",
			zap.String("workflow_id", workflowID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to cancel enrichment")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": workflowID,
		"status":      "cancelling",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.slots != nil {
		inFlight, err := s.slots.CurrentCount(r.Context())
		if err != nil {
			zap.L().Warn("failed to read slot count", zap.Error(err))
		} else {
			resp["in_flight"] = inFlight
			resp["max_concurrent"] = s.slots.Max()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// triggerSource reads the caller identity header, defaulting to customer.
// Staff callers get the wider rate budget.
func triggerSource(r *http.Request) model.TriggerSource {
	if r.Header.Get("X-Trigger-Source") == string(model.TriggerStaff) {
		return model.TriggerStaff
	}
	return model.TriggerCustomer
}

func priorityOf(raw string) model.Priority {
	if raw == string(model.PriorityHigh) {
		return model.PriorityHigh
	}
	return model.PriorityNormal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
