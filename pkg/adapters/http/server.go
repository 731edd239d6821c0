package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/warden"
	"github.com/aretw0/warden/internal/logging"
	"github.com/aretw0/warden/internal/presentation/graph"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/governance"
	"github.com/aretw0/warden/pkg/timeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the part of a Warden the API exposes.
type Service interface {
	Create(ctx context.Context, req warden.SpanRequest) (domain.Span, error)
	Span(id string) (domain.Span, error)
	Spans() []domain.Span
	History(id string) []domain.TransitionRecord
	Remove(ctx context.Context, id string) error
	Simulate(ctx context.Context, id string) (domain.Diff, error)
	Validate(ctx context.Context, id string) (governance.Validation, error)
	Execute(ctx context.Context, id string) (any, error)
	Rollback(ctx context.Context, id string) error
	Approve(ctx context.Context, approvalID, approverID, comment string) error
	Reject(ctx context.Context, approvalID, approverID, comment string) error
	Approval(ctx context.Context, id string) (domain.Approval, error)
	Approvals(statuses ...domain.ApprovalStatus) []domain.Approval
	GenerateContract(ctx context.Context, spanID string, piiTypes []string) (domain.Contract, error)
	SignContract(ctx context.Context, id string) (domain.Contract, error)
	Contract(id string) (domain.Contract, error)
	Health(ctx context.Context) domain.SystemHealth
	Operations() []string
	Timeline() *timeline.Store
}

// Server serves the REST API over a Service.
type Server struct {
	svc      Service
	gatherer prometheus.Gatherer
	rps      float64
	burst    int
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithRateLimit sets the per-caller budget for mutating requests.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.rps = rps
		s.burst = burst
	}
}

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewHandler builds the HTTP handler. It fails only if the embedded OpenAPI
// document is invalid.
func NewHandler(svc Service, opts ...Option) (http.Handler, error) {
	s := &Server{
		svc:      svc,
		gatherer: prometheus.DefaultGatherer,
		rps:      20,
		burst:    40,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	doc, err := GetSwagger()
	if err != nil {
		return nil, err
	}
	validate, err := requestValidator(doc, func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.WarnContext(r.Context(), "Request rejected by schema", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, enableCORS, identify)

	r.Get("/health", s.getHealth)
	r.Get("/info", s.getInfo)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(newLimiter(s.rps, s.burst).middleware, validate)

		r.Get("/operations", s.listOperations)
		r.Route("/spans", func(r chi.Router) {
			r.Get("/", s.listSpans)
			r.Post("/", s.createSpan)
			r.Get("/{id}", s.getSpan)
			r.Delete("/{id}", s.removeSpan)
			r.Get("/{id}/history", s.spanHistory)
			r.Post("/{id}/simulate", s.simulateSpan)
			r.Post("/{id}/validate", s.validateSpan)
			r.Post("/{id}/execute", s.executeSpan)
			r.Post("/{id}/rollback", s.rollbackSpan)
			r.Post("/{id}/contract", s.generateContract)
		})
		r.Get("/approvals", s.listApprovals)
		r.Get("/approvals/{id}", s.getApproval)
		r.Post("/approvals/{id}/approve", s.decide(domain.DecisionApproved))
		r.Post("/approvals/{id}/reject", s.decide(domain.DecisionRejected))
		r.Get("/contracts/{id}", s.getContract)
		r.Post("/contracts/{id}/sign", s.signContract)
		r.Get("/events", s.queryEvents)
		r.Get("/metrics", s.queryMetrics)
		r.Post("/metrics", s.recordMetric)
		r.Get("/audit", s.queryAudit)
		r.Get("/alerts", s.listAlerts)
		r.Post("/alerts/{id}/resolve", s.resolveAlert)
		r.Get("/traces/{id}", s.getTrace)
		r.Get("/dashboard", s.dashboard)
		r.Get("/graph", s.graph)
	})
	return r, nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Response encode failed", "error", err)
	}
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoAuthenticatedUser):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotAuthorized), errors.Is(err, domain.ErrNotAnApprover),
		errors.Is(err, domain.ErrSelfSignOff):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrNotReady),
		errors.Is(err, domain.ErrNotReversible), errors.Is(err, domain.ErrInvalidApprovalState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidSpan), errors.Is(err, governance.ErrCommentTooLarge), errors.Is(err, governance.ErrInvalidUTF8):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), op+" failed", "err", err)
	} else {
		s.logger.DebugContext(r.Context(), op+" refused", "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// decode reads an optional JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Health(r.Context())
	status := http.StatusOK
	if h.Status == domain.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) getInfo(w http.ResponseWriter, _ *http.Request) {
	apiVersion := "unknown"
	if doc, err := GetSwagger(); err == nil && doc.Info != nil {
		apiVersion = doc.Info.Version
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "warden-http",
		"version":     strings.TrimSpace(warden.Version),
		"api_version": apiVersion,
	})
}

func (s *Server) listOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Operations())
}

func (s *Server) listSpans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Spans())
}

func (s *Server) createSpan(w http.ResponseWriter, r *http.Request) {
	var req warden.SpanRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	span, err := s.svc.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, "Create", err)
		return
	}
	writeJSON(w, http.StatusCreated, span)
}

func (s *Server) getSpan(w http.ResponseWriter, r *http.Request) {
	span, err := s.svc.Span(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "Get span", err)
		return
	}
	writeJSON(w, http.StatusOK, span)
}

func (s *Server) removeSpan(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, "Remove", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) spanHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Span(id); err != nil {
		s.fail(w, r, "History", err)
		return
	}
	history := s.svc.History(id)
	if history == nil {
		history = []domain.TransitionRecord{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) simulateSpan(w http.ResponseWriter, r *http.Request) {
	diff, err := s.svc.Simulate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "Simulate", err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) validateSpan(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "Validate", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type executeResponse struct {
	Span   domain.Span `json:"span"`
	Result any         `json:"result,omitempty"`
}

func (s *Server) executeSpan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.svc.Execute(r.Context(), id)
	if err != nil {
		s.fail(w, r, "Execute", err)
		return
	}
	span, err := s.svc.Span(id)
	if err != nil {
		s.fail(w, r, "Execute", err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{Span: span, Result: result})
}

func (s *Server) rollbackSpan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Rollback(r.Context(), id); err != nil {
		s.fail(w, r, "Rollback", err)
		return
	}
	span, err := s.svc.Span(id)
	if err != nil {
		s.fail(w, r, "Rollback", err)
		return
	}
	writeJSON(w, http.StatusOK, span)
}

type contractRequest struct {
	PIITypes []string `json:"pii_types"`
}

func (s *Server) generateContract(w http.ResponseWriter, r *http.Request) {
	var req contractRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	c, err := s.svc.GenerateContract(r.Context(), chi.URLParam(r, "id"), req.PIITypes)
	if err != nil {
		s.fail(w, r, "Generate contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	var status string
	if err := runtime.BindQueryParameter("form", true, false, "status", r.URL.Query(), &status); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var approvals []domain.Approval
	if status != "" {
		approvals = s.svc.Approvals(domain.ApprovalStatus(status))
	} else {
		approvals = s.svc.Approvals()
	}
	writeJSON(w, http.StatusOK, approvals)
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Approval(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "Get approval", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type decisionRequest struct {
	ApproverID string `json:"approver_id"`
	Comment    string `json:"comment"`
}

// decide records an approver's decision. The approver defaults to the calling user.
func (s *Server) decide(d domain.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if err := decode(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return
		}
		if req.ApproverID == "" {
			actor, ok := domain.ActorFrom(r.Context())
			if !ok {
				s.fail(w, r, "Decide", domain.ErrNoAuthenticatedUser)
				return
			}
			req.ApproverID = actor.ID
		}

		id := chi.URLParam(r, "id")
		var err error
		if d == domain.DecisionRejected {
			err = s.svc.Reject(r.Context(), id, req.ApproverID, req.Comment)
		} else {
			err = s.svc.Approve(r.Context(), id, req.ApproverID, req.Comment)
		}
		if err != nil {
			s.fail(w, r, "Decide", err)
			return
		}
		s.getApproval(w, r)
	}
}

func (s *Server) getContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Contract(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "Get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) signContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.SignContract(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "Sign contract", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// page binds the shared limit and offset query parameters.
func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if err = runtime.BindQueryParameter("form", true, false, "limit", q, &limit); err != nil {
		return
	}
	err = runtime.BindQueryParameter("form", true, false, "offset", q, &offset)
	return
}

func (s *Server) queryEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	q := r.URL.Query()
	f := timeline.EventFilter{
		SpanID:  q.Get("span_id"),
		TraceID: q.Get("trace_id"),
		Limit:   limit,
		Offset:  offset,
	}
	if t := q.Get("type"); t != "" {
		f.Types = []domain.EventType{domain.EventType(t)}
	}
	if sev := q.Get("severity"); sev != "" {
		f.Severities = []domain.Severity{domain.Severity(sev)}
	}
	writeJSON(w, http.StatusOK, s.svc.Timeline().QueryEvents(f))
}

func (s *Server) queryMetrics(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	f := timeline.MetricFilter{Limit: limit, Offset: offset}
	if name := r.URL.Query().Get("name"); name != "" {
		f.Names = []string{name}
	}
	writeJSON(w, http.StatusOK, s.svc.Timeline().QueryMetrics(f))
}

type metricRequest struct {
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Unit   string            `json:"unit"`
	Source string            `json:"source"`
	Tags   map[string]string `json:"tags"`
}

func (s *Server) recordMetric(w http.ResponseWriter, r *http.Request) {
	var req metricRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	id := s.svc.Timeline().RecordMetric(r.Context(), req.Name, req.Value, req.Unit, req.Source, req.Tags)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	q := r.URL.Query()
	f := timeline.AuditFilter{UserID: q.Get("user_id"), Limit: limit, Offset: offset}
	if action := q.Get("action"); action != "" {
		f.Actions = []string{action}
	}
	writeJSON(w, http.StatusOK, s.svc.Timeline().QueryAudit(f))
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var unresolved bool
	if err := runtime.BindQueryParameter("form", true, false, "unresolved", r.URL.Query(), &unresolved); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Timeline().Alerts(timeline.AlertFilter{
		UnresolvedOnly: unresolved,
		Limit:          limit,
		Offset:         offset,
	}))
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	actor, ok := domain.ActorFrom(r.Context())
	if !ok {
		s.fail(w, r, "Resolve alert", domain.ErrNoAuthenticatedUser)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.svc.Timeline().ResolveAlert(r.Context(), id, actor.ID); err != nil {
		s.fail(w, r, "Resolve alert", err)
		return
	}
	a, err := s.svc.Timeline().Alert(id)
	if err != nil {
		s.fail(w, r, "Resolve alert", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) getTrace(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Timeline().GetTrace(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "Get trace", err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Timeline().Dashboard(r.Context()))
}

func (s *Server) graph(w http.ResponseWriter, r *http.Request) {
	var view, current string
	q := r.URL.Query()
	if err := errors.Join(
		runtime.BindQueryParameter("form", true, false, "view", q, &view),
		runtime.BindQueryParameter("form", true, false, "current", q, &current),
	); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	diagram := graph.LifecycleMermaid()
	if view != "lifecycle" {
		diagram = graph.SpanMermaid(s.svc.Spans(), &graph.Overlay{Current: current})
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(diagram))
}
