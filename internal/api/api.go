package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/dashboard"
	"github.com/joescharf/crm/internal/metrics"
	"github.com/joescharf/crm/internal/models"
)

// Header names carrying the caller's session.
const (
	HeaderOwner = "X-Owner-ID"
	HeaderUser  = "X-User-Name"
)

// Server provides the REST API handlers.
type Server struct {
	svc *crm.Service
	log *zap.Logger
}

// NewServer creates a new API server over svc.
func NewServer(svc *crm.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/leads", s.listLeads)
	mux.HandleFunc("POST /api/v1/leads", s.createLead)
	mux.HandleFunc("GET /api/v1/leads/{id}", s.getLead)
	mux.HandleFunc("PUT /api/v1/leads/{id}", s.updateLead)
	mux.HandleFunc("DELETE /api/v1/leads/{id}", s.deleteLead)
	mux.HandleFunc("POST /api/v1/leads/{id}/history", s.logActivity)
	mux.HandleFunc("PUT /api/v1/leads/{id}/next-action", s.setNextAction)
	mux.HandleFunc("GET /api/v1/leads/{id}/score", s.leadScore)
	mux.HandleFunc("POST /api/v1/leads/{id}/promote", s.promoteLead)
	mux.HandleFunc("POST /api/v1/leads/{id}/promote/resume", s.resumePromotion)

	mux.HandleFunc("GET /api/v1/deals", s.listDeals)
	mux.HandleFunc("POST /api/v1/deals", s.createDeal)
	mux.HandleFunc("GET /api/v1/deals/{id}", s.getDeal)
	mux.HandleFunc("PUT /api/v1/deals/{id}", s.updateDeal)
	mux.HandleFunc("POST /api/v1/deals/{id}/stage", s.moveDealStage)
	mux.HandleFunc("PUT /api/v1/deals/{id}/tasks/{taskID}", s.toggleDealTask)
	mux.HandleFunc("POST /api/v1/deals/{id}/withdraw", s.withdrawDeal)

	mux.HandleFunc("GET /api/v1/tasks", s.listTasks)
	mux.HandleFunc("POST /api/v1/tasks", s.createTask)
	mux.HandleFunc("POST /api/v1/tasks/sweep", s.sweepTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.getTask)
	mux.HandleFunc("PUT /api/v1/tasks/{id}", s.updateTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/complete", s.completeTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/reschedule", s.rescheduleTask)

	mux.HandleFunc("GET /api/v1/dashboard", s.getDashboard)
	mux.HandleFunc("GET /api/v1/stream/{kind}", s.stream)

	mux.Handle("GET /metrics", metrics.Handler())

	return metrics.Middleware(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderOwner+", "+HeaderUser)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func session(r *http.Request) crm.Session {
	return crm.NewSession(r.Header.Get(HeaderOwner), r.Header.Get(HeaderUser))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

type errorBody struct {
	Error     string   `json:"error"`
	Code      string   `json:"code,omitempty"`
	ID        string   `json:"id,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
	Completed []string `json:"completed,omitempty"`
	Remaining []string `json:"remaining,omitempty"`
}

// StatusFor maps an error code onto an HTTP status.
func StatusFor(err error) int {
	switch crmerr.CodeOf(err) {
	case crmerr.CodeValidation:
		return http.StatusBadRequest
	case crmerr.CodeNotFound:
		return http.StatusNotFound
	case crmerr.CodePermissionDenied:
		return http.StatusForbidden
	case crmerr.CodeInvalidTransition:
		return http.StatusConflict
	case crmerr.CodeTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := errorBody{Error: err.Error(), Code: string(crmerr.CodeOf(err))}
	var ce *crmerr.Error
	if errors.As(err, &ce) {
		body.ID = ce.ID
		body.Retryable = ce.Retryable
		body.Completed = ce.Completed
		body.Remaining = ce.Remaining
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// --- Leads ---

func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	filter, ok := dashboard.ParseLeadFilter(r.URL.Query().Get("filter"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown filter: "+r.URL.Query().Get("filter"))
		return
	}
	leads, err := s.svc.ListLeads(r.Context(), session(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard.FilterLeads(leads, filter))
}

func (s *Server) createLead(w http.ResponseWriter, r *http.Request) {
	var in crm.LeadInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	lead, err := s.svc.AddLead(r.Context(), session(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.svc.GetLead(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) updateLead(w http.ResponseWriter, r *http.Request) {
	var patch crm.LeadPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	lead, err := s.svc.UpdateLead(r.Context(), session(r), r.PathValue("id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) deleteLead(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteLead(r.Context(), session(r), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type activityRequest struct {
	Type    models.HistoryType `json:"type"`
	Summary string             `json:"summary"`
}

func (s *Server) logActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	lead, err := s.svc.LogActivity(r.Context(), session(r), r.PathValue("id"), req.Type, req.Summary)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

func (s *Server) setNextAction(w http.ResponseWriter, r *http.Request) {
	var next *models.NextAction
	if err := decode(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	lead, err := s.svc.SetNextAction(r.Context(), session(r), r.PathValue("id"), next)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) leadScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session(r)
	lead, err := s.svc.GetLead(ctx, sess, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tasks, err := s.svc.ListTasks(ctx, sess)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard.NewScorerWithClock(s.svc.Now).Score(lead, tasks))
}

func (s *Server) promoteLead(w http.ResponseWriter, r *http.Request) {
	var seed crm.DealSeed
	if err := decode(r, &seed); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	deal, err := s.svc.PromoteLead(r.Context(), session(r), r.PathValue("id"), seed)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deal)
}

func (s *Server) resumePromotion(w http.ResponseWriter, r *http.Request) {
	lead, err := s.svc.ResumePromotion(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// --- Deals ---

func (s *Server) listDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := s.svc.ListDeals(r.Context(), session(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("stage"); raw != "" {
		stage, ok := models.ParseStage(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown stage: "+raw)
			return
		}
		filtered := make([]*models.Deal, 0, len(deals))
		for _, d := range deals {
			if d.Stage == stage {
				filtered = append(filtered, d)
			}
		}
		deals = filtered
	}
	writeJSON(w, http.StatusOK, deals)
}

func (s *Server) createDeal(w http.ResponseWriter, r *http.Request) {
	var in crm.DealInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	deal, err := s.svc.AddDeal(r.Context(), session(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deal)
}

func (s *Server) getDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := s.svc.GetDeal(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

func (s *Server) updateDeal(w http.ResponseWriter, r *http.Request) {
	var patch crm.DealPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	deal, err := s.svc.UpdateDeal(r.Context(), session(r), r.PathValue("id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

type stageRequest struct {
	Stage string `json:"stage"`
}

func (s *Server) moveDealStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	// Unknown names fall through unchanged so the service reports them.
	stage, ok := models.ParseStage(req.Stage)
	if !ok {
		stage = models.Stage(req.Stage)
	}
	deal, err := s.svc.MoveDealStage(r.Context(), session(r), r.PathValue("id"), stage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

type toggleRequest struct {
	Done bool `json:"done"`
}

func (s *Server) toggleDealTask(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	deal, err := s.svc.ToggleDealTask(r.Context(), session(r), r.PathValue("id"), r.PathValue("taskID"), req.Done)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

func (s *Server) withdrawDeal(w http.ResponseWriter, r *http.Request) {
	lead, err := s.svc.WithdrawDeal(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if lead == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// --- Tasks ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.ListTasks(r.Context(), session(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("bucket"); raw != "" {
		b := dashboard.Bucket(raw)
		if !b.Valid() {
			writeError(w, http.StatusBadRequest, "unknown bucket: "+raw)
			return
		}
		tasks = dashboard.TaskBucket(tasks, b, s.svc.Now())
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var in crm.TaskInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, err := s.svc.AddFollowUp(r.Context(), session(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.GetTask(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var patch crm.TaskPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, err := s.svc.UpdateTask(r.Context(), session(r), r.PathValue("id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.CompleteTask(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type rescheduleRequest struct {
	DueDate time.Time `json:"dueDate"`
}

func (s *Server) rescheduleTask(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, err := s.svc.RescheduleTask(r.Context(), session(r), r.PathValue("id"), req.DueDate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) sweepTasks(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.SweepOverdue(r.Context(), session(r), s.svc.Now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"flagged": n})
}

// --- Dashboard ---

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	leads, deals, tasks, err := s.svc.Snapshot(r.Context(), session(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard.Compute(leads, deals, tasks, s.svc.Now()))
}
