/*
handlers.go - HTTP API handlers for the allocation planner

PURPOSE:
  Exposes the allocation service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every write to allocation.Service.

ENDPOINTS:
  Allocations:
    GET    /api/allocations?start=&end=&work_site_id=&category=
                                       Range retrieval (start date, inclusive)
    POST   /api/allocations            Create
    GET    /api/allocations/{id}       Fetch one
    PATCH  /api/allocations/{id}       Partial update
    DELETE /api/allocations/{id}       Delete
    POST   /api/allocations/transfer   Atomic conflict resolution
    GET    /api/allocations/events     Websocket change feed (events.go)

  Directory:
    GET/POST /api/worksites, /api/teams, /api/employees
    GET      /api/worksites/{id}/costs?as_of=

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

ERROR HANDLING:
  Errors are returned as ErrorResponse with a machine-readable code:
  - 400 validation / bad_request / unknown_reference
  - 404 not_found
  - 409 conflict, with conflict_field and conflicting_allocation
  - 422 transfer_failed, with reason; the client must restart the action
  - 500 internal

SECURITY NOTE:
  No authentication. Intended to run behind the site's gateway.

SEE ALSO:
  - dto.go:       Request/response data structures
  - events.go:    Change feed
  - scenarios.go: Demo scenario loaders
  - server.go:    Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/canteiro/planner/allocation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the handlers need from persistence.
type Store interface {
	allocation.TxStore
	allocation.Directory
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Service *allocation.Service
	Hub     *Hub

	log   zerolog.Logger
	today func() allocation.Date

	mu              sync.Mutex
	currentScenario string
}

type HandlerOption func(*Handler)

func WithLogger(l zerolog.Logger) HandlerOption {
	return func(h *Handler) { h.log = l }
}

// WithToday overrides the default as_of date of cost summaries.
func WithToday(f func() allocation.Date) HandlerOption {
	return func(h *Handler) { h.today = f }
}

// NewHandler creates a handler whose service publishes to a new Hub.
func NewHandler(store Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		Store: store,
		log:   zerolog.Nop(),
		today: allocation.Today,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.Hub = NewHub(h.log.With().Str("component", "feed").Logger())
	h.Service = allocation.NewService(store,
		allocation.WithPublisher(h.Hub),
		allocation.WithLogger(h.log.With().Str("component", "allocations").Logger()),
	)
	return h
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// ListAllocations returns allocations starting within [start, end].
// GET /api/allocations?start=2024-06-03&end=2024-06-09
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := allocation.ParseDate(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid or missing start date", err)
		return
	}
	to, err := allocation.ParseDate(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid or missing end date", err)
		return
	}
	category := allocation.Category(q.Get("category"))
	if category != "" && category != allocation.CategoryLabor && category != allocation.CategoryPurchase {
		writeError(w, http.StatusBadRequest, "Unknown category", nil)
		return
	}

	list, err := h.Service.List(r.Context(), allocation.Query{
		From:       from,
		To:         to,
		WorkSiteID: q.Get("work_site_id"),
		Category:   category,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(list))
}

// GetAllocation returns one allocation.
// GET /api/allocations/{id}
func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.Get(r.Context(), allocation.ID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToAllocationDTO(*a))
}

// CreateAllocation creates an allocation.
// POST /api/allocations
func (h *Handler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	draft, err := req.Allocation()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	created, err := h.Service.Create(r.Context(), draft)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ToAllocationDTO(*created))
}

// UpdateAllocation applies a partial update.
// PATCH /api/allocations/{id}
func (h *Handler) UpdateAllocation(w http.ResponseWriter, r *http.Request) {
	var req UpdateAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	patch, err := req.Patch()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	updated, err := h.Service.Update(r.Context(), allocation.ID(chi.URLParam(r, "id")), patch)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToAllocationDTO(*updated))
}

// DeleteAllocation removes an allocation.
// DELETE /api/allocations/{id}
func (h *Handler) DeleteAllocation(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), allocation.ID(chi.URLParam(r, "id"))); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TransferAllocation truncates the conflicting allocation and writes the new
// one in a single transaction.
// POST /api/allocations/transfer
func (h *Handler) TransferAllocation(w http.ResponseWriter, r *http.Request) {
	var req TransferRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	draft, err := req.Allocation.Allocation()
	if err != nil {
		h.writeServiceError(w, r, &allocation.TransferError{
			ConflictingID: allocation.ID(req.ConflictingAllocationID),
			Reason:        "invalid allocation data",
			Cause:         err,
		})
		return
	}

	res, err := h.Service.Transfer(r.Context(), allocation.TransferRequest{
		ConflictingID: allocation.ID(req.ConflictingAllocationID),
		Allocation:    draft,
		ReplacesID:    allocation.ID(req.ReplacesID),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResultDTO{
		Truncated:  ToAllocationDTO(res.Truncated),
		Allocation: ToAllocationDTO(res.Allocation),
	})
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// ListWorkSites returns all work sites.
func (h *Handler) ListWorkSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.Store.ListWorkSites(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]WorkSiteDTO, len(sites))
	for i, s := range sites {
		dtos[i] = WorkSiteDTO{ID: s.ID, Name: s.Name, Address: s.Address}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveWorkSite creates or renames a work site. A missing ID is generated.
func (h *Handler) SaveWorkSite(w http.ResponseWriter, r *http.Request) {
	var req WorkSiteDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		h.writeServiceError(w, r, &allocation.ValidationError{Field: "name", Message: "name is required"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := h.Store.SaveWorkSite(r.Context(), allocation.WorkSite{ID: req.ID, Name: req.Name, Address: req.Address}); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListTeams returns all teams.
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.Store.ListTeams(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]TeamDTO, len(teams))
	for i, t := range teams {
		dtos[i] = TeamDTO{ID: t.ID, Name: t.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveTeam(w http.ResponseWriter, r *http.Request) {
	var req TeamDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		h.writeServiceError(w, r, &allocation.ValidationError{Field: "name", Message: "name is required"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := h.Store.SaveTeam(r.Context(), allocation.Team{ID: req.ID, Name: req.Name}); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = EmployeeDTO{ID: e.ID, Name: e.Name, Role: e.Role}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		h.writeServiceError(w, r, &allocation.ValidationError{Field: "name", Message: "name is required"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := h.Store.SaveEmployee(r.Context(), allocation.Employee{ID: req.ID, Name: req.Name, Role: req.Role}); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// GetCosts returns the spend of a work site.
// GET /api/worksites/{id}/costs?as_of=2024-06-30
func (h *Handler) GetCosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	asOf := h.today()
	if s := r.URL.Query().Get("as_of"); s != "" {
		d, err := allocation.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
			return
		}
		asOf = d
	}

	site, err := h.Store.GetWorkSite(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if site == nil {
		writeError(w, http.StatusNotFound, "Work site not found", nil)
		return
	}

	list, err := h.Store.ListByWorkSite(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCostSummaryDTO(allocation.SummarizeCosts(list, id, asOf)))
}

// Health reports liveness and store reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: codeFor(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusNotFound:
		return CodeNotFound
	}
	return CodeInternal
}

// writeServiceError maps allocation errors to responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *allocation.ValidationError
		te *allocation.TransferError
	)
	ce, isConflict := allocation.AsConflict(err)
	switch {
	case errors.As(err, &te):
		conflictCount.WithLabelValues(CodeTransferFailed).Inc()
		resp := ErrorResponse{
			Error:                 te.Error(),
			Code:                  CodeTransferFailed,
			Reason:                te.Reason,
			ConflictingAllocation: &ConflictingAllocationDTO{ID: string(te.ConflictingID)},
		}
		if te.Cause != nil {
			resp.Details = te.Cause.Error()
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)

	case errors.As(err, &ve):
		conflictCount.WithLabelValues(CodeValidation).Inc()
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Message, Code: CodeValidation, Field: ve.Field})

	case isConflict:
		conflictCount.WithLabelValues(CodeConflict).Inc()
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:                 ce.Error(),
			Code:                  CodeConflict,
			ConflictField:         ce.Field,
			ConflictingAllocation: toConflictingDTO(ce),
		})

	case errors.Is(err, allocation.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeNotFound})

	case errors.Is(err, allocation.ErrUnknownReference):
		conflictCount.WithLabelValues(CodeUnknownReference).Inc()
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeUnknownReference})

	default:
		h.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: CodeInternal})
	}
}
