/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to domain logic.

ENDPOINTS:
  Applications:
    POST   /api/applications                 Submit
    GET    /api/applications                 List (user= or pending_for=)
    GET    /api/applications/{id}            Fetch
    POST   /api/applications/{id}/approve    Approve
    POST   /api/applications/{id}/reject     Reject
    POST   /api/applications/{id}/cancel     Cancel
    POST   /api/applications/bulk            Bulk approve/reject/cancel

  Balances:
    GET    /api/users/{id}/balances              All types for a user
    GET    /api/users/{id}/balances/{typeID}     Single balance
    GET    /api/users/{id}/ledger/{typeID}       Entry history (audit)

  Admin:
    POST   /api/admin/adjustments            Manual adjustment
    POST   /api/admin/adjustments/bulk       Bulk adjustment
    POST   /api/admin/accrual                Run monthly accrual
    POST   /api/admin/carryover              Run year-end carryover

  Leave types:
    GET    /api/leave-types                  List (?active=true)
    POST   /api/leave-types                  Create
    GET    /api/leave-types/{id}             Fetch
    PUT    /api/leave-types/{id}             Update
    POST   /api/leave-types/{id}/deactivate  Deactivate

ERROR HANDLING:
  Errors are returned as {code, message, details?} with the HTTP status
  derived from the domain sentinel:
  - 400: validation errors, policy violations, missing reasons
  - 403: unauthorized transitions
  - 404: unknown application/type/user
  - 409: invalid transitions, duplicates, insufficient balance
  - 500: everything else

SECURITY NOTE:
  The actor is taken from the request body; there is no authentication
  layer here. Deployments put a gateway in front that verifies identity
  and injects the actor.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/leave-engine/directory"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Workflow  *workflow.Service
	Ledger    *ledger.Service
	Policies  *policy.Registry
	Directory *directory.Static
	Scheduler *Scheduler

	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

// NewHandler creates a handler over the domain services.
func NewHandler(wf *workflow.Service, ls *ledger.Service, reg *policy.Registry, dir *directory.Static, sched *Scheduler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Workflow:  wf,
		Ledger:    ls,
		Policies:  reg,
		Directory: dir,
		Scheduler: sched,
		validate:  validator.New(),
		log:       log,
		now:       time.Now,
	}
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req SubmitApplicationRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "invalid start_date", nil)
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "invalid end_date", nil)
		return
	}

	app, err := h.Workflow.Submit(r.Context(), workflow.SubmitInput{
		UserID:      ledger.UserID(req.UserID),
		LeaveTypeID: ledger.LeaveTypeID(req.LeaveTypeID),
		StartDate:   start,
		EndDate:     end,
		Reason:      req.Reason,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toApplicationDTO(app))
}

func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	id := workflow.ApplicationID(chi.URLParam(r, "id"))
	app, err := h.Workflow.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// ListApplications serves both the per-user listing (?user=) and the
// pending queue visible to an actor (?pending_for=).
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	if actorID := r.URL.Query().Get("pending_for"); actorID != "" {
		apps, err := h.Workflow.PendingFor(r.Context(), actorID)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, toApplicationDTOs(apps))
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "user or pending_for query parameter required", nil)
		return
	}
	apps, err := h.Workflow.ListByUser(r.Context(), ledger.UserID(userID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toApplicationDTOs(apps))
}

func (h *Handler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, workflow.ActionApprove)
}

func (h *Handler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, workflow.ActionReject)
}

func (h *Handler) CancelApplication(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, workflow.ActionCancel)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, action workflow.Action) {
	id := workflow.ApplicationID(chi.URLParam(r, "id"))
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	var err error
	switch action {
	case workflow.ActionApprove:
		err = h.Workflow.Approve(r.Context(), id, req.ActorID, req.Comments)
	case workflow.ActionReject:
		err = h.Workflow.Reject(r.Context(), id, req.ActorID, req.Comments)
	default:
		err = h.Workflow.Cancel(r.Context(), id, req.ActorID, req.Comments)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	app, err := h.Workflow.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

func (h *Handler) BulkDecide(w http.ResponseWriter, r *http.Request) {
	var req BulkDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids := make([]workflow.ApplicationID, len(req.ApplicationIDs))
	for i, id := range req.ApplicationIDs {
		ids[i] = workflow.ApplicationID(id)
	}
	res, err := h.Workflow.BulkDecide(r.Context(), ids, workflow.Action(req.Action), req.ActorID, req.Comments)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusOK, toBulkResultDTO(res))
}

// =============================================================================
// BALANCES
// =============================================================================

func (h *Handler) GetUserBalances(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))
	year := h.queryYear(r)

	types, err := h.Policies.Active(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	typeIDs := make([]ledger.LeaveTypeID, len(types))
	for i, lt := range types {
		typeIDs[i] = lt.ID
	}

	balances, err := h.Ledger.UserBalances(r.Context(), userID, year, typeIDs)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	key := ledger.BalanceKey{
		UserID:      ledger.UserID(chi.URLParam(r, "id")),
		LeaveTypeID: ledger.LeaveTypeID(chi.URLParam(r, "typeID")),
		Year:        h.queryYear(r),
	}
	bal, err := h.Ledger.GetBalance(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toBalanceDTO(bal))
}

func (h *Handler) GetLedgerHistory(w http.ResponseWriter, r *http.Request) {
	key := ledger.BalanceKey{
		UserID:      ledger.UserID(chi.URLParam(r, "id")),
		LeaveTypeID: ledger.LeaveTypeID(chi.URLParam(r, "typeID")),
		Year:        h.queryYear(r),
	}
	entries, err := h.Ledger.History(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// ADMIN
// =============================================================================

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := ledger.BalanceKey{
		UserID:      ledger.UserID(req.UserID),
		LeaveTypeID: ledger.LeaveTypeID(req.LeaveTypeID),
		Year:        req.Year,
	}
	if err := h.Ledger.PostAdjustment(r.Context(), key, ledger.Days(req.Delta), req.Reason, req.ActorID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	bal, err := h.Ledger.GetBalance(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toBalanceDTO(bal))
}

func (h *Handler) BulkAdjust(w http.ResponseWriter, r *http.Request) {
	var req BulkAdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	users := make([]ledger.UserID, len(req.UserIDs))
	for i, u := range req.UserIDs {
		users[i] = ledger.UserID(u)
	}
	res := h.Ledger.BulkAdjust(r.Context(), users, ledger.LeaveTypeID(req.LeaveTypeID),
		req.Year, ledger.Days(req.Delta), req.Reason, req.ActorID)
	h.writeJSON(w, http.StatusOK, toBulkResultDTO(res))
}

func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var req AccrualRunRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Scheduler.RunAccrual(r.Context(), req.Year, time.Month(req.Month))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RunCarryover(w http.ResponseWriter, r *http.Request) {
	var req CarryoverRunRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Scheduler.RunCarryover(r.Context(), req.FromYear)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	var (
		types []policy.LeaveType
		err   error
	)
	if r.URL.Query().Get("active") == "true" {
		types, err = h.Policies.Active(r.Context())
	} else {
		types, err = h.Policies.List(r.Context())
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]LeaveTypeDTO, len(types))
	for i, lt := range types {
		dtos[i] = toLeaveTypeDTO(lt)
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetLeaveType(w http.ResponseWriter, r *http.Request) {
	id := ledger.LeaveTypeID(chi.URLParam(r, "id"))
	lt, err := h.Policies.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toLeaveTypeDTO(lt))
}

func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var req LeaveTypeRequest
	if !h.decode(w, r, &req) {
		return
	}
	lt, err := h.Policies.Create(r.Context(), leaveTypeFromRequest(req))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toLeaveTypeDTO(lt))
}

func (h *Handler) UpdateLeaveType(w http.ResponseWriter, r *http.Request) {
	id := ledger.LeaveTypeID(chi.URLParam(r, "id"))
	var req LeaveTypeRequest
	if !h.decode(w, r, &req) {
		return
	}
	next := leaveTypeFromRequest(req)
	next.IsActive = req.IsActive
	lt, err := h.Policies.Update(r.Context(), id, next)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toLeaveTypeDTO(lt))
}

func (h *Handler) DeactivateLeaveType(w http.ResponseWriter, r *http.Request) {
	id := ledger.LeaveTypeID(chi.URLParam(r, "id"))
	if err := h.Policies.Deactivate(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	lt, err := h.Policies.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toLeaveTypeDTO(lt))
}

func leaveTypeFromRequest(req LeaveTypeRequest) policy.LeaveType {
	return policy.LeaveType{
		Name:                  req.Name,
		Description:           req.Description,
		DefaultDays:           ledger.Days(req.DefaultDays),
		AccrualRate:           ledger.Days(req.AccrualRate),
		CanCarryOver:          req.CanCarryOver,
		MaxCarryOverDays:      req.MaxCarryOverDays,
		CarryoverExpiry:       policy.MonthDay{Month: time.Month(req.CarryoverMonth), Day: req.CarryoverDay},
		RequiresApproval:      req.RequiresApproval,
		RequiresReason:        req.RequiresReason,
		RequiresDocumentation: req.RequiresDocumentation,
		IsPaid:                req.IsPaid,
		IsActive:              req.IsActive,
	}
}

// =============================================================================
// USERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Directory.Users(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PLUMBING
// =============================================================================

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func (h *Handler) queryYear(r *http.Request) int {
	if s := r.URL.Query().Get("year"); s != "" {
		if year, err := strconv.Atoi(s); err == nil {
			return year
		}
	}
	return h.now().Year()
}

// decode parses and validates the JSON body, writing the 400 itself when
// something is off.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "invalid JSON body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		details := map[string]string{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", "request validation failed", details)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	if status >= 500 {
		h.log.ErrorContext(r.Context(), "request failed", "status", status, "code", code, "message", message)
	}
	h.writeJSON(w, status, ErrorResponse{Code: code, Message: message, Details: details})
}

// writeDomainError maps domain sentinels onto HTTP statuses and error
// codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		available, _ := insufficient.Available.Float64()
		requested, _ := insufficient.Requested.Float64()
		h.writeError(w, r, http.StatusConflict, "insufficient_balance", err.Error(), map[string]float64{
			"available": available,
			"requested": requested,
		})
		return
	}

	switch {
	case errors.Is(err, ledger.ErrDuplicateOperation):
		h.writeError(w, r, http.StatusConflict, "duplicate_operation", err.Error(), nil)
	case errors.Is(err, workflow.ErrInvalidTransition):
		h.writeError(w, r, http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, workflow.ErrUnauthorized):
		h.writeError(w, r, http.StatusForbidden, "unauthorized", err.Error(), nil)
	case errors.Is(err, workflow.ErrPolicyViolation),
		errors.Is(err, ledger.ErrReasonRequired),
		errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, policy.ErrInvalid):
		h.writeError(w, r, http.StatusBadRequest, "policy_violation", err.Error(), nil)
	case errors.Is(err, workflow.ErrInvalidDateRange):
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case errors.Is(err, policy.ErrFrozen), errors.Is(err, policy.ErrDuplicateName):
		h.writeError(w, r, http.StatusConflict, "policy_violation", err.Error(), nil)
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, workflow.ErrNotFound),
		errors.Is(err, policy.ErrNotFound),
		errors.Is(err, directory.ErrUserNotFound):
		h.writeError(w, r, http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		h.log.ErrorContext(r.Context(), "internal error", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal", "internal server error", nil)
	}
}
