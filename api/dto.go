/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  them through the shared validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/bulk"
	"github.com/warp/leave-engine/directory"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitApplicationRequest is the request to submit a leave application.
type SubmitApplicationRequest struct {
	UserID      string   `json:"user_id" validate:"required"`
	LeaveTypeID string   `json:"leave_type_id" validate:"required"`
	StartDate   string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string   `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason      string   `json:"reason,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// DecisionRequest carries the acting user for approve/reject/cancel.
type DecisionRequest struct {
	ActorID  string `json:"actor_id" validate:"required"`
	Comments string `json:"comments,omitempty"`
}

// BulkDecisionRequest applies one action to many applications.
type BulkDecisionRequest struct {
	ApplicationIDs []string `json:"application_ids" validate:"required,min=1,dive,required"`
	Action         string   `json:"action" validate:"required,oneof=approve reject cancel"`
	ActorID        string   `json:"actor_id" validate:"required"`
	Comments       string   `json:"comments,omitempty"`
}

// AdjustmentRequest is a manual balance correction.
type AdjustmentRequest struct {
	UserID      string  `json:"user_id" validate:"required"`
	LeaveTypeID string  `json:"leave_type_id" validate:"required"`
	Year        int     `json:"year" validate:"required,min=2000,max=2200"`
	Delta       float64 `json:"delta" validate:"required"`
	Reason      string  `json:"reason" validate:"required"`
	ActorID     string  `json:"actor_id" validate:"required"`
}

// BulkAdjustmentRequest applies one adjustment to many users.
type BulkAdjustmentRequest struct {
	UserIDs     []string `json:"user_ids" validate:"required,min=1,dive,required"`
	LeaveTypeID string   `json:"leave_type_id" validate:"required"`
	Year        int      `json:"year" validate:"required,min=2000,max=2200"`
	Delta       float64  `json:"delta" validate:"required"`
	Reason      string   `json:"reason" validate:"required"`
	ActorID     string   `json:"actor_id" validate:"required"`
}

// AccrualRunRequest triggers one monthly accrual run.
type AccrualRunRequest struct {
	Year  int `json:"year" validate:"required,min=2000,max=2200"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

// CarryoverRunRequest triggers the year-end carryover for one closed year.
type CarryoverRunRequest struct {
	FromYear int `json:"from_year" validate:"required,min=2000,max=2200"`
}

// LeaveTypeRequest creates or updates a leave type definition.
type LeaveTypeRequest struct {
	Name                  string  `json:"name" validate:"required"`
	Description           string  `json:"description,omitempty"`
	DefaultDays           float64 `json:"default_days" validate:"required,gt=0"`
	AccrualRate           float64 `json:"accrual_rate,omitempty" validate:"gte=0"`
	CanCarryOver          bool    `json:"can_carry_over"`
	MaxCarryOverDays      int     `json:"max_carry_over_days" validate:"gte=0"`
	CarryoverMonth        int     `json:"carryover_month,omitempty" validate:"gte=0,lte=12"`
	CarryoverDay          int     `json:"carryover_day,omitempty" validate:"gte=0,lte=31"`
	RequiresApproval      bool    `json:"requires_approval"`
	RequiresReason        bool    `json:"requires_reason"`
	RequiresDocumentation bool    `json:"requires_documentation"`
	IsPaid                bool    `json:"is_paid"`
	IsActive              bool    `json:"is_active"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ApplicationDTO represents a leave application.
type ApplicationDTO struct {
	ID           string   `json:"id"`
	UserID       string   `json:"user_id"`
	LeaveTypeID  string   `json:"leave_type_id"`
	DepartmentID string   `json:"department_id,omitempty"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	TotalDays    float64  `json:"total_days"`
	Reason       string   `json:"reason,omitempty"`
	DocumentIDs  []string `json:"document_ids,omitempty"`
	Status       string   `json:"status"`
	ApproverID   string   `json:"approver_id,omitempty"`
	Comments     string   `json:"comments,omitempty"`
	CreatedAt    string   `json:"created_at"`
	DecidedAt    string   `json:"decided_at,omitempty"`
}

// BalanceDTO represents one folded balance.
type BalanceDTO struct {
	UserID      string  `json:"user_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Year        int     `json:"year"`
	Accrued     float64 `json:"accrued"`
	CarriedOver float64 `json:"carried_over"`
	Forfeited   float64 `json:"forfeited"`
	Adjustments float64 `json:"adjustments"`
	Used        float64 `json:"used"`
	Total       float64 `json:"total"`
	Remaining   float64 `json:"remaining"`
	Implicit    bool    `json:"implicit,omitempty"`
}

// EntryDTO represents one ledger entry in the audit trail.
type EntryDTO struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	LeaveTypeID    string  `json:"leave_type_id"`
	Year           int     `json:"year"`
	Kind           string  `json:"kind"`
	Delta          float64 `json:"delta"`
	EffectiveYear  int     `json:"effective_year"`
	EffectiveMonth int     `json:"effective_month,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	ActorID        string  `json:"actor_id,omitempty"`
	ApplicationID  string  `json:"application_id,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// LeaveTypeDTO represents a leave type definition.
type LeaveTypeDTO struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	Description           string  `json:"description,omitempty"`
	DefaultDays           float64 `json:"default_days"`
	AccrualRate           float64 `json:"accrual_rate"`
	CanCarryOver          bool    `json:"can_carry_over"`
	MaxCarryOverDays      int     `json:"max_carry_over_days"`
	CarryoverMonth        int     `json:"carryover_month,omitempty"`
	CarryoverDay          int     `json:"carryover_day,omitempty"`
	RequiresApproval      bool    `json:"requires_approval"`
	RequiresReason        bool    `json:"requires_reason"`
	RequiresDocumentation bool    `json:"requires_documentation"`
	IsPaid                bool    `json:"is_paid"`
	IsActive              bool    `json:"is_active"`
	CreatedAt             string  `json:"created_at,omitempty"`
}

// UserDTO represents a directory user.
type UserDTO struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Email              string   `json:"email,omitempty"`
	DepartmentID       string   `json:"department_id"`
	Role               string   `json:"role"`
	ManagedDepartments []string `json:"managed_departments,omitempty"`
}

// BulkResultDTO reports per-item outcomes of a bulk operation.
type BulkResultDTO struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
	Total     int           `json:"total"`
}

// BulkFailure pairs an item with its error message.
type BulkFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// RunResultDTO summarizes a scheduler run triggered via the API.
type RunResultDTO struct {
	Processed int           `json:"processed"`
	Failed    []BulkFailure `json:"failed,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toApplicationDTO(app *workflow.Application) ApplicationDTO {
	days, _ := app.TotalDays.Float64()
	dto := ApplicationDTO{
		ID:           string(app.ID),
		UserID:       string(app.UserID),
		LeaveTypeID:  string(app.LeaveTypeID),
		DepartmentID: app.DepartmentID,
		StartDate:    app.StartDate.Format("2006-01-02"),
		EndDate:      app.EndDate.Format("2006-01-02"),
		TotalDays:    days,
		Reason:       app.Reason,
		DocumentIDs:  app.DocumentIDs,
		Status:       string(app.Status),
		ApproverID:   app.ApproverID,
		Comments:     app.Comments,
		CreatedAt:    app.CreatedAt.Format(time.RFC3339),
	}
	if app.DecidedAt != nil {
		dto.DecidedAt = app.DecidedAt.Format(time.RFC3339)
	}
	return dto
}

func toApplicationDTOs(apps []*workflow.Application) []ApplicationDTO {
	dtos := make([]ApplicationDTO, len(apps))
	for i, app := range apps {
		dtos[i] = toApplicationDTO(app)
	}
	return dtos
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	accrued, _ := b.Accrued.Float64()
	carried, _ := b.CarriedOver.Float64()
	forfeited, _ := b.Forfeited.Float64()
	adjusted, _ := b.Adjustments.Float64()
	used, _ := b.Used.Float64()
	total, _ := b.Total.Float64()
	remaining, _ := b.Remaining.Float64()
	return BalanceDTO{
		UserID:      string(b.Key.UserID),
		LeaveTypeID: string(b.Key.LeaveTypeID),
		Year:        b.Key.Year,
		Accrued:     accrued,
		CarriedOver: carried,
		Forfeited:   forfeited,
		Adjustments: adjusted,
		Used:        used,
		Total:       total,
		Remaining:   remaining,
		Implicit:    b.Implicit,
	}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	delta, _ := e.Delta.Float64()
	return EntryDTO{
		ID:             string(e.ID),
		UserID:         string(e.Key.UserID),
		LeaveTypeID:    string(e.Key.LeaveTypeID),
		Year:           e.Key.Year,
		Kind:           string(e.Kind),
		Delta:          delta,
		EffectiveYear:  e.EffectiveYear,
		EffectiveMonth: int(e.EffectiveMonth),
		Reason:         e.Reason,
		ActorID:        e.ActorID,
		ApplicationID:  string(e.ApplicationID),
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toLeaveTypeDTO(lt policy.LeaveType) LeaveTypeDTO {
	defaultDays, _ := lt.DefaultDays.Float64()
	rate, _ := lt.AccrualRate.Float64()
	return LeaveTypeDTO{
		ID:                    string(lt.ID),
		Name:                  lt.Name,
		Description:           lt.Description,
		DefaultDays:           defaultDays,
		AccrualRate:           rate,
		CanCarryOver:          lt.CanCarryOver,
		MaxCarryOverDays:      lt.MaxCarryOverDays,
		CarryoverMonth:        int(lt.CarryoverExpiry.Month),
		CarryoverDay:          lt.CarryoverExpiry.Day,
		RequiresApproval:      lt.RequiresApproval,
		RequiresReason:        lt.RequiresReason,
		RequiresDocumentation: lt.RequiresDocumentation,
		IsPaid:                lt.IsPaid,
		IsActive:              lt.IsActive,
		CreatedAt:             lt.CreatedAt.Format(time.RFC3339),
	}
}

func toUserDTO(u directory.User) UserDTO {
	return UserDTO{
		ID:                 u.ID,
		Name:               u.Name,
		Email:              u.Email,
		DepartmentID:       u.DepartmentID,
		Role:               string(u.Role),
		ManagedDepartments: u.ManagedDepartments,
	}
}

func toBulkResultDTO(res bulk.Result) BulkResultDTO {
	dto := BulkResultDTO{
		Succeeded: res.Succeeded,
		Failed:    make([]BulkFailure, len(res.Failed)),
		Total:     res.Total(),
	}
	if dto.Succeeded == nil {
		dto.Succeeded = []string{}
	}
	for i, f := range res.Failed {
		dto.Failed[i] = BulkFailure{ID: f.ID, Error: f.Err.Error()}
	}
	return dto
}
