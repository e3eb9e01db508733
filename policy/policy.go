/*
policy.go - Leave type definitions and the policy registry

PURPOSE:
  Administers the catalog of leave types (annual, sick, unpaid, ...) and
  guards the rule that posted history is never rewritten: once any ledger
  entry references a type, its numeric and carryover fields are frozen and
  only behavioral flags may change. Types are deactivated, never deleted.

KEY CONCEPTS:
  AccrualRate defaults to DefaultDays/12 when not set at creation, so a
  20-day type accrues one twelfth per month.

  CarryoverExpiry is the month-day cutoff after which the previous year's
  carryover run fires (e.g. Jan 31).

  Registry.Facts adapts a LeaveType into the narrow view the ledger
  consumes, keeping the ledger free of a policy dependency.

SEE ALSO:
  - ledger/service.go: PolicyReader consumer
*/
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/ledger"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound means the leave type does not exist.
	ErrNotFound = errors.New("leave type not found")

	// ErrInvalid means a definition failed validation.
	ErrInvalid = errors.New("invalid leave type")

	// ErrDuplicateName means another type already uses the name.
	ErrDuplicateName = errors.New("leave type name already in use")

	// ErrFrozen means an update touched fields locked by posted history.
	ErrFrozen = errors.New("leave type is referenced by ledger entries; only flags may change")
)

// =============================================================================
// MODEL
// =============================================================================

// MonthDay is a recurring calendar cutoff without a year.
type MonthDay struct {
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

// DateIn pins the cutoff to a concrete year.
func (md MonthDay) DateIn(year int) time.Time {
	return time.Date(year, md.Month, md.Day, 0, 0, 0, 0, time.UTC)
}

func (md MonthDay) IsZero() bool {
	return md.Month == 0 && md.Day == 0
}

// DefaultCarryoverExpiry is used when a type allows carryover but sets no
// explicit cutoff.
var DefaultCarryoverExpiry = MonthDay{Month: time.January, Day: 31}

// LeaveType defines one category of leave and its entitlement rules.
type LeaveType struct {
	ID                    ledger.LeaveTypeID `json:"id"`
	Name                  string             `json:"name"`
	Description           string             `json:"description,omitempty"`
	DefaultDays           decimal.Decimal    `json:"default_days"`
	AccrualRate           decimal.Decimal    `json:"accrual_rate"`
	CanCarryOver          bool               `json:"can_carry_over"`
	MaxCarryOverDays      int                `json:"max_carry_over_days"`
	CarryoverExpiry       MonthDay           `json:"carryover_expiry"`
	RequiresApproval      bool               `json:"requires_approval"`
	RequiresReason        bool               `json:"requires_reason"`
	RequiresDocumentation bool               `json:"requires_documentation"`
	IsPaid                bool               `json:"is_paid"`
	IsActive              bool               `json:"is_active"`
	CreatedAt             time.Time          `json:"created_at"`
}

// =============================================================================
// STORE
// =============================================================================

// Store persists leave type definitions.
type Store interface {
	SaveLeaveType(ctx context.Context, lt LeaveType) error
	GetLeaveType(ctx context.Context, id ledger.LeaveTypeID) (LeaveType, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)

	// LeaveTypeReferenced reports whether any ledger entry references the
	// type. Referenced types have their entitlement fields frozen.
	LeaveTypeReferenced(ctx context.Context, id ledger.LeaveTypeID) (bool, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the administrative service over leave types.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry builds a registry over a store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// WithClock injects a deterministic clock. Tests use this.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Create validates and stores a new leave type. A missing accrual rate
// defaults to DefaultDays/12; a missing carryover cutoff defaults to
// Jan 31 when carryover is allowed.
func (r *Registry) Create(ctx context.Context, lt LeaveType) (LeaveType, error) {
	if err := r.validate(lt); err != nil {
		return LeaveType{}, err
	}
	if err := r.ensureUniqueName(ctx, lt.Name, ""); err != nil {
		return LeaveType{}, err
	}

	if lt.ID == "" {
		lt.ID = ledger.LeaveTypeID(uuid.NewString())
	}
	if lt.AccrualRate.IsZero() {
		lt.AccrualRate = lt.DefaultDays.Div(decimal.NewFromInt(12)).Round(4)
	}
	if lt.CanCarryOver && lt.CarryoverExpiry.IsZero() {
		lt.CarryoverExpiry = DefaultCarryoverExpiry
	}
	lt.IsActive = true
	lt.CreatedAt = r.now()

	if err := r.store.SaveLeaveType(ctx, lt); err != nil {
		return LeaveType{}, err
	}
	return lt, nil
}

// Update replaces a definition. If the type is referenced by posted
// entries, only the behavioral flags (IsActive, RequiresApproval,
// RequiresReason, RequiresDocumentation) may differ from the stored
// definition; any other change fails with ErrFrozen.
func (r *Registry) Update(ctx context.Context, id ledger.LeaveTypeID, lt LeaveType) (LeaveType, error) {
	current, err := r.store.GetLeaveType(ctx, id)
	if err != nil {
		return LeaveType{}, err
	}

	lt.ID = id
	lt.CreatedAt = current.CreatedAt
	if err := r.validate(lt); err != nil {
		return LeaveType{}, err
	}
	if !strings.EqualFold(lt.Name, current.Name) {
		if err := r.ensureUniqueName(ctx, lt.Name, id); err != nil {
			return LeaveType{}, err
		}
	}

	referenced, err := r.store.LeaveTypeReferenced(ctx, id)
	if err != nil {
		return LeaveType{}, err
	}
	if referenced && !flagsOnlyChange(current, lt) {
		return LeaveType{}, ErrFrozen
	}

	if err := r.store.SaveLeaveType(ctx, lt); err != nil {
		return LeaveType{}, err
	}
	return lt, nil
}

// Deactivate retires a type. Existing balances and history stay intact;
// new applications and accruals stop.
func (r *Registry) Deactivate(ctx context.Context, id ledger.LeaveTypeID) error {
	lt, err := r.store.GetLeaveType(ctx, id)
	if err != nil {
		return err
	}
	if !lt.IsActive {
		return nil
	}
	lt.IsActive = false
	return r.store.SaveLeaveType(ctx, lt)
}

// Get returns one definition.
func (r *Registry) Get(ctx context.Context, id ledger.LeaveTypeID) (LeaveType, error) {
	return r.store.GetLeaveType(ctx, id)
}

// List returns every definition, active or not.
func (r *Registry) List(ctx context.Context) ([]LeaveType, error) {
	return r.store.ListLeaveTypes(ctx)
}

// Active returns the active definitions only.
func (r *Registry) Active(ctx context.Context) ([]LeaveType, error) {
	all, err := r.store.ListLeaveTypes(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0:0]
	for _, lt := range all {
		if lt.IsActive {
			active = append(active, lt)
		}
	}
	return active, nil
}

// Facts implements ledger.PolicyReader.
func (r *Registry) Facts(ctx context.Context, id ledger.LeaveTypeID) (ledger.PolicyFacts, error) {
	lt, err := r.store.GetLeaveType(ctx, id)
	if err != nil {
		return ledger.PolicyFacts{}, err
	}
	return ledger.PolicyFacts{
		DefaultDays:      lt.DefaultDays,
		AccrualRate:      lt.AccrualRate,
		CanCarryOver:     lt.CanCarryOver,
		MaxCarryOverDays: decimal.NewFromInt(int64(lt.MaxCarryOverDays)),
		Active:           lt.IsActive,
	}, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func (r *Registry) validate(lt LeaveType) error {
	if strings.TrimSpace(lt.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !lt.DefaultDays.IsPositive() {
		return fmt.Errorf("%w: default days must be positive", ErrInvalid)
	}
	if lt.AccrualRate.IsNegative() {
		return fmt.Errorf("%w: accrual rate cannot be negative", ErrInvalid)
	}
	if lt.MaxCarryOverDays < 0 {
		return fmt.Errorf("%w: max carryover days cannot be negative", ErrInvalid)
	}
	return nil
}

func (r *Registry) ensureUniqueName(ctx context.Context, name string, selfID ledger.LeaveTypeID) error {
	all, err := r.store.ListLeaveTypes(ctx)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.ID != selfID && strings.EqualFold(other.Name, name) {
			return ErrDuplicateName
		}
	}
	return nil
}

func flagsOnlyChange(current, next LeaveType) bool {
	// Normalize the mutable flags, then compare what must stay fixed.
	current.IsActive = next.IsActive
	current.RequiresApproval = next.RequiresApproval
	current.RequiresReason = next.RequiresReason
	current.RequiresDocumentation = next.RequiresDocumentation
	return current.Name == next.Name &&
		current.Description == next.Description &&
		current.DefaultDays.Equal(next.DefaultDays) &&
		current.AccrualRate.Equal(next.AccrualRate) &&
		current.CanCarryOver == next.CanCarryOver &&
		current.MaxCarryOverDays == next.MaxCarryOverDays &&
		current.CarryoverExpiry == next.CarryoverExpiry &&
		current.IsPaid == next.IsPaid
}
