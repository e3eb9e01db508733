/*
application.go - Leave application model and state machine vocabulary

PURPOSE:
  A LeaveApplication moves through a small state machine:

      PENDING --approve--> APPROVED --cancel--> CANCELLED
        |  \--reject-----> REJECTED
        \---cancel-------> CANCELLED

  APPROVED, REJECTED and CANCELLED are terminal except for the single
  approved->cancelled edge, which is only open while the leave has not yet
  elapsed (or to an administrator afterwards).

  Status never changes except through Service methods; stores persist
  whatever status they are handed.

SEE ALSO:
  - service.go: the transitions
  - authorizer.go: who may trigger them
*/
package workflow

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/ledger"
)

// ApplicationID identifies a leave application.
type ApplicationID = ledger.ApplicationID

// Status is the lifecycle state of an application.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Application is one leave request.
type Application struct {
	ID            ApplicationID      `json:"id"`
	UserID        ledger.UserID      `json:"user_id"`
	LeaveTypeID   ledger.LeaveTypeID `json:"leave_type_id"`
	DepartmentID  string             `json:"department_id,omitempty"`
	StartDate     time.Time          `json:"start_date"`
	EndDate       time.Time          `json:"end_date"`
	TotalDays     decimal.Decimal    `json:"total_days"`
	Reason        string             `json:"reason,omitempty"`
	DocumentIDs   []string           `json:"document_ids,omitempty"`
	Status        Status             `json:"status"`
	ApproverID    string             `json:"approver_id,omitempty"`
	Comments      string             `json:"comments,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	DecidedAt     *time.Time         `json:"decided_at,omitempty"`
}

// BalanceKey returns the ledger key this application draws from. The year
// is taken from the start date.
func (a *Application) BalanceKey() ledger.BalanceKey {
	return ledger.BalanceKey{
		UserID:      a.UserID,
		LeaveTypeID: a.LeaveTypeID,
		Year:        a.StartDate.Year(),
	}
}

// Elapsed reports whether the leave period has fully passed as of today.
// An elapsed approved application can only be cancelled by an admin.
func (a *Application) Elapsed(today time.Time) bool {
	y, m, d := today.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, today.Location())
	return a.EndDate.Before(midnight)
}
