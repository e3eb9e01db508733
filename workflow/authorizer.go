/*
authorizer.go - Role-gated transition authorization

PURPOSE:
  A single pure function answers "may this actor perform this action on
  this application". No clock, no store, no side effects; everything the
  decision needs is in the arguments, which makes the rule table directly
  testable.

RULES:
  - No actor ever approves their own application, admins included.
  - ADMIN may approve, reject and cancel anything (minus self-approval).
  - MANAGER may approve and reject applications whose department they
    manage.
  - Anyone may cancel their own application.
  - Time-based eligibility (an approved leave that already elapsed) is the
    state machine's concern, not the authorizer's.

SEE ALSO:
  - service.go: callers, plus the elapsed-leave admin exception
*/
package workflow

// Role is an actor's authority level.
type Role string

const (
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// Action is a requested state transition.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionCancel:
		return true
	}
	return false
}

// Actor is the authenticated principal attempting a transition.
type Actor struct {
	ID                 string
	Role               Role
	ManagedDepartments []string
}

// Manages reports whether the actor manages a department.
func (a Actor) Manages(departmentID string) bool {
	for _, d := range a.ManagedDepartments {
		if d == departmentID {
			return true
		}
	}
	return false
}

// CanTransition reports whether actor may perform action on app.
func CanTransition(actor Actor, app *Application, action Action) bool {
	own := actor.ID == string(app.UserID)

	switch action {
	case ActionApprove:
		if own {
			return false
		}
		switch actor.Role {
		case RoleAdmin:
			return true
		case RoleManager:
			return actor.Manages(app.DepartmentID)
		}
		return false

	case ActionReject:
		switch actor.Role {
		case RoleAdmin:
			return true
		case RoleManager:
			return actor.Manages(app.DepartmentID)
		}
		return false

	case ActionCancel:
		return own || actor.Role == RoleAdmin
	}
	return false
}
