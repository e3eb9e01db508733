/*
service.go - Leave application workflow

PURPOSE:
  Owns the application lifecycle: submission with policy and balance
  validation, the approve/reject/cancel transitions with role gating, and
  the coupling to the ledger. The coupling rule is strict:

    - Submission posts nothing. The balance is only checked.
    - Approval posts the usage entry and flips the status inside ONE store
      transaction. If either fails, both roll back.
    - Cancelling an approved application reverses the usage in the same
      transactional shape.
    - Rejection and cancelling a pending application never touch the
      ledger.

KEY CONCEPTS:
  UnitOfWork: WithTx hands the callback transaction-scoped ledger and
  application stores. The ledger service is re-bound to the tx store
  (ledger.Service.Bound) so idempotency checks and posts see the
  transaction's view while still holding the shared key locks.

  Per-application lock: transitions for one application serialize, so two
  managers approving concurrently resolve to one success and one
  InvalidTransition.

SEE ALSO:
  - ledger/service.go: PostUsage / ReverseUsage
  - authorizer.go: CanTransition
*/
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/bulk"
	"github.com/warp/leave-engine/event"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// BOUNDARIES
// =============================================================================

// ApplicationStore persists applications.
type ApplicationStore interface {
	SaveApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, id ApplicationID) (*Application, error)
	ListApplicationsByUser(ctx context.Context, userID ledger.UserID) ([]*Application, error)
	ListApplicationsByStatus(ctx context.Context, status Status) ([]*Application, error)
}

// UnitOfWork runs a callback against transaction-scoped stores. The
// callback's error rolls back everything it did.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ls ledger.Store, as ApplicationStore) error) error
}

// Directory resolves users from the external directory. Read-only.
type Directory interface {
	// Actor returns the acting principal: role plus managed departments.
	Actor(ctx context.Context, userID string) (Actor, error)
	// DepartmentOf returns the department a user belongs to.
	DepartmentOf(ctx context.Context, userID ledger.UserID) (string, error)
}

// DocumentStore verifies that referenced document IDs exist. The engine
// never reads file contents. A nil DocumentStore skips verification.
type DocumentStore interface {
	Exists(ctx context.Context, documentID string) (bool, error)
}

// =============================================================================
// SERVICE
// =============================================================================

// SystemActorID marks transitions performed by the engine itself, such as
// auto-approval of types that require none.
const SystemActorID = "system"

// Service implements the application workflow.
type Service struct {
	apps     ApplicationStore
	uow      UnitOfWork
	ledger   *ledger.Service
	policies *policy.Registry
	dir      Directory
	cal      HolidayCalendar
	docs     DocumentStore
	events   event.Sink
	locks    *appLocks
	now      func() time.Time
	log      *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock injects a deterministic clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEvents sets the sink receiving workflow events.
func WithEvents(sink event.Sink) Option {
	return func(s *Service) { s.events = sink }
}

// WithCalendar sets the holiday calendar used for day counting.
func WithCalendar(cal HolidayCalendar) Option {
	return func(s *Service) { s.cal = cal }
}

// WithDocuments sets the document existence checker.
func WithDocuments(docs DocumentStore) Option {
	return func(s *Service) { s.docs = docs }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService builds a workflow service.
func NewService(apps ApplicationStore, uow UnitOfWork, lsvc *ledger.Service, registry *policy.Registry, dir Directory, opts ...Option) *Service {
	s := &Service{
		apps:     apps,
		uow:      uow,
		ledger:   lsvc,
		policies: registry,
		dir:      dir,
		cal:      NoHolidays{},
		events:   event.NopSink{},
		locks:    newAppLocks(),
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// SUBMISSION
// =============================================================================

// SubmitInput is a submission request.
type SubmitInput struct {
	UserID      ledger.UserID
	LeaveTypeID ledger.LeaveTypeID
	StartDate   time.Time
	EndDate     time.Time
	Reason      string
	DocumentIDs []string
}

// Submit validates a request against its leave type's rules and the
// current balance, then persists it as pending. Types that require no
// approval are approved immediately by the system actor.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Application, error) {
	lt, err := s.policies.Get(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, err
	}
	if !lt.IsActive {
		return nil, &PolicyViolationError{Detail: fmt.Sprintf("leave type %q is inactive", lt.Name)}
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return nil, ErrInvalidDateRange
	}
	if in.EndDate.Before(in.StartDate) {
		return nil, ErrInvalidDateRange
	}
	if lt.RequiresReason && in.Reason == "" {
		return nil, &PolicyViolationError{Detail: fmt.Sprintf("leave type %q requires a reason", lt.Name)}
	}
	if lt.RequiresDocumentation {
		if len(in.DocumentIDs) == 0 {
			return nil, &PolicyViolationError{Detail: fmt.Sprintf("leave type %q requires supporting documents", lt.Name)}
		}
		if err := s.verifyDocuments(ctx, in.DocumentIDs); err != nil {
			return nil, err
		}
	}

	totalDays := BusinessDays(in.StartDate, in.EndDate, s.cal)
	if !totalDays.IsPositive() {
		return nil, &PolicyViolationError{Detail: "requested range contains no working days"}
	}

	deptID, err := s.dir.DepartmentOf(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	app := &Application{
		ID:           ApplicationID(uuid.NewString()),
		UserID:       in.UserID,
		LeaveTypeID:  in.LeaveTypeID,
		DepartmentID: deptID,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		TotalDays:    totalDays,
		Reason:       in.Reason,
		DocumentIDs:  in.DocumentIDs,
		Status:       StatusPending,
		CreatedAt:    s.now(),
	}

	if err := s.ledger.ReserveUsage(ctx, app.BalanceKey(), totalDays, false); err != nil {
		return nil, err
	}
	if err := s.apps.SaveApplication(ctx, app); err != nil {
		return nil, err
	}

	s.emit(ctx, appEvent(event.ApplicationSubmitted, app, string(in.UserID)))

	if !lt.RequiresApproval {
		if err := s.approve(ctx, app.ID, Actor{ID: SystemActorID, Role: RoleStaff}, "auto-approved", true); err != nil {
			return nil, err
		}
		return s.apps.GetApplication(ctx, app.ID)
	}
	return app, nil
}

func (s *Service) verifyDocuments(ctx context.Context, ids []string) error {
	if s.docs == nil {
		return nil
	}
	for _, id := range ids {
		ok, err := s.docs.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return &PolicyViolationError{Detail: fmt.Sprintf("document %q does not exist", id)}
		}
	}
	return nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Approve transitions a pending application to approved and posts its
// usage entry in one transaction.
func (s *Service) Approve(ctx context.Context, id ApplicationID, actorID, comments string) error {
	actor, err := s.dir.Actor(ctx, actorID)
	if err != nil {
		return err
	}
	return s.approve(ctx, id, actor, comments, false)
}

func (s *Service) approve(ctx context.Context, id ApplicationID, actor Actor, comments string, system bool) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return err
	}
	if app.Status != StatusPending {
		return &InvalidTransitionError{From: app.Status, Action: ActionApprove}
	}
	if !system && !CanTransition(actor, app, ActionApprove) {
		return ErrUnauthorized
	}

	next := *app
	now := s.now()
	next.Status = StatusApproved
	next.ApproverID = actor.ID
	next.Comments = comments
	next.DecidedAt = &now

	override := actor.Role == RoleAdmin
	err = s.uow.WithTx(ctx, func(ls ledger.Store, as ApplicationStore) error {
		bound := s.ledger.Bound(ls)
		if err := bound.PostUsage(ctx, next.ID, next.BalanceKey(), next.TotalDays, actor.ID, override); err != nil {
			return err
		}
		return as.SaveApplication(ctx, &next)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, appEvent(event.ApplicationApproved, &next, actor.ID))
	return nil
}

// Reject transitions a pending application to rejected. The ledger is
// untouched; nothing was ever posted for a pending request.
func (s *Service) Reject(ctx context.Context, id ApplicationID, actorID, comments string) error {
	actor, err := s.dir.Actor(ctx, actorID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return err
	}
	if app.Status != StatusPending {
		return &InvalidTransitionError{From: app.Status, Action: ActionReject}
	}
	if !CanTransition(actor, app, ActionReject) {
		return ErrUnauthorized
	}

	next := *app
	now := s.now()
	next.Status = StatusRejected
	next.ApproverID = actor.ID
	next.Comments = comments
	next.DecidedAt = &now
	if err := s.apps.SaveApplication(ctx, &next); err != nil {
		return err
	}

	s.emit(ctx, appEvent(event.ApplicationRejected, &next, actor.ID))
	return nil
}

// Cancel withdraws an application. Pending applications cancel freely.
// Approved applications cancel only while the leave has not elapsed
// (admins may cancel afterwards) and the cancellation reverses the usage
// in one transaction with the status change.
func (s *Service) Cancel(ctx context.Context, id ApplicationID, actorID, comments string) error {
	actor, err := s.dir.Actor(ctx, actorID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(actor, app, ActionCancel) {
		return ErrUnauthorized
	}

	next := *app
	now := s.now()
	next.Status = StatusCancelled
	next.Comments = comments
	next.DecidedAt = &now

	switch app.Status {
	case StatusPending:
		if err := s.apps.SaveApplication(ctx, &next); err != nil {
			return err
		}

	case StatusApproved:
		if app.Elapsed(now) && actor.Role != RoleAdmin {
			return &InvalidTransitionError{From: app.Status, Action: ActionCancel}
		}
		err = s.uow.WithTx(ctx, func(ls ledger.Store, as ApplicationStore) error {
			bound := s.ledger.Bound(ls)
			if err := bound.ReverseUsage(ctx, next.ID, actor.ID, "application cancelled"); err != nil {
				return err
			}
			return as.SaveApplication(ctx, &next)
		})
		if err != nil {
			return err
		}

	default:
		return &InvalidTransitionError{From: app.Status, Action: ActionCancel}
	}

	s.emit(ctx, appEvent(event.ApplicationCancelled, &next, actor.ID))
	return nil
}

// =============================================================================
// BULK DECISIONS
// =============================================================================

// BulkDecide applies one action to many applications. Items are
// independent: one failure never aborts the rest, and every input ID is
// accounted for exactly once in the result.
func (s *Service) BulkDecide(ctx context.Context, ids []ApplicationID, action Action, actorID, comments string) (bulk.Result, error) {
	if !action.Valid() {
		return bulk.Result{}, fmt.Errorf("unknown bulk action %q", action)
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	res := bulk.Apply(ctx, raw, bulk.DefaultLimit, func(ctx context.Context, id string) error {
		switch action {
		case ActionApprove:
			return s.Approve(ctx, ApplicationID(id), actorID, comments)
		case ActionReject:
			return s.Reject(ctx, ApplicationID(id), actorID, comments)
		default:
			return s.Cancel(ctx, ApplicationID(id), actorID, comments)
		}
	})
	return res, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns one application.
func (s *Service) Get(ctx context.Context, id ApplicationID) (*Application, error) {
	return s.apps.GetApplication(ctx, id)
}

// ListByUser returns a user's applications.
func (s *Service) ListByUser(ctx context.Context, userID ledger.UserID) ([]*Application, error) {
	return s.apps.ListApplicationsByUser(ctx, userID)
}

// PendingFor returns the pending queue visible to an actor: everything for
// admins, managed departments for managers, nothing for staff.
func (s *Service) PendingFor(ctx context.Context, actorID string) ([]*Application, error) {
	actor, err := s.dir.Actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	pending, err := s.apps.ListApplicationsByStatus(ctx, StatusPending)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case RoleAdmin:
		return pending, nil
	case RoleManager:
		visible := pending[:0:0]
		for _, app := range pending {
			if actor.Manages(app.DepartmentID) {
				visible = append(visible, app)
			}
		}
		return visible, nil
	}
	return nil, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func appEvent(kind event.Kind, app *Application, actorID string) event.Event {
	return event.Event{
		Kind:          kind,
		UserID:        string(app.UserID),
		LeaveTypeID:   string(app.LeaveTypeID),
		ApplicationID: string(app.ID),
		ActorID:       actorID,
		Year:          app.StartDate.Year(),
		Days:          app.TotalDays,
		At:            app.CreatedAt,
	}
}

func (s *Service) emit(ctx context.Context, e event.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.WarnContext(ctx, "event publish failed", "kind", string(e.Kind), "error", err)
	}
}

// appLocks serializes transitions per application ID.
type appLocks struct {
	mu    sync.Mutex
	locks map[ApplicationID]*sync.Mutex
}

func newAppLocks() *appLocks {
	return &appLocks{locks: make(map[ApplicationID]*sync.Mutex)}
}

func (l *appLocks) Lock(id ApplicationID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
