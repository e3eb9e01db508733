/*
service.go - Balance ledger operations

PURPOSE:
  The single write path for leave balances. Every change to a balance is an
  appended entry; this service enforces the posting rules (idempotent
  accrual, usage tied to an application, reversal exactly once, mandatory
  adjustment reasons, capped year-end carryover) and serializes concurrent
  posts per balance key.

KEY CONCEPTS:
  Check-at-both-times reservation: ReserveUsage only verifies that a
  requested usage would fit - it posts nothing. The debit is posted by
  PostUsage when the application is approved, which re-checks the balance
  under the key lock.

  Idempotency: accrual, carryover and reversal entries carry deterministic
  idempotency keys. The service checks before posting and the store's
  unique constraint backstops concurrent duplicates.

  Bound: approve/cancel flows run the ledger post and the application
  update in one store transaction. Bound returns a copy of the service
  whose store is the transaction-scoped one while sharing the key locks,
  so in-transaction posts still serialize with everything else.

SEE ALSO:
  - types.go: Entry, Balance, Fold
  - workflow/service.go: the caller for usage/reversal
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/bulk"
	"github.com/warp/leave-engine/event"
)

// =============================================================================
// POLICY BOUNDARY
// =============================================================================

// PolicyFacts is the slice of a leave type definition the ledger needs.
type PolicyFacts struct {
	DefaultDays      decimal.Decimal
	AccrualRate      decimal.Decimal
	CanCarryOver     bool
	MaxCarryOverDays decimal.Decimal
	Active           bool
}

// PolicyReader resolves leave type facts. Implemented by policy.Registry.
type PolicyReader interface {
	Facts(ctx context.Context, id LeaveTypeID) (PolicyFacts, error)
}

// =============================================================================
// IDEMPOTENCY KEYS
// =============================================================================

// AccrualKey is the idempotency key for one (user, type, month) accrual.
func AccrualKey(userID UserID, typeID LeaveTypeID, year int, month time.Month) string {
	return fmt.Sprintf("accrual:%s:%s:%d-%02d", userID, typeID, year, int(month))
}

// UsageKey is the idempotency key for an application's usage entry.
func UsageKey(appID ApplicationID) string {
	return "usage:" + string(appID)
}

// ReversalKey is the idempotency key for an application's reversal entry.
func ReversalKey(appID ApplicationID) string {
	return "reversal:" + string(appID)
}

// CarryoverKey is the idempotency key for one (user, type, fromYear)
// carryover run.
func CarryoverKey(userID UserID, typeID LeaveTypeID, fromYear int) string {
	return fmt.Sprintf("carryover:%s:%s:%d", userID, typeID, fromYear)
}

// ForfeitKey is the idempotency key for the forfeit posted by a carryover
// run.
func ForfeitKey(userID UserID, typeID LeaveTypeID, fromYear int) string {
	return fmt.Sprintf("forfeit:%s:%s:%d", userID, typeID, fromYear)
}

// =============================================================================
// SERVICE
// =============================================================================

// Service implements the balance ledger operations over a Store.
type Service struct {
	store    Store
	policies PolicyReader
	events   event.Sink
	locks    *keyedMutex
	now      func() time.Time
	log      *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock injects a deterministic clock. Tests use this.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEvents sets the sink receiving ledger events.
func WithEvents(sink event.Sink) Option {
	return func(s *Service) { s.events = sink }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService builds a ledger service.
func NewService(store Store, policies PolicyReader, opts ...Option) *Service {
	s := &Service{
		store:    store,
		policies: policies,
		events:   event.NopSink{},
		locks:    newKeyedMutex(),
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bound returns a copy of the service writing through st, typically a
// transaction-scoped store. Key locks, clock and sink are shared with the
// parent so serialization guarantees hold across the transaction boundary.
func (s *Service) Bound(st Store) *Service {
	bound := *s
	bound.store = st
	return &bound
}

// =============================================================================
// QUERIES
// =============================================================================

// GetBalance folds the entries of a key. A key with no entries yields an
// implicit view seeded from the leave type's default entitlement; nothing
// is posted and the first real entry makes the fold authoritative.
func (s *Service) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	entries, err := s.store.Entries(ctx, key)
	if err != nil {
		return Balance{}, err
	}
	if len(entries) > 0 {
		return Fold(key, entries), nil
	}
	facts, err := s.policies.Facts(ctx, key.LeaveTypeID)
	if err != nil {
		return Balance{}, err
	}
	return implicitBalance(key, facts), nil
}

func implicitBalance(key BalanceKey, facts PolicyFacts) Balance {
	return Balance{
		Key:       key,
		Accrued:   facts.DefaultDays,
		Total:     facts.DefaultDays,
		Remaining: facts.DefaultDays,
		Implicit:  true,
	}
}

// History returns the full audit trail of a key, oldest first.
func (s *Service) History(ctx context.Context, key BalanceKey) ([]Entry, error) {
	return s.store.Entries(ctx, key)
}

// UserBalances folds one balance per requested leave type for a user and
// year. Types without entries come back as implicit views.
func (s *Service) UserBalances(ctx context.Context, userID UserID, year int, typeIDs []LeaveTypeID) ([]Balance, error) {
	entries, err := s.store.EntriesByUser(ctx, userID, year)
	if err != nil {
		return nil, err
	}
	byType := make(map[LeaveTypeID][]Entry)
	for _, e := range entries {
		byType[e.Key.LeaveTypeID] = append(byType[e.Key.LeaveTypeID], e)
	}

	balances := make([]Balance, 0, len(typeIDs))
	for _, typeID := range typeIDs {
		key := BalanceKey{UserID: userID, LeaveTypeID: typeID, Year: year}
		if es := byType[typeID]; len(es) > 0 {
			balances = append(balances, Fold(key, es))
			continue
		}
		facts, err := s.policies.Facts(ctx, typeID)
		if err != nil {
			return nil, err
		}
		balances = append(balances, implicitBalance(key, facts))
	}
	return balances, nil
}

// =============================================================================
// ACCRUAL
// =============================================================================

// PostAccrual credits one month's accrual for a key. Repeating a month is a
// silent no-op; the scheduler fires at least once and relies on this.
func (s *Service) PostAccrual(ctx context.Context, userID UserID, typeID LeaveTypeID, year int, month time.Month) error {
	facts, err := s.policies.Facts(ctx, typeID)
	if err != nil {
		return err
	}
	if !facts.AccrualRate.IsPositive() {
		return nil
	}

	key := BalanceKey{UserID: userID, LeaveTypeID: typeID, Year: year}
	unlock := s.locks.Lock(key)
	defer unlock()

	idem := AccrualKey(userID, typeID, year, month)
	posted, err := s.store.Exists(ctx, idem)
	if err != nil {
		return err
	}
	if posted {
		return nil
	}

	entry := Entry{
		ID:             EntryID(uuid.NewString()),
		Key:            key,
		Kind:           KindAccrual,
		Delta:          facts.AccrualRate,
		EffectiveYear:  year,
		EffectiveMonth: month,
		IdempotencyKey: idem,
		CreatedAt:      s.now(),
	}
	if err := s.store.Append(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateOperation) {
			return nil
		}
		return err
	}

	s.emit(ctx, event.Event{
		Kind:        event.AccrualPosted,
		UserID:      string(userID),
		LeaveTypeID: string(typeID),
		Year:        year,
		Days:        facts.AccrualRate,
		At:          s.now(),
	})
	return nil
}

// =============================================================================
// USAGE
// =============================================================================

// ReserveUsage verifies that days would fit in the key's remaining balance.
// Nothing is posted. With override true the check is skipped entirely and
// the balance may later go negative.
func (s *Service) ReserveUsage(ctx context.Context, key BalanceKey, days decimal.Decimal, override bool) error {
	if override {
		return nil
	}
	unlock := s.locks.Lock(key)
	defer unlock()
	return s.checkAvailable(ctx, key, days)
}

func (s *Service) checkAvailable(ctx context.Context, key BalanceKey, days decimal.Decimal) error {
	bal, err := s.GetBalance(ctx, key)
	if err != nil {
		return err
	}
	if days.GreaterThan(bal.Remaining) {
		return &InsufficientBalanceError{Key: key, Available: bal.Remaining, Requested: days}
	}
	return nil
}

// PostUsage debits days for an approved application. At most one usage
// entry may exist per application; a second post fails with
// DuplicateOperation. Unless override is set, the balance is re-checked
// under the key lock before posting.
func (s *Service) PostUsage(ctx context.Context, appID ApplicationID, key BalanceKey, days decimal.Decimal, actorID string, override bool) error {
	if !days.IsPositive() {
		return fmt.Errorf("%w: usage days must be positive", ErrInvalidEntry)
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	existing, err := s.store.EntriesByApplication(ctx, appID)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Kind == KindUsage {
			return &DuplicateOperationError{IdempotencyKey: UsageKey(appID)}
		}
	}

	if !override {
		if err := s.checkAvailable(ctx, key, days); err != nil {
			return err
		}
	}

	entry := Entry{
		ID:             EntryID(uuid.NewString()),
		Key:            key,
		Kind:           KindUsage,
		Delta:          days.Neg(),
		EffectiveYear:  key.Year,
		ActorID:        actorID,
		ApplicationID:  appID,
		IdempotencyKey: UsageKey(appID),
		CreatedAt:      s.now(),
	}
	return s.store.Append(ctx, entry)
}

// ReverseUsage credits back an application's usage, exactly once. Reversing
// an application with no usage fails with NotFound; reversing twice fails
// with DuplicateOperation.
func (s *Service) ReverseUsage(ctx context.Context, appID ApplicationID, actorID, reason string) error {
	related, err := s.store.EntriesByApplication(ctx, appID)
	if err != nil {
		return err
	}
	var usage *Entry
	for i := range related {
		switch related[i].Kind {
		case KindUsage:
			usage = &related[i]
		case KindReversal:
			return &DuplicateOperationError{IdempotencyKey: ReversalKey(appID)}
		}
	}
	if usage == nil {
		return fmt.Errorf("no usage posted for application %s: %w", appID, ErrNotFound)
	}

	unlock := s.locks.Lock(usage.Key)
	defer unlock()

	// Re-check under the lock; a concurrent reversal may have landed.
	posted, err := s.store.Exists(ctx, ReversalKey(appID))
	if err != nil {
		return err
	}
	if posted {
		return &DuplicateOperationError{IdempotencyKey: ReversalKey(appID)}
	}

	entry := Entry{
		ID:             EntryID(uuid.NewString()),
		Key:            usage.Key,
		Kind:           KindReversal,
		Delta:          usage.Delta.Neg(),
		EffectiveYear:  usage.Key.Year,
		Reason:         reason,
		ActorID:        actorID,
		ApplicationID:  appID,
		IdempotencyKey: ReversalKey(appID),
		CreatedAt:      s.now(),
	}
	return s.store.Append(ctx, entry)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// PostAdjustment posts a signed manual correction. A reason is mandatory;
// negative adjustments may push the balance below zero.
func (s *Service) PostAdjustment(ctx context.Context, key BalanceKey, delta decimal.Decimal, reason, actorID string) error {
	if reason == "" {
		return ErrReasonRequired
	}
	if delta.IsZero() {
		return fmt.Errorf("%w: adjustment delta must be non-zero", ErrInvalidEntry)
	}
	if _, err := s.policies.Facts(ctx, key.LeaveTypeID); err != nil {
		return err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	entry := Entry{
		ID:            EntryID(uuid.NewString()),
		Key:           key,
		Kind:          KindAdjustment,
		Delta:         delta,
		EffectiveYear: key.Year,
		Reason:        reason,
		ActorID:       actorID,
		CreatedAt:     s.now(),
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return err
	}

	s.emit(ctx, event.Event{
		Kind:        event.BalanceAdjusted,
		UserID:      string(key.UserID),
		LeaveTypeID: string(key.LeaveTypeID),
		ActorID:     actorID,
		Year:        key.Year,
		Days:        delta,
		Detail:      reason,
		At:          s.now(),
	})
	return nil
}

// BulkAdjust posts the same adjustment for many users. Items are
// independent; the result reports every user exactly once.
func (s *Service) BulkAdjust(ctx context.Context, userIDs []UserID, typeID LeaveTypeID, year int, delta decimal.Decimal, reason, actorID string) bulk.Result {
	ids := make([]string, len(userIDs))
	for i, u := range userIDs {
		ids[i] = string(u)
	}
	return bulk.Apply(ctx, ids, bulk.DefaultLimit, func(ctx context.Context, id string) error {
		key := BalanceKey{UserID: UserID(id), LeaveTypeID: typeID, Year: year}
		return s.PostAdjustment(ctx, key, delta, reason, actorID)
	})
}

// =============================================================================
// YEAR-END CARRYOVER
// =============================================================================

// CarryoverResult reports what a carryover run did for one key.
type CarryoverResult struct {
	Key         BalanceKey      `json:"key"`
	Remaining   decimal.Decimal `json:"remaining"`
	CarriedOver decimal.Decimal `json:"carried_over"`
	Forfeited   decimal.Decimal `json:"forfeited"`
	Applied     bool            `json:"applied"`
}

// ApplyYearEndCarryover closes a key's year: up to the type's carryover cap
// of the remaining balance is credited into the following year and the rest
// is forfeited. Running twice for the same key is a no-op. A key that never
// posted an entry carries nothing; the implicit default view is not a
// balance to move.
func (s *Service) ApplyYearEndCarryover(ctx context.Context, userID UserID, typeID LeaveTypeID, fromYear int) (CarryoverResult, error) {
	facts, err := s.policies.Facts(ctx, typeID)
	if err != nil {
		return CarryoverResult{}, err
	}

	from := BalanceKey{UserID: userID, LeaveTypeID: typeID, Year: fromYear}
	to := from.Next()
	unlock := s.locks.LockPair(from, to)
	defer unlock()

	result := CarryoverResult{Key: from}

	for _, idem := range []string{CarryoverKey(userID, typeID, fromYear), ForfeitKey(userID, typeID, fromYear)} {
		posted, err := s.store.Exists(ctx, idem)
		if err != nil {
			return CarryoverResult{}, err
		}
		if posted {
			return result, nil
		}
	}

	entries, err := s.store.Entries(ctx, from)
	if err != nil {
		return CarryoverResult{}, err
	}
	if len(entries) == 0 {
		return result, nil
	}

	remaining := Fold(from, entries).Remaining
	result.Remaining = remaining
	if !remaining.IsPositive() {
		return result, nil
	}

	carry := decimal.Zero
	if facts.CanCarryOver {
		carry = decimal.Min(remaining, facts.MaxCarryOverDays)
		if carry.IsNegative() {
			carry = decimal.Zero
		}
	}
	forfeit := remaining.Sub(carry)

	now := s.now()
	var batch []Entry
	if forfeit.IsPositive() {
		batch = append(batch, Entry{
			ID:             EntryID(uuid.NewString()),
			Key:            from,
			Kind:           KindForfeit,
			Delta:          forfeit.Neg(),
			EffectiveYear:  fromYear,
			Reason:         "year-end forfeit beyond carryover cap",
			IdempotencyKey: ForfeitKey(userID, typeID, fromYear),
			CreatedAt:      now,
		})
	}
	if carry.IsPositive() {
		batch = append(batch, Entry{
			ID:             EntryID(uuid.NewString()),
			Key:            to,
			Kind:           KindCarryover,
			Delta:          carry,
			EffectiveYear:  to.Year,
			Reason:         fmt.Sprintf("carried over from %d", fromYear),
			IdempotencyKey: CarryoverKey(userID, typeID, fromYear),
			CreatedAt:      now,
		})
	}
	if len(batch) == 0 {
		return result, nil
	}

	if err := s.store.AppendBatch(ctx, batch); err != nil {
		if errors.Is(err, ErrDuplicateOperation) {
			return result, nil
		}
		return CarryoverResult{}, err
	}

	result.CarriedOver = carry
	result.Forfeited = forfeit
	result.Applied = true

	s.emit(ctx, event.Event{
		Kind:        event.CarryoverApplied,
		UserID:      string(userID),
		LeaveTypeID: string(typeID),
		Year:        fromYear,
		Days:        carry,
		At:          now,
	})
	return result, nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Service) emit(ctx context.Context, e event.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.WarnContext(ctx, "event publish failed", "kind", string(e.Kind), "error", err)
	}
}
