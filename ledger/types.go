/*
types.go - Core ledger types for leave balances

PURPOSE:
  Defines the append-only ledger vocabulary: entries, entry kinds, balance
  keys, and the folded Balance view. A balance is never stored as a mutable
  number; it is always derived by folding the entries posted under its key.

KEY CONCEPTS:
  BalanceKey: (UserID, LeaveTypeID, Year) - the unit of balance tracking.
    A user's vacation days for 2026 and their sick days for 2026 are two
    independent keys; so are vacation 2025 and vacation 2026.

  Entry: one immutable fact about a balance. Corrections are new entries
    (reversals, adjustments), never edits. Every entry carries a signed
    Delta in days and, when produced by an idempotent operation, an
    IdempotencyKey that the store enforces as unique.

  Balance: the fold of all entries under a key. Remaining is the signed sum
    of every delta; the component fields (Accrued, Used, ...) break that sum
    down by kind for display and audit.

EXAMPLE:
  key := ledger.BalanceKey{UserID: "emp-7", LeaveTypeID: "annual", Year: 2026}
  entries, _ := store.Entries(ctx, key)
  bal := ledger.Fold(key, entries)
  fmt.Println(bal.Remaining) // e.g. 12.5

SEE ALSO:
  - service.go: operations that append entries
  - store.go: persistence interfaces
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID identifies an employee in the external directory.
type UserID string

// LeaveTypeID identifies a leave type definition.
type LeaveTypeID string

// EntryID uniquely identifies a ledger entry.
type EntryID string

// ApplicationID identifies a leave application in the workflow layer.
// The ledger only treats it as an opaque reference on usage entries.
type ApplicationID string

// BalanceKey is the unit of balance tracking.
type BalanceKey struct {
	UserID      UserID      `json:"user_id"`
	LeaveTypeID LeaveTypeID `json:"leave_type_id"`
	Year        int         `json:"year"`
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.UserID, k.LeaveTypeID, k.Year)
}

// Next returns the same user/type key for the following year.
func (k BalanceKey) Next() BalanceKey {
	return BalanceKey{UserID: k.UserID, LeaveTypeID: k.LeaveTypeID, Year: k.Year + 1}
}

// =============================================================================
// ENTRIES
// =============================================================================

// EntryKind classifies ledger entries. The kind determines which bucket of
// the folded balance a delta lands in; the delta sign is still explicit.
type EntryKind string

const (
	// KindAccrual credits days earned over time (monthly accrual).
	KindAccrual EntryKind = "accrual"
	// KindUsage debits days consumed by an approved application.
	KindUsage EntryKind = "usage"
	// KindReversal credits back a previously posted usage (cancellation).
	KindReversal EntryKind = "reversal"
	// KindCarryover credits days brought forward from the previous year.
	KindCarryover EntryKind = "carryover"
	// KindForfeit debits days lost at year end beyond the carryover cap.
	KindForfeit EntryKind = "forfeit"
	// KindAdjustment is a signed manual correction by an administrator.
	KindAdjustment EntryKind = "admin_adjustment"
)

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	switch k {
	case KindAccrual, KindUsage, KindReversal, KindCarryover, KindForfeit, KindAdjustment:
		return true
	}
	return false
}

// Entry is one immutable ledger fact. Entries are appended, never edited.
type Entry struct {
	ID             EntryID         `json:"id"`
	Key            BalanceKey      `json:"key"`
	Kind           EntryKind       `json:"kind"`
	Delta          decimal.Decimal `json:"delta"`
	EffectiveYear  int             `json:"effective_year"`
	EffectiveMonth time.Month      `json:"effective_month,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	ActorID        string          `json:"actor_id,omitempty"`
	ApplicationID  ApplicationID   `json:"application_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// =============================================================================
// BALANCE (FOLDED VIEW)
// =============================================================================

// Balance is the derived state of one balance key. All fields are computed
// from entries; none are stored.
type Balance struct {
	Key         BalanceKey      `json:"key"`
	Accrued     decimal.Decimal `json:"accrued"`
	CarriedOver decimal.Decimal `json:"carried_over"`
	Forfeited   decimal.Decimal `json:"forfeited"`
	Adjustments decimal.Decimal `json:"adjustments"`
	Used        decimal.Decimal `json:"used"`
	Total       decimal.Decimal `json:"total"`
	Remaining   decimal.Decimal `json:"remaining"`
	Entries     int             `json:"entries"`

	// Implicit is true when the key has no entries and the view was
	// synthesized from the leave type's default entitlement. Nothing was
	// posted; the first real entry replaces this view entirely.
	Implicit bool `json:"implicit,omitempty"`
}

// Fold derives a Balance from the entries of a single key.
//
// Accrued, CarriedOver and Adjustments carry the sign of their deltas.
// Forfeited and Used are reported as positive magnitudes. Remaining is the
// signed sum of every delta, which always equals Total - Used.
func Fold(key BalanceKey, entries []Entry) Balance {
	b := Balance{Key: key, Entries: len(entries)}
	for _, e := range entries {
		switch e.Kind {
		case KindAccrual:
			b.Accrued = b.Accrued.Add(e.Delta)
		case KindCarryover:
			b.CarriedOver = b.CarriedOver.Add(e.Delta)
		case KindForfeit:
			b.Forfeited = b.Forfeited.Sub(e.Delta)
		case KindAdjustment:
			b.Adjustments = b.Adjustments.Add(e.Delta)
		case KindUsage, KindReversal:
			b.Used = b.Used.Sub(e.Delta)
		}
	}
	b.Total = b.Accrued.Add(b.CarriedOver).Sub(b.Forfeited).Add(b.Adjustments)
	b.Remaining = b.Total.Sub(b.Used)
	return b
}

// Days builds a day amount from a float literal. Test and wiring helper;
// production paths should carry decimals end to end.
func Days(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
