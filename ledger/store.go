/*
store.go - Persistence interfaces for the ledger

PURPOSE:
  Defines what the ledger needs from storage and nothing more. Stores are
  append-only for entries: there is no update or delete. Implementations
  live in store/memory (tests, dev) and store/sqlite (production).

KEY CONCEPTS:
  Idempotency at the store level: Append must reject an entry whose
  IdempotencyKey was already posted, returning ErrDuplicateOperation. The
  service layer usually checks first, but the store's unique constraint is
  what makes concurrent duplicates impossible.

  AppendBatch: all-or-nothing posting of related entries (forfeit +
  carryover at year end).

SEE ALSO:
  - store/memory/memory.go
  - store/sqlite/sqlite.go
*/
package ledger

import "context"

// Store is the append-only persistence boundary for ledger entries.
type Store interface {
	// Append posts one entry. Returns ErrDuplicateOperation (possibly
	// wrapped) when the entry's IdempotencyKey was already posted.
	Append(ctx context.Context, e Entry) error

	// AppendBatch posts several entries atomically. Either all entries are
	// posted or none are.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Entries returns every entry for a key, oldest first.
	Entries(ctx context.Context, key BalanceKey) ([]Entry, error)

	// EntriesByApplication returns every entry referencing an application,
	// oldest first. Used to detect double posting and to find the usage to
	// reverse on cancellation.
	EntriesByApplication(ctx context.Context, appID ApplicationID) ([]Entry, error)

	// EntriesByUser returns every entry for a user in a given year across
	// all leave types, oldest first. Year 0 means all years.
	EntriesByUser(ctx context.Context, userID UserID, year int) ([]Entry, error)

	// Exists reports whether an idempotency key has already been posted.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
