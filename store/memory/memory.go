/*
memory.go - In-memory store for tests and development

PURPOSE:
  One Store implements every persistence boundary of the engine: the
  append-only ledger, leave type definitions and applications, plus the
  unit-of-work. The ledger is held as a single ordered log; queries scan
  it, which keeps the implementation obviously correct at dev/test sizes.

KEY CONCEPTS:
  Transactions serialize on txMu and roll back by snapshot restore: the
  whole state is copied before the callback runs and restored if it
  errors. Individual operations remain goroutine-safe through mu.

SEE ALSO:
  - store/sqlite/sqlite.go: the production store
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/workflow"
)

// Store is the in-memory implementation of the engine's stores.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	log   []ledger.Entry
	idem  map[string]ledger.EntryID
	apps  map[workflow.ApplicationID]workflow.Application
	types map[ledger.LeaveTypeID]policy.LeaveType
}

// New builds an empty store.
func New() *Store {
	return &Store{
		idem:  make(map[string]ledger.EntryID),
		apps:  make(map[workflow.ApplicationID]workflow.Application),
		types: make(map[ledger.LeaveTypeID]policy.LeaveType),
	}
}

var (
	_ ledger.Store              = (*Store)(nil)
	_ policy.Store              = (*Store)(nil)
	_ workflow.ApplicationStore = (*Store)(nil)
	_ workflow.UnitOfWork       = (*Store)(nil)
)

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(e)
}

func (s *Store) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.IdempotencyKey != "" {
			if _, ok := s.idem[e.IdempotencyKey]; ok {
				return &ledger.DuplicateOperationError{IdempotencyKey: e.IdempotencyKey}
			}
		}
	}
	for _, e := range entries {
		if err := s.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendLocked(e ledger.Entry) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ledger.ErrInvalidEntry, e.Kind)
	}
	if e.IdempotencyKey != "" {
		if _, ok := s.idem[e.IdempotencyKey]; ok {
			return &ledger.DuplicateOperationError{IdempotencyKey: e.IdempotencyKey}
		}
		s.idem[e.IdempotencyKey] = e.ID
	}
	s.log = append(s.log, e)
	return nil
}

func (s *Store) Entries(ctx context.Context, key ledger.BalanceKey) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Entry
	for _, e := range s.log {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) EntriesByApplication(ctx context.Context, appID ledger.ApplicationID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Entry
	for _, e := range s.log {
		if e.ApplicationID == appID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) EntriesByUser(ctx context.Context, userID ledger.UserID, year int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Entry
	for _, e := range s.log {
		if e.Key.UserID == userID && (year == 0 || e.Key.Year == year) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idem[idempotencyKey]
	return ok, nil
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func (s *Store) SaveLeaveType(ctx context.Context, lt policy.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[lt.ID] = lt
	return nil
}

func (s *Store) GetLeaveType(ctx context.Context, id ledger.LeaveTypeID) (policy.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lt, ok := s.types[id]
	if !ok {
		return policy.LeaveType{}, fmt.Errorf("%w: %s", policy.ErrNotFound, id)
	}
	return lt, nil
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]policy.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]policy.LeaveType, 0, len(s.types))
	for _, lt := range s.types {
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) LeaveTypeReferenced(ctx context.Context, id ledger.LeaveTypeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.log {
		if e.Key.LeaveTypeID == id {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func (s *Store) SaveApplication(ctx context.Context, app *workflow.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *app
	stored.DocumentIDs = append([]string(nil), app.DocumentIDs...)
	s.apps[app.ID] = stored
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id workflow.ApplicationID) (*workflow.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}
	out := app
	out.DocumentIDs = append([]string(nil), app.DocumentIDs...)
	return &out, nil
}

func (s *Store) ListApplicationsByUser(ctx context.Context, userID ledger.UserID) ([]*workflow.Application, error) {
	return s.listApplications(func(a workflow.Application) bool { return a.UserID == userID })
}

func (s *Store) ListApplicationsByStatus(ctx context.Context, status workflow.Status) ([]*workflow.Application, error) {
	return s.listApplications(func(a workflow.Application) bool { return a.Status == status })
}

func (s *Store) listApplications(match func(workflow.Application) bool) ([]*workflow.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Application
	for _, app := range s.apps {
		if match(app) {
			copied := app
			copied.DocumentIDs = append([]string(nil), app.DocumentIDs...)
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx runs fn against the store and restores the pre-transaction
// snapshot if it fails. Transactions serialize; operations inside fn go
// through the normal goroutine-safe methods.
func (s *Store) WithTx(ctx context.Context, fn func(ls ledger.Store, as workflow.ApplicationStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s, s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	log   []ledger.Entry
	idem  map[string]ledger.EntryID
	apps  map[workflow.ApplicationID]workflow.Application
	types map[ledger.LeaveTypeID]policy.LeaveType
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshot{
		log:   append([]ledger.Entry(nil), s.log...),
		idem:  make(map[string]ledger.EntryID, len(s.idem)),
		apps:  make(map[workflow.ApplicationID]workflow.Application, len(s.apps)),
		types: make(map[ledger.LeaveTypeID]policy.LeaveType, len(s.types)),
	}
	for k, v := range s.idem {
		snap.idem[k] = v
	}
	for k, v := range s.apps {
		snap.apps[k] = v
	}
	for k, v := range s.types {
		snap.types[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = snap.log
	s.idem = snap.idem
	s.apps = snap.apps
	s.types = snap.types
}
