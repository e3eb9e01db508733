/*
scheduler.go - Periodic accrual and carryover runner

PURPOSE:
  Posts the monthly accrual for every directory user and closes the
  previous year once each leave type's carryover cutoff passes. Runs as a
  background ticker; both jobs are idempotent, so at-least-once firing is
  safe and the same code paths serve the manual admin endpoints.

DESIGN:
  - One goroutine, configurable check interval
  - Each tick: accrual for the current month, then carryover for any type
    whose cutoff date has passed this year
  - Per-user failures are collected and logged, never fatal

USAGE:
  sched := NewScheduler(ledgerSvc, registry, dir, logger)
  sched.Start()
  defer sched.Stop()

SEE ALSO:
  - handlers.go: RunAccrual / RunCarryover endpoints
  - ledger/service.go: idempotent posting
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/leave-engine/bulk"
	"github.com/warp/leave-engine/directory"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/policy"
)

// Scheduler drives periodic accrual and carryover runs.
type Scheduler struct {
	Ledger    *ledger.Service
	Policies  *policy.Registry
	Directory *directory.Static

	Interval time.Duration
	Enabled  bool

	log    *slog.Logger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler with a one-hour check interval.
func NewScheduler(ls *ledger.Service, reg *policy.Registry, dir *directory.Static, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		Ledger:    ls,
		Policies:  reg,
		Directory: dir,
		Interval:  time.Hour,
		Enabled:   true,
		log:       log,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// Start begins the background loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()
	s.log.Info("scheduler started", "interval", s.Interval.String())
}

// Stop halts the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.tick()
	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	now := s.now()

	if res, err := s.RunAccrual(ctx, now.Year(), now.Month()); err != nil {
		s.log.Error("accrual run failed", "error", err)
	} else if len(res.Failed) > 0 {
		s.log.Warn("accrual run had failures", "failed", len(res.Failed), "processed", res.Processed)
	}

	types, err := s.Policies.List(ctx)
	if err != nil {
		s.log.Error("carryover run failed", "error", err)
		return
	}
	for _, lt := range types {
		cutoff := lt.CarryoverExpiry
		if cutoff.IsZero() {
			cutoff = policy.DefaultCarryoverExpiry
		}
		if now.Before(cutoff.DateIn(now.Year())) {
			continue
		}
		res := s.runCarryoverForType(ctx, lt, now.Year()-1)
		if len(res.Failed) > 0 {
			s.log.Warn("carryover run had failures", "leave_type", string(lt.ID),
				"failed", len(res.Failed), "processed", res.Processed)
		}
	}
}

// RunAccrual posts one month's accrual for every user and active leave
// type. Already-accrued months are skipped by idempotency.
func (s *Scheduler) RunAccrual(ctx context.Context, year int, month time.Month) (RunResultDTO, error) {
	types, err := s.Policies.Active(ctx)
	if err != nil {
		return RunResultDTO{}, err
	}
	accruing := types[:0:0]
	for _, lt := range types {
		if lt.AccrualRate.IsPositive() {
			accruing = append(accruing, lt)
		}
	}
	users, err := s.Directory.Users(ctx)
	if err != nil {
		return RunResultDTO{}, err
	}

	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	res := bulk.Apply(ctx, ids, bulk.DefaultLimit, func(ctx context.Context, id string) error {
		for _, lt := range accruing {
			if err := s.Ledger.PostAccrual(ctx, ledger.UserID(id), lt.ID, year, month); err != nil {
				return err
			}
		}
		return nil
	})
	return toRunResultDTO(res), nil
}

// RunCarryover closes fromYear for every user and leave type. Types that
// disallow carryover forfeit the whole remaining balance.
func (s *Scheduler) RunCarryover(ctx context.Context, fromYear int) (RunResultDTO, error) {
	types, err := s.Policies.List(ctx)
	if err != nil {
		return RunResultDTO{}, err
	}
	total := RunResultDTO{Failed: []BulkFailure{}}
	for _, lt := range types {
		res := s.runCarryoverForType(ctx, lt, fromYear)
		total.Processed += res.Processed
		total.Failed = append(total.Failed, res.Failed...)
	}
	return total, nil
}

func (s *Scheduler) runCarryoverForType(ctx context.Context, lt policy.LeaveType, fromYear int) RunResultDTO {
	users, err := s.Directory.Users(ctx)
	if err != nil {
		s.log.Error("list users for carryover", "error", err)
		return RunResultDTO{}
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	res := bulk.Apply(ctx, ids, bulk.DefaultLimit, func(ctx context.Context, id string) error {
		_, err := s.Ledger.ApplyYearEndCarryover(ctx, ledger.UserID(id), lt.ID, fromYear)
		return err
	})
	return toRunResultDTO(res)
}

func toRunResultDTO(res bulk.Result) RunResultDTO {
	out := RunResultDTO{Processed: len(res.Succeeded)}
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, BulkFailure{ID: f.ID, Error: f.Err.Error()})
	}
	return out
}
