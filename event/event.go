/*
event.go - Domain events and the notification sink boundary

PURPOSE:
  Every state change that the outside world might care about (submission,
  decision, balance correction, year-end carryover) is published as an
  Event to a Sink. The engine never depends on delivery: a failing sink is
  logged and the transition stands.

KEY CONCEPTS:
  Sink: the outbound boundary. Real deployments plug in mail, chat or a
  message bus behind this interface; the engine ships a no-op sink and a
  slog-backed sink.

  Publish happens after persistence. A sink error never rolls back the
  state change that produced the event.

SEE ALSO:
  - ledger/service.go, workflow/service.go: publishers
*/
package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names the class of event.
type Kind string

const (
	ApplicationSubmitted Kind = "application.submitted"
	ApplicationApproved  Kind = "application.approved"
	ApplicationRejected  Kind = "application.rejected"
	ApplicationCancelled Kind = "application.cancelled"
	BalanceAdjusted      Kind = "balance.adjusted"
	CarryoverApplied     Kind = "carryover.applied"
	AccrualPosted        Kind = "accrual.posted"
)

// Event is one domain occurrence. Fields are plain strings so sinks do not
// need the domain packages.
type Event struct {
	Kind          Kind            `json:"kind"`
	UserID        string          `json:"user_id,omitempty"`
	LeaveTypeID   string          `json:"leave_type_id,omitempty"`
	ApplicationID string          `json:"application_id,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	Year          int             `json:"year,omitempty"`
	Days          decimal.Decimal `json:"days,omitempty"`
	Detail        string          `json:"detail,omitempty"`
	At            time.Time       `json:"at"`
}

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }

// LogSink writes events to a structured logger. Useful default for
// deployments without a real notification channel.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "domain event",
		"kind", string(e.Kind),
		"user_id", e.UserID,
		"leave_type_id", e.LeaveTypeID,
		"application_id", e.ApplicationID,
		"actor_id", e.ActorID,
		"days", e.Days.String(),
	)
	return nil
}
