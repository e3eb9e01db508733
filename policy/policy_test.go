package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/store/memory"
)

func newRegistry(t *testing.T) (*policy.Registry, *memory.Store) {
	t.Helper()
	store := memory.New()
	reg := policy.NewRegistry(store).WithClock(func() time.Time {
		return time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	})
	return reg, store
}

func annualType() policy.LeaveType {
	return policy.LeaveType{
		Name:             "Annual Leave",
		DefaultDays:      ledger.Days(24),
		CanCarryOver:     true,
		MaxCarryOverDays: 5,
		RequiresApproval: true,
		IsPaid:           true,
	}
}

func TestCreate_DefaultsAccrualRateToTwelfth(t *testing.T) {
	reg, _ := newRegistry(t)

	lt, err := reg.Create(context.Background(), annualType())
	require.NoError(t, err)

	assert.NotEmpty(t, lt.ID)
	assert.True(t, lt.IsActive)
	assert.True(t, lt.AccrualRate.Equal(ledger.Days(2)), "rate %s", lt.AccrualRate)
	assert.Equal(t, policy.DefaultCarryoverExpiry, lt.CarryoverExpiry)
}

func TestCreate_Validation(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*policy.LeaveType)
	}{
		{"empty name", func(lt *policy.LeaveType) { lt.Name = "  " }},
		{"zero default days", func(lt *policy.LeaveType) { lt.DefaultDays = ledger.Days(0) }},
		{"negative accrual", func(lt *policy.LeaveType) { lt.AccrualRate = ledger.Days(-1) }},
		{"negative carryover cap", func(lt *policy.LeaveType) { lt.MaxCarryOverDays = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lt := annualType()
			tc.mutate(&lt)
			_, err := reg.Create(ctx, lt)
			assert.ErrorIs(t, err, policy.ErrInvalid)
		})
	}
}

func TestCreate_DuplicateNameCaseInsensitive(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	_, err := reg.Create(ctx, annualType())
	require.NoError(t, err)

	dup := annualType()
	dup.Name = "ANNUAL LEAVE"
	_, err = reg.Create(ctx, dup)

	assert.ErrorIs(t, err, policy.ErrDuplicateName)
}

func TestUpdate_FrozenOnceReferenced(t *testing.T) {
	// GIVEN a type referenced by a posted ledger entry
	reg, store := newRegistry(t)
	ctx := context.Background()
	lt, err := reg.Create(ctx, annualType())
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, ledger.Entry{
		ID:            "e1",
		Key:           ledger.BalanceKey{UserID: "emp-1", LeaveTypeID: lt.ID, Year: 2026},
		Kind:          ledger.KindAccrual,
		Delta:         ledger.Days(2),
		EffectiveYear: 2026,
		CreatedAt:     time.Now(),
	}))

	// WHEN the entitlement is changed
	next := lt
	next.DefaultDays = ledger.Days(30)
	_, err = reg.Update(ctx, lt.ID, next)

	// THEN the update is rejected
	assert.ErrorIs(t, err, policy.ErrFrozen)

	// AND flag toggles still work
	next = lt
	next.RequiresApproval = false
	next.IsActive = false
	updated, err := reg.Update(ctx, lt.ID, next)
	require.NoError(t, err)
	assert.False(t, updated.RequiresApproval)
	assert.False(t, updated.IsActive)
}

func TestUpdate_UnreferencedTypeFullyMutable(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	lt, err := reg.Create(ctx, annualType())
	require.NoError(t, err)

	next := lt
	next.DefaultDays = ledger.Days(30)
	next.MaxCarryOverDays = 10
	updated, err := reg.Update(ctx, lt.ID, next)

	require.NoError(t, err)
	assert.True(t, updated.DefaultDays.Equal(ledger.Days(30)))
	assert.Equal(t, 10, updated.MaxCarryOverDays)
}

func TestDeactivate_KeepsDefinition(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	lt, err := reg.Create(ctx, annualType())
	require.NoError(t, err)

	require.NoError(t, reg.Deactivate(ctx, lt.ID))

	got, err := reg.Get(ctx, lt.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	active, err := reg.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFacts_AdaptsForLedger(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	lt, err := reg.Create(ctx, annualType())
	require.NoError(t, err)

	facts, err := reg.Facts(ctx, lt.ID)
	require.NoError(t, err)

	assert.True(t, facts.DefaultDays.Equal(ledger.Days(24)))
	assert.True(t, facts.AccrualRate.Equal(ledger.Days(2)))
	assert.True(t, facts.CanCarryOver)
	assert.True(t, facts.MaxCarryOverDays.Equal(ledger.Days(5)))
	assert.True(t, facts.Active)
}

func TestFacts_UnknownType(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.Facts(context.Background(), "nope")

	assert.ErrorIs(t, err, policy.ErrNotFound)
}
