package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/directory"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// FIXTURE
// =============================================================================

var testClock = func() time.Time {
	return time.Date(2026, time.June, 15, 9, 0, 0, 0, time.UTC)
}

func newServer(t *testing.T) http.Handler {
	t.Helper()
	store := memory.New()

	registry := policy.NewRegistry(store).WithClock(testClock)
	_, err := registry.Create(context.Background(), policy.LeaveType{
		ID:               "annual",
		Name:             "Annual Leave",
		DefaultDays:      ledger.Days(24),
		CanCarryOver:     true,
		MaxCarryOverDays: 5,
		RequiresApproval: true,
		IsPaid:           true,
	})
	require.NoError(t, err)

	dir := directory.NewStatic(
		directory.User{ID: "emp-1", Name: "Ada", DepartmentID: "eng", Role: workflow.RoleStaff},
		directory.User{ID: "mgr-1", Name: "Cleo", DepartmentID: "eng", Role: workflow.RoleManager, ManagedDepartments: []string{"eng"}},
		directory.User{ID: "adm-1", Name: "Eve", DepartmentID: "hr", Role: workflow.RoleAdmin},
	)

	ledgerSvc := ledger.NewService(store, registry, ledger.WithClock(testClock))
	workflowSvc := workflow.NewService(store, store, ledgerSvc, registry, dir, workflow.WithClock(testClock))
	sched := api.NewScheduler(ledgerSvc, registry, dir, nil)

	h := api.NewHandler(workflowSvc, ledgerSvc, registry, dir, sched, nil)
	return api.NewRouter(h)
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst), "body: %s", rec.Body.String())
}

func submitWeek(t *testing.T, srv http.Handler, userID string) map[string]any {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/applications", map[string]any{
		"user_id":       userID,
		"leave_type_id": "annual",
		"start_date":    "2026-07-06",
		"end_date":      "2026-07-10",
		"reason":        "summer holiday",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var app map[string]any
	decodeBody(t, rec, &app)
	return app
}

// =============================================================================
// APPLICATION FLOW
// =============================================================================

func TestSubmitApproveBalanceFlow(t *testing.T) {
	srv := newServer(t)

	// Submit: pending, five business days.
	app := submitWeek(t, srv, "emp-1")
	assert.Equal(t, "pending", app["status"])
	assert.Equal(t, 5.0, app["total_days"])
	appID := app["id"].(string)

	// Before approval the balance is the untouched default.
	var bal map[string]any
	rec := do(t, srv, http.MethodGet, "/api/users/emp-1/balances/annual?year=2026", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &bal)
	assert.Equal(t, 24.0, bal["remaining"])
	assert.Equal(t, true, bal["implicit"])

	// Approve by the department manager.
	rec = do(t, srv, http.MethodPost, "/api/applications/"+appID+"/approve", map[string]any{
		"actor_id": "mgr-1", "comments": "enjoy",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var approved map[string]any
	decodeBody(t, rec, &approved)
	assert.Equal(t, "approved", approved["status"])
	assert.Equal(t, "mgr-1", approved["approver_id"])

	// The usage entry flipped the balance off the implicit view.
	rec = do(t, srv, http.MethodGet, "/api/users/emp-1/balances/annual?year=2026", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal = nil // decode merges into an existing map; reset so omitted keys don't linger
	decodeBody(t, rec, &bal)
	assert.Equal(t, 5.0, bal["used"])
	assert.Nil(t, bal["implicit"])

	// And the audit trail shows exactly the usage entry.
	rec = do(t, srv, http.MethodGet, "/api/users/emp-1/ledger/annual?year=2026", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	decodeBody(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "usage", entries[0]["kind"])
	assert.Equal(t, -5.0, entries[0]["delta"])
	assert.Equal(t, appID, entries[0]["application_id"])
}

func TestCancelApprovedRestoresBalance(t *testing.T) {
	srv := newServer(t)
	app := submitWeek(t, srv, "emp-1")
	appID := app["id"].(string)
	rec := do(t, srv, http.MethodPost, "/api/applications/"+appID+"/approve", map[string]any{"actor_id": "mgr-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/applications/"+appID+"/cancel", map[string]any{
		"actor_id": "emp-1", "comments": "plans changed",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var cancelled map[string]any
	decodeBody(t, rec, &cancelled)
	assert.Equal(t, "cancelled", cancelled["status"])

	var entries []map[string]any
	rec = do(t, srv, http.MethodGet, "/api/users/emp-1/ledger/annual?year=2026", nil)
	decodeBody(t, rec, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "reversal", entries[1]["kind"])
}

func TestListApplications(t *testing.T) {
	srv := newServer(t)
	submitWeek(t, srv, "emp-1")

	rec := do(t, srv, http.MethodGet, "/api/applications?user=emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var apps []map[string]any
	decodeBody(t, rec, &apps)
	assert.Len(t, apps, 1)

	rec = do(t, srv, http.MethodGet, "/api/applications?pending_for=mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &apps)
	assert.Len(t, apps, 1)

	rec = do(t, srv, http.MethodGet, "/api/applications", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkDecideEndpoint(t *testing.T) {
	srv := newServer(t)
	a := submitWeek(t, srv, "emp-1")["id"].(string)

	rec := do(t, srv, http.MethodPost, "/api/applications/bulk", map[string]any{
		"application_ids": []string{a, "ghost"},
		"action":          "approve",
		"actor_id":        "mgr-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var res map[string]any
	decodeBody(t, rec, &res)
	assert.Equal(t, 2.0, res["total"])
	assert.Len(t, res["succeeded"], 1)
	assert.Len(t, res["failed"], 1)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]any
	decodeBody(t, rec, &resp)
	code, _ := resp["code"].(string)
	return code
}

func TestErrorMapping(t *testing.T) {
	srv := newServer(t)

	t.Run("unknown application is 404", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/applications/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", errCode(t, rec))
	})

	t.Run("unauthorized approval is 403", func(t *testing.T) {
		appID := submitWeek(t, srv, "emp-1")["id"].(string)
		rec := do(t, srv, http.MethodPost, "/api/applications/"+appID+"/approve", map[string]any{"actor_id": "emp-1"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "unauthorized", errCode(t, rec))
	})

	t.Run("double approval is 409", func(t *testing.T) {
		appID := submitWeek(t, srv, "emp-1")["id"].(string)
		rec := do(t, srv, http.MethodPost, "/api/applications/"+appID+"/approve", map[string]any{"actor_id": "mgr-1"})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = do(t, srv, http.MethodPost, "/api/applications/"+appID+"/approve", map[string]any{"actor_id": "mgr-1"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "invalid_transition", errCode(t, rec))
	})

	t.Run("insufficient balance is 409 with amounts", func(t *testing.T) {
		// Two months off against a 24 day default.
		rec := do(t, srv, http.MethodPost, "/api/applications", map[string]any{
			"user_id":       "adm-1",
			"leave_type_id": "annual",
			"start_date":    "2026-07-01",
			"end_date":      "2026-08-31",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		var resp map[string]any
		decodeBody(t, rec, &resp)
		assert.Equal(t, "insufficient_balance", resp["code"])
		details := resp["details"].(map[string]any)
		assert.Equal(t, 24.0, details["available"])
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/applications", strings.NewReader("{nope"))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing fields are 400 with details", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/applications", map[string]any{"user_id": "emp-1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp map[string]any
		decodeBody(t, rec, &resp)
		assert.Equal(t, "validation_failed", resp["code"])
		assert.Contains(t, resp["details"].(map[string]any), "LeaveTypeID")
	})

	t.Run("unknown leave type is 404", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/applications", map[string]any{
			"user_id":       "emp-1",
			"leave_type_id": "sabbatical",
			"start_date":    "2026-07-06",
			"end_date":      "2026-07-10",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// =============================================================================
// ADMIN
// =============================================================================

func TestCreateAdjustmentReturnsBalance(t *testing.T) {
	srv := newServer(t)

	rec := do(t, srv, http.MethodPost, "/api/admin/adjustments", map[string]any{
		"user_id":       "emp-1",
		"leave_type_id": "annual",
		"year":          2026,
		"delta":         3,
		"reason":        "relocation grant",
		"actor_id":      "adm-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var bal map[string]any
	decodeBody(t, rec, &bal)
	assert.Equal(t, 3.0, bal["adjustments"])
	assert.Equal(t, 3.0, bal["remaining"])
}

func TestCreateAdjustment_ReasonEnforced(t *testing.T) {
	srv := newServer(t)

	rec := do(t, srv, http.MethodPost, "/api/admin/adjustments", map[string]any{
		"user_id":       "emp-1",
		"leave_type_id": "annual",
		"year":          2026,
		"delta":         3,
		"actor_id":      "adm-1",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkAdjustEndpoint(t *testing.T) {
	srv := newServer(t)

	rec := do(t, srv, http.MethodPost, "/api/admin/adjustments/bulk", map[string]any{
		"user_ids":      []string{"emp-1", "mgr-1"},
		"leave_type_id": "annual",
		"year":          2026,
		"delta":         1,
		"reason":        "company anniversary",
		"actor_id":      "adm-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var res map[string]any
	decodeBody(t, rec, &res)
	assert.Equal(t, 2.0, res["total"])
	assert.Len(t, res["succeeded"], 2)
}

func TestRunAccrualEndpointIsIdempotent(t *testing.T) {
	srv := newServer(t)
	body := map[string]any{"year": 2026, "month": 6}

	rec := do(t, srv, http.MethodPost, "/api/admin/accrual", body)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var res map[string]any
	decodeBody(t, rec, &res)
	assert.Equal(t, 3.0, res["processed"]) // three directory users

	// Second run: duplicates are skipped inside the ledger, still a success.
	rec = do(t, srv, http.MethodPost, "/api/admin/accrual", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []map[string]any
	rec = do(t, srv, http.MethodGet, "/api/users/emp-1/ledger/annual?year=2026", nil)
	decodeBody(t, rec, &entries)
	assert.Len(t, entries, 1)
}

func TestRunCarryoverEndpoint(t *testing.T) {
	srv := newServer(t)
	// Give 2025 a real balance to carry.
	rec := do(t, srv, http.MethodPost, "/api/admin/adjustments", map[string]any{
		"user_id":       "emp-1",
		"leave_type_id": "annual",
		"year":          2025,
		"delta":         8,
		"reason":        "opening balance",
		"actor_id":      "adm-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/admin/carryover", map[string]any{"from_year": 2025})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	// Five of the eight days crossed the year boundary.
	var bal map[string]any
	rec = do(t, srv, http.MethodGet, "/api/users/emp-1/balances/annual?year=2026", nil)
	decodeBody(t, rec, &bal)
	assert.Equal(t, 5.0, bal["carried_over"])
}

// =============================================================================
// LEAVE TYPES AND USERS
// =============================================================================

func TestLeaveTypeLifecycle(t *testing.T) {
	srv := newServer(t)

	rec := do(t, srv, http.MethodPost, "/api/leave-types", map[string]any{
		"name":              "Parental Leave",
		"default_days":      30,
		"requires_approval": true,
		"is_paid":           true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var lt map[string]any
	decodeBody(t, rec, &lt)
	assert.NotEmpty(t, lt["id"])
	assert.Equal(t, 2.5, lt["accrual_rate"]) // 30 / 12
	id := lt["id"].(string)

	// Duplicate name conflicts.
	rec = do(t, srv, http.MethodPost, "/api/leave-types", map[string]any{
		"name":         "parental leave",
		"default_days": 10,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Deactivate drops it from the active listing only.
	rec = do(t, srv, http.MethodPost, "/api/leave-types/"+id+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var types []map[string]any
	rec = do(t, srv, http.MethodGet, "/api/leave-types?active=true", nil)
	decodeBody(t, rec, &types)
	assert.Len(t, types, 1)

	rec = do(t, srv, http.MethodGet, "/api/leave-types", nil)
	decodeBody(t, rec, &types)
	assert.Len(t, types, 2)
}

func TestGetUserBalancesCoversActiveTypes(t *testing.T) {
	srv := newServer(t)

	rec := do(t, srv, http.MethodGet, "/api/users/emp-1/balances?year=2026", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var balances []map[string]any
	decodeBody(t, rec, &balances)
	require.Len(t, balances, 1)
	assert.Equal(t, "annual", balances[0]["leave_type_id"])
	assert.Equal(t, 24.0, balances[0]["total"])
}

func TestListUsers(t *testing.T) {
	srv := newServer(t)

	rec := do(t, srv, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var users []map[string]any
	decodeBody(t, rec, &users)
	require.Len(t, users, 3)
	assert.Equal(t, "adm-1", users[0]["id"])
}

func TestRouterSmoke(t *testing.T) {
	srv := newServer(t)
	for _, path := range []string{"/api/leave-types", "/api/users"} {
		rec := do(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, fmt.Sprintf("GET %s", path))
	}
}
