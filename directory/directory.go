/*
directory.go - External user directory boundary

PURPOSE:
  The engine treats the employee directory as an external, read-only
  system: it resolves who a user is, which department they belong to, who
  manages what, and which roles they hold. Static is the bundled
  implementation, loaded from configuration or a JSON file; a real HR
  system sits behind the same interface in production.

SEE ALSO:
  - workflow/service.go: Directory consumer
  - api/scheduler.go: iterates users for accrual runs
*/
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/workflow"
)

// ErrUserNotFound means the directory has no such user.
var ErrUserNotFound = errors.New("user not found in directory")

// User is one directory record.
type User struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Email              string        `json:"email,omitempty"`
	DepartmentID       string        `json:"department_id"`
	Role               workflow.Role `json:"role"`
	ManagedDepartments []string      `json:"managed_departments,omitempty"`
}

// Static is an in-memory directory. Safe for concurrent reads and
// incremental population (tests, seed data).
type Static struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewStatic builds a directory from explicit users.
func NewStatic(users ...User) *Static {
	d := &Static{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// LoadFile builds a directory from a JSON array of users.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	var users []User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("parse directory file: %w", err)
	}
	return NewStatic(users...), nil
}

// Add registers or replaces a user.
func (d *Static) Add(u User) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

// Get returns one user.
func (d *Static) Get(ctx context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return u, nil
}

// Users returns every user, ordered by ID.
func (d *Static) Users(ctx context.Context) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Actor implements workflow.Directory.
func (d *Static) Actor(ctx context.Context, userID string) (workflow.Actor, error) {
	u, err := d.Get(ctx, userID)
	if err != nil {
		return workflow.Actor{}, err
	}
	return workflow.Actor{
		ID:                 u.ID,
		Role:               u.Role,
		ManagedDepartments: u.ManagedDepartments,
	}, nil
}

// DepartmentOf implements workflow.Directory.
func (d *Static) DepartmentOf(ctx context.Context, userID ledger.UserID) (string, error) {
	u, err := d.Get(ctx, string(userID))
	if err != nil {
		return "", err
	}
	return u.DepartmentID, nil
}
