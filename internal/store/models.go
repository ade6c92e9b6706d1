package store

import (
	"errors"
	"time"
)

// Sentinel errors for constraint violations the service layer maps to its
// own error taxonomy.
var (
	ErrReorderSetMismatch = errors.New("reorder id set does not match current sequence")
	ErrCrossProjectMove   = errors.New("target column belongs to a different project")
	ErrColumnNotEmpty     = errors.New("column still contains tasks")
)

type Project struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

type Column struct {
	ID        string
	ProjectID string
	Name      string
	Color     string
	Position  int
}

type Task struct {
	ID          string
	ProjectID   string
	ColumnID    string
	Title       string
	Description string
	Priority    string
	Position    int
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Member struct {
	ProjectID string
	UserID    string
	Role      string
	AddedAt   time.Time
}

type Invitation struct {
	ID         string
	ProjectID  string
	Email      string
	Role       string
	TokenHash  string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	CreatedBy  string
	CreatedAt  time.Time
}

type AuditEntry struct {
	ID         int64
	ProjectID  string
	UserID     *string
	Action     string
	EntityType string
	EntityID   *string
	Details    map[string]any
	CreatedAt  time.Time
}

// AuditFilter narrows ListAuditEntries. Zero values mean "no filter";
// limit/offset are validated by the caller before they reach the store.
type AuditFilter struct {
	Action     string
	EntityType string
	UserID     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

type AuditStats struct {
	ByAction      map[string]int
	ByUser        map[string]int
	ByEntityType  map[string]int
	ActivityByDay map[string]int
}
