package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, rolling back on any error so a failed
// position rewrite never leaves a partial order behind.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, name, owner_id)
			VALUES ($1, $2, $3)
		`, project.ID, project.Name, project.OwnerID); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_members (project_id, user_id, role)
			VALUES ($1, $2, 'owner')
		`, project.ID, project.OwnerID); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.OwnerID, &item.CreatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.owner_id, p.created_at
		FROM projects p
		JOIN project_members pm ON pm.project_id = p.id
		WHERE pm.user_id=$1
		ORDER BY p.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.OwnerID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

// GetMemberRole returns sql.ErrNoRows when no membership exists; callers
// treat that as an authorization failure, not a store failure.
func (s *PostgresStore) GetMemberRole(ctx context.Context, projectID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM project_members WHERE project_id=$1 AND user_id=$2
	`, projectID, userID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *PostgresStore) UpsertMember(ctx context.Context, member Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, member.ProjectID, member.UserID, member.Role)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, user_id, role, added_at
		FROM project_members
		WHERE project_id=$1
		ORDER BY added_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var item Member
		if err := rows.Scan(&item.ProjectID, &item.UserID, &item.Role, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListColumns(ctx context.Context, projectID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, color, position
		FROM task_columns
		WHERE project_id=$1
		ORDER BY position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	items := make([]Column, 0)
	for rows.Next() {
		var item Column
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Color, &item.Position); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID string) (Column, error) {
	var item Column
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, color, position
		FROM task_columns
		WHERE id=$1
	`, columnID).Scan(&item.ID, &item.ProjectID, &item.Name, &item.Color, &item.Position)
	if err != nil {
		return Column{}, err
	}
	return item, nil
}

// InsertColumnAt appends when desiredPosition is nil; otherwise it shifts
// every column at or after the desired position by one and inserts there,
// all inside one transaction.
func (s *PostgresStore) InsertColumnAt(ctx context.Context, column Column, desiredPosition *int) (Column, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if desiredPosition == nil {
			if err := tx.QueryRowContext(ctx, `
				SELECT COALESCE(MAX(position)+1, 0) FROM task_columns WHERE project_id=$1
			`, column.ProjectID).Scan(&column.Position); err != nil {
				return fmt.Errorf("next column position: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `SET CONSTRAINTS uq_task_columns_position DEFERRED`); err != nil {
				return fmt.Errorf("defer column position constraint: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE task_columns SET position = position + 1
				WHERE project_id=$1 AND position >= $2
			`, column.ProjectID, *desiredPosition); err != nil {
				return fmt.Errorf("shift columns: %w", err)
			}
			column.Position = *desiredPosition
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_columns (id, project_id, name, color, position)
			VALUES ($1, $2, $3, $4, $5)
		`, column.ID, column.ProjectID, column.Name, column.Color, column.Position); err != nil {
			return fmt.Errorf("insert column: %w", err)
		}
		return nil
	})
	if err != nil {
		return Column{}, err
	}
	return column, nil
}

// DeleteColumn refuses to delete a column that still holds tasks.
func (s *PostgresStore) DeleteColumn(ctx context.Context, columnID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var taskCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM tasks WHERE column_id=$1
		`, columnID).Scan(&taskCount); err != nil {
			return fmt.Errorf("count column tasks: %w", err)
		}
		if taskCount > 0 {
			return ErrColumnNotEmpty
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_columns WHERE id=$1`, columnID); err != nil {
			return fmt.Errorf("delete column: %w", err)
		}
		return nil
	})
}

// ReorderColumns rewrites positions to 0..n-1 in the order given. The id set
// must exactly match the project's current columns; the check happens under
// row locks before any write so a losing concurrent reorder fails whole.
func (s *PostgresStore) ReorderColumns(ctx context.Context, projectID string, orderedIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockSequenceIDs(ctx, tx, `
			SELECT id FROM task_columns WHERE project_id=$1 ORDER BY position ASC FOR UPDATE
		`, projectID)
		if err != nil {
			return fmt.Errorf("lock columns: %w", err)
		}
		if !sameIDSet(current, orderedIDs) {
			return ErrReorderSetMismatch
		}
		if len(orderedIDs) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `SET CONSTRAINTS uq_task_columns_position DEFERRED`); err != nil {
			return fmt.Errorf("defer column position constraint: %w", err)
		}
		for index, id := range orderedIDs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE task_columns SET position=$2 WHERE id=$1
			`, id, index); err != nil {
				return fmt.Errorf("rewrite column position: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListTasksByProject(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, column_id, title, description, priority, position, created_by, created_at, updated_at
		FROM tasks
		WHERE project_id=$1
		ORDER BY column_id ASC, position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) ListTasksByColumn(ctx context.Context, columnID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, column_id, title, description, priority, position, created_by, created_at, updated_at
		FROM tasks
		WHERE column_id=$1
		ORDER BY position ASC
	`, columnID)
	if err != nil {
		return nil, fmt.Errorf("list column tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		if err := rows.Scan(
			&item.ID,
			&item.ProjectID,
			&item.ColumnID,
			&item.Title,
			&item.Description,
			&item.Priority,
			&item.Position,
			&item.CreatedBy,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var item Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, column_id, title, description, priority, position, created_by, created_at, updated_at
		FROM tasks
		WHERE id=$1
	`, taskID).Scan(
		&item.ID,
		&item.ProjectID,
		&item.ColumnID,
		&item.Title,
		&item.Description,
		&item.Priority,
		&item.Position,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	return item, nil
}

// InsertTask appends the task at the end of its column's sequence.
func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (Task, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var columnProject string
		if err := tx.QueryRowContext(ctx, `
			SELECT project_id FROM task_columns WHERE id=$1
		`, task.ColumnID).Scan(&columnProject); err != nil {
			return fmt.Errorf("lookup task column: %w", err)
		}
		if columnProject != task.ProjectID {
			return ErrCrossProjectMove
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position)+1, 0) FROM tasks WHERE column_id=$1
		`, task.ColumnID).Scan(&task.Position); err != nil {
			return fmt.Errorf("next task position: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, column_id, title, description, priority, position, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, task.ID, task.ProjectID, task.ColumnID, task.Title, task.Description, task.Priority, task.Position, task.CreatedBy); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) UpdateTaskFields(ctx context.Context, taskID, title, description, priority string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title=$2, description=$3, priority=$4, updated_at=NOW()
		WHERE id=$1
	`, taskID, title, description, priority)
	if err != nil {
		return fmt.Errorf("update task fields: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// MoveTask relocates a task to targetColumn at targetPosition in a single
// transaction. The target must belong to the task's project. A position past
// the end of the target sequence clamps to append; the gap left in the source
// sequence is not closed (uniqueness, not contiguity, is the invariant).
func (s *PostgresStore) MoveTask(ctx context.Context, taskID, targetColumnID string, targetPosition int) (Task, error) {
	var moved Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var projectID, sourceColumnID string
		if err := tx.QueryRowContext(ctx, `
			SELECT project_id, column_id FROM tasks WHERE id=$1 FOR UPDATE
		`, taskID).Scan(&projectID, &sourceColumnID); err != nil {
			return fmt.Errorf("lock task: %w", err)
		}

		var targetProject string
		if err := tx.QueryRowContext(ctx, `
			SELECT project_id FROM task_columns WHERE id=$1 FOR UPDATE
		`, targetColumnID).Scan(&targetProject); err != nil {
			return fmt.Errorf("lock target column: %w", err)
		}
		if targetProject != projectID {
			return ErrCrossProjectMove
		}

		if _, err := tx.ExecContext(ctx, `SET CONSTRAINTS uq_tasks_position DEFERRED`); err != nil {
			return fmt.Errorf("defer task position constraint: %w", err)
		}

		// Sequences keep gaps, so "append" means one past the highest
		// occupied position, not the row count.
		var appendPosition int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position)+1, 0) FROM tasks WHERE column_id=$1 AND id <> $2
		`, targetColumnID, taskID).Scan(&appendPosition); err != nil {
			return fmt.Errorf("next target position: %w", err)
		}
		if targetPosition > appendPosition {
			targetPosition = appendPosition
		}
		if targetPosition < 0 {
			targetPosition = 0
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET position = position + 1
			WHERE column_id=$1 AND id <> $2 AND position >= $3
		`, targetColumnID, taskID, targetPosition); err != nil {
			return fmt.Errorf("shift target tasks: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET column_id=$2, position=$3, updated_at=NOW() WHERE id=$1
		`, taskID, targetColumnID, targetPosition); err != nil {
			return fmt.Errorf("move task: %w", err)
		}

		return tx.QueryRowContext(ctx, `
			SELECT id, project_id, column_id, title, description, priority, position, created_by, created_at, updated_at
			FROM tasks WHERE id=$1
		`, taskID).Scan(
			&moved.ID,
			&moved.ProjectID,
			&moved.ColumnID,
			&moved.Title,
			&moved.Description,
			&moved.Priority,
			&moved.Position,
			&moved.CreatedBy,
			&moved.CreatedAt,
			&moved.UpdatedAt,
		)
	})
	if err != nil {
		return Task{}, err
	}
	return moved, nil
}

// ReorderTasksInColumn is the task-scoped counterpart of ReorderColumns with
// the same all-or-nothing contract.
func (s *PostgresStore) ReorderTasksInColumn(ctx context.Context, columnID string, orderedIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockSequenceIDs(ctx, tx, `
			SELECT id FROM tasks WHERE column_id=$1 ORDER BY position ASC FOR UPDATE
		`, columnID)
		if err != nil {
			return fmt.Errorf("lock tasks: %w", err)
		}
		if !sameIDSet(current, orderedIDs) {
			return ErrReorderSetMismatch
		}
		if len(orderedIDs) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `SET CONSTRAINTS uq_tasks_position DEFERRED`); err != nil {
			return fmt.Errorf("defer task position constraint: %w", err)
		}
		for index, id := range orderedIDs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET position=$2, updated_at=NOW() WHERE id=$1
			`, id, index); err != nil {
				return fmt.Errorf("rewrite task position: %w", err)
			}
		}
		return nil
	})
}

func lockSequenceIDs(ctx context.Context, tx *sql.Tx, query string, arg string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func sameIDSet(current, submitted []string) bool {
	if len(current) != len(submitted) {
		return false
	}
	seen := make(map[string]struct{}, len(current))
	for _, id := range current {
		seen[id] = struct{}{}
	}
	for _, id := range submitted {
		if _, ok := seen[id]; !ok {
			return false
		}
		delete(seen, id)
	}
	return len(seen) == 0
}

func (s *PostgresStore) InsertAuditEntry(ctx context.Context, entry AuditEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (project_id, user_id, action, entity_type, entity_id, details)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, entry.ProjectID, entry.UserID, entry.Action, entry.EntityType, entry.EntityID, string(encoded))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// BackfillAuditUser attributes every null-actor row matching the entity that
// was created after cutoff. Updating all matches keeps the call idempotent.
func (s *PostgresStore) BackfillAuditUser(ctx context.Context, projectID, entityType, entityID, userID string, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE audit_log
		SET user_id=$4
		WHERE project_id=$1 AND entity_type=$2 AND entity_id=$3
		  AND user_id IS NULL AND created_at > $5
	`, projectID, entityType, entityID, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("backfill audit user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("backfill audit rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, projectID string, filter AuditFilter) ([]AuditEntry, int, error) {
	const where = `
		project_id=$1
		  AND ($2='' OR action=$2)
		  AND ($3='' OR entity_type=$3)
		  AND ($4='' OR user_id=$4)
		  AND ($5::timestamptz IS NULL OR created_at >= $5)
		  AND ($6::timestamptz IS NULL OR created_at <= $6)
	`
	args := []any{projectID, filter.Action, filter.EntityType, filter.UserID, filter.From, filter.To}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, user_id, action, entity_type, entity_id, details, created_at
		FROM audit_log
		WHERE `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $7 OFFSET $8
	`, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var item AuditEntry
		var detailsRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.ProjectID,
			&item.UserID,
			&item.Action,
			&item.EntityType,
			&item.EntityID,
			&detailsRaw,
			&item.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		_ = json.Unmarshal(detailsRaw, &item.Details)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) AuditStatsByProject(ctx context.Context, projectID string) (AuditStats, error) {
	stats := AuditStats{
		ByAction:      make(map[string]int),
		ByUser:        make(map[string]int),
		ByEntityType:  make(map[string]int),
		ActivityByDay: make(map[string]int),
	}

	if err := s.collectCounts(ctx, stats.ByAction, `
		SELECT action, COUNT(*)::int FROM audit_log WHERE project_id=$1 GROUP BY action
	`, projectID); err != nil {
		return AuditStats{}, fmt.Errorf("audit stats by action: %w", err)
	}
	if err := s.collectCounts(ctx, stats.ByUser, `
		SELECT COALESCE(user_id, ''), COUNT(*)::int FROM audit_log WHERE project_id=$1 GROUP BY COALESCE(user_id, '')
	`, projectID); err != nil {
		return AuditStats{}, fmt.Errorf("audit stats by user: %w", err)
	}
	if err := s.collectCounts(ctx, stats.ByEntityType, `
		SELECT entity_type, COUNT(*)::int FROM audit_log WHERE project_id=$1 GROUP BY entity_type
	`, projectID); err != nil {
		return AuditStats{}, fmt.Errorf("audit stats by entity type: %w", err)
	}
	if err := s.collectCounts(ctx, stats.ActivityByDay, `
		SELECT to_char(created_at, 'YYYY-MM-DD'), COUNT(*)::int FROM audit_log WHERE project_id=$1 GROUP BY 1
	`, projectID); err != nil {
		return AuditStats{}, fmt.Errorf("audit stats by day: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) collectCounts(ctx context.Context, into map[string]int, query, projectID string) error {
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

func (s *PostgresStore) InsertInvitation(ctx context.Context, invitation Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, project_id, email, role, token_hash, expires_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, invitation.ID, invitation.ProjectID, invitation.Email, invitation.Role, invitation.TokenHash, invitation.ExpiresAt, invitation.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	var item Invitation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, email, role, token_hash, expires_at, accepted_at, created_by, created_at
		FROM invitations
		WHERE id=$1
	`, invitationID).Scan(
		&item.ID,
		&item.ProjectID,
		&item.Email,
		&item.Role,
		&item.TokenHash,
		&item.ExpiresAt,
		&item.AcceptedAt,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return Invitation{}, err
	}
	return item, nil
}

// MarkInvitationAccepted consumes the invitation; only the first accept wins.
func (s *PostgresStore) MarkInvitationAccepted(ctx context.Context, invitationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET accepted_at=NOW()
		WHERE id=$1 AND accepted_at IS NULL AND expires_at > NOW()
	`, invitationID)
	if err != nil {
		return false, fmt.Errorf("mark invitation accepted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark invitation rows: %w", err)
	}
	return affected > 0, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
