package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"database/sql"

	"taskboard/api/internal/audit"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/invite"
	"taskboard/api/internal/metrics"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type Session struct {
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjectsForUser(context.Context, string) ([]store.Project, error)
	GetMemberRole(context.Context, string, string) (string, error)
	UpsertMember(context.Context, store.Member) error
	ListMembers(context.Context, string) ([]store.Member, error)
	ListColumns(context.Context, string) ([]store.Column, error)
	GetColumn(context.Context, string) (store.Column, error)
	InsertColumnAt(context.Context, store.Column, *int) (store.Column, error)
	DeleteColumn(context.Context, string) error
	ReorderColumns(context.Context, string, []string) error
	ListTasksByProject(context.Context, string) ([]store.Task, error)
	ListTasksByColumn(context.Context, string) ([]store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	InsertTask(context.Context, store.Task) (store.Task, error)
	UpdateTaskFields(context.Context, string, string, string, string) error
	DeleteTask(context.Context, string) error
	MoveTask(context.Context, string, string, int) (store.Task, error)
	ReorderTasksInColumn(context.Context, string, []string) error
	ListAuditEntries(context.Context, string, store.AuditFilter) ([]store.AuditEntry, int, error)
	AuditStatsByProject(context.Context, string) (store.AuditStats, error)
	Ping(ctx context.Context) error
}

// auditSink is the fire-and-forget side of the audit subsystem. Calls never
// fail and never delay the primary mutation.
type auditSink interface {
	Append(projectID string, userID *string, action, entityType string, entityID *string, details map[string]any)
	BackfillActor(projectID, entityType, entityID, userID string)
}

type inviteService interface {
	Create(ctx context.Context, projectID, email, role, createdBy string) (string, error)
	Accept(ctx context.Context, token, userID string) (string, error)
}

type roleCache interface {
	Get(ctx context.Context, projectID, userID string) (string, bool)
	Set(ctx context.Context, projectID, userID, role string) error
	Invalidate(ctx context.Context, projectID, userID string) error
	Ping(ctx context.Context) error
}

type Service struct {
	cfg        config.Config
	store      dataStore
	audit      auditSink
	auditQuery *audit.QueryService
	invites    inviteService
	roles      roleCache
}

func New(cfg config.Config, dataStore dataStore, sink auditSink, invites inviteService, roles roleCache) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		audit:      sink,
		auditQuery: audit.NewQueryService(dataStore),
		invites:    invites,
		roles:      roles,
	}
}

// storeCtx bounds a store transaction; on timeout the mutation is reported
// failed and nothing is committed.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) SessionFromToken(tokenString string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), tokenString)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		UserID:   claims.Subject,
		UserName: claims.Name,
		JTI:      claims.ID,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// resolveRole answers the actor's role in the project, consulting the redis
// cache first. A missing membership row is NotAMember, not a store error.
func (s *Service) resolveRole(ctx context.Context, projectID, userID string) (rbac.Role, error) {
	if s.roles != nil {
		if cached, ok := s.roles.Get(ctx, projectID, userID); ok {
			return rbac.Normalize(cached), nil
		}
	}
	role, err := s.store.GetMemberRole(ctx, projectID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errNotAMember()
	}
	if err != nil {
		return "", fmt.Errorf("resolve role: %w", err)
	}
	if s.roles != nil {
		_ = s.roles.Set(ctx, projectID, userID, role)
	}
	return rbac.Normalize(role), nil
}

func (s *Service) authorize(ctx context.Context, projectID, userID string, action rbac.Action) (rbac.Role, error) {
	role, err := s.resolveRole(ctx, projectID, userID)
	if err != nil {
		return "", err
	}
	if !rbac.Can(role, action) {
		return "", errInsufficientRole(string(action))
	}
	return role, nil
}

func (s *Service) CreateProject(ctx context.Context, name, ownerID string) (store.Project, error) {
	if name == "" {
		return store.Project{}, errValidation("name is required")
	}
	project := store.Project{
		ID:      util.NewID("proj"),
		Name:    name,
		OwnerID: ownerID,
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	s.audit.Append(project.ID, &ownerID, "project.created", "project", &project.ID, map[string]any{"name": name})
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, userID string) ([]store.Project, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.ListProjectsForUser(ctx, userID)
}

type BoardColumn struct {
	store.Column
	Tasks []store.Task
}

type Board struct {
	Project store.Project
	Columns []BoardColumn
}

// Board returns the project with its columns and their tasks in position
// order.
func (s *Service) Board(ctx context.Context, projectID, userID string) (Board, error) {
	if _, err := s.resolveRole(ctx, projectID, userID); err != nil {
		return Board{}, err
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return Board{}, err
	}
	columns, err := s.store.ListColumns(ctx, projectID)
	if err != nil {
		return Board{}, err
	}
	tasks, err := s.store.ListTasksByProject(ctx, projectID)
	if err != nil {
		return Board{}, err
	}

	byColumn := make(map[string][]store.Task, len(columns))
	for _, task := range tasks {
		byColumn[task.ColumnID] = append(byColumn[task.ColumnID], task)
	}
	board := Board{Project: project, Columns: make([]BoardColumn, 0, len(columns))}
	for _, column := range columns {
		columnTasks := byColumn[column.ID]
		if columnTasks == nil {
			columnTasks = []store.Task{}
		}
		board.Columns = append(board.Columns, BoardColumn{Column: column, Tasks: columnTasks})
	}
	return board, nil
}

// ListMembers is open to any member of the project, regardless of role.
func (s *Service) ListMembers(ctx context.Context, projectID, userID string) ([]store.Member, error) {
	if _, err := s.resolveRole(ctx, projectID, userID); err != nil {
		return nil, err
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.ListMembers(ctx, projectID)
}

func (s *Service) CreateColumn(ctx context.Context, projectID, userID, name, color string, desiredPosition *int) (store.Column, error) {
	if name == "" {
		return store.Column{}, errValidation("name is required")
	}
	if desiredPosition != nil && *desiredPosition < 0 {
		return store.Column{}, errValidation("position must not be negative")
	}
	if _, err := s.authorize(ctx, projectID, userID, rbac.ActionManageColumns); err != nil {
		return store.Column{}, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	column, err := s.store.InsertColumnAt(ctx, store.Column{
		ID:        util.NewID("col"),
		ProjectID: projectID,
		Name:      name,
		Color:     color,
	}, desiredPosition)
	if err != nil {
		return store.Column{}, err
	}
	s.audit.Append(projectID, &userID, "column.created", "column", &column.ID, map[string]any{
		"name":     name,
		"position": column.Position,
	})
	return column, nil
}

func (s *Service) DeleteColumn(ctx context.Context, projectID, columnID, userID string) error {
	if _, err := s.authorize(ctx, projectID, userID, rbac.ActionManageColumns); err != nil {
		return err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return err
	}
	if column.ProjectID != projectID {
		return sql.ErrNoRows
	}
	if err := s.store.DeleteColumn(ctx, columnID); err != nil {
		if errors.Is(err, store.ErrColumnNotEmpty) {
			return errColumnNotEmpty()
		}
		return err
	}
	s.audit.Append(projectID, &userID, "column.deleted", "column", &columnID, map[string]any{"name": column.Name})
	return nil
}

// ReorderColumns atomically rewrites the project's column order. A stale id
// set loses the race and is rejected whole; the caller retries from a fresh
// read.
func (s *Service) ReorderColumns(ctx context.Context, projectID, userID string, orderedIDs []string) ([]store.Column, error) {
	if _, err := s.authorize(ctx, projectID, userID, rbac.ActionReorder); err != nil {
		return nil, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.ReorderColumns(ctx, projectID, orderedIDs); err != nil {
		if errors.Is(err, store.ErrReorderSetMismatch) {
			metrics.ReorderConflicts.Inc()
			return nil, errInvalidReorderSet()
		}
		return nil, err
	}
	s.audit.Append(projectID, &userID, "columns.reordered", "project", &projectID, map[string]any{"order": orderedIDs})
	return s.store.ListColumns(ctx, projectID)
}

func (s *Service) CreateTask(ctx context.Context, projectID, columnID, userID, title, description, priority string) (store.Task, error) {
	if title == "" {
		return store.Task{}, errValidation("title is required")
	}
	if _, err := s.authorize(ctx, projectID, userID, rbac.ActionEditOwnTasks); err != nil {
		return store.Task{}, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	task, err := s.store.InsertTask(ctx, store.Task{
		ID:          util.NewID("task"),
		ProjectID:   projectID,
		ColumnID:    columnID,
		Title:       title,
		Description: description,
		Priority:    priority,
		CreatedBy:   userID,
	})
	if err != nil {
		if errors.Is(err, store.ErrCrossProjectMove) {
			return store.Task{}, errCrossProjectMove()
		}
		return store.Task{}, err
	}
	s.audit.Append(projectID, &userID, "task.created", "task", &task.ID, map[string]any{
		"title":    title,
		"columnId": columnID,
	})
	return task, nil
}

type UpdateTaskInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	ColumnID    *string `json:"column_id"`
	Position    *int    `json:"position"`
}

// UpdateTask edits task fields and, when column_id/position are present,
// moves the task. Moving is a reorder (any member may drag any task); field
// edits on someone else's task require an elevated role.
func (s *Service) UpdateTask(ctx context.Context, taskID, userID string, input UpdateTaskInput) (store.Task, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	role, err := s.resolveRole(ctx, task.ProjectID, userID)
	if err != nil {
		return store.Task{}, err
	}

	hasFieldEdit := input.Title != nil || input.Description != nil || input.Priority != nil
	hasMove := input.ColumnID != nil || input.Position != nil

	if hasFieldEdit {
		if task.CreatedBy != userID && !rbac.Can(role, rbac.ActionDeleteAnyTask) {
			return store.Task{}, errInsufficientRole(string(rbac.ActionEditOwnTasks))
		}
		title, description, priority := task.Title, task.Description, task.Priority
		if input.Title != nil {
			if *input.Title == "" {
				return store.Task{}, errValidation("title must not be empty")
			}
			title = *input.Title
		}
		if input.Description != nil {
			description = *input.Description
		}
		if input.Priority != nil {
			priority = *input.Priority
		}
		if err := s.store.UpdateTaskFields(ctx, taskID, title, description, priority); err != nil {
			return store.Task{}, err
		}
		s.audit.Append(task.ProjectID, &userID, "task.updated", "task", &taskID, map[string]any{"title": title})
	}

	if hasMove {
		if !rbac.Can(role, rbac.ActionReorder) {
			return store.Task{}, errInsufficientRole(string(rbac.ActionReorder))
		}
		targetColumn := task.ColumnID
		if input.ColumnID != nil {
			targetColumn = *input.ColumnID
		}
		// Omitted position with an explicit column means append; the store
		// clamps past-the-end positions.
		targetPosition := math.MaxInt32
		if input.Position != nil {
			targetPosition = *input.Position
		}
		moved, err := s.store.MoveTask(ctx, taskID, targetColumn, targetPosition)
		if err != nil {
			if errors.Is(err, store.ErrCrossProjectMove) {
				return store.Task{}, errCrossProjectMove()
			}
			return store.Task{}, err
		}
		s.audit.Append(task.ProjectID, &userID, "task.moved", "task", &taskID, map[string]any{
			"fromColumn": task.ColumnID,
			"toColumn":   moved.ColumnID,
			"position":   moved.Position,
		})
		return moved, nil
	}

	return s.store.GetTask(ctx, taskID)
}

func (s *Service) DeleteTask(ctx context.Context, taskID, userID string) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	role, err := s.resolveRole(ctx, task.ProjectID, userID)
	if err != nil {
		return err
	}
	if task.CreatedBy != userID && !rbac.Can(role, rbac.ActionDeleteAnyTask) {
		return errInsufficientRole(string(rbac.ActionDeleteAnyTask))
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.audit.Append(task.ProjectID, &userID, "task.deleted", "task", &taskID, map[string]any{"title": task.Title})
	return nil
}

func (s *Service) ReorderTasks(ctx context.Context, columnID, userID string, orderedIDs []string) ([]store.Task, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, column.ProjectID, userID, rbac.ActionReorder); err != nil {
		return nil, err
	}
	if err := s.store.ReorderTasksInColumn(ctx, columnID, orderedIDs); err != nil {
		if errors.Is(err, store.ErrReorderSetMismatch) {
			metrics.ReorderConflicts.Inc()
			return nil, errInvalidReorderSet()
		}
		return nil, err
	}
	s.audit.Append(column.ProjectID, &userID, "tasks.reordered", "column", &columnID, map[string]any{"order": orderedIDs})
	return s.store.ListTasksByColumn(ctx, columnID)
}

func (s *Service) AuditList(ctx context.Context, projectID, userID string, filter store.AuditFilter) ([]store.AuditEntry, audit.Page, error) {
	if _, err := s.resolveRole(ctx, projectID, userID); err != nil {
		return nil, audit.Page{}, err
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	rows, page, err := s.auditQuery.List(ctx, projectID, filter)
	if errors.Is(err, audit.ErrInvalidQuery) {
		return nil, audit.Page{}, errInvalidQuery(err.Error())
	}
	return rows, page, err
}

func (s *Service) AuditStats(ctx context.Context, projectID, userID string) (store.AuditStats, error) {
	if _, err := s.resolveRole(ctx, projectID, userID); err != nil {
		return store.AuditStats{}, err
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.auditQuery.Stats(ctx, projectID)
}

func (s *Service) CreateInvitation(ctx context.Context, projectID, userID, email, role string) (string, error) {
	if email == "" {
		return "", errValidation("email is required")
	}
	if _, err := s.authorize(ctx, projectID, userID, rbac.ActionManageMembers); err != nil {
		return "", err
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	token, err := s.invites.Create(ctx, projectID, email, role, userID)
	if err != nil {
		if errors.Is(err, invite.ErrInvalidRole) {
			return "", errValidation(err.Error())
		}
		return "", err
	}
	s.audit.Append(projectID, &userID, "invitation.created", "invitation", nil, map[string]any{
		"email": email,
		"role":  role,
	})
	return token, nil
}

func (s *Service) AcceptInvitation(ctx context.Context, token, userID string) (string, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	projectID, err := s.invites.Accept(ctx, token, userID)
	if err != nil {
		if errors.Is(err, invite.ErrInvalidToken) {
			return "", domainError(400, "INVALID_INVITATION", "Invitation token invalid or expired", nil)
		}
		return "", err
	}
	if s.roles != nil {
		_ = s.roles.Invalidate(ctx, projectID, userID)
	}
	s.audit.Append(projectID, &userID, "member.joined", "member", &userID, nil)
	return projectID, nil
}

/// LogAudit is the internal collaborator entry point: mutation handlers that
// run before the actor is resolved append with a nil user id.
func (s *Service) LogAudit(projectID string, userID *string, action, entityType string, entityID *string, details map[string]any) {
	s.audit.Append(projectID, userID, action, entityType, entityID, details)
}

// UpdateRecentAuditUser reconciles a null-attributed append once the actor is
// known, within the recorder's grace window.
func (s *Service) UpdateRecentAuditUser(projectID, userID, entityType, entityID string) {
	s.audit.BackfillActor(projectID, entityType, entityID, userID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports role cache health. The first return is false when no
// cache is configured; a cache error never makes the service unready since
// role lookups fall through to the store.
func (s *Service) PingCache(ctx context.Context) (bool, error) {
	if s.roles == nil {
		return false, nil
	}
	return true, s.roles.Ping(ctx)
}
