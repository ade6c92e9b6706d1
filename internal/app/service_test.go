package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"taskboard/api/internal/audit"
	"taskboard/api/internal/config"
	"taskboard/api/internal/store"
)

type fakeStore struct {
	insertProjectFn        func(context.Context, store.Project) error
	getMemberRoleFn        func(context.Context, string, string) (string, error)
	listColumnsFn          func(context.Context, string) ([]store.Column, error)
	getColumnFn            func(context.Context, string) (store.Column, error)
	insertColumnAtFn       func(context.Context, store.Column, *int) (store.Column, error)
	deleteColumnFn         func(context.Context, string) error
	reorderColumnsFn       func(context.Context, string, []string) error
	listTasksByProjectFn   func(context.Context, string) ([]store.Task, error)
	listTasksByColumnFn    func(context.Context, string) ([]store.Task, error)
	getTaskFn              func(context.Context, string) (store.Task, error)
	insertTaskFn           func(context.Context, store.Task) (store.Task, error)
	deleteTaskFn           func(context.Context, string) error
	moveTaskFn             func(context.Context, string, string, int) (store.Task, error)
	reorderTasksInColumnFn func(context.Context, string, []string) error
	listAuditEntriesFn     func(context.Context, string, store.AuditFilter) ([]store.AuditEntry, int, error)
}

func (f *fakeStore) InsertProject(ctx context.Context, project store.Project) error {
	if f.insertProjectFn != nil {
		return f.insertProjectFn(ctx, project)
	}
	return nil
}
func (f *fakeStore) GetProject(context.Context, string) (store.Project, error) {
	return store.Project{}, nil
}
func (f *fakeStore) ListProjectsForUser(context.Context, string) ([]store.Project, error) {
	return nil, nil
}
func (f *fakeStore) GetMemberRole(ctx context.Context, projectID, userID string) (string, error) {
	if f.getMemberRoleFn != nil {
		return f.getMemberRoleFn(ctx, projectID, userID)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) UpsertMember(context.Context, store.Member) error { return nil }
func (f *fakeStore) ListMembers(context.Context, string) ([]store.Member, error) {
	return nil, nil
}
func (f *fakeStore) ListColumns(ctx context.Context, projectID string) ([]store.Column, error) {
	if f.listColumnsFn != nil {
		return f.listColumnsFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) GetColumn(ctx context.Context, columnID string) (store.Column, error) {
	if f.getColumnFn != nil {
		return f.getColumnFn(ctx, columnID)
	}
	return store.Column{}, sql.ErrNoRows
}
func (f *fakeStore) InsertColumnAt(ctx context.Context, column store.Column, pos *int) (store.Column, error) {
	if f.insertColumnAtFn != nil {
		return f.insertColumnAtFn(ctx, column, pos)
	}
	return column, nil
}
func (f *fakeStore) DeleteColumn(ctx context.Context, columnID string) error {
	if f.deleteColumnFn != nil {
		return f.deleteColumnFn(ctx, columnID)
	}
	return nil
}
func (f *fakeStore) ReorderColumns(ctx context.Context, projectID string, ids []string) error {
	if f.reorderColumnsFn != nil {
		return f.reorderColumnsFn(ctx, projectID, ids)
	}
	return nil
}
func (f *fakeStore) ListTasksByProject(ctx context.Context, projectID string) ([]store.Task, error) {
	if f.listTasksByProjectFn != nil {
		return f.listTasksByProjectFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) ListTasksByColumn(ctx context.Context, columnID string) ([]store.Task, error) {
	if f.listTasksByColumnFn != nil {
		return f.listTasksByColumnFn(ctx, columnID)
	}
	return nil, nil
}
func (f *fakeStore) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, taskID)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) InsertTask(ctx context.Context, task store.Task) (store.Task, error) {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, task)
	}
	return task, nil
}
func (f *fakeStore) UpdateTaskFields(context.Context, string, string, string, string) error {
	return nil
}
func (f *fakeStore) DeleteTask(ctx context.Context, taskID string) error {
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(ctx, taskID)
	}
	return nil
}
func (f *fakeStore) MoveTask(ctx context.Context, taskID, columnID string, position int) (store.Task, error) {
	if f.moveTaskFn != nil {
		return f.moveTaskFn(ctx, taskID, columnID, position)
	}
	return store.Task{}, nil
}
func (f *fakeStore) ReorderTasksInColumn(ctx context.Context, columnID string, ids []string) error {
	if f.reorderTasksInColumnFn != nil {
		return f.reorderTasksInColumnFn(ctx, columnID, ids)
	}
	return nil
}
func (f *fakeStore) ListAuditEntries(ctx context.Context, projectID string, filter store.AuditFilter) ([]store.AuditEntry, int, error) {
	if f.listAuditEntriesFn != nil {
		return f.listAuditEntriesFn(ctx, projectID, filter)
	}
	return nil, 0, nil
}
func (f *fakeStore) AuditStatsByProject(context.Context, string) (store.AuditStats, error) {
	return store.AuditStats{}, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type appendedEvent struct {
	projectID  string
	userID     *string
	action     string
	entityType string
	entityID   *string
}

type fakeSink struct {
	mu        sync.Mutex
	appends   []appendedEvent
	backfills []string
}

func (f *fakeSink) Append(projectID string, userID *string, action, entityType string, entityID *string, details map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends = append(f.appends, appendedEvent{projectID, userID, action, entityType, entityID})
}

func (f *fakeSink) BackfillActor(projectID, entityType, entityID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfills = append(f.backfills, entityID)
}

type fakeInvites struct {
	createFn func(context.Context, string, string, string, string) (string, error)
	acceptFn func(context.Context, string, string) (string, error)
}

func (f *fakeInvites) Create(ctx context.Context, projectID, email, role, createdBy string) (string, error) {
	if f.createFn != nil {
		return f.createFn(ctx, projectID, email, role, createdBy)
	}
	return "inv_1.secret", nil
}
func (f *fakeInvites) Accept(ctx context.Context, token, userID string) (string, error) {
	if f.acceptFn != nil {
		return f.acceptFn(ctx, token, userID)
	}
	return "proj_1", nil
}

func roleStore(role string) *fakeStore {
	return &fakeStore{
		getMemberRoleFn: func(context.Context, string, string) (string, error) {
			if role == "" {
				return "", sql.ErrNoRows
			}
			return role, nil
		},
	}
}

func newTestService(fs *fakeStore) (*Service, *fakeSink) {
	sink := &fakeSink{}
	cfg := config.Config{
		JWTSecret:    "test-secret",
		StoreTimeout: 5 * time.Second,
	}
	return New(cfg, fs, sink, &fakeInvites{}, nil), sink
}

func assertDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s", code, domainErr.Code)
	}
}

func TestNonMemberIsRejectedBeforeAnyWrite(t *testing.T) {
	fs := roleStore("")
	wrote := false
	fs.reorderColumnsFn = func(context.Context, string, []string) error {
		wrote = true
		return nil
	}
	svc, _ := newTestService(fs)

	_, err := svc.ReorderColumns(context.Background(), "proj_1", "user_1", []string{"col_1"})
	assertDomainCode(t, err, "NOT_A_MEMBER")
	if wrote {
		t.Fatal("store write reached despite missing membership")
	}
}

func TestMemberMayReorderColumns(t *testing.T) {
	fs := roleStore("member")
	fs.listColumnsFn = func(context.Context, string) ([]store.Column, error) {
		return []store.Column{{ID: "col_2", Position: 0}, {ID: "col_1", Position: 1}}, nil
	}
	svc, sink := newTestService(fs)

	columns, err := svc.ReorderColumns(context.Background(), "proj_1", "user_1", []string{"col_2", "col_1"})
	if err != nil {
		t.Fatalf("ReorderColumns failed: %v", err)
	}
	if len(columns) != 2 || columns[0].ID != "col_2" {
		t.Fatalf("unexpected columns: %+v", columns)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.appends) != 1 || sink.appends[0].action != "columns.reordered" {
		t.Fatalf("expected columns.reordered audit event, got %+v", sink.appends)
	}
}

func TestMemberMayNotManageColumns(t *testing.T) {
	svc, _ := newTestService(roleStore("member"))

	_, err := svc.CreateColumn(context.Background(), "proj_1", "user_1", "Doing", "", nil)
	assertDomainCode(t, err, "INSUFFICIENT_ROLE")

	err = svc.DeleteColumn(context.Background(), "proj_1", "col_1", "user_1")
	assertDomainCode(t, err, "INSUFFICIENT_ROLE")
}

func TestStaleReorderSetIsRejected(t *testing.T) {
	fs := roleStore("admin")
	fs.reorderColumnsFn = func(context.Context, string, []string) error {
		return store.ErrReorderSetMismatch
	}
	svc, sink := newTestService(fs)

	_, err := svc.ReorderColumns(context.Background(), "proj_1", "user_1", []string{"col_1"})
	assertDomainCode(t, err, "INVALID_REORDER_SET")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.appends) != 0 {
		t.Fatal("rejected reorder must not be audited")
	}
}

func TestDeleteColumnWithTasksConflicts(t *testing.T) {
	fs := roleStore("owner")
	fs.getColumnFn = func(context.Context, string) (store.Column, error) {
		return store.Column{ID: "col_1", ProjectID: "proj_1"}, nil
	}
	fs.deleteColumnFn = func(context.Context, string) error {
		return store.ErrColumnNotEmpty
	}
	svc, _ := newTestService(fs)

	err := svc.DeleteColumn(context.Background(), "proj_1", "col_1", "user_1")
	assertDomainCode(t, err, "COLUMN_NOT_EMPTY")
}

func TestDeleteColumnFromOtherProjectIsNotFound(t *testing.T) {
	fs := roleStore("owner")
	fs.getColumnFn = func(context.Context, string) (store.Column, error) {
		return store.Column{ID: "col_1", ProjectID: "proj_other"}, nil
	}
	svc, _ := newTestService(fs)

	err := svc.DeleteColumn(context.Background(), "proj_1", "col_1", "user_1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not-found for foreign column, got %v", err)
	}
}

func TestCrossProjectMoveIsRejected(t *testing.T) {
	fs := roleStore("member")
	fs.getTaskFn = func(context.Context, string) (store.Task, error) {
		return store.Task{ID: "task_1", ProjectID: "proj_1", ColumnID: "col_1", CreatedBy: "user_1"}, nil
	}
	fs.moveTaskFn = func(context.Context, string, string, int) (store.Task, error) {
		return store.Task{}, store.ErrCrossProjectMove
	}
	svc, _ := newTestService(fs)

	foreign := "col_foreign"
	_, err := svc.UpdateTask(context.Background(), "task_1", "user_1", UpdateTaskInput{ColumnID: &foreign})
	assertDomainCode(t, err, "CROSS_PROJECT_MOVE")
}

func TestMemberMayMoveAnyTask(t *testing.T) {
	fs := roleStore("member")
	fs.getTaskFn = func(context.Context, string) (store.Task, error) {
		return store.Task{ID: "task_1", ProjectID: "proj_1", ColumnID: "col_1", CreatedBy: "someone_else"}, nil
	}
	moved := store.Task{ID: "task_1", ProjectID: "proj_1", ColumnID: "col_2", Position: 0}
	fs.moveTaskFn = func(_ context.Context, _, columnID string, _ int) (store.Task, error) {
		if columnID != "col_2" {
			t.Fatalf("unexpected target column %s", columnID)
		}
		return moved, nil
	}
	svc, sink := newTestService(fs)

	target := "col_2"
	position := 0
	task, err := svc.UpdateTask(context.Background(), "task_1", "user_1", UpdateTaskInput{ColumnID: &target, Position: &position})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if task.ColumnID != "col_2" {
		t.Fatalf("expected task in col_2, got %s", task.ColumnID)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.appends) != 1 || sink.appends[0].action != "task.moved" {
		t.Fatalf("expected task.moved audit event, got %+v", sink.appends)
	}
}

func TestMemberMayNotEditOthersTaskFields(t *testing.T) {
	fs := roleStore("member")
	fs.getTaskFn = func(context.Context, string) (store.Task, error) {
		return store.Task{ID: "task_1", ProjectID: "proj_1", CreatedBy: "someone_else"}, nil
	}
	svc, _ := newTestService(fs)

	title := "Renamed"
	_, err := svc.UpdateTask(context.Background(), "task_1", "user_1", UpdateTaskInput{Title: &title})
	assertDomainCode(t, err, "INSUFFICIENT_ROLE")
}

func TestMemberMayDeleteOwnTaskOnly(t *testing.T) {
	tests := []struct {
		name      string
		createdBy string
		wantCode  string
	}{
		{name: "own task", createdBy: "user_1", wantCode: ""},
		{name: "other task", createdBy: "someone_else", wantCode: "INSUFFICIENT_ROLE"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := roleStore("member")
			fs.getTaskFn = func(context.Context, string) (store.Task, error) {
				return store.Task{ID: "task_1", ProjectID: "proj_1", CreatedBy: tc.createdBy}, nil
			}
			svc, _ := newTestService(fs)

			err := svc.DeleteTask(context.Background(), "task_1", "user_1")
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("DeleteTask failed: %v", err)
				}
				return
			}
			assertDomainCode(t, err, tc.wantCode)
		})
	}
}

func TestAdminMayDeleteAnyTask(t *testing.T) {
	fs := roleStore("admin")
	fs.getTaskFn = func(context.Context, string) (store.Task, error) {
		return store.Task{ID: "task_1", ProjectID: "proj_1", CreatedBy: "someone_else"}, nil
	}
	svc, _ := newTestService(fs)

	if err := svc.DeleteTask(context.Background(), "task_1", "user_1"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
}

func TestCreateTaskAppendsAuditEvent(t *testing.T) {
	svc, sink := newTestService(roleStore("member"))

	task, err := svc.CreateTask(context.Background(), "proj_1", "col_1", "user_1", "Ship it", "", "high")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.CreatedBy != "user_1" {
		t.Fatalf("expected creator user_1, got %s", task.CreatedBy)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.appends) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(sink.appends))
	}
	event := sink.appends[0]
	if event.action != "task.created" || event.userID == nil || *event.userID != "user_1" {
		t.Fatalf("unexpected audit event: %+v", event)
	}
}

func TestAuditListRejectsOversizedLimit(t *testing.T) {
	svc, _ := newTestService(roleStore("member"))

	_, _, err := svc.AuditList(context.Background(), "proj_1", "user_1", store.AuditFilter{Limit: audit.MaxLimit + 1})
	assertDomainCode(t, err, "INVALID_QUERY")
}

func TestAuditListRequiresMembership(t *testing.T) {
	svc, _ := newTestService(roleStore(""))

	_, _, err := svc.AuditList(context.Background(), "proj_1", "user_1", store.AuditFilter{})
	assertDomainCode(t, err, "NOT_A_MEMBER")
}

type fakeRoleCache struct {
	mu          sync.Mutex
	roles       map[string]string
	invalidated []string
	pingErr     error
}

func cacheKey(projectID, userID string) string { return projectID + "/" + userID }

func (f *fakeRoleCache) Get(_ context.Context, projectID, userID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[cacheKey(projectID, userID)]
	return role, ok
}
func (f *fakeRoleCache) Set(_ context.Context, projectID, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roles == nil {
		f.roles = map[string]string{}
	}
	f.roles[cacheKey(projectID, userID)] = role
	return nil
}
func (f *fakeRoleCache) Invalidate(_ context.Context, projectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.roles, cacheKey(projectID, userID))
	f.invalidated = append(f.invalidated, cacheKey(projectID, userID))
	return nil
}
func (f *fakeRoleCache) Ping(_ context.Context) error { return f.pingErr }

func TestRoleCacheHitSkipsStoreLookup(t *testing.T) {
	lookups := 0
	fs := &fakeStore{
		getMemberRoleFn: func(context.Context, string, string) (string, error) {
			lookups++
			return "member", nil
		},
	}
	svc, _ := newTestService(fs)
	cache := &fakeRoleCache{}
	svc.roles = cache

	for i := 0; i < 3; i++ {
		if _, err := svc.Board(context.Background(), "proj_1", "user_1"); err != nil {
			t.Fatalf("Board failed: %v", err)
		}
	}
	if lookups != 1 {
		t.Fatalf("expected a single store lookup, got %d", lookups)
	}
}

func TestAcceptInvitationInvalidatesCachedRole(t *testing.T) {
	svc, sink := newTestService(roleStore("member"))
	cache := &fakeRoleCache{}
	svc.roles = cache

	projectID, err := svc.AcceptInvitation(context.Background(), "inv_1.secret", "user_2")
	if err != nil {
		t.Fatalf("AcceptInvitation failed: %v", err)
	}
	if projectID != "proj_1" {
		t.Fatalf("unexpected project id %s", projectID)
	}
	if len(cache.invalidated) != 1 {
		t.Fatalf("expected cache invalidation, got %v", cache.invalidated)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.appends) != 1 || sink.appends[0].action != "member.joined" {
		t.Fatalf("expected member.joined audit event, got %+v", sink.appends)
	}
}
