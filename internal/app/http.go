package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/metrics"
	"taskboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	log        *zap.Logger
	corsOrigin string
	metrics    http.Handler
}

func NewHTTPServer(service *Service, log *zap.Logger, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		log:        log,
		corsOrigin: corsOrigin,
		metrics:    promhttp.Handler(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		// The role cache is best-effort, so its health is reported but never
		// gates readiness.
		if configured, err := s.service.PingCache(ctx); configured {
			if err != nil {
				checks["cache"] = map[string]any{
					"status": "error",
					"error":  err.Error(),
				}
			} else {
				checks["cache"] = map[string]any{"status": "ok"}
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/projects" {
		projects, err := s.service.ListProjects(r.Context(), session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(projects))
		for _, project := range projects {
			items = append(items, projectJSON(project))
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/projects" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		project, err := s.service.CreateProject(r.Context(), strings.TrimSpace(body.Name), session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"project": projectJSON(project)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/audit" {
		s.handleAuditList(w, r, session)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/audit/stats" {
		projectID := strings.TrimSpace(r.URL.Query().Get("projectId"))
		if projectID == "" {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "projectId is required", nil)
			return
		}
		stats, err := s.service.AuditStats(r.Context(), projectID, session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"byAction":      stats.ByAction,
			"byUser":        stats.ByUser,
			"byEntityType":  stats.ByEntityType,
			"activityByDay": stats.ActivityByDay,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/invitations/accept" {
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		projectID, err := s.service.AcceptInvitation(r.Context(), strings.TrimSpace(body.Token), session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projectId": projectID})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "projects" {
		s.handleProjects(w, r, session, parts)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "tasks" {
		s.handleTask(w, r, session, parts[2])
		return
	}

	if len(parts) == 5 && parts[0] == "api" && parts[1] == "columns" && parts[3] == "tasks" && parts[4] == "reorder" {
		if r.Method != http.MethodPatch {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Tasks []string `json:"tasks"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tasks, err := s.service.ReorderTasks(r.Context(), parts[2], session.UserID, body.Tasks)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasksJSON(tasks)})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	projectID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodGet {
		board, err := s.service.Board(r.Context(), projectID, session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		columns := make([]map[string]any, 0, len(board.Columns))
		for _, column := range board.Columns {
			entry := columnJSON(column.Column)
			entry["tasks"] = tasksJSON(column.Tasks)
			columns = append(columns, entry)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"project": projectJSON(board.Project),
			"columns": columns,
		})
		return
	}

	if len(parts) == 4 && parts[3] == "members" && r.Method == http.MethodGet {
		members, err := s.service.ListMembers(r.Context(), projectID, session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(members))
		for _, member := range members {
			items = append(items, map[string]any{
				"projectId": member.ProjectID,
				"userId":    member.UserID,
				"role":      member.Role,
				"addedAt":   member.AddedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": items})
		return
	}

	if len(parts) == 4 && parts[3] == "columns" && r.Method == http.MethodPost {
		var body struct {
			Name     string `json:"name"`
			Color    string `json:"color"`
			Position *int   `json:"position"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		column, err := s.service.CreateColumn(r.Context(), projectID, session.UserID, strings.TrimSpace(body.Name), body.Color, body.Position)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"column": columnJSON(column)})
		return
	}

	if len(parts) == 5 && parts[3] == "columns" && parts[4] == "reorder" && r.Method == http.MethodPatch {
		var body struct {
			Columns []string `json:"columns"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		columns, err := s.service.ReorderColumns(r.Context(), projectID, session.UserID, body.Columns)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(columns))
		for _, column := range columns {
			items = append(items, columnJSON(column))
		}
		writeJSON(w, http.StatusOK, map[string]any{"columns": items})
		return
	}

	if len(parts) == 5 && parts[3] == "columns" && r.Method == http.MethodDelete {
		if err := s.service.DeleteColumn(r.Context(), projectID, parts[4], session.UserID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "tasks" && r.Method == http.MethodPost {
		var body struct {
			ColumnID    string `json:"columnId"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Priority    string `json:"priority"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.CreateTask(r.Context(), projectID, body.ColumnID, session.UserID, strings.TrimSpace(body.Title), body.Description, body.Priority)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"task": taskJSON(task)})
		return
	}

	if len(parts) == 4 && parts[3] == "invitations" && r.Method == http.MethodPost {
		var body struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		token, err := s.service.CreateInvitation(r.Context(), projectID, session.UserID, strings.TrimSpace(body.Email), body.Role)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"token": token})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTask(w http.ResponseWriter, r *http.Request, session Session, taskID string) {
	if r.Method == http.MethodPut {
		var body UpdateTaskInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.UpdateTask(r.Context(), taskID, session.UserID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": taskJSON(task)})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteTask(r.Context(), taskID, session.UserID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleAuditList(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	projectID := strings.TrimSpace(query.Get("projectId"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "projectId is required", nil)
		return
	}

	filter := store.AuditFilter{
		Action:     strings.TrimSpace(query.Get("action")),
		EntityType: strings.TrimSpace(query.Get("entityType")),
		UserID:     strings.TrimSpace(query.Get("userId")),
	}

	var parseErr error
	filter.Limit, parseErr = queryInt(query.Get("limit"))
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be an integer", nil)
		return
	}
	filter.Offset, parseErr = queryInt(query.Get("offset"))
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offset must be an integer", nil)
		return
	}
	filter.From, parseErr = queryTime(query.Get("startDate"))
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "startDate must be an RFC 3339 timestamp or YYYY-MM-DD", nil)
		return
	}
	filter.To, parseErr = queryTime(query.Get("endDate"))
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "endDate must be an RFC 3339 timestamp or YYYY-MM-DD", nil)
		return
	}

	rows, page, err := s.service.AuditList(r.Context(), projectID, session.UserID, filter)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	logs := make([]map[string]any, 0, len(rows))
	for _, entry := range rows {
		logs = append(logs, auditEntryJSON(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":       logs,
		"pagination": page,
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		duration := time.Since(started)
		metrics.ObserveHTTPRequest(r.Method, strconv.Itoa(writer.status), duration)
		s.log.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", duration),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func projectJSON(project store.Project) map[string]any {
	return map[string]any{
		"id":        project.ID,
		"name":      project.Name,
		"ownerId":   project.OwnerID,
		"createdAt": project.CreatedAt,
	}
}

func columnJSON(column store.Column) map[string]any {
	return map[string]any{
		"id":        column.ID,
		"projectId": column.ProjectID,
		"name":      column.Name,
		"color":     column.Color,
		"position":  column.Position,
	}
}

func taskJSON(task store.Task) map[string]any {
	return map[string]any{
		"id":          task.ID,
		"projectId":   task.ProjectID,
		"columnId":    task.ColumnID,
		"title":       task.Title,
		"description": task.Description,
		"priority":    task.Priority,
		"position":    task.Position,
		"createdBy":   task.CreatedBy,
		"createdAt":   task.CreatedAt,
		"updatedAt":   task.UpdatedAt,
	}
}

func tasksJSON(tasks []store.Task) []map[string]any {
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskJSON(task))
	}
	return items
}

func auditEntryJSON(entry store.AuditEntry) map[string]any {
	return map[string]any{
		"id":         entry.ID,
		"projectId":  entry.ProjectID,
		"userId":     entry.UserID,
		"action":     entry.Action,
		"entityType": entry.EntityType,
		"entityId":   entry.EntityID,
		"details":    entry.Details,
		"createdAt":  entry.CreatedAt,
	}
}

func queryInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func queryTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return &parsed, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
