package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Authorization failures are hard rejections, distinct from store errors.
func errNotAMember() *DomainError {
	return domainError(http.StatusForbidden, "NOT_A_MEMBER", "Not a member of this project", nil)
}

func errInsufficientRole(action string) *DomainError {
	return domainError(http.StatusForbidden, "INSUFFICIENT_ROLE", "Role does not permit this action", map[string]any{"action": action})
}

func errInvalidReorderSet() *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_REORDER_SET", "Submitted ids do not match the current sequence", nil)
}

func errCrossProjectMove() *DomainError {
	return domainError(http.StatusBadRequest, "CROSS_PROJECT_MOVE", "Target column belongs to a different project", nil)
}

func errInvalidQuery(message string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_QUERY", message, nil)
}

func errColumnNotEmpty() *DomainError {
	return domainError(http.StatusConflict, "COLUMN_NOT_EMPTY", "Column still contains tasks", nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}
