package audit

import (
	"context"
	"errors"

	"taskboard/api/internal/store"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ErrInvalidQuery rejects out-of-contract filters; limits above MaxLimit are
// refused rather than silently clamped.
var ErrInvalidQuery = errors.New("invalid audit query")

type queryStore interface {
	ListAuditEntries(context.Context, string, store.AuditFilter) ([]store.AuditEntry, int, error)
	AuditStatsByProject(context.Context, string) (store.AuditStats, error)
}

type Page struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

type QueryService struct {
	store queryStore
}

func NewQueryService(s queryStore) *QueryService {
	return &QueryService{store: s}
}

func (q *QueryService) List(ctx context.Context, projectID string, filter store.AuditFilter) ([]store.AuditEntry, Page, error) {
	if filter.Limit == 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit < 0 || filter.Limit > MaxLimit {
		return nil, Page{}, ErrInvalidQuery
	}
	if filter.Offset < 0 {
		return nil, Page{}, ErrInvalidQuery
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, Page{}, ErrInvalidQuery
	}

	rows, total, err := q.store.ListAuditEntries(ctx, projectID, filter)
	if err != nil {
		return nil, Page{}, err
	}
	return rows, Page{
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		HasMore: filter.Offset+len(rows) < total,
	}, nil
}

func (q *QueryService) Stats(ctx context.Context, projectID string) (store.AuditStats, error) {
	return q.store.AuditStatsByProject(ctx, projectID)
}
