// Package audit records mutations to the append-only audit log. Recording is
// best-effort by contract: a lost audit row is an accepted degradation, a
// failed primary mutation is not, so nothing in this package ever returns an
// error to the mutation path.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskboard/api/internal/metrics"
	"taskboard/api/internal/store"
)

// GraceWindow bounds how long a null-actor audit row stays attributable.
const GraceWindow = 5 * time.Second

type recorderStore interface {
	InsertAuditEntry(context.Context, store.AuditEntry) error
	BackfillAuditUser(ctx context.Context, projectID, entityType, entityID, userID string, cutoff time.Time) (int64, error)
}

type jobKind int

const (
	jobAppend jobKind = iota
	jobBackfill
)

type job struct {
	kind  jobKind
	entry store.AuditEntry

	projectID  string
	entityType string
	entityID   string
	userID     string
	cutoff     time.Time
}

// project reads the project id from whichever shape the job carries.
func (j job) project() string {
	if j.kind == jobBackfill {
		return j.projectID
	}
	return j.entry.ProjectID
}

// Recorder hands audit writes to a single background worker over a bounded
// queue. Enqueueing never blocks: when the queue is full the event is
// dropped, counted and logged.
type Recorder struct {
	store   recorderStore
	log     *zap.Logger
	jobs    chan job
	done    chan struct{}
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	closed bool
}

func NewRecorder(s recorderStore, log *zap.Logger, queueSize int, timeout time.Duration) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Recorder{
		store:   s,
		log:     log,
		jobs:    make(chan job, queueSize),
		done:    make(chan struct{}),
		timeout: timeout,
		now:     time.Now,
	}
	go r.run()
	return r
}

// Append records a mutation. A nil userID is legitimate: some callers append
// before the actor is resolved and reconcile through BackfillActor.
func (r *Recorder) Append(projectID string, userID *string, action, entityType string, entityID *string, details map[string]any) {
	r.enqueue(job{
		kind: jobAppend,
		entry: store.AuditEntry{
			ProjectID:  projectID,
			UserID:     userID,
			Action:     action,
			EntityType: entityType,
			EntityID:   entityID,
			Details:    details,
		},
	})
}

// BackfillActor attributes recent null-actor rows for the entity. The cutoff
// is fixed at enqueue time so a backlogged queue cannot widen the window.
func (r *Recorder) BackfillActor(projectID, entityType, entityID, userID string) {
	r.enqueue(job{
		kind:       jobBackfill,
		projectID:  projectID,
		entityType: entityType,
		entityID:   entityID,
		userID:     userID,
		cutoff:     r.now().Add(-GraceWindow),
	})
}

func (r *Recorder) enqueue(j job) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		metrics.CountAuditDrop("closed")
		return
	}
	select {
	case r.jobs <- j:
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		metrics.CountAuditDrop("queue_full")
		r.log.Warn("audit queue full, dropping event",
			zap.String("project_id", j.project()),
			zap.String("action", j.entry.Action),
		)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for j := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		switch j.kind {
		case jobAppend:
			if err := r.store.InsertAuditEntry(ctx, j.entry); err != nil {
				metrics.CountAuditDrop("store_error")
				r.log.Warn("audit append failed",
					zap.Error(err),
					zap.String("project_id", j.entry.ProjectID),
					zap.String("action", j.entry.Action),
				)
			} else {
				metrics.AuditEventsRecorded.Inc()
			}
		case jobBackfill:
			if _, err := r.store.BackfillAuditUser(ctx, j.projectID, j.entityType, j.entityID, j.userID, j.cutoff); err != nil {
				metrics.CountAuditDrop("store_error")
				r.log.Warn("audit backfill failed",
					zap.Error(err),
					zap.String("project_id", j.projectID),
					zap.String("entity_id", j.entityID),
				)
			}
		}
		cancel()
	}
}

// Close drains the queue and stops the worker.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	<-r.done
}
