// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrMutationNotFound is returned when an operation targets a mutation id
// with no live row in the queue.
var ErrMutationNotFound = errors.New("mutation not found")

// Repository is the query and mutation layer over the durable mutation
// queue. It is the only component other layers talk to; workers use it to
// claim work and apply status transitions, the application layer uses it to
// enqueue edits and observe what is still unsynced.
type Repository struct {
	db     *sql.DB
	logger *slog.Logger

	writeMu sync.Mutex // Serialize write operations to prevent SQLite locking issues

	watchMu  sync.Mutex
	watchers map[chan struct{}]struct{}
}

// NewRepository initializes the mutation queue schema on db and returns the
// repository. The db connection is owned by the caller.
func NewRepository(db *sql.DB, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize mutation queue: %w", err)
	}
	return &Repository{
		db:       db,
		logger:   logger,
		watchers: make(map[chan struct{}]struct{}),
	}, nil
}

// Enqueue inserts or replaces the stored mutation atomically. Calling it
// twice with the same id and content leaves exactly one row. A mutation with
// an unset id gets one assigned; an unset status is queued as PENDING.
func (r *Repository) Enqueue(ctx context.Context, m *Mutation) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to enqueue malformed mutation: %w", err)
	}
	if m.SyncStatus == "" {
		m.SyncStatus = StatusPending
	}

	deltas, err := encodeDeltas(m.Deltas)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO mutation_queue
			(id, kind, mutation_type, sync_status, survey_id, location_of_interest_id,
			 user_id, job_id, collection_id, deltas, retry_count, last_error, client_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, string(m.Kind), string(m.Type), string(m.SyncStatus), m.SurveyID,
		m.LocationOfInterestID, m.UserID, m.JobID, m.CollectionID, deltas,
		m.RetryCount, m.LastError, m.ClientTimestamp.UTC().Format(timestampFormat))
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation %s: %w", m.ID, err)
	}

	r.notify()
	return nil
}

// ApplyAndEnqueue records a local edit and queues it for delivery in one
// call. The local apply of the edit itself lives in the application's own
// stores; from the engine's point of view the two are the same durable write.
func (r *Repository) ApplyAndEnqueue(ctx context.Context, m *Mutation) error {
	return r.Enqueue(ctx, m)
}

// Get returns the live row for id, or ErrMutationNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Mutation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+mutationColumns+` FROM mutation_queue WHERE id = ?`, id)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMutationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mutation %s: %w", id, err)
	}
	return m, nil
}

// GetIncompleteUploads returns all mutations with data-phase work
// outstanding: PENDING, IN_PROGRESS or FAILED.
func (r *Repository) GetIncompleteUploads(ctx context.Context) ([]*Mutation, error) {
	return r.listByStatuses(ctx, StatusPending, StatusInProgress, StatusFailed)
}

// GetIncompleteMediaMutations returns all mutations with media-phase work
// outstanding: MEDIA_UPLOAD_PENDING, MEDIA_UPLOAD_IN_PROGRESS or
// MEDIA_UPLOAD_AWAITING_RETRY.
func (r *Repository) GetIncompleteMediaMutations(ctx context.Context) ([]*Mutation, error) {
	return r.listByStatuses(ctx, StatusMediaPending, StatusMediaInProgress, StatusMediaAwaitingRetry)
}

// ListByStatus returns all mutations currently in the given status, oldest
// first. Reads are snapshot-consistent against the store.
func (r *Repository) ListByStatus(ctx context.Context, status SyncStatus) ([]*Mutation, error) {
	return r.listByStatuses(ctx, status)
}

// CountByStatus returns the number of mutations currently in status.
func (r *Repository) CountByStatus(ctx context.Context, status SyncStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutation_queue WHERE sync_status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count mutations by status %s: %w", status, err)
	}
	return count, nil
}

func (r *Repository) listByStatuses(ctx context.Context, statuses ...SyncStatus) ([]*Mutation, error) {
	query := `SELECT ` + mutationColumns + ` FROM mutation_queue WHERE sync_status IN (?`
	args := []any{string(statuses[0])}
	for _, s := range statuses[1:] {
		query += `, ?`
		args = append(args, string(s))
	}
	query += `) ORDER BY client_timestamp, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutations: %w", err)
	}
	return collectMutations(rows)
}

// Transition moves the mutation from one sync status to another as a single
// durable write. The edge must be lawful per the state machine, and the row
// must still be in the from status when the write lands; otherwise the
// transition fails with ErrIllegalTransition and no state is changed.
func (r *Repository) Transition(ctx context.Context, id string, from, to SyncStatus, lastErr string) error {
	return r.transition(ctx, id, from, to, lastErr, nil)
}

// TransitionWithDeltas is Transition plus a replacement of the stored deltas
// in the same durable write. The media worker uses it to persist uploaded
// remote keys atomically with the status change, so a crash can never leave
// bookkeeping and status disagreeing.
func (r *Repository) TransitionWithDeltas(ctx context.Context, id string, from, to SyncStatus, lastErr string, deltas []ValueDelta) error {
	return r.transition(ctx, id, from, to, lastErr, deltas)
}

func (r *Repository) transition(ctx context.Context, id string, from, to SyncStatus, lastErr string, deltas []ValueDelta) error {
	if err := checkTransition(from, to); err != nil {
		return fmt.Errorf("mutation %s: %w", id, err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	// Guarded update: the WHERE clause re-checks the from status, so a row
	// that moved underneath us is left untouched and reported loudly below.
	query := `
		UPDATE mutation_queue
		SET sync_status = ?, last_error = ?,
		    retry_count = retry_count + ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`
	retryInc := 0
	if to == StatusMediaAwaitingRetry {
		retryInc = 1
	}
	args := []any{string(to), lastErr, retryInc}

	if deltas != nil {
		encoded, err := encodeDeltas(deltas)
		if err != nil {
			return err
		}
		query += `, deltas = ?`
		args = append(args, encoded)
	}

	query += ` WHERE id = ? AND sync_status = ?`
	args = append(args, id, string(from))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition mutation %s to %s: %w", id, to, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transition result for mutation %s: %w", id, err)
	}
	if affected == 0 {
		var current string
		err := r.db.QueryRowContext(ctx,
			`SELECT sync_status FROM mutation_queue WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrMutationNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to read status of mutation %s: %w", id, err)
		}
		return fmt.Errorf("mutation %s: %w: expected %s, found %s (target %s)",
			id, ErrIllegalTransition, from, current, to)
	}

	r.notify()
	return nil
}

// RequeueStranded rolls mutations abandoned mid-flight by an ungraceful stop
// back to their claimable statuses: IN_PROGRESS to PENDING and
// MEDIA_UPLOAD_IN_PROGRESS to MEDIA_UPLOAD_PENDING. These reverse edges are
// not lawful for workers; they exist only for the startup recovery hook,
// which runs before any worker has been scheduled. Returns the number of
// requeued mutations.
func (r *Repository) RequeueStranded(ctx context.Context) (int, error) {
	return r.requeue(ctx, map[SyncStatus]SyncStatus{
		StatusInProgress:      StatusPending,
		StatusMediaInProgress: StatusMediaPending,
	})
}

// RequeueMediaRetries promotes MEDIA_UPLOAD_AWAITING_RETRY mutations back to
// MEDIA_UPLOAD_PENDING. Driven by the scheduler or an external
// backoff/connectivity policy, never by the media worker itself.
func (r *Repository) RequeueMediaRetries(ctx context.Context) (int, error) {
	return r.requeue(ctx, map[SyncStatus]SyncStatus{
		StatusMediaAwaitingRetry: StatusMediaPending,
	})
}

// RequeueFailed returns FAILED data mutations to PENDING. Only meaningful as
// an explicit user-initiated retry; the engine never calls it on its own.
func (r *Repository) RequeueFailed(ctx context.Context) (int, error) {
	return r.requeue(ctx, map[SyncStatus]SyncStatus{
		StatusFailed: StatusPending,
	})
}

func (r *Repository) requeue(ctx context.Context, edges map[SyncStatus]SyncStatus) (int, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin requeue transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	total := 0
	for from, to := range edges {
		result, err := tx.ExecContext(ctx, `
			UPDATE mutation_queue
			SET sync_status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
			WHERE sync_status = ?
		`, string(to), string(from))
		if err != nil {
			return 0, fmt.Errorf("failed to requeue %s mutations: %w", from, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read requeue result: %w", err)
		}
		total += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit requeue transaction: %w", err)
	}

	if total > 0 {
		r.notify()
	}
	return total, nil
}

// Watch registers a change subscription. The returned channel receives a
// coalesced signal after every committed queue write; receivers re-query the
// repository for the latest snapshot. Missed intermediate states are not
// replayed, only the latest state eventually arrives.
func (r *Repository) Watch() chan struct{} {
	ch := make(chan struct{}, 1)
	r.watchMu.Lock()
	r.watchers[ch] = struct{}{}
	r.watchMu.Unlock()
	return ch
}

// Unwatch removes a subscription registered with Watch and closes it.
func (r *Repository) Unwatch(ch chan struct{}) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if _, ok := r.watchers[ch]; ok {
		delete(r.watchers, ch)
		close(ch)
	}
}

func (r *Repository) notify() {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	for ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default: // signal already pending, latest snapshot will be observed anyway
		}
	}
}

const timestampFormat = "2006-01-02T15:04:05.000Z"
