// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// initializeDatabase creates the mutation queue table and configures the
// connection. Safe to call on every startup.
func initializeDatabase(db *sql.DB) error {
	// Enable WAL mode and foreign keys
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	statements := []string{
		// One live row per mutation id; Enqueue replaces, never appends.
		`CREATE TABLE IF NOT EXISTS mutation_queue (
			id                      TEXT PRIMARY KEY,
			kind                    TEXT NOT NULL CHECK (kind IN ('LOCATION_OF_INTEREST','SUBMISSION')),
			mutation_type           TEXT NOT NULL CHECK (mutation_type IN ('CREATE','UPDATE','DELETE')),
			sync_status             TEXT NOT NULL DEFAULT 'PENDING',
			survey_id               TEXT NOT NULL,
			location_of_interest_id TEXT NOT NULL DEFAULT '',
			user_id                 TEXT NOT NULL,
			job_id                  TEXT NOT NULL DEFAULT '',
			collection_id           TEXT NOT NULL DEFAULT '',
			deltas                  TEXT, -- JSON array of value deltas (NULL for location-of-interest mutations)
			retry_count             INTEGER NOT NULL DEFAULT 0,
			last_error              TEXT NOT NULL DEFAULT '',
			client_timestamp        TEXT NOT NULL,
			updated_at              TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE INDEX IF NOT EXISTS idx_mutation_queue_status ON mutation_queue (sync_status)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create mutation queue table: %w", err)
		}
	}

	return nil
}

// encodeDeltas serializes deltas to the stored JSON form; nil deltas store
// as SQL NULL to keep location-of-interest rows distinguishable.
func encodeDeltas(deltas []ValueDelta) (sql.NullString, error) {
	if deltas == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(deltas)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal deltas: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// mutationColumns is the canonical SELECT column list for scanMutation.
const mutationColumns = `id, kind, mutation_type, sync_status, survey_id,
	location_of_interest_id, user_id, job_id, collection_id, deltas,
	retry_count, last_error, client_timestamp`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMutation reads one mutation_queue row in mutationColumns order.
func scanMutation(row rowScanner) (*Mutation, error) {
	var (
		m         Mutation
		kind      string
		mtype     string
		status    string
		deltas    sql.NullString
		timestamp string
	)
	err := row.Scan(&m.ID, &kind, &mtype, &status, &m.SurveyID,
		&m.LocationOfInterestID, &m.UserID, &m.JobID, &m.CollectionID, &deltas,
		&m.RetryCount, &m.LastError, &timestamp)
	if err != nil {
		return nil, err
	}

	m.Kind = Kind(kind)
	m.Type = Type(mtype)
	// Unrecognized stored statuses surface as UNKNOWN so workers skip them
	// instead of attempting undefined transitions.
	m.SyncStatus = ParseSyncStatus(status)

	if deltas.Valid {
		if err := json.Unmarshal([]byte(deltas.String), &m.Deltas); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deltas for mutation %s: %w", m.ID, err)
		}
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client timestamp for mutation %s: %w", m.ID, err)
	}
	m.ClientTimestamp = ts

	return &m, nil
}

// collectMutations drains a result set in query order.
func collectMutations(rows *sql.Rows) ([]*Mutation, error) {
	defer rows.Close()

	var mutations []*Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		mutations = append(mutations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutations: %w", err)
	}
	return mutations, nil
}
