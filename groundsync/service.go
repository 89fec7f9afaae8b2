// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package groundsync provides the server-side receiving store for
// go-groundsync: a Postgres-backed mutation log plus media blob storage,
// exposed over HTTP. Re-sent mutations replace their earlier copy
// (last-writer-wins keyed by mutation id), which is what makes the client's
// at-least-once delivery safe.
package groundsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncService stores uploaded mutations and media blobs.
type SyncService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *ServiceConfig
}

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	AppName       string // Application name for connection tracking
	MaxDeltas     int    // Maximum deltas per mutation (0 = unlimited)
	MaxMediaBytes int64  // Maximum media blob size in bytes (0 = unlimited)
	DisableSchema bool   // Skip schema initialization (migrations managed externally)
}

// NewSyncService creates a sync service over an existing pool and, unless
// disabled, initializes the schema in a single transaction.
func NewSyncService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if config == nil {
		config = &ServiceConfig{AppName: "go-groundsync"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	service := &SyncService{
		pool:   pool,
		logger: logger,
		config: config,
	}

	if !config.DisableSchema {
		ctx := context.Background()
		if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			return service.initializeSchemaInTx(ctx, tx)
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sync service schema: %w", err)
		}
	}

	return service, nil
}

// initializeSchemaInTx creates the receiving tables within an existing transaction
func (s *SyncService) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS ground`,

		// Mutation log: one row per client mutation id. Re-sends overwrite
		// (last-writer-wins) but keep the original server_seq.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ground.mutation_log (
			mutation_id   TEXT        PRIMARY KEY,
			server_seq    BIGINT      GENERATED ALWAYS AS IDENTITY,
			user_id       TEXT        NOT NULL,
			kind          TEXT        NOT NULL,
			mutation_type TEXT        NOT NULL,
			survey_id     TEXT        NOT NULL,
			loi_id        TEXT        NOT NULL DEFAULT '',
			job_id        TEXT        NOT NULL DEFAULT '',
			collection_id TEXT        NOT NULL DEFAULT '',
			deltas        JSONB,
			client_ts     TIMESTAMPTZ,
			received_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS idx_mutation_log_survey
			ON ground.mutation_log (survey_id, server_seq)`,

		// Media blobs keyed by their remote key. Duplicate uploads are dropped.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ground.media_blob (
			media_key    TEXT        PRIMARY KEY,
			user_id      TEXT        NOT NULL,
			content      BYTEA       NOT NULL,
			content_size BIGINT      NOT NULL,
			received_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, migration := range migrations {
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run schema migration: %w", err)
		}
	}
	return nil
}

// ProcessMutation validates and stores one uploaded mutation. Safe to call
// repeatedly for the same mutation id.
func (s *SyncService) ProcessMutation(ctx context.Context, userID string, upload *MutationUpload) (*MutationAck, error) {
	if err := upload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mutation upload: %w", err)
	}
	if s.config.MaxDeltas > 0 && len(upload.Deltas) > s.config.MaxDeltas {
		return nil, fmt.Errorf("invalid mutation upload: %d deltas exceeds limit %d", len(upload.Deltas), s.config.MaxDeltas)
	}

	var deltas []byte
	if upload.Deltas != nil {
		var err error
		deltas, err = json.Marshal(upload.Deltas)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal deltas: %w", err)
		}
	}

	var serverSeq int64
	var replaced bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ground.mutation_log
			(mutation_id, user_id, kind, mutation_type, survey_id, loi_id,
			 job_id, collection_id, deltas, client_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (mutation_id) DO UPDATE SET
			user_id       = EXCLUDED.user_id,
			kind          = EXCLUDED.kind,
			mutation_type = EXCLUDED.mutation_type,
			survey_id     = EXCLUDED.survey_id,
			loi_id        = EXCLUDED.loi_id,
			job_id        = EXCLUDED.job_id,
			collection_id = EXCLUDED.collection_id,
			deltas        = EXCLUDED.deltas,
			client_ts     = EXCLUDED.client_ts,
			received_at   = now()
		RETURNING server_seq, (xmax <> 0) AS replaced
	`, upload.MutationID, userID, upload.Kind, upload.Type, upload.SurveyID,
		upload.LocationOfInterestID, upload.JobID, upload.CollectionID, deltas,
		upload.ClientTimestamp).Scan(&serverSeq, &replaced)
	if err != nil {
		return nil, fmt.Errorf("failed to store mutation %s: %w", upload.MutationID, err)
	}

	if replaced {
		s.logger.Debug("mutation re-send replaced earlier copy", "mutation_id", upload.MutationID, "user_id", userID)
	}

	return &MutationAck{
		MutationID: upload.MutationID,
		ServerSeq:  serverSeq,
		Replaced:   replaced,
	}, nil
}

// StoreMedia stores one media blob under key. Re-uploads of an existing key
// are acknowledged without rewriting the blob.
func (s *SyncService) StoreMedia(ctx context.Context, userID, key string, data []byte) (*MediaAck, error) {
	if key == "" {
		return nil, fmt.Errorf("media key is required")
	}
	if s.config.MaxMediaBytes > 0 && int64(len(data)) > s.config.MaxMediaBytes {
		return nil, fmt.Errorf("media blob too large: %d > %d", len(data), s.config.MaxMediaBytes)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO ground.media_blob (media_key, user_id, content, content_size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (media_key) DO NOTHING
	`, key, userID, data, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to store media blob %s: %w", key, err)
	}

	return &MediaAck{
		Key:           key,
		Size:          int64(len(data)),
		AlreadyExists: tag.RowsAffected() == 0,
	}, nil
}

// Close releases the service's reference to the pool. The pool itself is
// owned by the caller.
func (s *SyncService) Close() {}
