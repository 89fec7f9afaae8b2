// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"context"
	"fmt"
	"log/slog"
)

// SyncWorker drains PENDING mutations and pushes their structured data to
// the remote store (the data phase). It pulls its own work; one invocation
// processes every mutation that was PENDING when it started.
type SyncWorker struct {
	repo   *Repository
	remote RemoteStore
	logger *slog.Logger
}

// NewSyncWorker returns a data-phase worker over repo and remote.
func NewSyncWorker(repo *Repository, remote RemoteStore, logger *slog.Logger) *SyncWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncWorker{repo: repo, remote: remote, logger: logger}
}

// Run performs a single worker invocation. Failure is isolated per
// mutation: one mutation failing its push never aborts the batch. The
// returned error reports how many mutations did not reach a success state,
// so the hosting scheduler can decide whether to reschedule the invocation.
func (w *SyncWorker) Run(ctx context.Context) error {
	pending, err := w.repo.ListByStatus(ctx, StatusPending)
	if err != nil {
		return fmt.Errorf("sync worker: failed to fetch pending mutations: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	w.logger.Debug("sync worker starting", "pending", len(pending))

	failed := 0
	for _, m := range pending {
		select {
		case <-ctx.Done():
			// Claimed-but-unfinished rows are rolled back to PENDING by the
			// recovery hook on next start.
			return ctx.Err()
		default:
		}

		if err := w.syncOne(ctx, m); err != nil {
			failed++
			w.logger.Warn("mutation sync failed", "id", m.ID, "kind", m.Kind, "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("sync worker: %d of %d mutations failed", failed, len(pending))
	}
	return nil
}

// syncOne delivers a single mutation: claim, push, resolve. A push failure
// lands the mutation in FAILED with the error retained on the row.
func (w *SyncWorker) syncOne(ctx context.Context, m *Mutation) error {
	if err := w.repo.Transition(ctx, m.ID, StatusPending, StatusInProgress, ""); err != nil {
		return fmt.Errorf("failed to claim mutation: %w", err)
	}

	if err := w.remote.PushMutation(ctx, NewMutationUpload(m)); err != nil {
		if terr := w.repo.Transition(ctx, m.ID, StatusInProgress, StatusFailed, err.Error()); terr != nil {
			w.logger.Error("failed to record mutation failure", "id", m.ID, "error", terr)
		}
		return fmt.Errorf("remote push failed: %w", err)
	}

	next := StatusCompleted
	if m.HasPendingMedia() {
		next = StatusMediaPending
	}
	if err := w.repo.Transition(ctx, m.ID, StatusInProgress, next, ""); err != nil {
		return fmt.Errorf("failed to resolve mutation after push: %w", err)
	}

	w.logger.Debug("mutation synced", "id", m.ID, "status", next)
	return nil
}
